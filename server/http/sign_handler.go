package http

import (
	"errors"
	"net/http"
	"time"

	s "github.com/apksignd/apksignd/server"
	"github.com/apksignd/apksignd/server/http/util"
	"github.com/apksignd/apksignd/server/status"
)

const uploadFieldName = "file"

// SignResponse is returned after a package was signed successfully
type SignResponse struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SignHandler is the multipart upload endpoint of the signing pipeline
type SignHandler struct {
	manager        *s.ArtifactManager
	maxUploadBytes int64
}

// NewSignHandler creates a new SignHandler
func NewSignHandler(manager *s.ArtifactManager, maxUploadBytes int64) *SignHandler {
	return &SignHandler{
		manager:        manager,
		maxUploadBytes: maxUploadBytes,
	}
}

// SignPackage accepts a multipart upload, runs it through the signing
// pipeline and returns the signed artifact descriptor.
func (h *SignHandler) SignPackage(w http.ResponseWriter, r *http.Request) {
	// cap the whole request body, not just the file part, so an oversized
	// upload is cut off during streaming instead of after buffering
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	file, header, err := r.FormFile(uploadFieldName)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			util.WriteErrorResponse("file too large", http.StatusRequestEntityTooLarge, w)
			return
		}
		util.WriteError(status.Errorf(status.InvalidInput, "multipart form field %q is required", uploadFieldName), w)
		return
	}
	defer func() {
		_ = file.Close()
	}()

	result, err := h.manager.Submit(r.Context(), file, header.Filename)
	if err != nil {
		util.WriteError(err, w)
		return
	}

	util.WriteJSONObject(w, &SignResponse{
		ID:          result.ID,
		Filename:    result.Filename,
		DownloadURL: "/api/download/" + result.ID,
		ExpiresAt:   result.ExpiresAt,
	})
}
