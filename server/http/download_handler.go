package http

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	s "github.com/apksignd/apksignd/server"
	"github.com/apksignd/apksignd/server/http/util"
)

const apkContentType = "application/vnd.android.package-archive"

// DownloadHandler serves signed artifacts. Downloads are idempotent; an
// artifact stays available until the retention sweep reclaims it.
type DownloadHandler struct {
	manager *s.ArtifactManager
}

// NewDownloadHandler creates a new DownloadHandler
func NewDownloadHandler(manager *s.ArtifactManager) *DownloadHandler {
	return &DownloadHandler{manager: manager}
}

// DownloadArtifact streams a signed artifact to the client
func (h *DownloadHandler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	artifactID := mux.Vars(r)["artifactId"]

	reader, size, err := h.manager.OpenSigned(artifactID)
	if err != nil {
		util.WriteError(err, w)
		return
	}
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", apkContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifactID+s.SignedNameSuffix))
	if _, err := io.Copy(w, reader); err != nil {
		// headers are already out, all we can do is log
		log.Debugf("streaming artifact %s aborted: %v", artifactID, err)
	}
}
