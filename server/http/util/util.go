package util

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/apksignd/apksignd/server/status"
)

// WriteJSONObject simply writes object to the HTTP response in JSON format
func WriteJSONObject(w http.ResponseWriter, obj interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(200)
	// the status line is already out, an encode failure can only be logged
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("failed encoding response body: %v", err)
	}
}

// ErrorResponse is a generic error response holding an error message and code
type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WriteErrorResponse prepares and writes an error response
func WriteErrorResponse(errMsg string, httpStatus int, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpStatus)
	err := json.NewEncoder(w).Encode(&ErrorResponse{
		Message: errMsg,
		Code:    httpStatus,
	})
	if err != nil {
		http.Error(w, "failed handling request", http.StatusInternalServerError)
	}
}

// WriteError maps internal error types to HTTP status codes. Security
// rejections and server-side failures get a generic message so no detail
// about validation internals or signer output reaches the client.
func WriteError(err error, w http.ResponseWriter) {
	e, ok := status.FromError(err)
	if !ok || e == nil {
		log.Errorf("got unhandled error: %v", err)
		WriteErrorResponse("internal server error", http.StatusInternalServerError, w)
		return
	}
	switch e.Type() {
	case status.InvalidInput:
		WriteErrorResponse(e.Message, http.StatusUnprocessableEntity, w)
	case status.SecurityRejection:
		WriteErrorResponse("file rejected", http.StatusBadRequest, w)
	case status.NotFound:
		WriteErrorResponse(e.Message, http.StatusNotFound, w)
	case status.Unauthenticated:
		WriteErrorResponse(e.Message, http.StatusUnauthorized, w)
	case status.SigningFailure, status.StorageFailure, status.Internal:
		log.Errorf("request failed: %v", err)
		WriteErrorResponse("internal server error", http.StatusInternalServerError, w)
	default:
		log.Errorf("got unhandled error type: %v", err)
		WriteErrorResponse("internal server error", http.StatusInternalServerError, w)
	}
}
