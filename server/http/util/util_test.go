package util

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apksignd/apksignd/server/status"
)

func TestWriteError(t *testing.T) {
	cases := []struct {
		name            string
		err             error
		expectedCode    int
		expectedMessage string
	}{
		{
			name:            "invalid input carries detail",
			err:             status.NewInvalidPackageError("missing manifest"),
			expectedCode:    http.StatusUnprocessableEntity,
			expectedMessage: "invalid package: missing manifest",
		},
		{
			name:            "security rejection is generic",
			err:             status.Errorf(status.SecurityRejection, "potential decompression bomb: total size"),
			expectedCode:    http.StatusBadRequest,
			expectedMessage: "file rejected",
		},
		{
			name:            "not found",
			err:             status.NewArtifactNotFoundError(),
			expectedCode:    http.StatusNotFound,
			expectedMessage: "artifact not found",
		},
		{
			name:            "unauthenticated",
			err:             status.Errorf(status.Unauthenticated, "token required"),
			expectedCode:    http.StatusUnauthorized,
			expectedMessage: "token required",
		},
		{
			name:            "signing failure is generic",
			err:             status.NewSigningFailedError(),
			expectedCode:    http.StatusInternalServerError,
			expectedMessage: "internal server error",
		},
		{
			name:            "storage failure is generic",
			err:             status.Errorf(status.StorageFailure, "disk full"),
			expectedCode:    http.StatusInternalServerError,
			expectedMessage: "internal server error",
		},
		{
			name:            "unclassified error is generic",
			err:             errors.New("boom"),
			expectedCode:    http.StatusInternalServerError,
			expectedMessage: "internal server error",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			WriteError(tc.err, recorder)

			assert.Equal(t, tc.expectedCode, recorder.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
			assert.Equal(t, tc.expectedMessage, resp.Message)
			assert.Equal(t, tc.expectedCode, resp.Code)
		})
	}
}

func TestWriteJSONObject(t *testing.T) {
	recorder := httptest.NewRecorder()
	WriteJSONObject(recorder, map[string]string{"id": "abc"})

	assert.Equal(t, http.StatusOK, recorder.Code)
	// the header must be set before the status line goes out or it is lost
	assert.Equal(t, "application/json; charset=utf-8", recorder.Header().Get("Content-Type"))
	var resp map[string]string
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&resp))
	assert.Equal(t, "abc", resp["id"])
}
