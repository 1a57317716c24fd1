package server

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apksignd/apksignd/server/status"
)

// stubSigner records invocations and appends a marker so signed output is
// distinguishable from the input.
type stubSigner struct {
	err   error
	calls []string
}

func (s *stubSigner) SignFile(_ context.Context, path string) error {
	s.calls = append(s.calls, path)
	if s.err != nil {
		return s.err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString("signature-block")
	return err
}

func newTestManager(t *testing.T, signer Signer) (*ArtifactManager, *FileStore, *FileStore) {
	t.Helper()
	cfg := &Config{
		DataDir:         t.TempDir(),
		MaxUploadBytes:  testMaxUpload,
		Retention:       24 * time.Hour,
		StoreMaxEntries: 100,
		SignTimeout:     time.Minute,
	}
	incoming, err := NewFileStore("incoming", cfg.IncomingDir())
	require.NoError(t, err)
	signed, err := NewFileStore("signed", cfg.SignedDir())
	require.NoError(t, err)
	return NewArtifactManager(cfg, signer, incoming, signed, nil), incoming, signed
}

func submitPackage(t *testing.T, manager *ArtifactManager, name string) (*SignResult, error) {
	t.Helper()
	f, err := os.Open(writeValidPackage(t))
	require.NoError(t, err)
	defer f.Close()
	return manager.Submit(context.Background(), f, name)
}

func TestArtifactManager_Submit(t *testing.T) {
	signer := &stubSigner{}
	manager, incoming, signed := newTestManager(t, signer)

	result, err := submitPackage(t, manager, "my-app.apk")
	require.NoError(t, err)

	require.NoError(t, ValidateArtifactID(result.ID))
	assert.Equal(t, "my-app-signed.apk", result.Filename)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), result.ExpiresAt, time.Minute)
	require.Len(t, signer.calls, 1)

	// the incoming copy is gone, only the signed artifact remains
	incomingEntries, err := incoming.Entries()
	require.NoError(t, err)
	assert.Empty(t, incomingEntries)
	signedEntries, err := signed.Entries()
	require.NoError(t, err)
	require.Len(t, signedEntries, 1)
	assert.Equal(t, result.ID, signedEntries[0].ID)

	// downloads are idempotent
	for i := 0; i < 2; i++ {
		reader, size, err := manager.OpenSigned(result.ID)
		require.NoError(t, err)
		data, err := io.ReadAll(reader)
		require.NoError(t, reader.Close())
		require.NoError(t, err)
		assert.EqualValues(t, size, len(data))
		assert.True(t, strings.HasSuffix(string(data), "signature-block"))
	}
}

func TestArtifactManager_SubmitFreshIDPerArtifact(t *testing.T) {
	manager, _, _ := newTestManager(t, &stubSigner{})

	first, err := submitPackage(t, manager, "app.apk")
	require.NoError(t, err)
	second, err := submitPackage(t, manager, "app.apk")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestArtifactManager_SubmitInvalidUpload(t *testing.T) {
	signer := &stubSigner{}
	manager, incoming, signed := newTestManager(t, signer)

	_, err := manager.Submit(context.Background(), strings.NewReader("not an archive at all"), "bad.apk")
	requireStatusType(t, err, status.InvalidInput)
	assert.Empty(t, signer.calls)

	// nothing is left behind in either store
	incomingEntries, err := incoming.Entries()
	require.NoError(t, err)
	assert.Empty(t, incomingEntries)
	signedEntries, err := signed.Entries()
	require.NoError(t, err)
	assert.Empty(t, signedEntries)
}

func TestArtifactManager_SubmitSignerFailure(t *testing.T) {
	signer := &stubSigner{err: status.NewSigningFailedError()}
	manager, incoming, signed := newTestManager(t, signer)

	_, err := submitPackage(t, manager, "app.apk")
	requireStatusType(t, err, status.SigningFailure)

	incomingEntries, err := incoming.Entries()
	require.NoError(t, err)
	assert.Empty(t, incomingEntries)
	signedEntries, err := signed.Entries()
	require.NoError(t, err)
	assert.Empty(t, signedEntries)
}

func TestArtifactManager_OpenSigned(t *testing.T) {
	manager, _, _ := newTestManager(t, &stubSigner{})

	_, _, err := manager.OpenSigned(NewArtifactID())
	requireStatusType(t, err, status.NotFound)

	_, _, err = manager.OpenSigned("../escape")
	requireStatusType(t, err, status.SecurityRejection)
}
