package server

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/apksignd/apksignd/server/status"
)

// Signer signs a working copy in place and classifies the outcome. The rest
// of the pipeline only depends on this interface, so tests substitute a stub
// instead of invoking the real tool.
type Signer interface {
	// SignFile signs the file at path in place. Any returned error means the
	// file must be treated as unsigned garbage and removed by the caller.
	SignFile(ctx context.Context, path string) error
}

// Child process environment variables carrying the keystore passphrases. They
// never appear in argv, on disk or in logs.
const (
	signerStorePassEnv = "APKSIGND_SIGNER_STOREPASS"
	signerKeyPassEnv   = "APKSIGND_SIGNER_KEYPASS"
)

// successExitCodes is the designated set of external tool exit codes meaning
// the signature was produced. Everything else is a failure.
var successExitCodes = map[int]struct{}{
	0: {},
}

// signatureEntrySuffixes are the signature block files inside META-INF/ that
// get stripped before re-signing.
var signatureEntrySuffixes = []string{".SF", ".RSA", ".DSA", ".EC"}

// KeystoreSigner invokes the external signing tool against a working copy.
type KeystoreSigner struct {
	keystore KeystoreConfig
	timeout  time.Duration
}

// NewKeystoreSigner creates a signer bound to the given keystore credentials.
func NewKeystoreSigner(keystore KeystoreConfig, timeout time.Duration) *KeystoreSigner {
	return &KeystoreSigner{
		keystore: keystore,
		timeout:  timeout,
	}
}

// SignFile strips any pre-existing signature metadata from the archive and
// runs the signing tool over it. Strip failures are logged and tolerated
// since the tooling may handle residual metadata; invocation failures are
// fatal to the request.
func (s *KeystoreSigner) SignFile(ctx context.Context, path string) error {
	if err := stripSignatureMetadata(path); err != nil {
		log.Warnf("could not strip existing signature metadata from %s: %v", filepath.Base(path), err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{
		"-sigalg", "SHA256withRSA",
		"-digestalg", "SHA-256",
		"-keystore", s.keystore.Path,
		"-storepass:env", signerStorePassEnv,
		"-keypass:env", signerKeyPassEnv,
		path,
		s.keystore.KeyAlias,
	}

	cmd := exec.CommandContext(ctx, s.keystore.Tool, args...)
	cmd.Env = append(os.Environ(),
		signerStorePassEnv+"="+s.keystore.Passphrase,
		signerKeyPassEnv+"="+s.keystore.KeyPassphrase,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		log.Errorf("signing tool timed out after %s for %s", s.timeout, filepath.Base(path))
		return status.Errorf(status.SigningFailure, "signing timed out")
	}
	if err != nil {
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		s.logFailure(path, exitCode, stderr.String(), err)
		return status.NewSigningFailedError()
	}

	if _, ok := successExitCodes[cmd.ProcessState.ExitCode()]; !ok {
		s.logFailure(path, cmd.ProcessState.ExitCode(), stderr.String(), nil)
		return status.NewSigningFailedError()
	}
	return nil
}

// logFailure records the tool diagnostic with any credential fragments
// removed. The detail string is treated as sensitive as a whole: it is never
// attached to the error returned to the request path.
func (s *KeystoreSigner) logFailure(path string, exitCode int, detail string, err error) {
	detail = s.redact(detail)
	if err != nil && !errors.As(err, new(*exec.ExitError)) {
		log.Errorf("signing tool failed to run for %s: %v", filepath.Base(path), err)
		return
	}
	log.Errorf("signing tool exited with code %d for %s: %s", exitCode, filepath.Base(path), detail)
}

func (s *KeystoreSigner) redact(detail string) string {
	for _, secret := range []string{s.keystore.Passphrase, s.keystore.KeyPassphrase} {
		if secret != "" {
			detail = strings.ReplaceAll(detail, secret, "<redacted>")
		}
	}
	return strings.TrimSpace(detail)
}

// stripSignatureMetadata rewrites the archive without the META-INF signature
// block files. Entries are copied in raw (still compressed) form, so the
// rewrite costs I/O only, no recompression.
func stripSignatureMetadata(path string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".strip-*")
	if err != nil {
		_ = reader.Close()
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	writer := zip.NewWriter(tmp)
	for _, entry := range reader.File {
		if isSignatureEntry(entry.Name) {
			continue
		}
		raw, err := entry.OpenRaw()
		if err != nil {
			cleanupStrip(reader, writer, tmp, tmpName)
			return fmt.Errorf("open entry %s: %w", entry.Name, err)
		}
		header := entry.FileHeader
		w, err := writer.CreateRaw(&header)
		if err != nil {
			cleanupStrip(reader, writer, tmp, tmpName)
			return fmt.Errorf("copy entry %s: %w", entry.Name, err)
		}
		if _, err := io.Copy(w, raw); err != nil {
			cleanupStrip(reader, writer, tmp, tmpName)
			return fmt.Errorf("copy entry %s: %w", entry.Name, err)
		}
	}

	if err := writer.Close(); err != nil {
		cleanupStrip(reader, nil, tmp, tmpName)
		return fmt.Errorf("finalize archive: %w", err)
	}
	_ = reader.Close()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace archive: %w", err)
	}
	return nil
}

func cleanupStrip(reader *zip.ReadCloser, writer *zip.Writer, tmp *os.File, tmpName string) {
	if writer != nil {
		_ = writer.Close()
	}
	_ = tmp.Close()
	_ = os.Remove(tmpName)
	_ = reader.Close()
}

// isSignatureEntry reports whether name is a signature block file inside the
// META-INF directory.
func isSignatureEntry(name string) bool {
	if !strings.HasPrefix(name, "META-INF/") {
		return false
	}
	upper := strings.ToUpper(name)
	for _, suffix := range signatureEntrySuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return false
}
