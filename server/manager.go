package server

import (
	"context"
	"io"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/apksignd/apksignd/server/status"
	"github.com/apksignd/apksignd/server/telemetry"
	"github.com/apksignd/apksignd/util"
)

// SignResult is what a successful signing request yields to the boundary layer.
type SignResult struct {
	// ID is the fresh signed-store identifier; it carries no information about the upload
	ID string
	// Filename is the display name for the signed artifact
	Filename string
	// ExpiresAt is when the retention policy will reclaim the artifact
	ExpiresAt time.Time
}

// ArtifactManager sequences the signing pipeline per request: quota pre-check,
// store the upload, validate, sign, clean up. It is the only component aware
// of request-scoped ordering; the stores, validator and signer know nothing
// about each other.
type ArtifactManager struct {
	cfg       *Config
	validator *ArchiveValidator
	signer    Signer
	incoming  Store
	signed    Store
	metrics   *telemetry.PipelineMetrics
}

// NewArtifactManager wires the pipeline together and runs an initial quota
// pass over both stores, so a restart with overfull directories converges
// before the first request.
func NewArtifactManager(cfg *Config, signer Signer, incoming, signed Store, metrics *telemetry.PipelineMetrics) *ArtifactManager {
	m := &ArtifactManager{
		cfg:       cfg,
		validator: NewArchiveValidator(cfg.MaxUploadBytes),
		signer:    signer,
		incoming:  incoming,
		signed:    signed,
		metrics:   metrics,
	}
	m.enforceQuotas()
	return m
}

// enforceQuotas caps both stores, leaving one slot of headroom so the write
// that follows a pre-check cannot push a store past its cap.
func (m *ArtifactManager) enforceQuotas() {
	limit := m.cfg.StoreMaxEntries - 1
	if limit < 0 {
		limit = 0
	}
	for _, store := range []Store{m.incoming, m.signed} {
		evicted := store.EnforceQuota(limit)
		if m.metrics != nil {
			m.metrics.CountQuotaEvictions(store.Name(), evicted)
		}
	}
}

// Submit runs one upload through the full pipeline. Every failure path
// removes the incoming copy (and any half-written signed copy) before
// returning, so no failed request leaves residue in either store.
func (m *ArtifactManager) Submit(ctx context.Context, content io.Reader, originalName string) (*SignResult, error) {
	m.enforceQuotas()

	incomingID := NewArtifactID()
	m.incoming.Reserve(incomingID)
	defer m.incoming.Release(incomingID)

	size, err := m.incoming.Put(incomingID, content)
	if err != nil {
		m.countFailure(err)
		return nil, err
	}
	log.Debugf("stored upload %s (%d bytes, original name %q)", incomingID, size, SanitizeDisplayName(originalName))

	incomingPath, err := m.incoming.Path(incomingID)
	if err != nil {
		_ = m.incoming.Remove(incomingID)
		m.countFailure(err)
		return nil, err
	}

	if err := m.validator.ValidateFile(incomingPath); err != nil {
		_ = m.incoming.Remove(incomingID)
		m.countFailure(err)
		return nil, err
	}

	result, err := m.sign(ctx, incomingID, incomingPath, originalName)
	if err != nil {
		m.countFailure(err)
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.CountUpload()
	}
	return result, nil
}

// sign copies the validated file into the signed store under a fresh
// identifier and invokes the signer over that working copy. On success the
// incoming copy is deleted; the transition is one-way.
func (m *ArtifactManager) sign(ctx context.Context, incomingID, incomingPath, originalName string) (*SignResult, error) {
	signedID := NewArtifactID()
	m.signed.Reserve(signedID)
	defer m.signed.Release(signedID)

	signedPath, err := m.signed.Path(signedID)
	if err != nil {
		_ = m.incoming.Remove(incomingID)
		return nil, err
	}
	if err := util.CopyFile(incomingPath, signedPath); err != nil {
		_ = m.incoming.Remove(incomingID)
		_ = m.signed.Remove(signedID)
		return nil, status.Errorf(status.StorageFailure, "stage working copy: %v", err)
	}

	start := time.Now()
	err = m.signer.SignFile(ctx, signedPath)
	if m.metrics != nil {
		m.metrics.CountSigning(err == nil, time.Since(start))
	}
	if err != nil {
		_ = m.signed.Remove(signedID)
		_ = m.incoming.Remove(incomingID)
		return nil, err
	}

	if err := m.incoming.Remove(incomingID); err != nil {
		// the signed artifact is good; the sweeper will catch the leftover
		log.Warnf("could not remove incoming copy %s after signing: %v", incomingID, err)
	}

	return &SignResult{
		ID:        signedID,
		Filename:  SignedDisplayName(originalName),
		ExpiresAt: time.Now().Add(m.cfg.Retention),
	}, nil
}

// OpenSigned returns a reader over a signed artifact for download. Unknown
// and expired identifiers are indistinguishable by design.
func (m *ArtifactManager) OpenSigned(id string) (io.ReadCloser, int64, error) {
	reader, size, err := m.signed.Open(id)
	if err != nil {
		return nil, 0, err
	}
	if m.metrics != nil {
		m.metrics.CountDownload()
	}
	return reader, size, nil
}

func (m *ArtifactManager) countFailure(err error) {
	if m.metrics == nil {
		return
	}
	if e, ok := status.FromError(err); ok && e != nil {
		m.metrics.CountRejection(errorClass(e.Type()))
		return
	}
	m.metrics.CountRejection("internal")
}

func errorClass(t status.Type) string {
	switch t {
	case status.InvalidInput:
		return "invalid_input"
	case status.SecurityRejection:
		return "security_rejection"
	case status.NotFound:
		return "not_found"
	case status.SigningFailure:
		return "signing_failure"
	case status.StorageFailure:
		return "storage_failure"
	case status.Unauthenticated:
		return "unauthenticated"
	default:
		return "internal"
	}
}
