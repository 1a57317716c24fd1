package server

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/apksignd/apksignd/server/status"
)

const artifactExt = ".apk"

// StoreEntry describes a single artifact file resident in a store.
type StoreEntry struct {
	// ID is the artifact identifier (the filename stem)
	ID string
	// Size is the file size in bytes
	Size int64
	// ModTime is the filesystem modification time, authoritative for retention
	ModTime time.Time
}

// Store is a managed artifact directory. The directory listing is the only
// persistent state; there is no database behind it. Implementations must keep
// every produced path confined to the store root.
type Store interface {
	// Name returns the store label used in logs and metrics
	Name() string
	// Path maps an identifier to an absolute file path inside the store root
	Path(id string) (string, error)
	// Put streams content into the store under the given identifier
	Put(id string, content io.Reader) (int64, error)
	// Open returns a reader over a stored artifact and its size
	Open(id string) (io.ReadCloser, int64, error)
	// Remove deletes a stored artifact; a missing file is not an error
	Remove(id string) error
	// Entries lists the store content with per-entry age information
	Entries() ([]StoreEntry, error)
	// Reserve marks an identifier as in-flight, shielding it from quota eviction
	Reserve(id string)
	// Release drops an in-flight reservation
	Release(id string)
	// EnforceQuota evicts oldest entries until at most maxEntries remain.
	// Errors are logged and swallowed; it never fails the caller.
	EnforceQuota(maxEntries int) int
	// RemoveOlderThan deletes entries whose modification time is older than age
	RemoveOlderThan(age time.Duration) (int, error)
}

// FileStore implements Store on a local filesystem directory.
type FileStore struct {
	name string
	root string

	// inflight identifiers are excluded from quota eviction so a concurrent
	// enforcement pass cannot delete a file the signer is still reading
	inflight   map[string]struct{}
	inflightMu sync.Mutex
}

// NewFileStore creates the store directory if needed and resolves its root so
// later path checks compare against a symlink-free base.
func NewFileStore(name, dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create store dir %s: %w", dir, err)
	}
	root, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir %s: %w", dir, err)
	}
	return &FileStore{
		name:     name,
		root:     root,
		inflight: make(map[string]struct{}),
	}, nil
}

// Name returns the store label.
func (s *FileStore) Name() string {
	return s.name
}

// Path validates the identifier against the UUID grammar and re-resolves the
// joined path to make sure it is still a descendant of the store root. Both
// checks must pass before the filesystem is touched with a client-derived name.
func (s *FileStore) Path(id string) (string, error) {
	if err := ValidateArtifactID(id); err != nil {
		return "", err
	}

	joined, err := filepath.Abs(filepath.Join(s.root, id+artifactExt))
	if err != nil {
		return "", status.Errorf(status.StorageFailure, "resolve artifact path")
	}
	if !strings.HasPrefix(joined, s.root+string(os.PathSeparator)) {
		log.Warnf("store %s: rejected path escaping the root: %s", s.name, joined)
		return "", status.Errorf(status.SecurityRejection, "artifact path outside the store")
	}
	return joined, nil
}

// Put streams content into a fresh file under id. Identifiers are never
// reused, so an already existing target means a naming bug and is an error.
func (s *FileStore) Put(id string, content io.Reader) (int64, error) {
	path, err := s.Path(id)
	if err != nil {
		return 0, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return 0, status.Errorf(status.StorageFailure, "create artifact file: %v", err)
	}

	n, err := io.Copy(f, content)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return 0, status.Errorf(status.StorageFailure, "write artifact file: %v", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return 0, status.Errorf(status.StorageFailure, "close artifact file: %v", err)
	}
	return n, nil
}

// Open returns a reader over the stored artifact. A missing file surfaces as
// NotFound: expired and never-existing artifacts are indistinguishable here.
func (s *FileStore) Open(id string) (io.ReadCloser, int64, error) {
	path, err := s.Path(id)
	if err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, status.NewArtifactNotFoundError()
		}
		return nil, 0, status.Errorf(status.StorageFailure, "open artifact: %v", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, status.Errorf(status.StorageFailure, "stat artifact: %v", err)
	}
	return f, info.Size(), nil
}

// Remove deletes the artifact file. Deleting an absent file is a no-op, so
// sweeps and request cleanup can race without coordination.
func (s *FileStore) Remove(id string) error {
	path, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return status.Errorf(status.StorageFailure, "remove artifact: %v", err)
	}
	return nil
}

// Entries lists the artifacts in the store. Foreign files (wrong extension,
// subdirectories) are ignored rather than touched.
func (s *FileStore) Entries() ([]StoreEntry, error) {
	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("list store %s: %w", s.name, err)
	}

	entries := make([]StoreEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), artifactExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// vanished between listing and stat, benign
			continue
		}
		entries = append(entries, StoreEntry{
			ID:      strings.TrimSuffix(de.Name(), artifactExt),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// Reserve marks an identifier as in-flight.
func (s *FileStore) Reserve(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	s.inflight[id] = struct{}{}
}

// Release drops an in-flight reservation.
func (s *FileStore) Release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

func (s *FileStore) isInflight(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

// EnforceQuota deletes oldest-modified entries until the store holds at most
// maxEntries. The cap is a soft operational ceiling: a benign race where two
// concurrent passes both observe "under quota" is acceptable because the check
// runs again before every upload. I/O errors are logged and swallowed so quota
// enforcement never fails the request path. Returns the number of evictions.
func (s *FileStore) EnforceQuota(maxEntries int) int {
	entries, err := s.Entries()
	if err != nil {
		log.Errorf("store %s: quota check failed: %v", s.name, err)
		return 0
	}
	if len(entries) <= maxEntries {
		return 0
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	evicted := 0
	excess := len(entries) - maxEntries
	for _, entry := range entries {
		if excess <= 0 {
			break
		}
		if s.isInflight(entry.ID) {
			continue
		}
		if err := s.Remove(entry.ID); err != nil {
			log.Errorf("store %s: quota eviction of %s failed: %v", s.name, entry.ID, err)
			continue
		}
		log.Infof("store %s: evicted artifact %s over quota (cap %d)", s.name, entry.ID, maxEntries)
		evicted++
		excess--
	}
	return evicted
}

// RemoveOlderThan deletes every entry whose modification time is older than
// age. Per-file failures do not abort the remaining pass; they are aggregated
// into the returned error.
func (s *FileStore) RemoveOlderThan(age time.Duration) (int, error) {
	entries, err := s.Entries()
	if err != nil {
		return 0, err
	}

	var result *multierror.Error
	deleted := 0
	now := time.Now()
	for _, entry := range entries {
		if now.Sub(entry.ModTime) <= age {
			continue
		}
		if err := s.Remove(entry.ID); err != nil {
			result = multierror.Append(result, fmt.Errorf("remove %s: %w", entry.ID, err))
			continue
		}
		deleted++
	}
	return deleted, result.ErrorOrNil()
}
