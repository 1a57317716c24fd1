package server

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/apksignd/apksignd/server/status"
)

const (
	// manifestEntryPath must be present in every well-formed package
	manifestEntryPath = "AndroidManifest.xml"

	// maxTotalUncompressed caps the declared uncompressed size summed over all
	// entries. The sum is checked while enumerating, so the cost of the check
	// itself stays bounded even on a tiny malicious input.
	maxTotalUncompressed = 500 * 1024 * 1024

	// maxCompressionRatio caps the declared uncompressed/compressed ratio of a
	// single entry
	maxCompressionRatio = 100

	sniffLen = 512
)

// zip local file header, end of central directory and spanned-archive markers
var zipMagic = [][]byte{
	{'P', 'K', 0x03, 0x04},
	{'P', 'K', 0x05, 0x06},
	{'P', 'K', 0x07, 0x08},
}

// ArchiveValidator performs the structural and security checks an uploaded
// blob must pass before any privileged operation touches it. It only reads
// the candidate file, never mutates it.
type ArchiveValidator struct {
	maxUploadBytes int64
}

// NewArchiveValidator creates a validator enforcing the given upload ceiling.
func NewArchiveValidator(maxUploadBytes int64) *ArchiveValidator {
	return &ArchiveValidator{maxUploadBytes: maxUploadBytes}
}

// ValidateFile runs all checks against the file at path, short-circuiting on
// the first failure. Failures carry a detail string that is safe to log; no
// secret material can appear on this path.
func (v *ArchiveValidator) ValidateFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return status.Errorf(status.StorageFailure, "stat upload: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		log.Warnf("rejected symlinked upload at %s", path)
		return status.Errorf(status.SecurityRejection, "upload must be a regular file")
	}
	if !info.Mode().IsRegular() {
		return status.NewInvalidPackageError("not a regular file")
	}

	if info.Size() == 0 {
		return status.NewInvalidPackageError("empty upload")
	}
	if info.Size() > v.maxUploadBytes {
		return status.NewInvalidPackageError("upload exceeds size limit")
	}

	if err := v.checkMagic(path); err != nil {
		return err
	}

	return v.checkArchive(path)
}

// checkMagic verifies the container signature. The content sniff corroborates
// the magic bytes but is not authoritative on its own: only when both checks
// fail is the file rejected.
func (v *ArchiveValidator) checkMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return status.Errorf(status.StorageFailure, "open upload: %v", err)
	}
	defer f.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return status.Errorf(status.StorageFailure, "read upload: %v", err)
	}
	head = head[:n]

	if hasZipMagic(head) {
		return nil
	}
	if http.DetectContentType(head) == "application/zip" {
		return nil
	}
	return status.NewInvalidPackageError("not a zip archive")
}

func hasZipMagic(head []byte) bool {
	if len(head) < 4 {
		return false
	}
	for _, magic := range zipMagic {
		if bytes.Equal(head[:4], magic) {
			return true
		}
	}
	return false
}

// checkArchive enumerates the archive once, accumulating the declared
// uncompressed total and checking each entry's compression ratio. Either bomb
// trigger aborts the enumeration immediately and is reported as a distinct
// SecurityRejection, never conflated with plain corruption.
func (v *ArchiveValidator) checkArchive(path string) error {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return status.NewInvalidPackageError("corrupt archive")
	}
	defer reader.Close()

	if len(reader.File) == 0 {
		return status.NewInvalidPackageError("archive has no entries")
	}

	manifestFound := false
	var totalUncompressed uint64
	for _, entry := range reader.File {
		totalUncompressed += entry.UncompressedSize64
		if totalUncompressed > maxTotalUncompressed {
			log.Warnf("rejected archive %s: declared uncompressed total exceeds %d bytes", path, int64(maxTotalUncompressed))
			return status.Errorf(status.SecurityRejection, "potential decompression bomb: total size")
		}

		if entry.CompressedSize64 > 0 {
			ratio := entry.UncompressedSize64 / entry.CompressedSize64
			if ratio > maxCompressionRatio {
				log.Warnf("rejected archive %s: entry %q declares %d:1 compression", path, entry.Name, ratio)
				return status.Errorf(status.SecurityRejection, "potential decompression bomb: entry ratio")
			}
		}

		if entry.Name == manifestEntryPath {
			manifestFound = true
		}
	}

	if !manifestFound {
		return status.NewInvalidPackageError("missing " + manifestEntryPath)
	}
	return nil
}
