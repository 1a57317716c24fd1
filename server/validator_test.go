package server

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apksignd/apksignd/server/status"
)

const testMaxUpload = 100 * 1024 * 1024

type zipEntry struct {
	name string
	data []byte
	// declared sizes for raw entries; zero means a normal compressed entry
	declaredCompressed   uint64
	declaredUncompressed uint64
}

func writeZip(t *testing.T, entries []zipEntry) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.apk")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for _, entry := range entries {
		if entry.declaredUncompressed > 0 {
			// raw entries carry declared sizes in the headers without the
			// payload ever existing, which is exactly what a crafted bomb does
			w, err := zw.CreateRaw(&zip.FileHeader{
				Name:               entry.name,
				Method:             zip.Deflate,
				CompressedSize64:   entry.declaredCompressed,
				UncompressedSize64: entry.declaredUncompressed,
			})
			require.NoError(t, err)
			_, err = w.Write(entry.data)
			require.NoError(t, err)
			continue
		}
		w, err := zw.Create(entry.name)
		require.NoError(t, err)
		_, err = w.Write(entry.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func writeValidPackage(t *testing.T) string {
	t.Helper()
	return writeZip(t, []zipEntry{
		{name: "AndroidManifest.xml", data: []byte("<manifest package=\"com.example.app\"/>")},
		{name: "classes.dex", data: []byte("dex\n035")},
		{name: "res/layout/main.xml", data: []byte("<LinearLayout/>")},
	})
}

func requireStatusType(t *testing.T, err error, expected status.Type) {
	t.Helper()
	require.Error(t, err)
	e, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, expected, e.Type())
}

func TestValidateFile_ValidPackage(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	require.NoError(t, v.ValidateFile(writeValidPackage(t)))
}

func TestValidateFile_SignedPackagePasses(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	path := writeZip(t, []zipEntry{
		{name: "AndroidManifest.xml", data: []byte("<manifest/>")},
		{name: "META-INF/MANIFEST.MF", data: []byte("Manifest-Version: 1.0")},
		{name: "META-INF/CERT.SF", data: []byte("Signature-Version: 1.0")},
		{name: "META-INF/CERT.RSA", data: []byte{0x30, 0x82}},
	})
	require.NoError(t, v.ValidateFile(path))
}

func TestValidateFile_NotAZip(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	path := filepath.Join(t.TempDir(), "upload.apk")
	require.NoError(t, os.WriteFile(path, []byte("this is definitely not an archive"), 0600))

	requireStatusType(t, v.ValidateFile(path), status.InvalidInput)
}

func TestValidateFile_EmptyUpload(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	path := filepath.Join(t.TempDir(), "upload.apk")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	requireStatusType(t, v.ValidateFile(path), status.InvalidInput)
}

func TestValidateFile_OversizedUpload(t *testing.T) {
	v := NewArchiveValidator(16)
	requireStatusType(t, v.ValidateFile(writeValidPackage(t)), status.InvalidInput)
}

func TestValidateFile_EmptyArchive(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	requireStatusType(t, v.ValidateFile(writeZip(t, nil)), status.InvalidInput)
}

func TestValidateFile_TruncatedArchive(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	path := filepath.Join(t.TempDir(), "upload.apk")
	// zip magic with nothing behind it
	require.NoError(t, os.WriteFile(path, []byte{'P', 'K', 0x03, 0x04, 0x00, 0x00}, 0600))

	requireStatusType(t, v.ValidateFile(path), status.InvalidInput)
}

func TestValidateFile_MissingManifest(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	path := writeZip(t, []zipEntry{
		{name: "classes.dex", data: []byte("dex\n035")},
	})
	requireStatusType(t, v.ValidateFile(path), status.InvalidInput)
}

func TestValidateFile_SymlinkUpload(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	target := writeValidPackage(t)
	link := filepath.Join(t.TempDir(), "link.apk")
	require.NoError(t, os.Symlink(target, link))

	requireStatusType(t, v.ValidateFile(link), status.SecurityRejection)
}

func TestValidateFile_BombTotalSize(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	// each entry keeps its individual ratio plausible, only the declared sum
	// crosses the ceiling
	const declared = 200 * 1024 * 1024
	path := writeZip(t, []zipEntry{
		{name: "AndroidManifest.xml", data: []byte("<manifest/>")},
		{name: "assets/a.bin", declaredCompressed: declared / 50, declaredUncompressed: declared},
		{name: "assets/b.bin", declaredCompressed: declared / 50, declaredUncompressed: declared},
		{name: "assets/c.bin", declaredCompressed: declared / 50, declaredUncompressed: declared},
	})
	requireStatusType(t, v.ValidateFile(path), status.SecurityRejection)
}

func TestValidateFile_BombEntryRatio(t *testing.T) {
	v := NewArchiveValidator(testMaxUpload)
	path := writeZip(t, []zipEntry{
		{name: "AndroidManifest.xml", data: []byte("<manifest/>")},
		{name: "assets/inflate.bin", declaredCompressed: 1024, declaredUncompressed: 1024 * 200},
	})
	requireStatusType(t, v.ValidateFile(path), status.SecurityRejection)
}
