package source

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/address-cli/internal/fetcher"
	"github.com/sells-group/address-cli/internal/fetcher/fetchertest"
	"github.com/sells-group/address-cli/internal/resilience"
)

func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestPrepare_FileExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "addresses.txt")
	require.NoError(t, os.WriteFile(file, []byte("x\n"), 0o644))

	require.NoError(t, Prepare(context.Background(), file, filepath.Join(dir, "missing.tar.gz"), nil))
}

func TestPrepare_NoArchive(t *testing.T) {
	err := Prepare(context.Background(), filepath.Join(t.TempDir(), "addresses.txt"), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no archive configured")
}

func TestPrepare_LocalArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "addresses.tar.gz")
	require.NoError(t, os.WriteFile(archive, tarGz(t, map[string]string{"addresses.txt": "346 SUMMER LN\n"}), 0o644))

	file := filepath.Join(dir, "addresses.txt")
	require.NoError(t, Prepare(context.Background(), file, archive, nil))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "346 SUMMER LN\n", string(data))
}

func TestPrepare_ArchiveMissingFile(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "addresses.tar.gz")
	require.NoError(t, os.WriteFile(archive, tarGz(t, map[string]string{"other.txt": "x"}), 0o644))

	err := Prepare(context.Background(), filepath.Join(dir, "addresses.txt"), archive, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not contain addresses.txt")
}

func TestPrepare_CorruptArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "addresses.tar.gz")
	require.NoError(t, os.WriteFile(archive, []byte("garbage"), 0o644))

	err := Prepare(context.Background(), filepath.Join(dir, "addresses.txt"), archive, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source: extract")
}

func TestPrepare_RemoteArchive(t *testing.T) {
	payload := tarGz(t, map[string]string{"addresses.txt": "767 CAPITOL HTS\n"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/addresses.tar.gz", r.URL.Path)
		w.Write(payload) //nolint:errcheck
	}))
	defer srv.Close()

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{Limiter: rate.NewLimiter(rate.Inf, 1)})
	file := filepath.Join(t.TempDir(), "addresses.txt")
	require.NoError(t, Prepare(context.Background(), file, srv.URL+"/data/addresses.tar.gz", f))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "767 CAPITOL HTS\n", string(data))
}

func TestPrepare_RemoteWithoutFetcher(t *testing.T) {
	err := Prepare(context.Background(), filepath.Join(t.TempDir(), "addresses.txt"), "https://example.org/a.tar.gz", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no fetcher")
}

func TestPrepare_FTPArchive(t *testing.T) {
	payload := tarGz(t, map[string]string{
		"addresses.txt": "346                           SUMMER LN\n",
		"README":        "county address extract\n",
	})
	srv := fetchertest.NewFTPServer(t, map[string][]byte{"/pub/addresses.tar.gz": payload})
	srv.Busy("/pub/addresses.tar.gz", 1)

	router := &fetcher.Router{
		HTTP: fetcher.NewHTTPFetcher(fetcher.HTTPOptions{}),
		FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{
			Timeout: 5 * time.Second,
			Retry:   &resilience.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond},
		}),
	}

	dir := t.TempDir()
	file := filepath.Join(dir, "addresses.txt")
	require.NoError(t, Prepare(context.Background(), file, srv.URL("/pub/addresses.tar.gz"), router))

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "346                           SUMMER LN\n", string(data))
	assert.FileExists(t, filepath.Join(dir, "README"))
	assert.Equal(t, 2, srv.Retrievals("/pub/addresses.tar.gz"))

	src, err := Open(file)
	require.NoError(t, err)
	defer src.Close() //nolint:errcheck
	line, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Contains(t, line, "SUMMER LN")
}

func TestPrepare_FTPArchiveMissing(t *testing.T) {
	srv := fetchertest.NewFTPServer(t, map[string][]byte{})
	router := &fetcher.Router{FTP: fetcher.NewFTPFetcher(fetcher.FTPOptions{Timeout: 5 * time.Second})}

	err := Prepare(context.Background(), filepath.Join(t.TempDir(), "addresses.txt"), srv.URL("/pub/addresses.tar.gz"), router)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source: download")
	assert.Equal(t, 1, srv.Retrievals("/pub/addresses.tar.gz"))
}
