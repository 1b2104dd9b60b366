package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/address-cli/internal/fetcher/fetchertest"
)

func TestIsRemote(t *testing.T) {
	tests := []struct {
		location string
		want     bool
	}{
		{"https://example.org/addresses.tar.gz", true},
		{"http://example.org/addresses.txt", true},
		{"FTP://ftp.example.org/addresses.txt", true},
		{"./addresses.txt", false},
		{"/var/data/addresses.tar.gz", false},
		{"file:///var/data/addresses.txt", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRemote(tt.location))
		})
	}
}

func TestRouter_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("via http")) //nolint:errcheck
	}))
	defer srv.Close()

	r := &Router{
		HTTP: NewHTTPFetcher(HTTPOptions{Limiter: rate.NewLimiter(rate.Inf, 1), Retry: fastRetry()}),
		FTP:  NewFTPFetcher(FTPOptions{}),
	}

	body, err := r.Download(context.Background(), srv.URL+"/a")
	require.NoError(t, err)
	defer body.Close() //nolint:errcheck
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "via http", string(data))
}

func TestRouter_FTP(t *testing.T) {
	srv := fetchertest.NewFTPServer(t, map[string][]byte{"/addresses.txt": []byte("via ftp")})

	r := &Router{
		HTTP: NewHTTPFetcher(HTTPOptions{}),
		FTP:  NewFTPFetcher(FTPOptions{Timeout: 5 * time.Second}),
	}

	dest := filepath.Join(t.TempDir(), "addresses.txt")
	n, err := r.DownloadToFile(context.Background(), srv.URL("/addresses.txt"), dest)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRouter_UnsupportedScheme(t *testing.T) {
	r := NewRouter()

	_, err := r.Download(context.Background(), "s3://bucket/addresses.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scheme")

	_, err = r.DownloadToFile(context.Background(), "gopher://x/y", filepath.Join(t.TempDir(), "y"))
	require.Error(t, err)
}
