package source

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/address-cli/internal/fetcher"
)

// Prepare makes sure the input file exists. When it is missing and archive
// is set, the archive is extracted into the input file's directory. A remote
// archive (http, https, ftp) is downloaded first with f.
func Prepare(ctx context.Context, file, archive string, f fetcher.Fetcher) error {
	if _, err := os.Stat(file); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return eris.Wrapf(err, "source: stat %s", file)
	}
	if archive == "" {
		return eris.Errorf("source: input file %s not found and no archive configured", file)
	}

	destDir := filepath.Dir(file)
	local := archive
	if fetcher.IsRemote(archive) {
		if f == nil {
			return eris.Errorf("source: no fetcher for remote archive %s", archive)
		}
		u, err := url.Parse(archive)
		if err != nil {
			return eris.Wrap(err, "source: parse archive url")
		}
		tmp, err := os.MkdirTemp("", "address-archive-*")
		if err != nil {
			return eris.Wrap(err, "source: create temp dir")
		}
		defer os.RemoveAll(tmp) //nolint:errcheck

		local = filepath.Join(tmp, path.Base(u.Path))
		n, err := f.DownloadToFile(ctx, archive, local)
		if err != nil {
			return eris.Wrapf(err, "source: download %s", archive)
		}
		zap.L().Info("source: downloaded archive", zap.String("url", archive), zap.Int64("bytes", n))
	}

	extracted, err := fetcher.Extract(local, destDir)
	if err != nil {
		return eris.Wrapf(err, "source: extract %s", archive)
	}
	zap.L().Info("source: extracted archive",
		zap.String("archive", archive),
		zap.Int("files", len(extracted)),
	)

	if _, err := os.Stat(file); err != nil {
		return eris.Errorf("source: archive %s did not contain %s", archive, filepath.Base(file))
	}
	return nil
}
