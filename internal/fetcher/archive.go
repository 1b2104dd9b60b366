package fetcher

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Extract unpacks a .tar.gz, .tgz or .zip archive into destDir and returns
// the extracted file paths.
func Extract(archivePath, destDir string) ([]string, error) {
	lower := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return ExtractTarGz(archivePath, destDir)
	case strings.HasSuffix(lower, ".zip"):
		return ExtractZIP(archivePath, destDir)
	default:
		return nil, eris.Errorf("archive: unsupported format %q", filepath.Base(archivePath))
	}
}

// ExtractTarGz extracts all regular files from a gzip-compressed tarball.
func ExtractTarGz(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, eris.Wrap(err, "tar.gz: open archive")
	}
	defer f.Close() //nolint:errcheck

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, eris.Wrap(err, "tar.gz: open gzip stream")
	}
	defer gz.Close() //nolint:errcheck

	tr := tar.NewReader(gz)
	var extracted []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return extracted, nil
		}
		if err != nil {
			return extracted, eris.Wrap(err, "tar.gz: read header")
		}

		destPath, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return extracted, eris.Wrap(err, "tar.gz")
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return extracted, eris.Wrap(err, "tar.gz: create directory")
			}
		case tar.TypeReg:
			if err := writeEntry(destPath, tr); err != nil {
				return extracted, eris.Wrap(err, "tar.gz")
			}
			extracted = append(extracted, destPath)
		default:
			// Links and devices are not part of address archives.
		}
	}
}

// ExtractZIP extracts all files from a ZIP archive to the destination directory.
// Returns the list of extracted file paths.
func ExtractZIP(zipPath, destDir string) ([]string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var extracted []string
	for _, f := range r.File {
		destPath, err := safeJoin(destDir, f.Name)
		if err != nil {
			return extracted, eris.Wrap(err, "zip")
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return extracted, eris.Wrap(err, "zip: create directory")
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return extracted, eris.Wrap(err, "zip: open entry")
		}
		err = writeEntry(destPath, rc)
		_ = rc.Close()
		if err != nil {
			return extracted, eris.Wrap(err, "zip")
		}
		extracted = append(extracted, destPath)
	}

	return extracted, nil
}

// safeJoin joins name onto destDir and rejects entries escaping it.
func safeJoin(destDir, name string) (string, error) {
	destPath := filepath.Join(destDir, name)
	if !strings.HasPrefix(filepath.Clean(destPath), filepath.Clean(destDir)+string(os.PathSeparator)) {
		return "", eris.Errorf("illegal path %q (path traversal attempt)", name)
	}
	return destPath, nil
}

func writeEntry(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return eris.Wrap(err, "create parent directory")
	}
	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrap(err, "create file")
	}
	defer out.Close() //nolint:errcheck

	if _, err := io.Copy(out, r); err != nil {
		return eris.Wrap(err, "write file")
	}
	return nil
}
