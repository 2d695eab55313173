package application

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/boxvps/boxvpsd/internal/domain"
	"github.com/boxvps/boxvpsd/internal/ports"
)

// Backups bundles the data directory into timestamped tar.gz archives so a
// store can be moved between hosts or restored after a bad edit.
type Backups struct {
	dataDir string
	destDir string
	clock   ports.Clock
}

func NewBackups(dataDir, destDir string, clock ports.Clock) *Backups {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	return &Backups{dataDir: dataDir, destDir: destDir, clock: clock}
}

// Create writes a new archive and returns its path.
func (b *Backups) Create(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(b.destDir, 0o700); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("boxvpsd-%s.tar.gz", b.clock.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(b.destDir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	err = filepath.Walk(b.dataDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		// The backup dir may live inside the data dir; never archive
		// archives.
		if info.IsDir() && p == b.destDir {
			return filepath.SkipDir
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(b.dataDir, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("archive data dir: %w", err)
	}

	if err := tw.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("finish archive: %w", err)
	}
	return path, nil
}

// Restore unpacks an archive into the data directory, overwriting files it
// contains and leaving others in place. Entries that would escape the data
// directory are rejected.
func (b *Backups) Restore(ctx context.Context, archivePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("backup %q: %w", archivePath, domain.ErrNotFound)
		}
		return fmt.Errorf("open backup: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("read backup: %w: not a gzip archive", domain.ErrValidation)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read backup: %w", err)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		clean := filepath.Clean(hdr.Name)
		if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
			return fmt.Errorf("backup entry %q escapes data dir: %w", hdr.Name, domain.ErrValidation)
		}

		dest := filepath.Join(b.dataDir, clean)
		if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
			return fmt.Errorf("restore %q: %w", hdr.Name, err)
		}
		out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("restore %q: %w", hdr.Name, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("restore %q: %w", hdr.Name, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("restore %q: %w", hdr.Name, err)
		}
	}
}
