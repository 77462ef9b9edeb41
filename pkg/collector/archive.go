package collector

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/construtiva/costref-engine/pkg/apperrors"
)

// referenceMarker must appear (case-insensitive) in the canonical workbook
// file name inside the archive.
const referenceMarker = "referência"

// referenceMarkerASCII is the same marker as some publications spell it,
// without the accent.
const referenceMarkerASCII = "referencia"

const workbookExtension = ".xlsx"

// ExtractReferenceWorkbook extracts the archive to a scratch directory,
// locates the canonical reference workbook and invokes process with its
// path. The scratch directory is always removed afterwards, success or
// failure, so repeated runs cannot exhaust disk.
func (c *Collector) ExtractReferenceWorkbook(archive []byte, process func(workbookPath string) error) error {
	dir, err := os.MkdirTemp("", "costref-collect-*")
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			c.logger.Warn("Failed to remove scratch directory", zap.String("dir", dir), zap.Error(err))
		}
	}()

	if err := extractArchive(archive, dir); err != nil {
		return err
	}

	workbook, err := findReferenceWorkbook(dir)
	if err != nil {
		return err
	}

	c.logger.Info("Located reference workbook", zap.String("file", filepath.Base(workbook)))
	return process(workbook)
}

func extractArchive(archive []byte, dir string) error {
	reader, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	for _, f := range reader.File {
		// Reject entries escaping the scratch directory.
		target := filepath.Join(dir, filepath.Clean(f.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("archive member %q escapes extraction directory", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory %q: %w", f.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create directory for %q: %w", f.Name, err)
		}

		src, err := f.Open()
		if err != nil {
			return fmt.Errorf("failed to open archive member %q: %w", f.Name, err)
		}

		dst, err := os.Create(target)
		if err != nil {
			src.Close()
			return fmt.Errorf("failed to create %q: %w", target, err)
		}

		_, err = io.Copy(dst, src)
		src.Close()
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to extract %q: %w", f.Name, err)
		}
	}

	return nil
}

// findReferenceWorkbook searches the extracted tree, case-insensitive and
// depth-unbounded, for a spreadsheet whose name carries the reference
// marker. On a miss the error enumerates every extracted file to aid
// diagnosing layout changes in the published archive.
func findReferenceWorkbook(dir string) (string, error) {
	var found string
	var contents []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		contents = append(contents, rel)

		name := strings.ToLower(info.Name())
		if !strings.HasSuffix(name, workbookExtension) {
			return nil
		}
		if strings.Contains(name, referenceMarker) || strings.Contains(name, referenceMarkerASCII) {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan extracted archive: %w", err)
	}

	if found == "" {
		return "", fmt.Errorf("%w; archive contents: %s",
			apperrors.ErrWorkbookNotFound, strings.Join(contents, ", "))
	}
	return found, nil
}
