package transcode

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ZipEntry names a file to place in a package.
type ZipEntry struct {
	Path string
	Name string
}

// PackageZip stores the entries uncompressed in a new archive at
// outputPath. Media streams are already compressed, so Store is used.
func PackageZip(outputPath string, entries ...ZipEntry) (err error) {
	if len(entries) == 0 {
		return fmt.Errorf("zip %s: no entries", filepath.Base(outputPath))
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating zip: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("closing zip: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(outputPath)
		}
	}()

	zw := zip.NewWriter(out)
	for _, entry := range entries {
		if err := addZipEntry(zw, entry); err != nil {
			_ = zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing zip: %w", err)
	}
	return nil
}

func addZipEntry(zw *zip.Writer, entry ZipEntry) error {
	src, err := os.Open(entry.Path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", entry.Name, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", entry.Name, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", entry.Name, err)
	}
	name := entry.Name
	if name == "" {
		name = filepath.Base(entry.Path)
	}
	header.Name = name
	header.Method = zip.Store

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
