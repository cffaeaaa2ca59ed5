package zip

import (
	"archive/zip"
	"bytes"
)

// Asset is one file to include in the archive.
type Asset struct {
	Filename string
	Data     []byte
}

// ArchiveAssets encodes the assets into a single zip archive in memory.
// Entries that cannot be created are skipped.
func ArchiveAssets(assets []Asset) []byte {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	for _, asset := range assets {
		w, err := zw.Create(asset.Filename)
		if err != nil {
			continue
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil
		}
	}
	_ = zw.Close()
	return buf.Bytes()
}
