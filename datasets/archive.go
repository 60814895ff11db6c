package datasets

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// archiveVersion is bumped when the on-disk split format changes.
const archiveVersion = "split.v1"

// ArchiveName returns the file name used for a split inside a data dir.
func ArchiveName(l Label) string {
	return l.String() + ".ds.zst"
}

type archive struct {
	Version string
	Dataset EncodedDataset
}

// SaveArchive writes d as a zstd-compressed gob stream.
func SaveArchive(path string, d *EncodedDataset) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create archive dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("failed to open zstd writer: %w", err)
	}
	if err := gob.NewEncoder(zw).Encode(archive{Version: archiveVersion, Dataset: *d}); err != nil {
		zw.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	return f.Close()
}

// LoadArchive reads a split written by SaveArchive and validates it.
func LoadArchive(path string) (*EncodedDataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd reader: %w", err)
	}
	defer zr.Close()

	var a archive
	if err := gob.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	if a.Version != archiveVersion {
		return nil, fmt.Errorf("%s: unsupported archive version %q (want %q)", path, a.Version, archiveVersion)
	}
	d := a.Dataset
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// LoadSplits reads the train, val and test archives from dir and checks
// they share one column layout and no scenario ids.
func LoadSplits(dir string) (train, val, test *EncodedDataset, err error) {
	sets := make([]*EncodedDataset, len(Labels))
	for i, l := range Labels {
		sets[i], err = LoadArchive(filepath.Join(dir, ArchiveName(l)))
		if err != nil {
			return nil, nil, nil, err
		}
	}
	if err := CheckCompatible(sets...); err != nil {
		return nil, nil, nil, err
	}
	if err := CheckDisjoint(sets...); err != nil {
		return nil, nil, nil, err
	}
	return sets[0], sets[1], sets[2], nil
}
