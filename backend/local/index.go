package local

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/mwantia/cachefs/data"
)

const (
	indexFile    = "index.cbor"
	indexVersion = 1
)

// record is the persisted state of one key. Directories have no digest.
type record struct {
	Meta     *data.Metadata `cbor:"1,keyasint"`
	Digest   string         `cbor:"2,keyasint,omitempty"`
	Size     int64          `cbor:"3,keyasint"`
	Modified time.Time      `cbor:"4,keyasint"`
}

func (r *record) clone() *record {
	clone := *r
	clone.Meta = r.Meta.Clone()
	return &clone
}

type index struct {
	Version int                `cbor:"1,keyasint"`
	Entries map[string]*record `cbor:"2,keyasint"`
}

var (
	indexEncMode cbor.EncMode
	indexDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	indexEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("local: CBOR encoder initialization failed: " + err.Error())
	}

	indexDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("local: CBOR decoder initialization failed: " + err.Error())
	}
}

// readIndex loads the index at path. A missing file is an empty index.
func readIndex(path string) (map[string]*record, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]*record{}, nil
	}
	if err != nil {
		return nil, err
	}

	var idx index
	if err := indexDecMode.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("failed to decode index %s: %w", path, err)
	}
	if idx.Version != indexVersion {
		return nil, fmt.Errorf("unsupported index version %d in %s", idx.Version, path)
	}
	if idx.Entries == nil {
		idx.Entries = map[string]*record{}
	}

	return idx.Entries, nil
}

// writeIndex replaces the index at path through a temporary file and a rename.
func writeIndex(path string, entries map[string]*record) error {
	raw, err := indexEncMode.Marshal(&index{
		Version: indexVersion,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	return writeAtomic(path, raw)
}

// writeAtomic writes content next to path and renames it into place.
func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
