package offline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// Journal persists the queue between runs.
type Journal interface {
	Load() ([]Item, error)
	Save(items []Item) error
}

const journalVersion = 1

type journalFile struct {
	Version int    `cbor:"version"`
	Items   []Item `cbor:"items"`
}

var journalEnc = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// FileJournal keeps the queue in a single CBOR file. Saves write a
// temporary file next to it and rename it into place.
type FileJournal struct {
	path string
}

func NewFileJournal(path string) *FileJournal {
	return &FileJournal{path: path}
}

func (j *FileJournal) Load() ([]Item, error) {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	var f journalFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode journal %s: %w", j.path, err)
	}
	if f.Version != journalVersion {
		return nil, fmt.Errorf("journal %s: unsupported version %d", j.path, f.Version)
	}
	return f.Items, nil
}

func (j *FileJournal) Save(items []Item) error {
	data, err := journalEnc.Marshal(journalFile{Version: journalVersion, Items: items})
	if err != nil {
		return fmt.Errorf("encode journal: %w", err)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("replace journal: %w", err)
	}
	return nil
}
