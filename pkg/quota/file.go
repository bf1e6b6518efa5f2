package quota

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileStore is a memoryStore mirrored to a JSON file. Every change
// rewrites the file through a temp file and rename.
type fileStore struct {
	*memoryStore
	path string
}

func newFileStore(o *options) (*fileStore, error) {
	dir := filepath.Dir(o.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("quota dir: %w", err)
	}

	s := &fileStore{memoryStore: newMemoryStore(o), path: o.path}
	s.persist = s.save

	data, err := os.ReadFile(o.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read quota file: %w", err)
	default:
		if err := json.Unmarshal(data, &s.counters); err != nil {
			o.logger.Warnw("quota file unreadable, starting empty", "path", o.path, "error", err)
			s.counters = make(map[string]counter)
		}
		if s.counters == nil {
			s.counters = make(map[string]counter)
		}
	}
	return s, nil
}

func (s *fileStore) save(counters map[string]counter) error {
	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "quota-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, s.path)
}
