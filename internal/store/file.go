package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "remindbot/pkg/logx"
)

// fileDriver keeps the whole document in one JSON file, written atomically
// via a temp file and rename.
type fileDriver struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Driver, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return &fileDriver{log: log, path: path}, nil
}

func (d *fileDriver) Load() (map[string][]Item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, errors.New("file driver closed")
	}

	b, err := os.ReadFile(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]Item{}, nil
		}
		return nil, err
	}
	doc := map[string][]Item{}
	if len(b) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *fileDriver) Save(doc map[string][]Item) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errors.New("file driver closed")
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}

func (d *fileDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
