package store

import (
	"errors"
	"strings"

	logx "remindbot/pkg/logx"
)

// Driver persists the full partition->items document.
type Driver interface {
	Load() (map[string][]Item, error)
	Save(doc map[string][]Item) error
	Close() error
}

// Open initializes the configured driver.
func Open(cfg Config, log logx.Logger) (Driver, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
