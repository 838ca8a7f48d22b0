// Package storage persists the full session mapping behind a Backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"codesage/internal/config"
	"codesage/internal/models"
	"codesage/internal/redis"
)

// ErrCorrupt reports a stored document that could not be decoded.
var ErrCorrupt = errors.New("corrupt session document")

// Backend loads and saves the whole session mapping at once. Load on an
// empty backend returns an empty, non-nil document.
type Backend interface {
	Load(ctx context.Context) (models.Document, error)
	Save(ctx context.Context, doc models.Document) error
	Close() error
}

// Open builds the backend selected by basic_config.storage_driver.
func Open(ctx context.Context, cfg *config.Config) (Backend, error) {
	driver := strings.ToLower(cfg.BasicConfig.StorageDriver)
	switch driver {
	case "", "json":
		return NewFileBackend(cfg.BasicConfig.SessionsPath), nil
	case "sqlite", "sqlite3", "mysql":
		db, err := OpenDB(driver, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, driver); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLBackend(db), nil
	case "redis":
		client, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("open redis storage: %w", err)
		}
		return NewRedisBackend(client, cfg.Redis.Key), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func decodeDocument(data []byte) (models.Document, error) {
	doc := make(models.Document)
	if len(strings.TrimSpace(string(data))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return make(models.Document), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	for id, se := range doc {
		if se == nil {
			delete(doc, id)
			continue
		}
		if se.ID == "" {
			se.ID = id
		}
		if se.ID != id {
			return make(models.Document), fmt.Errorf("%w: session key %q holds id %q", ErrCorrupt, id, se.ID)
		}
		if se.Messages == nil {
			se.Messages = []models.Message{}
		}
	}
	return doc, nil
}

func encodeDocument(doc models.Document) ([]byte, error) {
	if doc == nil {
		doc = models.Document{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode sessions: %w", err)
	}
	return data, nil
}
