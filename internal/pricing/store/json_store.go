package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

const defaultLockTTL = 10 * time.Minute

// JSONStore keeps the whole PriceDatabase in one JSON document. Every Record
// rewrites the document through a temp file and a rename, so readers only
// ever see a complete database.
type JSONStore struct {
	path string
	opts Options
	mu   sync.Mutex
}

// NewJSONStore opens the store at path, creating its directory. Without a
// Locker in opts it locks with a FileLocker next to the file.
func NewJSONStore(path string, opts Options) (*JSONStore, error) {
	if path == "" {
		return nil, errx.Persistence(fmt.Errorf("database path is empty"))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errx.Persistence(fmt.Errorf("create database dir: %w", err))
	}
	if opts.Locker == nil {
		opts.Locker = &FileLocker{Path: path + ".lock", TTL: defaultLockTTL}
	}
	return &JSONStore{path: path, opts: opts}, nil
}

// Path is the location of the database document.
func (s *JSONStore) Path() string {
	return s.path
}

// Record implements Store.
func (s *JSONStore) Record(ctx context.Context, id model.ProductID, batch []model.PriceObservation) (*model.ProductPriceRecord, error) {
	if id == "" {
		return nil, errx.Validation(fmt.Errorf("empty product id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.opts.Locker.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			logx.Warn().Err(err).Str("path", s.path).Msg("failed to release store lock")
		}
	}()

	db, err := s.read()
	if err != nil {
		return nil, err
	}

	if len(batch) == 0 && !s.opts.RecordEmpty {
		rec, _ := db.Record(id)
		logx.Info().Str("product_id", id.String()).Msg("empty batch, history left unchanged")
		return rec, nil
	}

	rec := db.Append(id, model.HistoryEntry{
		Date:   s.opts.now(),
		RunID:  RunIDFrom(ctx),
		Prices: append([]model.PriceObservation{}, batch...),
	})
	if err := s.write(db); err != nil {
		return nil, err
	}

	logx.Debug().
		Str("product_id", id.String()).
		Int("prices", len(batch)).
		Int("history", len(rec.PriceHistory)).
		Msg("price history recorded")
	return rec, nil
}

// Load implements Store. A missing document is an empty database.
func (s *JSONStore) Load(ctx context.Context) (*model.PriceDatabase, error) {
	if err := ctx.Err(); err != nil {
		return nil, errx.Persistence(err)
	}
	return s.read()
}

func (s *JSONStore) Close() error {
	return nil
}

func (s *JSONStore) read() (*model.PriceDatabase, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewPriceDatabase(), nil
	}
	if err != nil {
		return nil, errx.Persistence(fmt.Errorf("read %s: %w", s.path, err))
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return model.NewPriceDatabase(), nil
	}

	var db model.PriceDatabase
	if err := json.Unmarshal(b, &db); err != nil {
		logx.Error().Err(err).Str("path", s.path).Msg("price database is corrupt, refusing to overwrite")
		return nil, errx.Persistence(fmt.Errorf("decode %s: %w", s.path, err))
	}
	db.Normalize()
	return &db, nil
}

func (s *JSONStore) write(db *model.PriceDatabase) error {
	b, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return errx.Persistence(fmt.Errorf("encode database: %w", err))
	}
	b = append(b, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errx.Persistence(fmt.Errorf("create temp file: %w", err))
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return errx.Persistence(fmt.Errorf("write temp file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return errx.Persistence(fmt.Errorf("sync temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return errx.Persistence(fmt.Errorf("close temp file: %w", err))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errx.Persistence(fmt.Errorf("chmod temp file: %w", err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errx.Persistence(fmt.Errorf("replace %s: %w", s.path, err))
	}
	committed = true

	// Persist the rename itself. Not every platform can fsync a directory.
	if d, err := os.Open(dir); err == nil {
		if err := d.Sync(); err != nil {
			logx.Debug().Err(err).Str("dir", dir).Msg("directory sync skipped")
		}
		_ = d.Close()
	}
	return nil
}

var _ Store = (*JSONStore)(nil)
