package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	errx "github.com/pricewatch/server/internal/core/error"
	"github.com/pricewatch/server/internal/pricing/model"
	logx "github.com/pricewatch/server/pkg/logger"
)

// advisoryKey identifies the price history critical section.
const advisoryKey int64 = 0x7072696365

var safeIdentRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore keeps the same PriceDatabase in three tables. Record runs
// in one transaction under a transaction-scoped advisory lock.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	opts   Options
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresStore creates the tables if needed. The store takes ownership
// of pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, schema string, opts Options) (*PostgresStore, error) {
	if schema == "" {
		schema = "public"
	}
	if !safeIdentRE.MatchString(schema) {
		return nil, errx.Persistence(fmt.Errorf("unsafe schema identifier %q", schema))
	}
	s := &PostgresStore{pool: pool, schema: schema, opts: opts}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) table(name string) string {
	return fmt.Sprintf(`"%s".%s`, s.schema, name)
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS "%[1]s";

CREATE TABLE IF NOT EXISTS "%[1]s".price_history_entries (
  id bigserial PRIMARY KEY,
  product_id text NOT NULL,
  run_id text NOT NULL DEFAULT '',
  recorded_at timestamptz NOT NULL
);

CREATE INDEX IF NOT EXISTS price_history_entries_product_idx
  ON "%[1]s".price_history_entries (product_id, id);

CREATE TABLE IF NOT EXISTS "%[1]s".price_observations (
  entry_id bigint NOT NULL REFERENCES "%[1]s".price_history_entries (id) ON DELETE CASCADE,
  position int NOT NULL,
  retailer text NOT NULL,
  price numeric NOT NULL CHECK (price >= 0),
  currency text NOT NULL,
  in_stock boolean NOT NULL,
  url text NOT NULL,
  observed_at timestamptz NOT NULL,
  PRIMARY KEY (entry_id, position)
);

CREATE TABLE IF NOT EXISTS "%[1]s".price_database_meta (
  id boolean PRIMARY KEY DEFAULT true CHECK (id),
  last_updated timestamptz NOT NULL
);
`, s.schema)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		logx.Error().Err(err).Str("schema", s.schema).Msg("failed to create price history tables")
		return errx.WrapPostgres(err)
	}
	return nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, id model.ProductID, batch []model.PriceObservation) (*model.ProductPriceRecord, error) {
	if id == "" {
		return nil, errx.Validation(fmt.Errorf("empty product id"))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey); err != nil {
		return nil, errx.WrapPostgres(err)
	}

	if len(batch) == 0 && !s.opts.RecordEmpty {
		db, err := s.load(ctx, tx, &id)
		if err != nil {
			return nil, err
		}
		rec, _ := db.Record(id)
		logx.Info().Str("product_id", id.String()).Msg("empty batch, history left unchanged")
		return rec, nil
	}

	now := s.opts.now()
	var entryID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO `+s.table("price_history_entries")+` (product_id, run_id, recorded_at)
		 VALUES ($1, $2, $3) RETURNING id`,
		string(id), RunIDFrom(ctx), now,
	).Scan(&entryID)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}

	if len(batch) > 0 {
		b := &pgx.Batch{}
		for i, o := range batch {
			b.Queue(
				`INSERT INTO `+s.table("price_observations")+`
				(entry_id, position, retailer, price, currency, in_stock, url, observed_at)
				VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)`,
				entryID, i, o.Retailer, o.Price.String(), o.Currency, o.InStock, o.URL, o.Timestamp.UTC(),
			)
		}
		br := tx.SendBatch(ctx, b)
		for range batch {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return nil, errx.WrapPostgres(err)
			}
		}
		if err := br.Close(); err != nil {
			return nil, errx.WrapPostgres(err)
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("price_database_meta")+` (id, last_updated) VALUES (true, $1)
		 ON CONFLICT (id) DO UPDATE SET last_updated = EXCLUDED.last_updated`,
		now,
	); err != nil {
		return nil, errx.WrapPostgres(err)
	}

	db, err := s.load(ctx, tx, &id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errx.WrapPostgres(err)
	}

	rec, _ := db.Record(id)
	logx.Debug().Str("product_id", id.String()).Int("prices", len(batch)).Int64("entry_id", entryID).Msg("price history recorded")
	return rec, nil
}

// Load implements Store.
func (s *PostgresStore) Load(ctx context.Context) (*model.PriceDatabase, error) {
	return s.load(ctx, s.pool, nil)
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) load(ctx context.Context, q querier, only *model.ProductID) (*model.PriceDatabase, error) {
	var filter *string
	if only != nil {
		v := string(*only)
		filter = &v
	}

	rows, err := q.Query(ctx, `
SELECT e.id, e.product_id, e.run_id, e.recorded_at,
       o.retailer, o.price::text, o.currency, o.in_stock, o.url, o.observed_at
FROM `+s.table("price_history_entries")+` e
LEFT JOIN `+s.table("price_observations")+` o ON o.entry_id = e.id
WHERE $1::text IS NULL OR e.product_id = $1
ORDER BY e.id, o.position`, filter)
	if err != nil {
		return nil, errx.WrapPostgres(err)
	}
	defer rows.Close()

	db := model.NewPriceDatabase()
	var (
		lastEntry int64 = -1
		entry     model.HistoryEntry
		entryPID  model.ProductID
		pending   bool
	)
	flush := func() {
		if pending {
			db.Append(entryPID, entry)
		}
	}

	for rows.Next() {
		var (
			entryID    int64
			productID  string
			runID      string
			recordedAt time.Time
			retailer   *string
			price      *string
			currency   *string
			inStock    *bool
			url        *string
			observedAt *time.Time
		)
		if err := rows.Scan(&entryID, &productID, &runID, &recordedAt, &retailer, &price, &currency, &inStock, &url, &observedAt); err != nil {
			return nil, errx.WrapPostgres(err)
		}
		if entryID != lastEntry {
			flush()
			lastEntry = entryID
			entryPID = model.ProductID(productID)
			entry = model.HistoryEntry{Date: recordedAt.UTC(), RunID: runID, Prices: []model.PriceObservation{}}
			pending = true
		}
		if retailer == nil {
			continue
		}
		p, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, errx.Persistence(fmt.Errorf("entry %d: bad price %q: %w", entryID, *price, err))
		}
		entry.Prices = append(entry.Prices, model.PriceObservation{
			Retailer:  *retailer,
			Price:     p,
			Currency:  deref(currency),
			InStock:   inStock != nil && *inStock,
			URL:       deref(url),
			Timestamp: derefTime(observedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errx.WrapPostgres(err)
	}
	flush()

	var lastUpdated time.Time
	err = q.QueryRow(ctx, `SELECT last_updated FROM `+s.table("price_database_meta")+` WHERE id`).Scan(&lastUpdated)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, errx.WrapPostgres(err)
	default:
		db.LastUpdated = lastUpdated.UTC()
	}
	return db, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

var _ Store = (*PostgresStore)(nil)
