package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

// ErrPersistence marks every error caused by the storage engine rejecting
// or failing a read or write.
var ErrPersistence = errors.New("persistence failure")

// Product is one row per tracked product address.
type Product struct {
	ID          int64
	URL         string
	Title       *string
	LastPrice   decimal.NullDecimal
	LastChecked time.Time
}

// Observation is one price check of a product. Price is null when the page
// was checked but showed no price.
type Observation struct {
	ID        int64
	ProductID int64
	Price     decimal.NullDecimal
	CheckedAt time.Time
}

// Store persists products and their price history. It holds one connection
// pool for the whole run and is not meant to be written from several
// goroutines at once.
type Store struct {
	db      *sql.DB
	dialect dialect
	log     *slog.Logger
	now     func() time.Time
}

// Open connects to the engine named by descriptor and creates the schema if
// needed. Supported descriptors: sqlite:///path.db, sqlite:///:memory:,
// postgres://... and postgresql://...
func Open(ctx context.Context, descriptor string, log *slog.Logger) (*Store, error) {
	d, err := parseDescriptor(descriptor)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open(d.driver, d.dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.name, err)
	}
	if d.name == "sqlite" {
		// one writer; also keeps :memory: databases on a single connection
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w: %w", d.name, ErrPersistence, err)
	}

	s := &Store{
		db:      db,
		dialect: d,
		log:     log.With("engine", d.name),
		now:     time.Now,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Debug("store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w: %w", ErrPersistence, err)
		}
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const upsertProductSQL = `
INSERT INTO products (url, title, last_price, last_checked)
VALUES (?, ?, ?, ?)
ON CONFLICT (url) DO UPDATE SET
	title = excluded.title,
	last_price = excluded.last_price,
	last_checked = excluded.last_checked
RETURNING id`

// UpsertProduct inserts the product at url, or updates title, price and
// check time of the existing row. The returned id never changes for a url.
func (s *Store) UpsertProduct(ctx context.Context, url string, title *string, price decimal.NullDecimal) (int64, error) {
	checked := s.timestamp()

	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, s.dialect.rebind(upsertProductSQL),
			url, nullString(title), price, checked).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("upsert product %q: %w: %w", url, ErrPersistence, err)
	}
	return id, nil
}

// RecordObservation appends one price check for productID. A null price is
// stored as NULL, which is not the same as a zero price.
func (s *Store) RecordObservation(ctx context.Context, productID int64, price decimal.NullDecimal) error {
	checked := s.timestamp()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			s.dialect.rebind(`INSERT INTO price_history (product_id, price, checked_at) VALUES (?, ?, ?)`),
			productID, price, checked)
		return err
	})
	if err != nil {
		return fmt.Errorf("record observation for product %d: %w: %w", productID, ErrPersistence, err)
	}
	return nil
}

// ListProducts returns every product ordered by id.
func (s *Store) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, last_price, last_checked FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w: %w", ErrPersistence, err)
	}
	defer rows.Close()

	var ps []Product
	for rows.Next() {
		var (
			p       Product
			title   sql.NullString
			checked sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.URL, &title, &p.LastPrice, &checked); err != nil {
			return nil, fmt.Errorf("scan product: %w: %w", ErrPersistence, err)
		}
		if title.Valid {
			p.Title = &title.String
		}
		if p.LastChecked, err = parseTimestamp(checked); err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w: %w", ErrPersistence, err)
	}
	return ps, nil
}

// History returns the observations of productID, oldest first.
func (s *Store) History(ctx context.Context, productID int64) ([]Observation, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
SELECT id, product_id, price, checked_at
FROM price_history
WHERE product_id = ?
ORDER BY checked_at, id`), productID)
	if err != nil {
		return nil, fmt.Errorf("price history of product %d: %w: %w", productID, ErrPersistence, err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var (
			o       Observation
			checked sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.ProductID, &o.Price, &checked); err != nil {
			return nil, fmt.Errorf("scan observation: %w: %w", ErrPersistence, err)
		}
		if o.CheckedAt, err = parseTimestamp(checked); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("price history of product %d: %w: %w", productID, ErrPersistence, err)
	}
	return out, nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback failed", "err", rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTimestamp(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		// rows written by other tools may use any RFC 3339 precision
		if t, err = time.Parse(time.RFC3339Nano, v.String); err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w: %w", v.String, ErrPersistence, err)
		}
	}
	return t.UTC(), nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
