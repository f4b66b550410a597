package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Sentinel errors surfaced to the service layer
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicatePurchase   = errors.New("buyer already owns one of the assets")
	ErrOrderNumberConflict = errors.New("order number already taken")
)

const pqUniqueViolation = "23505"

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetAssetsByIDs resolves catalog assets for order validation. Missing ids
// simply produce fewer rows; the caller compares counts.
func (s *Store) GetAssetsByIDs(ctx context.Context, ids []string) ([]models.Asset, error) {
	if len(ids) == 0 {
		return []models.Asset{}, nil
	}

	query, args, err := sqlx.In(
		"SELECT id, title, slug, price, status, seller_id, sales_count, created_at FROM assets WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var assets []models.Asset
	err = s.db.SelectContext(ctx, &assets, query, args...)
	return assets, err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation && pqErr.Constraint == constraint
	}
	return false
}
