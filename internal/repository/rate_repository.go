package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"exchange-gateway/internal/models"
)

// Open connects to Postgres with pool settings suited to the request volume
// of a single gateway instance.
func Open(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RateRepository records fetched snapshots and performed conversions for
// historical tracking. It is an audit trail, not a cache: failures here are
// logged by callers and never fail the request.
type RateRepository struct {
	db *sql.DB
}

func NewRateRepository(db *sql.DB) *RateRepository {
	return &RateRepository{db: db}
}

func (r *RateRepository) SaveSnapshot(ctx context.Context, source string, snap *models.RateSnapshot) error {
	rates, err := json.Marshal(snap.Rates)
	if err != nil {
		return fmt.Errorf("marshaling rates: %w", err)
	}

	query := `
		INSERT INTO rate_snapshots (base_currency, rate_date, rates, source, fetched_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err = r.db.ExecContext(ctx, query,
		snap.Base,
		snap.Date,
		rates,
		source,
		time.Now().UTC(),
	)
	return err
}

func (r *RateRepository) SaveConversion(ctx context.Context, conversion *models.Conversion) error {
	query := `
		INSERT INTO conversions (id, from_currency, to_currency, amount, converted_amount, rate_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		conversion.ID,
		conversion.FromCurrency,
		conversion.ToCurrency,
		conversion.Amount.String(),
		conversion.ConvertedAmount.String(),
		conversion.RateDate,
		conversion.CreatedAt,
	)
	return err
}
