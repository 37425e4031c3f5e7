package execution

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"cryptex/config"
	"cryptex/models"
)

var tableNameRegexp = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresStore journals every accepted record; the newest row per symbol
// is the one the cooldown reads.
type PostgresStore struct {
	db    *sqlx.DB
	table string
}

func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	if !tableNameRegexp.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres store: invalid table name %q", cfg.Table)
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	s := &PostgresStore{db: db, table: cfg.Table}
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id                BIGSERIAL PRIMARY KEY,
	symbol            TEXT        NOT NULL,
	side              TEXT        NOT NULL,
	quantity          NUMERIC     NOT NULL,
	submitted_at      TIMESTAMPTZ NOT NULL,
	dry_run           BOOLEAN     NOT NULL,
	exchange_order_id TEXT,
	client_order_id   TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_symbol_submitted_idx ON %[1]s (symbol, submitted_at DESC);`, s.table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("postgres store: ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Last(ctx context.Context, symbol string) (models.OrderRecord, bool, error) {
	query := fmt.Sprintf(`SELECT symbol, side, quantity, submitted_at, dry_run, exchange_order_id, client_order_id
FROM %s WHERE symbol = $1 ORDER BY submitted_at DESC, id DESC LIMIT 1`, s.table)

	var rec models.OrderRecord
	err := s.db.GetContext(ctx, &rec, query, symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return models.OrderRecord{}, false, nil
	}
	if err != nil {
		return models.OrderRecord{}, false, fmt.Errorf("postgres store: last %s: %w", symbol, err)
	}
	return rec, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec models.OrderRecord) error {
	query := fmt.Sprintf(`INSERT INTO %s (symbol, side, quantity, submitted_at, dry_run, exchange_order_id, client_order_id)
VALUES (:symbol, :side, :quantity, :submitted_at, :dry_run, :exchange_order_id, :client_order_id)`, s.table)
	if _, err := s.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("postgres store: save %s: %w", rec.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
