package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pools (
    project_id       INTEGER NOT NULL,
    settlement_token TEXT    NOT NULL,
    pool             TEXT    NOT NULL,
    project_token    TEXT    NOT NULL,
    fee              INTEGER NOT NULL,
    created_at       INTEGER NOT NULL,
    PRIMARY KEY (project_id, settlement_token)
);
CREATE TABLE IF NOT EXISTS twap_params (
    project_id         INTEGER PRIMARY KEY,
    window_seconds     INTEGER NOT NULL,
    slippage_tolerance INTEGER NOT NULL,
    updated_at         INTEGER NOT NULL
);
`

// ErrPathRequired is returned when the database path is missing
var ErrPathRequired = errors.New("registry database path must be configured")

// SQLStore persists registry state in SQLite
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) the database at path.
// Project ids are stored as the int64 with the same bits.
func OpenSQLStore(path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrPathRequired
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serialises writers; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// GetPool implements Store
func (s *SQLStore) GetPool(ctx context.Context, projectID uint64, settlementToken common.Address) (PoolEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT pool, project_token, fee
        FROM pools
        WHERE project_id = ? AND settlement_token = ?
    `, int64(projectID), settlementToken.Hex())

	var pool, projectToken string
	var entry PoolEntry
	if err := row.Scan(&pool, &projectToken, &entry.Fee); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PoolEntry{}, false, nil
		}
		return PoolEntry{}, false, fmt.Errorf("query pool: %w", err)
	}
	entry.Pool = common.HexToAddress(pool)
	entry.ProjectToken = common.HexToAddress(projectToken)
	return entry, true, nil
}

// CreatePool implements Store
func (s *SQLStore) CreatePool(ctx context.Context, projectID uint64, settlementToken common.Address, entry PoolEntry, params TwapParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var exists int
	err = tx.QueryRowContext(ctx, `
        SELECT 1 FROM pools WHERE project_id = ? AND settlement_token = ?
    `, int64(projectID), settlementToken.Hex()).Scan(&exists)
	switch {
	case err == nil:
		return ErrPoolAlreadySet
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("query pool: %w", err)
	}

	now := time.Now().UTC().Unix()
	if _, err := tx.ExecContext(ctx, `
        INSERT INTO pools(project_id, settlement_token, pool, project_token, fee, created_at)
        VALUES(?, ?, ?, ?, ?, ?)
    `, int64(projectID), settlementToken.Hex(), entry.Pool.Hex(), entry.ProjectToken.Hex(), entry.Fee, now); err != nil {
		return fmt.Errorf("insert pool: %w", err)
	}
	if err := putTwapParams(ctx, tx, projectID, params, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetTwapParams implements Store
func (s *SQLStore) GetTwapParams(ctx context.Context, projectID uint64) (TwapParams, bool, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT window_seconds, slippage_tolerance
        FROM twap_params
        WHERE project_id = ?
    `, int64(projectID))

	var params TwapParams
	if err := row.Scan(&params.Window, &params.SlippageTolerance); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TwapParams{}, false, nil
		}
		return TwapParams{}, false, fmt.Errorf("query twap params: %w", err)
	}
	return params, true, nil
}

// PutTwapParams implements Store
func (s *SQLStore) PutTwapParams(ctx context.Context, projectID uint64, params TwapParams) error {
	return putTwapParams(ctx, s.db, projectID, params, time.Now().UTC().Unix())
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putTwapParams(ctx context.Context, db execer, projectID uint64, params TwapParams, now int64) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO twap_params(project_id, window_seconds, slippage_tolerance, updated_at)
        VALUES(?, ?, ?, ?)
        ON CONFLICT(project_id) DO UPDATE SET
            window_seconds = excluded.window_seconds,
            slippage_tolerance = excluded.slippage_tolerance,
            updated_at = excluded.updated_at
    `, int64(projectID), params.Window, params.SlippageTolerance, now)
	if err != nil {
		return fmt.Errorf("upsert twap params: %w", err)
	}
	return nil
}

// Close implements Store
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
