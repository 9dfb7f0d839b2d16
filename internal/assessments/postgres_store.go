package assessments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/LukasBures/olynthus/internal/risk"
)

// PostgresStore persists assessments in the assessments table created by
// migrations/002_assessments.sql.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	findingsJSON, err := json.Marshal(a.Findings)
	if err != nil {
		return fmt.Errorf("failed to marshal findings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO assessments (id, kind, chain, network, subject, tx_type, result, high, medium, low, findings, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID,
		a.Kind,
		a.Chain,
		a.Network,
		a.Subject,
		a.TxType,
		string(a.Result),
		a.Counts.High,
		a.Counts.Medium,
		a.Counts.Low,
		findingsJSON,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, subject string, limit int) ([]*Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, chain, network, subject, tx_type, result, high, medium, low, findings, created_at
		FROM assessments
		WHERE $1 = '' OR subject = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var (
			a            Assessment
			findingsJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.Kind, &a.Chain, &a.Network, &a.Subject, &a.TxType, &a.Result,
			&a.Counts.High, &a.Counts.Medium, &a.Counts.Low, &findingsJSON, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		a.Findings = []risk.Finding{}
		_ = json.Unmarshal(findingsJSON, &a.Findings)
		result = append(result, &a)
	}
	return result, rows.Err()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
