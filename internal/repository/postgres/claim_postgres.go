package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"claimsapi/internal/model"
	"claimsapi/internal/repository"
)

// ClaimPostgres is a PostgreSQL implementation of repository.ClaimRepository.
// It uses database/sql with parameterized queries; documents, validation and
// archive keys are stored as JSONB payloads.
type ClaimPostgres struct {
	db *sql.DB
}

// NewClaimPostgres creates a new ClaimPostgres repository.
func NewClaimPostgres(db *sql.DB) *ClaimPostgres {
	return &ClaimPostgres{db: db}
}

var _ repository.ClaimRepository = (*ClaimPostgres)(nil)

// Create inserts a new claim row and returns the stored record.
func (r *ClaimPostgres) Create(ctx context.Context, c *model.Claim) (*model.Claim, error) {
	const q = `
		INSERT INTO claims (id, status, documents, validation, archive_keys, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, status, documents, validation, archive_keys, created_at
	`
	archiveKeys, err := json.Marshal(c.ArchiveKeys)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, q,
		c.ID,
		c.Status,
		c.Documents,
		c.Validation,
		archiveKeys,
		c.CreatedAt,
	)
	return scanClaimRow(row)
}

// FindByID fetches a single claim by its ID.
func (r *ClaimPostgres) FindByID(ctx context.Context, id string) (*model.Claim, error) {
	const q = `
		SELECT id, status, documents, validation, archive_keys, created_at
		FROM claims
		WHERE id = $1
	`
	return scanClaimRow(r.db.QueryRowContext(ctx, q, id))
}

// List returns claims using LIMIT/OFFSET pagination and a total count.
func (r *ClaimPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Claim], error) {
	const qCount = `SELECT COUNT(*) FROM claims`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT id, status, documents, validation, archive_keys, created_at
		FROM claims
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.QueryContext(ctx, qList, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Claim, 0)
	for rows.Next() {
		c, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Claim]{Items: items, Total: total}, nil
}

// Delete removes a claim by ID. A missing row is not an error.
func (r *ClaimPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM claims WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	_, _ = res.RowsAffected()
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClaimRow(row scanner) (*model.Claim, error) {
	var c model.Claim
	var archiveKeys []byte
	if err := row.Scan(
		&c.ID,
		&c.Status,
		&c.Documents,
		&c.Validation,
		&archiveKeys,
		&c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if len(archiveKeys) > 0 {
		if err := json.Unmarshal(archiveKeys, &c.ArchiveKeys); err != nil {
			return nil, err
		}
	}
	return &c, nil
}
