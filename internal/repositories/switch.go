package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/ytq/internal/models"
)

// SwitchRepository persists the credential context-switch audit trail.
type SwitchRepository struct {
	db *sql.DB
}

// NewSwitchRepository creates a new SwitchRepository with the given database connection
func NewSwitchRepository(db *sql.DB) *SwitchRepository {
	return &SwitchRepository{db: db}
}

// Create appends a switch record and sets its ID.
func (r *SwitchRepository) Create(s *models.ContextSwitch) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO context_switches (batch_id, from_project, to_project, quota_group, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Exec(query, s.BatchID, s.FromProject, s.ToProject, s.QuotaGroup, s.Reason, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert context switch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get context switch id: %w", err)
	}
	s.ID = id

	return nil
}

// List returns switches in creation order, optionally restricted to one batch.
func (r *SwitchRepository) List(batchID string) ([]models.ContextSwitch, error) {
	query := `
		SELECT id, batch_id, from_project, to_project, quota_group, reason, created_at
		FROM context_switches
	`

	args := []any{}
	if batchID != "" {
		query += " WHERE batch_id = ?"
		args = append(args, batchID)
	}
	query += " ORDER BY id ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query context switches: %w", err)
	}
	defer rows.Close()

	var switches []models.ContextSwitch
	for rows.Next() {
		var s models.ContextSwitch
		if err := rows.Scan(&s.ID, &s.BatchID, &s.FromProject, &s.ToProject, &s.QuotaGroup, &s.Reason, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context switch: %w", err)
		}
		switches = append(switches, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return switches, nil
}
