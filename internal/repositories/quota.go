package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytq/internal/models"
)

// QuotaRepository persists per-project daily quota consumption.
type QuotaRepository struct {
	db *sql.DB
}

// NewQuotaRepository creates a new QuotaRepository with the given database connection
func NewQuotaRepository(db *sql.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Add records units against (project, day) with a single upsert and returns the new total.
func (r *QuotaRepository) Add(project, day string, units int, at time.Time) (int, error) {
	query := `
		INSERT INTO quota_usage (project, day, units_used, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project, day) DO UPDATE SET
			units_used = units_used + excluded.units_used,
			updated_at = excluded.updated_at
		RETURNING units_used
	`

	var total int
	if err := r.db.QueryRow(query, project, day, units, at.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to record quota usage: %w", err)
	}

	return total, nil
}

// Raise lifts (project, day) to at least units. Usage never decreases.
func (r *QuotaRepository) Raise(project, day string, units int, at time.Time) (int, error) {
	query := `
		INSERT INTO quota_usage (project, day, units_used, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (project, day) DO UPDATE SET
			units_used = MAX(units_used, excluded.units_used),
			updated_at = excluded.updated_at
		RETURNING units_used
	`

	var total int
	if err := r.db.QueryRow(query, project, day, units, at.UTC()).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to raise quota usage: %w", err)
	}

	return total, nil
}

// Get returns the usage for (project, day). A missing row is zero usage, not an error.
func (r *QuotaRepository) Get(project, day string) (models.QuotaRecord, error) {
	query := `
		SELECT project, day, units_used, updated_at
		FROM quota_usage
		WHERE project = ? AND day = ?
	`

	record, err := scanQuota(r.db.QueryRow(query, project, day))
	if errors.Is(err, sql.ErrNoRows) {
		return models.QuotaRecord{Project: project, Day: day}, nil
	}
	if err != nil {
		return models.QuotaRecord{}, fmt.Errorf("failed to get quota usage: %w", err)
	}

	return record, nil
}

// List returns every project's usage for day, ordered by project name.
func (r *QuotaRepository) List(day string) ([]models.QuotaRecord, error) {
	query := `
		SELECT project, day, units_used, updated_at
		FROM quota_usage
		WHERE day = ?
		ORDER BY project ASC
	`

	rows, err := r.db.Query(query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota usage: %w", err)
	}
	defer rows.Close()

	var records []models.QuotaRecord
	for rows.Next() {
		record, err := scanQuota(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan quota usage: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return records, nil
}

func scanQuota(row rowScanner) (models.QuotaRecord, error) {
	var record models.QuotaRecord
	err := row.Scan(&record.Project, &record.Day, &record.UnitsUsed, &record.UpdatedAt)
	return record, err
}
