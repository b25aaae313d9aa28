package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/ouroboros/internal/store"
	"github.com/jordanhubbard/ouroboros/pkg/models"
)

var _ store.Store = (*Database)(nil)

const workItemColumns = `id, description, status, external_tracker_id, created_at, updated_at, created_by, result`

// maxClaimAttempts bounds retries when another claimant takes the candidate row first.
const maxClaimAttempts = 5

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*models.WorkItem, error) {
	var (
		item                 models.WorkItem
		status               string
		trackerID            sql.NullInt64
		createdAt, updatedAt dbTime
	)
	if err := row.Scan(&item.ID, &item.Description, &status, &trackerID,
		&createdAt, &updatedAt, &item.CreatedBy, &item.Result); err != nil {
		return nil, err
	}
	item.Status = models.WorkItemStatus(status)
	if trackerID.Valid {
		id := trackerID.Int64
		item.ExternalTrackerID = &id
	}
	item.CreatedAt = createdAt.Time
	item.UpdatedAt = updatedAt.Time
	return &item, nil
}

func (d *Database) queryItems(ctx context.Context, where string, args ...any) ([]*models.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items`
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := d.db.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}
	defer rows.Close()

	items := make([]*models.WorkItem, 0)
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullableTrackerID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func (d *Database) Create(ctx context.Context, item *models.WorkItem) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("work item id is required")
	}
	query := `INSERT INTO work_items (` + workItemColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := d.db.ExecContext(ctx, d.q(query),
		item.ID,
		item.Description,
		string(item.Status),
		nullableTrackerID(item.ExternalTrackerID),
		utc(item.CreatedAt),
		utc(item.UpdatedAt),
		item.CreatedBy,
		item.Result,
	)
	if err != nil {
		return fmt.Errorf("failed to create work item: %w", err)
	}
	return nil
}

func (d *Database) Save(ctx context.Context, item *models.WorkItem) error {
	item.Touch()
	query := `
		UPDATE work_items
		SET description = ?, status = ?, external_tracker_id = ?, updated_at = ?, created_by = ?, result = ?
		WHERE id = ?
	`
	res, err := d.db.ExecContext(ctx, d.q(query),
		item.Description,
		string(item.Status),
		nullableTrackerID(item.ExternalTrackerID),
		utc(item.UpdatedAt),
		item.CreatedBy,
		item.Result,
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save work item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (d *Database) FindByID(ctx context.Context, id string) (*models.WorkItem, error) {
	query := `SELECT ` + workItemColumns + ` FROM work_items WHERE id = ?`
	item, err := scanWorkItem(d.db.QueryRowContext(ctx, d.q(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

func (d *Database) FindByStatus(ctx context.Context, status models.WorkItemStatus) ([]*models.WorkItem, error) {
	return d.queryItems(ctx, "status = ?", string(status))
}

func (d *Database) FindWithNullExternalID(ctx context.Context) ([]*models.WorkItem, error) {
	return d.queryItems(ctx, "external_tracker_id IS NULL")
}

func (d *Database) FindUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error) {
	return d.queryItems(ctx, "updated_at > ?", utc(since))
}

func (d *Database) FindByStatusUpdatedSince(ctx context.Context, status models.WorkItemStatus, since time.Time) ([]*models.WorkItem, error) {
	return d.queryItems(ctx, "status = ? AND updated_at > ?", string(status), utc(since))
}

func (d *Database) FindLinkedUpdatedSince(ctx context.Context, since time.Time) ([]*models.WorkItem, error) {
	return d.queryItems(ctx, "external_tracker_id IS NOT NULL AND updated_at > ?", utc(since))
}

func (d *Database) List(ctx context.Context) ([]*models.WorkItem, error) {
	return d.queryItems(ctx, "")
}

// ClaimNextPending flips the oldest pending row in one conditional UPDATE.
// If a concurrent claimant wins the candidate, the next candidate is tried.
func (d *Database) ClaimNextPending(ctx context.Context) (*models.WorkItem, error) {
	candidate := `SELECT id FROM work_items WHERE status = 'pending' ORDER BY created_at ASC, id ASC LIMIT 1`
	if d.dialect == dialectPostgres {
		candidate += ` FOR UPDATE SKIP LOCKED`
	}
	query := `
		UPDATE work_items
		SET status = 'in_progress', updated_at = ?
		WHERE id = (` + candidate + `) AND status = 'pending'
		RETURNING ` + workItemColumns

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		item, err := scanWorkItem(d.db.QueryRowContext(ctx, d.q(query), utc(time.Now())))
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to claim work item: %w", err)
		}
		// No row: either nothing is pending or the candidate was stolen.
		var pending int
		if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items WHERE status = 'pending'`).Scan(&pending); err != nil {
			return nil, fmt.Errorf("failed to count pending work items: %w", err)
		}
		if pending == 0 {
			return nil, nil
		}
	}
	return nil, nil
}

func (d *Database) ClaimPending(ctx context.Context, id string) (*models.WorkItem, error) {
	query := `
		UPDATE work_items
		SET status = 'in_progress', updated_at = ?
		WHERE id = ? AND status = 'pending'
		RETURNING ` + workItemColumns
	item, err := scanWorkItem(d.db.QueryRowContext(ctx, d.q(query), utc(time.Now()), id))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim work item: %w", err)
	}
	if _, ferr := d.FindByID(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, store.ErrAlreadyClaimed
}

func (d *Database) Transition(ctx context.Context, id string, from, to models.WorkItemStatus, result string) (*models.WorkItem, error) {
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, from, to)
	}
	// Only terminal statuses carry a result.
	if !to.IsTerminal() {
		result = ""
	}

	query := `
		UPDATE work_items
		SET status = ?, result = ?, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING ` + workItemColumns
	item, err := scanWorkItem(d.db.QueryRowContext(ctx, d.q(query),
		string(to), result, utc(time.Now()), id, string(from)))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to transition work item: %w", err)
	}
	current, ferr := d.FindByID(ctx, id)
	if ferr != nil {
		return nil, ferr
	}
	return nil, fmt.Errorf("%w: expected %s, found %s", store.ErrStaleStatus, from, current.Status)
}

func (d *Database) SetExternalTrackerID(ctx context.Context, id string, trackerID int64) error {
	query := `UPDATE work_items SET external_tracker_id = ? WHERE id = ? AND external_tracker_id IS NULL`
	res, err := d.db.ExecContext(ctx, d.q(query), trackerID, id)
	if err != nil {
		return fmt.Errorf("failed to link work item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := d.FindByID(ctx, id); err != nil {
		return err
	}
	return store.ErrAlreadyLinked
}
