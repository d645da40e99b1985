package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/recmig/recmig/pkg/models"
)

// ErrItemNotFound is returned when a queue item id does not exist.
var ErrItemNotFound = errors.New("queue item not found")

// Enqueue persists a new queue item. The item is durable before Enqueue
// returns; a crash immediately after never loses it.
func (s *Store) Enqueue(item *models.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = models.StatusPending
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now

	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	succeeded, err := json.Marshal(indicesOrEmpty(item.SucceededIndices))
	if err != nil {
		return fmt.Errorf("encoding succeeded indices: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO queue_items
		 (id, queue_name, priority, payload_json, status, succeeded_json,
		  attempts, last_error, config_name, mapping_name, description,
		  created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.QueueName, item.Priority, string(payload),
		string(item.Status), string(succeeded), item.Attempts, item.LastError,
		item.ConfigName, item.MappingName, item.Description,
		now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return &models.PersistenceError{Op: "enqueue", Err: err}
	}
	return nil
}

// NextPending claims the next pending item of a queue: lowest priority value
// first, then oldest. It marks the item running and increments attempts
// before returning it. Returns nil when the queue has no pending work.
func (s *Store) NextPending(queueName string) (*models.QueueItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, &models.PersistenceError{Op: "next pending", Err: err}
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		`SELECT id, queue_name, priority, payload_json, status, succeeded_json,
		        attempts, last_error, config_name, mapping_name, description,
		        created_at, updated_at
		 FROM queue_items
		 WHERE queue_name = ? AND status = ?
		 ORDER BY priority, created_at
		 LIMIT 1`,
		queueName, string(models.StatusPending),
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.Status = models.StatusRunning
	item.Attempts++
	item.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(
		`UPDATE queue_items SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		string(item.Status), item.Attempts, item.UpdatedAt.Format(timeLayout), item.ID,
	)
	if err != nil {
		return nil, &models.PersistenceError{Op: "next pending", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return nil, &models.PersistenceError{Op: "next pending", Err: err}
	}
	return item, nil
}

// UpdateItemProgress persists status, succeeded indices and last error as a
// single statement, keeping the row consistent under a crash.
func (s *Store) UpdateItemProgress(item *models.QueueItem) error {
	succeeded, err := json.Marshal(indicesOrEmpty(item.SucceededIndices))
	if err != nil {
		return fmt.Errorf("encoding succeeded indices: %w", err)
	}
	item.UpdatedAt = time.Now().UTC()
	res, err := s.db.Exec(
		`UPDATE queue_items
		 SET status = ?, succeeded_json = ?, last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(item.Status), string(succeeded), item.LastError,
		item.UpdatedAt.Format(timeLayout), item.ID,
	)
	if err != nil {
		return &models.PersistenceError{Op: "update item", Err: err}
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
	}
	return nil
}

// RetryItem moves a failed or partially failed item back to pending without
// touching its succeeded indices, so the next run resumes where it stopped.
func (s *Store) RetryItem(id string) error {
	item, err := s.GetItem(id)
	if err != nil {
		return err
	}
	if !item.Status.Retryable() {
		return fmt.Errorf("item %s has status %s and cannot be retried", id, item.Status)
	}
	_, err = s.db.Exec(
		`UPDATE queue_items SET status = ?, last_error = '', updated_at = ? WHERE id = ?`,
		string(models.StatusPending), time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return &models.PersistenceError{Op: "retry item", Err: err}
	}
	return nil
}

// GetItem loads a queue item by id.
func (s *Store) GetItem(id string) (*models.QueueItem, error) {
	row := s.db.QueryRow(
		`SELECT id, queue_name, priority, payload_json, status, succeeded_json,
		        attempts, last_error, config_name, mapping_name, description,
		        created_at, updated_at
		 FROM queue_items WHERE id = ?`,
		id,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return item, err
}

// ListItems returns a queue's items ordered as they would be dequeued.
// An empty queueName lists every queue.
func (s *Store) ListItems(queueName string) ([]models.QueueItem, error) {
	query := `SELECT id, queue_name, priority, payload_json, status, succeeded_json,
	                 attempts, last_error, config_name, mapping_name, description,
	                 created_at, updated_at
	          FROM queue_items`
	args := []interface{}{}
	if queueName != "" {
		query += ` WHERE queue_name = ?`
		args = append(args, queueName)
	}
	query += ` ORDER BY queue_name, priority, created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list items", Err: err}
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// DeleteItem removes a queue item.
func (s *Store) DeleteItem(id string) error {
	res, err := s.db.Exec(`DELETE FROM queue_items WHERE id = ?`, id)
	if err != nil {
		return &models.PersistenceError{Op: "delete item", Err: err}
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}

// RecoverRunning moves items left running by a crashed worker back to
// pending. Called on worker startup.
func (s *Store) RecoverRunning(queueName string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE queue_items SET status = ?, updated_at = ?
		 WHERE queue_name = ? AND status = ?`,
		string(models.StatusPending), time.Now().UTC().Format(timeLayout),
		queueName, string(models.StatusRunning),
	)
	if err != nil {
		return 0, &models.PersistenceError{Op: "recover running", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*models.QueueItem, error) {
	var (
		item       models.QueueItem
		payload    string
		succeeded  string
		lastError  sql.NullString
		configName sql.NullString
		mapName    sql.NullString
		desc       sql.NullString
		created    string
		updated    string
		status     string
	)
	err := row.Scan(&item.ID, &item.QueueName, &item.Priority, &payload, &status,
		&succeeded, &item.Attempts, &lastError, &configName, &mapName, &desc,
		&created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, &models.PersistenceError{Op: "scan item", Err: err}
	}
	item.Status = models.ItemStatus(status)
	item.LastError = lastError.String
	item.ConfigName = configName.String
	item.MappingName = mapName.String
	item.Description = desc.String
	if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
		return nil, fmt.Errorf("decoding payload for item %s: %w", item.ID, err)
	}
	if err := json.Unmarshal([]byte(succeeded), &item.SucceededIndices); err != nil {
		return nil, fmt.Errorf("decoding succeeded indices for item %s: %w", item.ID, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, created); err == nil {
		item.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		item.UpdatedAt = t
	}
	return &item, nil
}

func indicesOrEmpty(in []int) []int {
	if in == nil {
		return []int{}
	}
	return in
}
