// Package outbox implements the durable local queue holding contact
// submissions that could not be delivered immediately. Entries survive
// process restarts and are drained by the background sync agent.
package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/viraloab/viraloab/internal/model"
)

const (
	errorMessageStoreUnavailable = "outbox: store unavailable"
	errorMessageWriteFailed      = "outbox: write failed"
	errorMessageReadFailed       = "outbox: read failed"
	errorMessageDeleteFailed     = "outbox: delete failed"
	errorMessageMissingDataPath  = "outbox: missing data source name"
)

var (
	// ErrStoreUnavailable indicates the local queue database could not be opened or prepared.
	ErrStoreUnavailable = errors.New(errorMessageStoreUnavailable)
	// ErrWriteFailed indicates a submission could not be appended to the queue.
	ErrWriteFailed = errors.New(errorMessageWriteFailed)
	// ErrReadFailed indicates the queued entries could not be read back.
	ErrReadFailed = errors.New(errorMessageReadFailed)
	// ErrDeleteFailed indicates one or more queued entries could not be removed.
	ErrDeleteFailed = errors.New(errorMessageDeleteFailed)
)

// Entry is a queued submission together with its queueing metadata.
type Entry struct {
	ID         uint
	Submission model.Submission
	Timestamp  string
}

// Store is the durable local submission queue backed by a SQLite database.
type Store struct {
	database *gorm.DB
}

// Open opens the queue database at the given data source name, creating the
// pending submissions table on first use. Opening is idempotent.
func Open(dataSourceName string) (*Store, error) {
	trimmedDataSourceName := strings.TrimSpace(dataSourceName)
	if trimmedDataSourceName == "" {
		return nil, fmt.Errorf("%w: %s", ErrStoreUnavailable, errorMessageMissingDataPath)
	}

	database, openErr := gorm.Open(sqlite.Open(trimmedDataSourceName), &gorm.Config{})
	if openErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, openErr)
	}

	if migrateErr := database.AutoMigrate(&model.PendingSubmission{}); migrateErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, migrateErr)
	}

	return &Store{database: database}, nil
}

// Enqueue appends the submission as a new queue entry and returns the
// store-assigned identifier. Existing entries are never overwritten.
func (store *Store) Enqueue(submission model.Submission) (uint, error) {
	payload, marshalErr := json.Marshal(submission.Normalized())
	if marshalErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrWriteFailed, marshalErr)
	}

	pending := model.PendingSubmission{
		Data:      payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if createErr := store.database.Create(&pending).Error; createErr != nil {
		return 0, fmt.Errorf("%w: %v", ErrWriteFailed, createErr)
	}

	return pending.ID, nil
}

// ReadAll returns every queued entry. Order across entries carries no
// semantic weight.
func (store *Store) ReadAll() ([]Entry, error) {
	var pendingRows []model.PendingSubmission
	if findErr := store.database.Find(&pendingRows).Error; findErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailed, findErr)
	}

	entries := make([]Entry, 0, len(pendingRows))
	for _, pending := range pendingRows {
		var submission model.Submission
		if unmarshalErr := json.Unmarshal(pending.Data, &submission); unmarshalErr != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrReadFailed, pending.ID, unmarshalErr)
		}
		entries = append(entries, Entry{
			ID:         pending.ID,
			Submission: submission,
			Timestamp:  pending.Timestamp,
		})
	}

	return entries, nil
}

// RemoveMany deletes the given entry identifiers. Deletion is best-effort per
// identifier: a failed delete is reported but does not abort the remaining
// deletions, and an empty identifier set succeeds as a no-op.
func (store *Store) RemoveMany(identifiers []uint) error {
	if len(identifiers) == 0 {
		return nil
	}

	var failedIdentifiers []uint
	for _, identifier := range identifiers {
		deleteErr := store.database.Delete(&model.PendingSubmission{}, identifier).Error
		if deleteErr != nil {
			failedIdentifiers = append(failedIdentifiers, identifier)
		}
	}

	if len(failedIdentifiers) > 0 {
		return fmt.Errorf("%w: identifiers %v", ErrDeleteFailed, failedIdentifiers)
	}

	return nil
}
