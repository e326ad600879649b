package task

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/viraloab/viraloab/internal/outbox"
)

const (
	contactSubmissionPath       = "/api/contact"
	headerNameContentType       = "Content-Type"
	headerNameOfflineSubmission = "X-Offline-Submission"
	contentTypeJSON             = "application/json"
	offlineSubmissionFlagValue  = "true"

	defaultAttemptTimeout = 30 * time.Second

	logEventSyncReadFailed     = "sync_read_failed"
	logEventSyncAttemptFailed  = "sync_attempt_failed"
	logEventSyncEntryRejected  = "sync_entry_rejected"
	logEventSyncRemoveFailed   = "sync_remove_failed"
	logEventSyncRunFinished    = "sync_run_finished"
	logFieldEntryID            = "entry_id"
	logFieldStatusCode         = "status"
	logFieldServerErrorDetail  = "server_error"
	logFieldRemovedEntryCount  = "removed"
	logFieldRetainedEntryCount = "retained"
	logFieldQueuedAt           = "queued_at"
)

// DeliveryOutcome classifies a single delivery attempt.
type DeliveryOutcome int

const (
	// OutcomeSuccess marks a delivered entry; it is removed from the queue.
	OutcomeSuccess DeliveryOutcome = iota
	// OutcomePermanentFailure marks an entry the endpoint rejected as
	// unfixable; it is removed rather than retried forever.
	OutcomePermanentFailure
	// OutcomeTransientFailure marks an entry worth retrying on a later wake.
	OutcomeTransientFailure
)

// PendingQueue is the slice of the local submission store the agent drains.
type PendingQueue interface {
	ReadAll() ([]outbox.Entry, error)
	RemoveMany(identifiers []uint) error
}

// SyncAgent flushes the local submission queue to the contact endpoint on
// every wake signal.
type SyncAgent struct {
	queue       PendingQueue
	endpointURL string
	httpClient  *http.Client
	logger      *zap.Logger
	completions *CompletionBroadcaster
}

// NewSyncAgent constructs an agent posting queued submissions to the contact
// endpoint rooted at endpointURL.
func NewSyncAgent(queue PendingQueue, endpointURL string, logger *zap.Logger, completions *CompletionBroadcaster) *SyncAgent {
	return &SyncAgent{
		queue:       queue,
		endpointURL: strings.TrimRight(strings.TrimSpace(endpointURL), "/"),
		httpClient:  &http.Client{Timeout: defaultAttemptTimeout},
		logger:      logger,
		completions: completions,
	}
}

// WithHTTPClient overrides the HTTP client used for delivery attempts.
func (agent *SyncAgent) WithHTTPClient(httpClient *http.Client) *SyncAgent {
	if httpClient != nil {
		agent.httpClient = httpClient
	}
	return agent
}

// Runner adapts the agent to the scheduler's runner contract.
func (agent *SyncAgent) Runner() RunnerFunc {
	return func(ctx context.Context) {
		_, _ = agent.Drain(ctx)
	}
}

// Drain reads every queued entry, attempts delivery sequentially, removes
// entries with a confirmed final outcome, and returns how many entries were
// removed. Entries with transient failures stay queued for the next wake, as
// do entries not yet attempted when the context is cancelled.
func (agent *SyncAgent) Drain(ctx context.Context) (int, error) {
	entries, readErr := agent.queue.ReadAll()
	if readErr != nil {
		agent.logger.Warn(logEventSyncReadFailed, zap.Error(readErr))
		return 0, readErr
	}
	if len(entries) == 0 {
		return 0, nil
	}

	var removableIdentifiers []uint
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		switch agent.attemptDelivery(ctx, entry) {
		case OutcomeSuccess:
			removableIdentifiers = append(removableIdentifiers, entry.ID)
			agent.completions.Broadcast(CompletionEvent{
				EntryID:   entry.ID,
				Success:   true,
				Timestamp: time.Now().UTC(),
			})
		case OutcomePermanentFailure:
			removableIdentifiers = append(removableIdentifiers, entry.ID)
		case OutcomeTransientFailure:
			// Left queued for the next wake.
		}
	}

	if len(removableIdentifiers) > 0 {
		if removeErr := agent.queue.RemoveMany(removableIdentifiers); removeErr != nil {
			agent.logger.Warn(logEventSyncRemoveFailed, zap.Error(removeErr))
		}
	}

	agent.logger.Info(logEventSyncRunFinished,
		zap.Int(logFieldRemovedEntryCount, len(removableIdentifiers)),
		zap.Int(logFieldRetainedEntryCount, len(entries)-len(removableIdentifiers)),
	)
	return len(removableIdentifiers), nil
}

func (agent *SyncAgent) attemptDelivery(ctx context.Context, entry outbox.Entry) DeliveryOutcome {
	payload, marshalErr := json.Marshal(entry.Submission)
	if marshalErr != nil {
		agent.logger.Warn(logEventSyncEntryRejected,
			zap.Uint(logFieldEntryID, entry.ID),
			zap.Error(marshalErr),
		)
		return OutcomePermanentFailure
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, agent.endpointURL+contactSubmissionPath, bytes.NewReader(payload))
	if requestErr != nil {
		agent.logger.Warn(logEventSyncAttemptFailed, zap.Uint(logFieldEntryID, entry.ID), zap.Error(requestErr))
		return OutcomeTransientFailure
	}
	request.Header.Set(headerNameContentType, contentTypeJSON)
	request.Header.Set(headerNameOfflineSubmission, offlineSubmissionFlagValue)

	response, doErr := agent.httpClient.Do(request)
	if doErr != nil {
		agent.logger.Warn(logEventSyncAttemptFailed,
			zap.Uint(logFieldEntryID, entry.ID),
			zap.String(logFieldQueuedAt, entry.Timestamp),
			zap.Error(doErr),
		)
		return OutcomeTransientFailure
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	return agent.classifyResponse(entry, response)
}

func (agent *SyncAgent) classifyResponse(entry outbox.Entry, response *http.Response) DeliveryOutcome {
	switch {
	case response.StatusCode >= 200 && response.StatusCode < 300:
		return OutcomeSuccess
	case response.StatusCode >= 400 && response.StatusCode < 500:
		agent.logger.Warn(logEventSyncEntryRejected,
			zap.Uint(logFieldEntryID, entry.ID),
			zap.Int(logFieldStatusCode, response.StatusCode),
			zap.String(logFieldServerErrorDetail, readErrorDetail(response.Body)),
		)
		return OutcomePermanentFailure
	default:
		agent.logger.Warn(logEventSyncAttemptFailed,
			zap.Uint(logFieldEntryID, entry.ID),
			zap.Int(logFieldStatusCode, response.StatusCode),
		)
		return OutcomeTransientFailure
	}
}

func readErrorDetail(body io.Reader) string {
	var serverError struct {
		Error string `json:"error"`
	}
	if decodeErr := json.NewDecoder(body).Decode(&serverError); decodeErr != nil {
		return ""
	}
	return serverError.Error
}
