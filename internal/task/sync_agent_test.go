package task

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/viraloab/viraloab/internal/model"
	"github.com/viraloab/viraloab/internal/outbox"
	"github.com/viraloab/viraloab/internal/testutil"
)

func openSyncTestQueue(testingT *testing.T) *outbox.Store {
	testingT.Helper()
	store, openErr := outbox.Open(testutil.NewSQLiteTestDatabase(testingT).DataSourceName())
	require.NoError(testingT, openErr)
	return store
}

func enqueueSyncTestSubmission(testingT *testing.T, store *outbox.Store, name string) uint {
	testingT.Helper()
	identifier, enqueueErr := store.Enqueue(model.Submission{
		Name:    name,
		Email:   name + "@x.com",
		Message: "queued while offline",
	})
	require.NoError(testingT, enqueueErr)
	return identifier
}

func readJSONBody(request *http.Request, target any) error {
	defer func() {
		_ = request.Body.Close()
	}()
	return json.NewDecoder(request.Body).Decode(target)
}

type failingQueue struct{}

func (failingQueue) ReadAll() ([]outbox.Entry, error)  { return nil, errors.New("read failed") }
func (failingQueue) RemoveMany(identifiers []uint) error { return nil }

func TestDrainRemovesDeliveredAndKeepsTransientFailures(testingT *testing.T) {
	store := openSyncTestQueue(testingT)
	enqueueSyncTestSubmission(testingT, store, "first")
	transientID := enqueueSyncTestSubmission(testingT, store, "second")
	enqueueSyncTestSubmission(testingT, store, "third")

	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		var submission model.Submission
		require.NoError(testingT, readJSONBody(request, &submission))
		if submission.Name == "second" {
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writer.WriteHeader(http.StatusOK)
	}))
	testingT.Cleanup(endpoint.Close)

	completions := NewCompletionBroadcaster()
	testingT.Cleanup(completions.Close)
	subscription := completions.Subscribe()
	testingT.Cleanup(subscription.Close)

	agent := NewSyncAgent(store, endpoint.URL, zap.NewNop(), completions)
	removed, drainErr := agent.Drain(context.Background())
	require.NoError(testingT, drainErr)
	require.Equal(testingT, 2, removed)

	remaining, readErr := store.ReadAll()
	require.NoError(testingT, readErr)
	require.Len(testingT, remaining, 1)
	require.Equal(testingT, transientID, remaining[0].ID)

	require.Len(testingT, subscription.events, 2)
	event := <-subscription.Events()
	require.True(testingT, event.Success)
	require.False(testingT, event.Timestamp.IsZero())
}

func TestDrainRemovesPermanentlyRejectedEntries(testingT *testing.T) {
	store := openSyncTestQueue(testingT)
	enqueueSyncTestSubmission(testingT, store, "rejected")

	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = writer.Write([]byte(`{"success":false,"error":"stale payload"}`))
	}))
	testingT.Cleanup(endpoint.Close)

	completions := NewCompletionBroadcaster()
	testingT.Cleanup(completions.Close)
	subscription := completions.Subscribe()
	testingT.Cleanup(subscription.Close)

	agent := NewSyncAgent(store, endpoint.URL, zap.NewNop(), completions)
	removed, drainErr := agent.Drain(context.Background())
	require.NoError(testingT, drainErr)
	require.Equal(testingT, 1, removed)

	remaining, readErr := store.ReadAll()
	require.NoError(testingT, readErr)
	require.Empty(testingT, remaining)

	// Rejection is not a completed submission, so no event is emitted.
	require.Empty(testingT, subscription.events)
}

func TestDrainRetainsEntriesOnNetworkError(testingT *testing.T) {
	store := openSyncTestQueue(testingT)
	enqueueSyncTestSubmission(testingT, store, "unreachable")

	endpoint := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint.Close()

	agent := NewSyncAgent(store, endpoint.URL, zap.NewNop(), NewCompletionBroadcaster())
	removed, drainErr := agent.Drain(context.Background())
	require.NoError(testingT, drainErr)
	require.Zero(testingT, removed)

	remaining, readErr := store.ReadAll()
	require.NoError(testingT, readErr)
	require.Len(testingT, remaining, 1)
}

func TestDrainMarksDeliveriesAsOfflineSubmissions(testingT *testing.T) {
	store := openSyncTestQueue(testingT)
	enqueueSyncTestSubmission(testingT, store, "flagged")

	var sawOfflineHeader atomic.Bool
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(testingT, http.MethodPost, request.Method)
		require.Equal(testingT, contactSubmissionPath, request.URL.Path)
		sawOfflineHeader.Store(request.Header.Get(headerNameOfflineSubmission) == offlineSubmissionFlagValue)
		writer.WriteHeader(http.StatusOK)
	}))
	testingT.Cleanup(endpoint.Close)

	agent := NewSyncAgent(store, endpoint.URL, zap.NewNop(), NewCompletionBroadcaster())
	_, drainErr := agent.Drain(context.Background())
	require.NoError(testingT, drainErr)
	require.True(testingT, sawOfflineHeader.Load())
}

func TestDrainWithEmptyQueueMakesNoRequests(testingT *testing.T) {
	store := openSyncTestQueue(testingT)

	var requestCount atomic.Int64
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount.Add(1)
		writer.WriteHeader(http.StatusOK)
	}))
	testingT.Cleanup(endpoint.Close)

	agent := NewSyncAgent(store, endpoint.URL, zap.NewNop(), NewCompletionBroadcaster())
	removed, drainErr := agent.Drain(context.Background())
	require.NoError(testingT, drainErr)
	require.Zero(testingT, removed)
	require.Zero(testingT, requestCount.Load())
}

func TestDrainReportsQueueReadFailure(testingT *testing.T) {
	agent := NewSyncAgent(failingQueue{}, "http://localhost:0", zap.NewNop(), NewCompletionBroadcaster())
	removed, drainErr := agent.Drain(context.Background())
	require.Error(testingT, drainErr)
	require.Zero(testingT, removed)
}

func TestDrainStopsAttemptingWhenContextCancelled(testingT *testing.T) {
	store := openSyncTestQueue(testingT)
	enqueueSyncTestSubmission(testingT, store, "first")
	enqueueSyncTestSubmission(testingT, store, "second")

	cancelledContext, cancel := context.WithCancel(context.Background())
	cancel()

	var requestCount atomic.Int64
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount.Add(1)
		writer.WriteHeader(http.StatusOK)
	}))
	testingT.Cleanup(endpoint.Close)

	agent := NewSyncAgent(store, endpoint.URL, zap.NewNop(), NewCompletionBroadcaster())
	removed, drainErr := agent.Drain(cancelledContext)
	require.NoError(testingT, drainErr)
	require.Zero(testingT, removed)
	require.Zero(testingT, requestCount.Load())

	remaining, readErr := store.ReadAll()
	require.NoError(testingT, readErr)
	require.Len(testingT, remaining, 2)
}
