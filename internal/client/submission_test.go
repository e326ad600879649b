package client

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
)

func readJSONBody(request *http.Request, target any) error {
	defer func() {
		_ = request.Body.Close()
	}()
	return json.NewDecoder(request.Body).Decode(target)
}

type stubConnectivity struct {
	online bool
	calls  int
}

func (connectivity *stubConnectivity) Online(ctx context.Context) bool {
	connectivity.calls++
	return connectivity.online
}

type recordingQueue struct {
	enqueued     []model.Submission
	nextEntryID  uint
	enqueueError error
}

func (queue *recordingQueue) Enqueue(submission model.Submission) (uint, error) {
	if queue.enqueueError != nil {
		return 0, queue.enqueueError
	}
	queue.enqueued = append(queue.enqueued, submission)
	queue.nextEntryID++
	return queue.nextEntryID, nil
}

type recordingSyncRequester struct {
	triggerCount int
}

func (requester *recordingSyncRequester) Trigger() {
	requester.triggerCount++
}

func fillRequiredFields(submissionClient *SubmissionClient) {
	submissionClient.UpdateField(fieldNameName, "Ana")
	submissionClient.UpdateField(fieldNameEmail, "ana@x.com")
	submissionClient.UpdateField(fieldNameMessage, "Hi")
}

func TestSubmitRejectsIncompleteDraftWithoutSideEffects(testingT *testing.T) {
	queue := &recordingQueue{}
	connectivity := &stubConnectivity{online: true}
	requester := &recordingSyncRequester{}

	var requestCount atomic.Int64
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount.Add(1)
	}))
	testingT.Cleanup(endpoint.Close)

	submissionClient := NewSubmissionClient(endpoint.URL, queue, requester, connectivity, nil, zap.NewNop())
	submissionClient.UpdateField(fieldNameName, "Ana")
	submissionClient.UpdateField(fieldNameMessage, "   ")

	submissionClient.Submit(context.Background())

	status := submissionClient.Status()
	require.Equal(testingT, MessageMissingRequiredFields, status.Error)
	require.False(testingT, status.Success)
	require.False(testingT, status.Submitting)
	require.Empty(testingT, queue.enqueued)
	require.Zero(testingT, requester.triggerCount)
	require.Zero(testingT, connectivity.calls)
	require.Zero(testingT, requestCount.Load())
}

func TestSubmitOnlineDeliversAndClearsDraft(testingT *testing.T) {
	var receivedSubmission model.Submission
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.NoError(testingT, readJSONBody(request, &receivedSubmission))
		writer.Header().Set(headerNameContentType, contentTypeJSON)
		_, _ = writer.Write([]byte(`{"success":true,"message":"Form submitted successfully"}`))
	}))
	testingT.Cleanup(endpoint.Close)

	queue := &recordingQueue{}
	submissionClient := NewSubmissionClient(endpoint.URL, queue, nil, &stubConnectivity{online: true}, nil, zap.NewNop())
	fillRequiredFields(submissionClient)

	submissionClient.Submit(context.Background())

	status := submissionClient.Status()
	require.True(testingT, status.Success)
	require.False(testingT, status.Offline)
	require.Empty(testingT, status.Error)
	require.Equal(testingT, model.Submission{}, submissionClient.Draft())
	require.Equal(testingT, "Ana", receivedSubmission.Name)
	require.Equal(testingT, "ana@x.com", receivedSubmission.Email)
	require.Empty(testingT, queue.enqueued)
}

func TestSubmitOfflineQueuesAndRequestsSync(testingT *testing.T) {
	var requestCount atomic.Int64
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		requestCount.Add(1)
	}))
	testingT.Cleanup(endpoint.Close)

	queue := &recordingQueue{}
	requester := &recordingSyncRequester{}
	submissionClient := NewSubmissionClient(endpoint.URL, queue, requester, &stubConnectivity{online: false}, nil, zap.NewNop())
	fillRequiredFields(submissionClient)

	submissionClient.Submit(context.Background())

	status := submissionClient.Status()
	require.True(testingT, status.Success)
	require.True(testingT, status.Offline)
	require.Empty(testingT, status.Error)
	require.Equal(testingT, model.Submission{}, submissionClient.Draft())
	require.Len(testingT, queue.enqueued, 1)
	require.Equal(testingT, 1, requester.triggerCount)
	require.Zero(testingT, requestCount.Load())
}

func TestSubmitOfflineReportsQueueFailureAndKeepsDraft(testingT *testing.T) {
	queue := &recordingQueue{enqueueError: errors.New("disk full")}
	submissionClient := NewSubmissionClient("http://localhost:0", queue, &recordingSyncRequester{}, &stubConnectivity{online: false}, nil, zap.NewNop())
	fillRequiredFields(submissionClient)

	submissionClient.Submit(context.Background())

	status := submissionClient.Status()
	require.Equal(testingT, MessageSubmissionFailed, status.Error)
	require.True(testingT, status.Offline)
	require.False(testingT, status.Success)
	require.Equal(testingT, "Ana", submissionClient.Draft().Name)
}

func TestSubmitOnlineSurfacesServerErrorAndKeepsDraft(testingT *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set(headerNameContentType, contentTypeJSON)
		writer.WriteHeader(http.StatusBadRequest)
		_, _ = writer.Write([]byte(`{"success":false,"error":"Invalid email format"}`))
	}))
	testingT.Cleanup(endpoint.Close)

	submissionClient := NewSubmissionClient(endpoint.URL, &recordingQueue{}, nil, &stubConnectivity{online: true}, nil, zap.NewNop())
	fillRequiredFields(submissionClient)

	submissionClient.Submit(context.Background())

	status := submissionClient.Status()
	require.Equal(testingT, "Invalid email format", status.Error)
	require.False(testingT, status.Success)
	require.Equal(testingT, "Ana", submissionClient.Draft().Name)
}

func TestSubmitOnlineFallsBackToGenericMessageWithoutDetail(testingT *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusBadGateway)
	}))
	testingT.Cleanup(endpoint.Close)

	submissionClient := NewSubmissionClient(endpoint.URL, &recordingQueue{}, nil, &stubConnectivity{online: true}, nil, zap.NewNop())
	fillRequiredFields(submissionClient)

	submissionClient.Submit(context.Background())
	require.Equal(testingT, MessageSubmissionFailed, submissionClient.Status().Error)
}

func TestSubmitOnlineNetworkErrorIsRecoverable(testingT *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint.Close()

	submissionClient := NewSubmissionClient(endpoint.URL, &recordingQueue{}, nil, &stubConnectivity{online: true}, nil, zap.NewNop())
	fillRequiredFields(submissionClient)

	submissionClient.Submit(context.Background())

	status := submissionClient.Status()
	require.Equal(testingT, MessageSubmissionFailed, status.Error)
	require.Equal(testingT, "Ana", submissionClient.Draft().Name)
}

func TestResetClearsDraftAndStatus(testingT *testing.T) {
	submissionClient := NewSubmissionClient("http://localhost:0", &recordingQueue{}, nil, &stubConnectivity{}, nil, zap.NewNop())
	submissionClient.UpdateField(fieldNameName, "Ana")
	submissionClient.Submit(context.Background())
	require.NotEmpty(testingT, submissionClient.Status().Error)

	submissionClient.Reset()

	require.Equal(testingT, model.Submission{}, submissionClient.Draft())
	require.Equal(testingT, Status{}, submissionClient.Status())
}

func TestUpdateFieldIgnoresUnknownNames(testingT *testing.T) {
	submissionClient := NewSubmissionClient("http://localhost:0", &recordingQueue{}, nil, &stubConnectivity{}, nil, zap.NewNop())
	submissionClient.UpdateField("password", "secret")
	require.Equal(testingT, model.Submission{}, submissionClient.Draft())
}

func TestHealthProbeReportsEndpointLiveness(testingT *testing.T) {
	endpoint := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		require.Equal(testingT, healthProbePath, request.URL.Path)
		writer.Header().Set(headerNameContentType, contentTypeJSON)
		_, _ = writer.Write([]byte(`{"status":"ok"}`))
	}))
	testingT.Cleanup(endpoint.Close)

	probe := NewHealthProbe(endpoint.URL)
	require.True(testingT, probe.Online(context.Background()))

	endpoint.Close()
	require.False(testingT, probe.Online(context.Background()))
}
