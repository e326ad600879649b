// Package client implements the submission side of the contact pipeline: a
// form draft state machine that delivers directly when the endpoint is
// reachable and queues into the local outbox when it is not.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/viraloab/viraloab/internal/model"
)

const (
	contactSubmissionPath = "/api/contact"
	healthProbePath       = "/api/health"

	headerNameContentType = "Content-Type"
	contentTypeJSON       = "application/json"

	// MessageMissingRequiredFields is shown when name, email or message is blank.
	MessageMissingRequiredFields = "Please fill in all required fields"
	// MessageSubmissionFailed is the fallback when the endpoint gives no detail.
	MessageSubmissionFailed = "An unexpected error occurred. Please try again later."

	fieldNameName    = "name"
	fieldNameEmail   = "email"
	fieldNameMessage = "message"
	fieldNameCompany = "company"
	fieldNamePhone   = "phone"

	contactFormName = "contact"

	defaultSubmitTimeout      = 30 * time.Second
	defaultHealthProbeTimeout = 3 * time.Second

	logEventSubmissionQueued    = "submission_queued"
	logEventSubmissionDelivered = "submission_delivered"
	logEventSubmissionFailed    = "submission_failed"
	logFieldQueueEntryID        = "entry_id"
)

// Status is the submission state exposed to the caller at all times.
// Submitting is only true while the storage or network operation is in
// flight and is cleared before Success or Error is set.
type Status struct {
	Submitting bool
	Success    bool
	Error      string
	Offline    bool
}

// ConnectivityChecker reports whether the contact endpoint is reachable.
type ConnectivityChecker interface {
	Online(ctx context.Context) bool
}

// SyncRequester registers a request for a background sync wake. The
// scheduler's Trigger method satisfies it directly.
type SyncRequester interface {
	Trigger()
}

// Queue is the slice of the local submission store the client writes to.
type Queue interface {
	Enqueue(submission model.Submission) (uint, error)
}

// HealthProbe checks connectivity by calling the endpoint's liveness
// operation with a short timeout.
type HealthProbe struct {
	endpointURL string
	httpClient  *http.Client
}

// NewHealthProbe constructs a probe against the contact endpoint root URL.
func NewHealthProbe(endpointURL string) *HealthProbe {
	return &HealthProbe{
		endpointURL: strings.TrimRight(strings.TrimSpace(endpointURL), "/"),
		httpClient:  &http.Client{Timeout: defaultHealthProbeTimeout},
	}
}

// Online reports whether the liveness operation answered with HTTP 200.
func (probe *HealthProbe) Online(ctx context.Context) bool {
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, probe.endpointURL+healthProbePath, nil)
	if requestErr != nil {
		return false
	}
	response, doErr := probe.httpClient.Do(request)
	if doErr != nil {
		return false
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()
	return response.StatusCode == http.StatusOK
}

// SubmissionClient collects form field values and routes each submission
// through the online or offline path. It is driven from a single goroutine;
// concurrent Submit calls are not expected.
type SubmissionClient struct {
	endpointURL   string
	httpClient    *http.Client
	queue         Queue
	syncRequester SyncRequester
	connectivity  ConnectivityChecker
	tracker       *Tracker
	logger        *zap.Logger

	draft  model.Submission
	status Status
}

// NewSubmissionClient constructs a client delivering to the endpoint rooted
// at endpointURL, queueing into queue while offline.
func NewSubmissionClient(endpointURL string, queue Queue, syncRequester SyncRequester, connectivity ConnectivityChecker, tracker *Tracker, logger *zap.Logger) *SubmissionClient {
	normalizedEndpointURL := strings.TrimRight(strings.TrimSpace(endpointURL), "/")
	if connectivity == nil {
		connectivity = NewHealthProbe(normalizedEndpointURL)
	}
	return &SubmissionClient{
		endpointURL:   normalizedEndpointURL,
		httpClient:    &http.Client{Timeout: defaultSubmitTimeout},
		queue:         queue,
		syncRequester: syncRequester,
		connectivity:  connectivity,
		tracker:       tracker,
		logger:        logger,
	}
}

// WithHTTPClient overrides the HTTP client used for direct deliveries.
func (client *SubmissionClient) WithHTTPClient(httpClient *http.Client) *SubmissionClient {
	if httpClient != nil {
		client.httpClient = httpClient
	}
	return client
}

// UpdateField mutates one draft field in memory without validation side
// effects. Unknown field names are ignored.
func (client *SubmissionClient) UpdateField(fieldName string, value string) {
	switch fieldName {
	case fieldNameName:
		client.draft.Name = value
	case fieldNameEmail:
		client.draft.Email = value
	case fieldNameMessage:
		client.draft.Message = value
	case fieldNameCompany:
		client.draft.Company = value
	case fieldNamePhone:
		client.draft.Phone = value
	}
}

// Draft returns the current in-memory draft.
func (client *SubmissionClient) Draft() model.Submission {
	return client.draft
}

// Reset clears the draft and any reported status.
func (client *SubmissionClient) Reset() {
	client.draft = model.Submission{}
	client.status = Status{}
}

// Status returns the current submission status.
func (client *SubmissionClient) Status() Status {
	return client.status
}

// Submit validates the draft and routes it through the online or offline
// path. Every outcome is reported through Status; none is fatal.
func (client *SubmissionClient) Submit(ctx context.Context) {
	if !client.draft.HasRequiredFields() {
		client.status = Status{Error: MessageMissingRequiredFields, Offline: client.status.Offline}
		return
	}

	client.status = Status{Submitting: true, Offline: client.status.Offline}
	client.tracker.TrackFormSubmission(contactFormName, client.draft)

	if !client.connectivity.Online(ctx) {
		client.submitOffline()
		return
	}
	client.submitOnline(ctx)
}

func (client *SubmissionClient) submitOffline() {
	entryID, enqueueErr := client.queue.Enqueue(client.draft)
	if enqueueErr != nil {
		client.logger.Warn(logEventSubmissionFailed, zap.Error(enqueueErr))
		client.status = Status{Error: MessageSubmissionFailed, Offline: true}
		return
	}
	if client.syncRequester != nil {
		client.syncRequester.Trigger()
	}

	client.logger.Info(logEventSubmissionQueued, zap.Uint(logFieldQueueEntryID, entryID))
	client.status = Status{Success: true, Offline: true}
	client.draft = model.Submission{}
}

func (client *SubmissionClient) submitOnline(ctx context.Context) {
	payload, marshalErr := json.Marshal(client.draft.Normalized())
	if marshalErr != nil {
		client.status = Status{Error: MessageSubmissionFailed}
		return
	}

	request, requestErr := http.NewRequestWithContext(ctx, http.MethodPost, client.endpointURL+contactSubmissionPath, bytes.NewReader(payload))
	if requestErr != nil {
		client.status = Status{Error: MessageSubmissionFailed}
		return
	}
	request.Header.Set(headerNameContentType, contentTypeJSON)

	response, doErr := client.httpClient.Do(request)
	if doErr != nil {
		client.logger.Warn(logEventSubmissionFailed, zap.Error(doErr))
		client.status = Status{Error: MessageSubmissionFailed}
		return
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		client.status = Status{Error: serverErrorMessage(response.Body)}
		return
	}

	client.logger.Info(logEventSubmissionDelivered)
	client.status = Status{Success: true}
	client.draft = model.Submission{}
}

func serverErrorMessage(body io.Reader) string {
	var serverError struct {
		Error string `json:"error"`
	}
	if decodeErr := json.NewDecoder(body).Decode(&serverError); decodeErr != nil {
		return MessageSubmissionFailed
	}
	if strings.TrimSpace(serverError.Error) == "" {
		return MessageSubmissionFailed
	}
	return serverError.Error
}
