package client

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/viraloab/viraloab/internal/model"
)

const (
	trackedEventHistoryLimit = 50

	eventNameFormSubmission = "form_submission"

	propertyNameFormName        = "form_name"
	propertyNameHasEmail        = "has_email"
	propertyNameFieldsCompleted = "fields_completed"

	logEventAnalytics = "analytics_event"
	logFieldEventName = "event"
)

// Event is a single tracked analytics event.
type Event struct {
	Name       string
	Properties map[string]any
	Timestamp  time.Time
}

// Tracker records analytics events, keeping a bounded history of the most
// recent ones for inspection.
type Tracker struct {
	logger *zap.Logger
	mutex  sync.Mutex
	events []Event
}

// NewTracker constructs a tracker logging through the given logger.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger}
}

// TrackEvent records one event with the given properties.
func (tracker *Tracker) TrackEvent(eventName string, properties map[string]any) {
	if tracker == nil {
		return
	}

	event := Event{
		Name:       eventName,
		Properties: properties,
		Timestamp:  time.Now().UTC(),
	}

	tracker.mutex.Lock()
	tracker.events = append(tracker.events, event)
	if len(tracker.events) > trackedEventHistoryLimit {
		tracker.events = tracker.events[len(tracker.events)-trackedEventHistoryLimit:]
	}
	tracker.mutex.Unlock()

	if tracker.logger != nil {
		tracker.logger.Info(logEventAnalytics,
			zap.String(logFieldEventName, eventName),
			zap.Any("properties", properties),
		)
	}
}

// TrackFormSubmission records a form submission attempt. Sensitive values
// never enter the tracked payload: the email address itself is reduced to a
// presence flag.
func (tracker *Tracker) TrackFormSubmission(formName string, submission model.Submission) {
	normalized := submission.Normalized()
	tracker.TrackEvent(eventNameFormSubmission, map[string]any{
		propertyNameFormName:        formName,
		propertyNameHasEmail:        normalized.Email != "",
		propertyNameFieldsCompleted: countCompletedFields(normalized),
	})
}

// RecentEvents returns a copy of the retained event history, oldest first.
func (tracker *Tracker) RecentEvents() []Event {
	if tracker == nil {
		return nil
	}
	tracker.mutex.Lock()
	defer tracker.mutex.Unlock()
	history := make([]Event, len(tracker.events))
	copy(history, tracker.events)
	return history
}

func countCompletedFields(submission model.Submission) int {
	completed := 0
	for _, value := range []string{submission.Name, submission.Email, submission.Message, submission.Company, submission.Phone} {
		if value != "" {
			completed++
		}
	}
	return completed
}
