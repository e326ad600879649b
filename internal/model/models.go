package model

import (
	"regexp"
	"strings"
	"time"
)

const (
	contactNameMaxLength    = 200
	contactEmailMaxLength   = 320
	contactMessageMaxLength = 4000
	contactCompanyMaxLength = 200
	contactPhoneMaxLength   = 40
	clientAddressMaxLength  = 64
)

// mailboxExpression accepts local@domain.tld shaped addresses: a non-blank
// local part, an @, and a domain containing at least one dot.
var mailboxExpression = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Submission is the contact-form payload flowing through the pipeline.
type Submission struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
	Company string `json:"company"`
	Phone   string `json:"phone"`
}

// Normalized returns a copy of the submission with every field trimmed.
func (submission Submission) Normalized() Submission {
	return Submission{
		Name:    strings.TrimSpace(submission.Name),
		Email:   strings.TrimSpace(submission.Email),
		Message: strings.TrimSpace(submission.Message),
		Company: strings.TrimSpace(submission.Company),
		Phone:   strings.TrimSpace(submission.Phone),
	}
}

// HasRequiredFields reports whether name, email and message are non-blank
// after trimming.
func (submission Submission) HasRequiredFields() bool {
	normalized := submission.Normalized()
	return normalized.Name != "" && normalized.Email != "" && normalized.Message != ""
}

// IsValidEmailAddress reports whether the address matches the simple mailbox
// pattern the pipeline requires.
func IsValidEmailAddress(address string) bool {
	return mailboxExpression.MatchString(strings.TrimSpace(address))
}

// ContactMessage is the persisted record of an accepted submission.
type ContactMessage struct {
	ID        string    `gorm:"primaryKey;size:36"`
	Name      string    `gorm:"not null;size:200"`
	Email     string    `gorm:"not null;size:320"`
	Message   string    `gorm:"not null;size:4000"`
	Company   string    `gorm:"size:200"`
	Phone     string    `gorm:"size:40"`
	IP        string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// NewContactMessage builds a ContactMessage from a submission, stamping the
// caller address and creation time on the server side.
func NewContactMessage(identifier string, submission Submission, clientAddress string) ContactMessage {
	normalized := submission.Normalized()
	return ContactMessage{
		ID:        identifier,
		Name:      truncate(normalized.Name, contactNameMaxLength),
		Email:     truncate(normalized.Email, contactEmailMaxLength),
		Message:   truncate(normalized.Message, contactMessageMaxLength),
		Company:   truncate(normalized.Company, contactCompanyMaxLength),
		Phone:     truncate(normalized.Phone, contactPhoneMaxLength),
		IP:        truncate(strings.TrimSpace(clientAddress), clientAddressMaxLength),
		CreatedAt: time.Now().UTC(),
	}
}

// PendingSubmission is a queued submission awaiting delivery, stored only in
// the local outbox database.
type PendingSubmission struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Data      []byte `gorm:"not null"`
	Timestamp string `gorm:"not null;size:40"`
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit]
}
