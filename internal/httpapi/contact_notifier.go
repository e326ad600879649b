package httpapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/viraloab/viraloab/internal/model"
)

const (
	adminNotificationSubjectPattern = "New contact submission from %s"
	confirmationSubjectPattern      = "Thanks for reaching out, %s!"
	emptyOptionalFieldPlaceholder   = "N/A"
)

// ContactNotifier composes and dispatches the two notification emails for an
// accepted submission: an administrator summary and a submitter confirmation.
type ContactNotifier struct {
	emailSender    EmailSender
	adminRecipient string
}

// NewContactNotifier constructs a notifier delivering through emailSender.
// An empty admin recipient disables the administrator summary.
func NewContactNotifier(emailSender EmailSender, adminRecipient string) *ContactNotifier {
	return &ContactNotifier{
		emailSender:    resolveEmailSender(emailSender),
		adminRecipient: strings.TrimSpace(adminRecipient),
	}
}

// NotifyAdmin sends the administrator summary for the submission.
func (notifier *ContactNotifier) NotifyAdmin(ctx context.Context, message model.ContactMessage) error {
	if notifier.adminRecipient == "" {
		return nil
	}

	subject := fmt.Sprintf(adminNotificationSubjectPattern, message.Name)
	bodyBuilder := &strings.Builder{}
	_, _ = fmt.Fprintf(bodyBuilder, "A new contact form submission arrived.\n\n")
	_, _ = fmt.Fprintf(bodyBuilder, "Name: %s\n", message.Name)
	_, _ = fmt.Fprintf(bodyBuilder, "Email: %s\n", message.Email)
	_, _ = fmt.Fprintf(bodyBuilder, "Company: %s\n", orPlaceholder(message.Company))
	_, _ = fmt.Fprintf(bodyBuilder, "Phone: %s\n", orPlaceholder(message.Phone))
	_, _ = fmt.Fprintf(bodyBuilder, "\nMessage:\n%s\n", message.Message)
	_, _ = fmt.Fprintf(bodyBuilder, "\nIP: %s\n", message.IP)

	return notifier.emailSender.SendEmail(ctx, notifier.adminRecipient, subject, bodyBuilder.String())
}

// SendConfirmation sends the thank-you confirmation to the submitter.
func (notifier *ContactNotifier) SendConfirmation(ctx context.Context, message model.ContactMessage) error {
	subject := fmt.Sprintf(confirmationSubjectPattern, message.Name)
	bodyBuilder := &strings.Builder{}
	_, _ = fmt.Fprintf(bodyBuilder, "Hi %s,\n\n", message.Name)
	_, _ = fmt.Fprintf(bodyBuilder, "Thank you for reaching out. We received your message and our team will get back to you soon.\n\n")
	_, _ = fmt.Fprintf(bodyBuilder, "This is an automated message.\n")

	return notifier.emailSender.SendEmail(ctx, message.Email, subject, bodyBuilder.String())
}

func orPlaceholder(value string) string {
	if strings.TrimSpace(value) == "" {
		return emptyOptionalFieldPlaceholder
	}
	return value
}
