package httpapi

import "context"

// EmailSender delivers a plain-text email message to one recipient.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient string, subject string, body string) error
}

// EmailSenderFunc adapts a function to the EmailSender interface.
type EmailSenderFunc func(ctx context.Context, recipient string, subject string, body string) error

// SendEmail invokes the adapted function.
func (sender EmailSenderFunc) SendEmail(ctx context.Context, recipient string, subject string, body string) error {
	return sender(ctx, recipient, subject, body)
}

type noopEmailSender struct{}

func (noopEmailSender) SendEmail(context.Context, string, string, string) error {
	return nil
}

func resolveEmailSender(sender EmailSender) EmailSender {
	if sender == nil {
		return noopEmailSender{}
	}
	return sender
}
