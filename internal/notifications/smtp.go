// Package notifications provides the SMTP-backed email sender used by the
// contact endpoint for administrator and confirmation mail.
package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

const (
	defaultSMTPPort = 587

	errorMessageMissingSMTPHost      = "notifications: missing smtp host"
	errorMessageMissingSenderAddress = "notifications: missing sender address"
	errorMessageCreateSMTPClient     = "notifications: create smtp client"
	errorMessageComposeEmail         = "notifications: compose email"
	errorMessageDeliverEmail         = "notifications: deliver email"

	logEventEmailDelivered = "email_delivered"
	logFieldRecipient      = "recipient"
	logFieldSubject        = "subject"
)

var (
	// ErrMissingSMTPHost indicates the SMTP relay host configuration was omitted.
	ErrMissingSMTPHost = errors.New(errorMessageMissingSMTPHost)
	// ErrMissingSenderAddress indicates no usable sender address was configured.
	ErrMissingSenderAddress = errors.New(errorMessageMissingSenderAddress)
)

// SMTPConfig captures connection settings for the SMTP relay.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	SenderAddress string
}

// SMTPEmailSender delivers plain-text email through an SMTP relay.
type SMTPEmailSender struct {
	client        *mail.Client
	senderAddress string
	logger        *zap.Logger
}

// NewSMTPEmailSender creates a sender for the configured relay. The sender
// address falls back to the relay username when not set explicitly.
func NewSMTPEmailSender(logger *zap.Logger, configuration SMTPConfig) (*SMTPEmailSender, error) {
	trimmedHost := strings.TrimSpace(configuration.Host)
	if trimmedHost == "" {
		return nil, ErrMissingSMTPHost
	}

	senderAddress := strings.TrimSpace(configuration.SenderAddress)
	if senderAddress == "" {
		senderAddress = strings.TrimSpace(configuration.Username)
	}
	if senderAddress == "" {
		return nil, ErrMissingSenderAddress
	}

	relayPort := configuration.Port
	if relayPort <= 0 {
		relayPort = defaultSMTPPort
	}

	clientOptions := []mail.Option{
		mail.WithPort(relayPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if strings.TrimSpace(configuration.Username) != "" {
		clientOptions = append(clientOptions,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(strings.TrimSpace(configuration.Username)),
			mail.WithPassword(configuration.Password),
		)
	}

	client, clientErr := mail.NewClient(trimmedHost, clientOptions...)
	if clientErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageCreateSMTPClient, clientErr)
	}

	return &SMTPEmailSender{
		client:        client,
		senderAddress: senderAddress,
		logger:        logger,
	}, nil
}

// SendEmail composes and delivers one plain-text message.
func (sender *SMTPEmailSender) SendEmail(ctx context.Context, recipient string, subject string, body string) error {
	message := mail.NewMsg()
	if fromErr := message.From(sender.senderAddress); fromErr != nil {
		return fmt.Errorf("%s: %w", errorMessageComposeEmail, fromErr)
	}
	if toErr := message.To(recipient); toErr != nil {
		return fmt.Errorf("%s: %w", errorMessageComposeEmail, toErr)
	}
	message.Subject(subject)
	message.SetBodyString(mail.TypeTextPlain, body)

	if sendErr := sender.client.DialAndSendWithContext(ctx, message); sendErr != nil {
		return fmt.Errorf("%s: %w", errorMessageDeliverEmail, sendErr)
	}

	if sender.logger != nil {
		sender.logger.Info(logEventEmailDelivered,
			zap.String(logFieldRecipient, recipient),
			zap.String(logFieldSubject, subject),
		)
	}
	return nil
}
