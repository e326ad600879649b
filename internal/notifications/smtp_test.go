package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewSMTPEmailSenderRequiresHost(testingT *testing.T) {
	_, createErr := NewSMTPEmailSender(zap.NewNop(), SMTPConfig{SenderAddress: "noreply@viraloab.com"})
	require.ErrorIs(testingT, createErr, ErrMissingSMTPHost)
}

func TestNewSMTPEmailSenderRequiresSenderAddress(testingT *testing.T) {
	_, createErr := NewSMTPEmailSender(zap.NewNop(), SMTPConfig{Host: "smtp.example.com"})
	require.ErrorIs(testingT, createErr, ErrMissingSenderAddress)
}

func TestNewSMTPEmailSenderFallsBackToUsernameAsSender(testingT *testing.T) {
	sender, createErr := NewSMTPEmailSender(zap.NewNop(), SMTPConfig{
		Host:     "smtp.example.com",
		Username: "relay-user@viraloab.com",
		Password: "secret",
	})
	require.NoError(testingT, createErr)
	require.Equal(testingT, "relay-user@viraloab.com", sender.senderAddress)
}

func TestSendEmailRejectsMalformedRecipient(testingT *testing.T) {
	sender, createErr := NewSMTPEmailSender(zap.NewNop(), SMTPConfig{
		Host:          "smtp.example.com",
		SenderAddress: "noreply@viraloab.com",
	})
	require.NoError(testingT, createErr)

	sendErr := sender.SendEmail(context.Background(), "not a mailbox", "subject", "body")
	require.Error(testingT, sendErr)
	require.Contains(testingT, sendErr.Error(), errorMessageComposeEmail)
}
