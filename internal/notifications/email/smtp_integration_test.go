//go:build integration

package email_test

import (
	"context"
	"testing"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	"github.com/amodvardhan/notification-engine/internal/notifications"
	"github.com/amodvardhan/notification-engine/internal/notifications/email"
	"github.com/amodvardhan/notification-engine/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSender_DeliversThroughSMTP(t *testing.T) {
	ctx := context.Background()

	mailpit, err := testutil.NewMailpitContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = mailpit.Terminate(context.Background()) })

	client := testutil.NewMailpitClient(mailpit.APIHost, mailpit.APIPort)
	require.NoError(t, client.DeleteAllMessages())

	sender, err := email.NewSender(email.Config{
		SMTPHost:    mailpit.SMTPHost,
		SMTPPort:    mailpit.SMTPPort,
		FromAddress: "notifications@example.com",
	})
	require.NoError(t, err)

	res, err := sender.Send(ctx, notifications.Message{
		NotificationID: "n-1",
		Recipient:      "user@example.com",
		Channel:        domain.ChannelEmail,
		Subject:        "Your code: 123456",
		Body:           "Use 123456 to sign in.",
	})
	require.NoError(t, err)
	assert.Equal(t, 250, res.StatusCode)

	messages, err := client.WaitForMessages(1, 10*time.Second)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "Your code: 123456", messages[0].Subject)
	require.Len(t, messages[0].To, 1)
	assert.Equal(t, "user@example.com", messages[0].To[0].Address)

	full, err := client.GetMessageByID(messages[0].ID)
	require.NoError(t, err)
	assert.Contains(t, full.Text, "Use 123456 to sign in.")
}

func TestSender_UnreachableServerIsRetryable(t *testing.T) {
	sender, err := email.NewSender(email.Config{
		SMTPHost:    "127.0.0.1",
		SMTPPort:    1,
		FromAddress: "notifications@example.com",
		DialTimeout: time.Second,
	})
	require.NoError(t, err)

	_, err = sender.Send(context.Background(), notifications.Message{Recipient: "user@example.com", Body: "x"})
	require.Error(t, err)
	assert.Equal(t, domain.OutcomeRetryableFailure, notifications.Classify(err))
}
