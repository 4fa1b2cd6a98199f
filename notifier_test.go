package library_test

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationGatewayDispatch(t *testing.T) {
	mailer := &recordingMailer{}
	gateway := library.NewNotificationGateway(mailer)

	err := gateway.Dispatch(context.Background(), library.MailMessage{
		Kind: library.MailKindWelcome,
		To:   "member@example.com",
		Name: "Pat Reader",
	})
	require.NoError(t, err)

	sent := mailer.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, library.MailKindWelcome, sent[0].Kind)
	assert.Equal(t, "member@example.com", sent[0].To)
}

func TestNotificationGatewayRejectsMissingRecipient(t *testing.T) {
	mailer := &recordingMailer{}
	gateway := library.NewNotificationGateway(mailer)

	err := gateway.Dispatch(context.Background(), library.MailMessage{
		Kind: library.MailKindWelcome,
	})
	require.Error(t, err)
	assert.Empty(t, mailer.sent())
}

func TestNotificationGatewayWrapsDeliveryFailure(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp connection refused")}
	gateway := library.NewNotificationGateway(mailer)

	err := gateway.Dispatch(context.Background(), library.MailMessage{
		Kind: library.MailKindBorrowConfirmation,
		To:   "member@example.com",
	})
	require.Error(t, err)

	var richErr *goerrors.Error
	require.True(t, goerrors.As(err, &richErr))
	assert.Equal(t, "MAIL_DELIVERY_FAILED", richErr.TextCode)
	assert.Contains(t, err.Error(), "smtp connection refused")
}

func TestNotificationGatewayNilMailerIsNoop(t *testing.T) {
	gateway := library.NewNotificationGateway(nil)

	err := gateway.Dispatch(context.Background(), library.MailMessage{
		Kind: library.MailKindDueReminder,
		To:   "member@example.com",
	})
	assert.NoError(t, err)
}

func TestNotificationGatewayDispatchAsync(t *testing.T) {
	delivered := make(chan library.MailMessage, 1)
	gateway := library.NewNotificationGateway(library.MailerFunc(func(_ context.Context, msg library.MailMessage) error {
		delivered <- msg
		return nil
	}))

	gateway.DispatchAsync(library.MailMessage{
		Kind: library.MailKindOverdueReminder,
		To:   "member@example.com",
	})

	select {
	case msg := <-delivered:
		assert.Equal(t, library.MailKindOverdueReminder, msg.Kind)
	case <-time.After(time.Second * 5):
		t.Fatal("async dispatch never reached the mailer")
	}
}

func TestMailerFuncNilIsNoop(t *testing.T) {
	var fn library.MailerFunc
	assert.NoError(t, fn.Send(context.Background(), library.MailMessage{To: "member@example.com"}))
}

func TestLoggingMailerSend(t *testing.T) {
	mailer := library.LoggingMailer{}
	err := mailer.Send(context.Background(), library.MailMessage{
		Kind: library.MailKindReturnConfirmation,
		To:   "member@example.com",
	})
	assert.NoError(t, err)
}
