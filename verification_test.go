package library_test

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-library"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerificationCodeRoundTrip(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, &library.User{
		FullName: "Code Redeemer",
		Email:    "redeemer@example.com",
	})
	require.NoError(t, err)
	assert.False(t, user.EmailValidated)

	mailer := &recordingMailer{}
	svc := library.NewVerificationService(repo.Users(), library.NewNotificationGateway(mailer))

	require.NoError(t, svc.SendCode(ctx, user.Email, user.FullName))
	assert.True(t, svc.Pending(user.Email))

	messages := mailer.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, library.MailKindVerificationCode, messages[0].Kind)
	require.Len(t, messages[0].Code, 6)

	require.NoError(t, svc.VerifyCode(ctx, user.Email, messages[0].Code))

	found, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.True(t, found.EmailValidated)

	// Welcome mail follows a successful redemption.
	messages = mailer.sent()
	require.Len(t, messages, 2)
	assert.Equal(t, library.MailKindWelcome, messages[1].Kind)
}

func TestVerificationCodeConsumedOnce(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, &library.User{
		FullName: "One Shot",
		Email:    "oneshot@example.com",
	})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	svc := library.NewVerificationService(repo.Users(), library.NewNotificationGateway(mailer))

	require.NoError(t, svc.SendCode(ctx, user.Email, user.FullName))
	code := mailer.sent()[0].Code

	require.NoError(t, svc.VerifyCode(ctx, user.Email, code))

	err = svc.VerifyCode(ctx, user.Email, code)
	require.Error(t, err)
	assert.False(t, svc.Pending(user.Email))
}

func TestVerificationCodeRejectsMismatch(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, &library.User{
		FullName: "Fat Fingers",
		Email:    "typo@example.com",
	})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	svc := library.NewVerificationService(repo.Users(), library.NewNotificationGateway(mailer))

	require.NoError(t, svc.SendCode(ctx, user.Email, user.FullName))

	err = svc.VerifyCode(ctx, user.Email, "000000x")
	require.Error(t, err)

	// A wrong guess does not consume the code.
	assert.True(t, svc.Pending(user.Email))

	found, err := repo.Users().GetByID(ctx, user.ID.String())
	require.NoError(t, err)
	assert.False(t, found.EmailValidated)
}

func TestVerificationCodeExpires(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, &library.User{
		FullName: "Slow Poke",
		Email:    "slowpoke@example.com",
	})
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	mailer := &recordingMailer{}
	svc := library.NewVerificationService(repo.Users(), library.NewNotificationGateway(mailer),
		library.WithVerificationClock(clock),
		library.WithVerificationTTL(time.Minute*10),
	)

	require.NoError(t, svc.SendCode(ctx, user.Email, user.FullName))
	code := mailer.sent()[0].Code

	now = now.Add(time.Minute * 11)

	err = svc.VerifyCode(ctx, user.Email, code)
	require.Error(t, err)
	assert.False(t, svc.Pending(user.Email))
}

func TestVerificationSendCodeRequiresEmail(t *testing.T) {
	repo, _ := setupRepoManager(t)

	svc := library.NewVerificationService(repo.Users(), nil)
	err := svc.SendCode(context.Background(), "", "Nameless")
	require.Error(t, err)
}

func TestVerificationReplacesOutstandingCode(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	user, err := repo.Users().Create(ctx, &library.User{
		FullName: "Fresh Code",
		Email:    "fresh@example.com",
	})
	require.NoError(t, err)

	mailer := &recordingMailer{}
	svc := library.NewVerificationService(repo.Users(), library.NewNotificationGateway(mailer))

	require.NoError(t, svc.SendCode(ctx, user.Email, user.FullName))
	require.NoError(t, svc.SendCode(ctx, user.Email, user.FullName))

	messages := mailer.sent()
	require.Len(t, messages, 2)
	first, second := messages[0].Code, messages[1].Code

	if first != second {
		err = svc.VerifyCode(ctx, user.Email, first)
		require.Error(t, err)
	}

	require.NoError(t, svc.VerifyCode(ctx, user.Email, second))
}
