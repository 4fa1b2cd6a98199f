package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type ReviewAccountMessage struct {
	UserID     string `json:"user_id"`
	Approve    bool   `json:"approve"`
	ActorID    string `json:"actor_id"`
	OnResponse func(u *User)
}

func (e ReviewAccountMessage) Type() string { return "account.review" }

// ReviewAccountHandler settles a pending registration: approval moves the
// account to Verified and mails the member, denial moves it to Denied.
type ReviewAccountHandler struct {
	repo   RepositoryManager
	mail   *NotificationGateway
	sink   ActivitySink
	logger Logger
}

type ReviewAccountOption func(*ReviewAccountHandler)

func WithReviewAccountNotifications(gateway *NotificationGateway) ReviewAccountOption {
	return func(h *ReviewAccountHandler) {
		if gateway != nil {
			h.mail = gateway
		}
	}
}

func WithReviewAccountActivitySink(sink ActivitySink) ReviewAccountOption {
	return func(h *ReviewAccountHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func NewReviewAccountHandler(repo RepositoryManager, opts ...ReviewAccountOption) *ReviewAccountHandler {
	h := &ReviewAccountHandler{
		repo:   repo,
		sink:   noopActivitySink{},
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.mail == nil {
		h.mail = NewNotificationGateway(nil)
	}

	return h
}

func (h *ReviewAccountHandler) Execute(ctx context.Context, event ReviewAccountMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during account review",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ReviewAccountHandler) execute(ctx context.Context, event ReviewAccountMessage) error {
	userID, err := uuid.Parse(event.UserID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid user id")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	target := AccountStatusDenied
	eventType := ActivityEventAccountDenied
	if event.Approve {
		target = AccountStatusVerified
		eventType = ActivityEventAccountApproved
	}

	user, err := h.repo.Users().UpdateStatus(ctx, userID, target)
	if err != nil {
		return err
	}

	if err := h.sink.Record(ctx, ActivityEvent{
		EventType: eventType,
		Actor:     ActorRef{ID: event.ActorID, Type: "admin"},
		UserID:    userID.String(),
	}); err != nil {
		h.logger.Warn("account review activity sink error: %v", err)
	}

	if event.Approve {
		_ = h.mail.Dispatch(ctx, MailMessage{
			Kind: MailKindAccountApproval,
			To:   user.Email,
			Name: user.FullName,
		})
	}

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}
