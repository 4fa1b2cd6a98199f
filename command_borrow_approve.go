package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ApproveBorrowRequestMessage struct {
	RequestID  string `json:"request_id"`
	ActorID    string `json:"actor_id"`
	OnResponse func(r *BorrowRequest)
}

func (e ApproveBorrowRequestMessage) Type() string { return "borrow.approve" }

// ApproveBorrowRequestHandler issues the copy: one transaction moves the
// request to Borrowed, takes a copy off the shelf, and bumps the member's
// loan count. The conditional decrement is the authoritative availability
// check, so two admins approving the last copy resolve to one success.
type ApproveBorrowRequestHandler struct {
	repo    RepositoryManager
	machine BorrowStateMachine
	mail    *NotificationGateway
	logger  Logger
}

type ApproveBorrowRequestOption func(*ApproveBorrowRequestHandler)

func WithApproveBorrowStateMachine(sm BorrowStateMachine) ApproveBorrowRequestOption {
	return func(h *ApproveBorrowRequestHandler) {
		if sm != nil {
			h.machine = sm
		}
	}
}

func WithApproveBorrowNotifications(gateway *NotificationGateway) ApproveBorrowRequestOption {
	return func(h *ApproveBorrowRequestHandler) {
		if gateway != nil {
			h.mail = gateway
		}
	}
}

func NewApproveBorrowRequestHandler(repo RepositoryManager, opts ...ApproveBorrowRequestOption) *ApproveBorrowRequestHandler {
	h := &ApproveBorrowRequestHandler{
		repo:   repo,
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.machine == nil {
		h.machine = NewBorrowStateMachine(repo.BorrowRequests())
	}

	if h.mail == nil {
		h.mail = NewNotificationGateway(nil)
	}

	return h
}

func (h *ApproveBorrowRequestHandler) Execute(ctx context.Context, event ApproveBorrowRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during borrow approval",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ApproveBorrowRequestHandler) execute(ctx context.Context, event ApproveBorrowRequestMessage) error {
	requestID, err := uuid.Parse(event.RequestID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid request id")
	}

	record := &BorrowRequest{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err = h.repo.BorrowRequests().GetByIDTx(ctx, tx, requestID.String())
		if err != nil {
			return err
		}

		// Shelf first: if no copy is free this fails before any state moves.
		if err := h.repo.Books().DecrementAvailableTx(ctx, tx, record.BookID); err != nil {
			return err
		}

		if err := h.repo.Users().IncrementBorrowedTx(ctx, tx, record.MemberID); err != nil {
			return err
		}

		actor := ActorRef{ID: event.ActorID, Type: "admin"}
		return h.machine.Approve(ctx, tx, actor, record)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "borrow approval transaction failed")
	}

	// Mail goes out after commit so a transport failure cannot roll back the
	// loan. Delivery errors are logged by the gateway.
	_ = h.mail.Dispatch(ctx, MailMessage{
		Kind:      MailKindBorrowConfirmation,
		To:        record.MemberEmail,
		Name:      record.MemberName,
		BookTitle: record.BookTitle,
		DueDate:   record.DueDate,
	})

	if event.OnResponse != nil {
		event.OnResponse(record)
	}

	return nil
}
