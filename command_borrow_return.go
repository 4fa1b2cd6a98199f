package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type ReturnBorrowRequestMessage struct {
	RequestID string `json:"request_id"`
	// MemberID, when set, must match the request owner. Admin-driven returns
	// leave it empty.
	MemberID   string `json:"member_id"`
	ActorID    string `json:"actor_id"`
	OnResponse func(r *BorrowRequest)
}

func (e ReturnBorrowRequestMessage) Type() string { return "borrow.return" }

// ReturnBorrowRequestHandler closes a loan: one transaction stamps the return
// date with the on-time or late status, puts the copy back on the shelf, and
// drops the member's loan count. The guarded status update makes a concurrent
// double return fail instead of crediting the shelf twice.
type ReturnBorrowRequestHandler struct {
	repo    RepositoryManager
	machine BorrowStateMachine
	mail    *NotificationGateway
	logger  Logger
}

type ReturnBorrowRequestOption func(*ReturnBorrowRequestHandler)

func WithReturnBorrowStateMachine(sm BorrowStateMachine) ReturnBorrowRequestOption {
	return func(h *ReturnBorrowRequestHandler) {
		if sm != nil {
			h.machine = sm
		}
	}
}

func WithReturnBorrowNotifications(gateway *NotificationGateway) ReturnBorrowRequestOption {
	return func(h *ReturnBorrowRequestHandler) {
		if gateway != nil {
			h.mail = gateway
		}
	}
}

func NewReturnBorrowRequestHandler(repo RepositoryManager, opts ...ReturnBorrowRequestOption) *ReturnBorrowRequestHandler {
	h := &ReturnBorrowRequestHandler{
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

func (h *ReturnBorrowRequestHandler) Execute(ctx context.Context, event ReturnBorrowRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during borrow return",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ReturnBorrowRequestHandler) execute(ctx context.Context, event ReturnBorrowRequestMessage) error {
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

		if event.MemberID != "" && event.MemberID != record.MemberID.String() {
			return goerrors.New("borrow request belongs to another member", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithMetadata(map[string]any{
					"request_id": record.ID.String(),
				})
		}

		actor := ActorRef{ID: event.ActorID, Type: "member"}
		if err := h.machine.Return(ctx, tx, actor, record); err != nil {
			return err
		}

		if err := h.repo.Books().IncrementAvailableTx(ctx, tx, record.BookID); err != nil {
			return err
		}

		return h.repo.Users().DecrementBorrowedTx(ctx, tx, record.MemberID)
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "borrow return transaction failed")
	}

	kind := MailKindReturnConfirmation
	if record.Status == BorrowStatusLateReturn {
		kind = MailKindLateReturn
	}

	_ = h.mail.Dispatch(ctx, MailMessage{
		Kind:      kind,
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
