package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type CreateBorrowRequestMessage struct {
	BookID     string `json:"book_id"`
	MemberID   string `json:"member_id"`
	OnResponse func(r *BorrowRequest)
}

func (e CreateBorrowRequestMessage) Type() string { return "borrow.create" }

// CreateBorrowRequestHandler files a Pending request for a title. Filing
// checks eligibility and availability as preconditions only; the copy is not
// held until an admin approves the request.
type CreateBorrowRequestHandler struct {
	repo   RepositoryManager
	sink   ActivitySink
	logger Logger
	now    func() time.Time
}

type CreateBorrowRequestOption func(*CreateBorrowRequestHandler)

func WithCreateBorrowClock(clock func() time.Time) CreateBorrowRequestOption {
	return func(h *CreateBorrowRequestHandler) {
		if clock != nil {
			h.now = clock
		}
	}
}

func WithCreateBorrowActivitySink(sink ActivitySink) CreateBorrowRequestOption {
	return func(h *CreateBorrowRequestHandler) {
		h.sink = normalizeActivitySink(sink)
	}
}

func NewCreateBorrowRequestHandler(repo RepositoryManager, opts ...CreateBorrowRequestOption) *CreateBorrowRequestHandler {
	h := &CreateBorrowRequestHandler{
		repo:   repo,
		sink:   noopActivitySink{},
		logger: defLogger{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	return h
}

func (h *CreateBorrowRequestHandler) Execute(ctx context.Context, event CreateBorrowRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during borrow request creation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CreateBorrowRequestHandler) execute(ctx context.Context, event CreateBorrowRequestMessage) error {
	memberID, err := uuid.Parse(event.MemberID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid member id")
	}

	bookID, err := uuid.Parse(event.BookID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid book id")
	}

	record := &BorrowRequest{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		member, err := h.repo.Users().GetByIDTx(ctx, tx, memberID.String())
		if err != nil {
			return err
		}

		if !member.CanBorrow() {
			return goerrors.New("account is not approved for borrowing", goerrors.CategoryAuth).
				WithCode(goerrors.CodeUnauthorized).
				WithMetadata(map[string]any{
					"member_id": member.ID.String(),
					"status":    member.AccountStatus,
				})
		}

		book, err := h.repo.Books().GetByIDTx(ctx, tx, bookID.String())
		if err != nil {
			return err
		}

		if !book.IsAvailable() {
			return ErrBookNotAvailable.WithMetadata(map[string]any{
				"book_id": book.ID.String(),
				"title":   book.Title,
			})
		}

		// One open request per member/title pair. A prior request that was
		// returned does not block borrowing the same book again.
		if last, err := h.repo.BorrowRequests().FindByMemberAndBookTx(ctx, tx, memberID, bookID); err == nil {
			if last.Status == BorrowStatusPending || last.IsReturnable() {
				return ErrInvalidTransition.WithMetadata(map[string]any{
					"reason":     "open request already exists for this book",
					"request_id": last.ID.String(),
					"status":     last.Status,
				})
			}
		} else if !goerrors.IsNotFound(err) {
			return err
		}

		requestDate := h.now()
		record.BookID = book.ID
		record.MemberID = member.ID
		record.BookTitle = book.Title
		record.MemberName = member.FullName
		record.MemberEmail = member.Email
		record.Status = BorrowStatusPending
		record.RequestDate = &requestDate

		if record, err = h.repo.BorrowRequests().CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create borrow request")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "borrow request transaction failed")
	}

	if err := h.sink.Record(ctx, ActivityEvent{
		EventType:  ActivityEventBorrowRequested,
		Actor:      ActorRef{ID: record.MemberID.String(), Type: "member"},
		RequestID:  record.ID.String(),
		UserID:     record.MemberID.String(),
		ToStatus:   BorrowStatusPending,
		OccurredAt: h.now(),
	}); err != nil {
		h.logger.Warn("borrow create activity sink error: %v", err)
	}

	if event.OnResponse != nil {
		event.OnResponse(record)
	}

	return nil
}
