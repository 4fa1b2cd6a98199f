package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type DeleteBorrowRequestMessage struct {
	RequestID string `json:"request_id"`
}

func (e DeleteBorrowRequestMessage) Type() string { return "borrow.delete" }

// DeleteBorrowRequestHandler removes a borrow record. Open loans cannot be
// deleted: the copy is still out and deleting the record would orphan the
// ledger counters. Pending and closed requests delete freely.
type DeleteBorrowRequestHandler struct {
	repo   RepositoryManager
	logger Logger
}

func NewDeleteBorrowRequestHandler(repo RepositoryManager) *DeleteBorrowRequestHandler {
	return &DeleteBorrowRequestHandler{
		repo:   repo,
		logger: defLogger{},
	}
}

func (h *DeleteBorrowRequestHandler) Execute(ctx context.Context, event DeleteBorrowRequestMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during borrow request deletion",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *DeleteBorrowRequestHandler) execute(ctx context.Context, event DeleteBorrowRequestMessage) error {
	requestID, err := uuid.Parse(event.RequestID)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid request id")
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	record, err := h.repo.BorrowRequests().GetByID(ctx, requestID.String())
	if err != nil {
		return err
	}

	if record.IsReturnable() {
		return ErrOpenLoan.WithMetadata(map[string]any{
			"request_id": record.ID.String(),
			"status":     record.Status,
		})
	}

	return h.repo.BorrowRequests().DeleteByID(ctx, requestID)
}
