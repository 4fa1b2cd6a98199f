package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Status moves are compare-and-set statements: the WHERE clause re-checks the
// state the caller saw, so a transition that raced another writer simply
// affects zero rows instead of clobbering a newer state. That is what keeps
// the sweep from marking a just-returned copy overdue and a second return
// from double-crediting the shelf.
var markBorrowedSQL = `UPDATE "borrow_requests"
SET
	"status" = 'Borrowed',
	"issue_date" = ?,
	"due_date" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "status" = 'Pending'
AND "return_date" IS NULL;`

var markReturnedSQL = `UPDATE "borrow_requests"
SET
	"status" = ?,
	"return_date" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "status" IN ('Borrowed', 'Overdue')
AND "return_date" IS NULL;`

var markOverdueSQL = `UPDATE "borrow_requests"
SET
	"status" = 'Overdue',
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "status" = 'Borrowed'
AND "return_date" IS NULL;`

// BorrowRequests is the repository for lending transactions. The lifecycle
// engine is the only legitimate writer of status and date fields.
type BorrowRequests interface {
	repository.Repository[*BorrowRequest]

	Create(ctx context.Context, record *BorrowRequest, criteria ...repository.InsertCriteria) (*BorrowRequest, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *BorrowRequest, criteria ...repository.InsertCriteria) (*BorrowRequest, error)

	FindByMemberAndBook(ctx context.Context, memberID, bookID uuid.UUID) (*BorrowRequest, error)
	FindByMemberAndBookTx(ctx context.Context, tx bun.IDB, memberID, bookID uuid.UUID) (*BorrowRequest, error)
	ListByMember(ctx context.Context, memberID uuid.UUID) ([]*BorrowRequest, error)
	ListAll(ctx context.Context) ([]*BorrowRequest, error)
	ListOpenLoans(ctx context.Context) ([]*BorrowRequest, error)

	MarkBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, issueDate, dueDate time.Time) error
	MarkReturnedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status BorrowStatus, returnDate time.Time) error
	MarkOverdue(ctx context.Context, id uuid.UUID) (bool, error)

	DeleteByID(ctx context.Context, id uuid.UUID) error
}

type borrowRequests struct {
	repository.Repository[*BorrowRequest]
	db *bun.DB
}

var (
	_ BorrowRequests                        = (*borrowRequests)(nil)
	_ repository.Repository[*BorrowRequest] = (*borrowRequests)(nil)
)

func NewBorrowRequestsRepository(db *bun.DB) BorrowRequests {
	repo := repository.NewRepository[*BorrowRequest](db, repository.ModelHandlers[*BorrowRequest]{
		NewRecord: func() *BorrowRequest { return &BorrowRequest{} },
		GetID: func(r *BorrowRequest) uuid.UUID {
			if r == nil {
				return uuid.Nil
			}
			return r.ID
		},
		SetID: func(r *BorrowRequest, id uuid.UUID) {
			if r != nil {
				r.ID = id
			}
		},
	})

	return &borrowRequests{
		Repository: repo,
		db:         db,
	}
}

func (a *borrowRequests) Create(ctx context.Context, record *BorrowRequest, criteria ...repository.InsertCriteria) (*BorrowRequest, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *borrowRequests) CreateTx(ctx context.Context, tx bun.IDB, record *BorrowRequest, criteria ...repository.InsertCriteria) (*BorrowRequest, error) {
	prepareBorrowRequestDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

// FindByMemberAndBook returns the most recent request for the pair. Members
// can borrow the same title repeatedly, so historical requests pile up and
// only the newest one describes the current relationship.
func (a *borrowRequests) FindByMemberAndBook(ctx context.Context, memberID, bookID uuid.UUID) (*BorrowRequest, error) {
	return a.FindByMemberAndBookTx(ctx, a.db, memberID, bookID)
}

func (a *borrowRequests) FindByMemberAndBookTx(ctx context.Context, tx bun.IDB, memberID, bookID uuid.UUID) (*BorrowRequest, error) {
	record := &BorrowRequest{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.member_id = ?", memberID).
		Where("?TableAlias.book_id = ?", bookID).
		Order("request_date DESC").
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
				"member_id": memberID.String(),
				"book_id":   bookID.String(),
			})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find borrow request")
	}

	return record, nil
}

func (a *borrowRequests) ListByMember(ctx context.Context, memberID uuid.UUID) ([]*BorrowRequest, error) {
	records := []*BorrowRequest{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.member_id = ?", memberID).
		Order("request_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list member borrow requests")
	}
	return records, nil
}

func (a *borrowRequests) ListAll(ctx context.Context) ([]*BorrowRequest, error) {
	records := []*BorrowRequest{}
	err := a.db.NewSelect().
		Model(&records).
		Order("request_date DESC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list borrow requests")
	}
	return records, nil
}

// ListOpenLoans returns every Borrowed request with a due date and no return
// date. The overdue sweep decides per record whether the due date is past or
// today; the query just narrows the scan.
func (a *borrowRequests) ListOpenLoans(ctx context.Context) ([]*BorrowRequest, error) {
	records := []*BorrowRequest{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.status = ?", string(BorrowStatusBorrowed)).
		Where("?TableAlias.due_date IS NOT NULL").
		Where("?TableAlias.return_date IS NULL").
		Order("due_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list open loans")
	}
	return records, nil
}

// MarkBorrowedTx moves a Pending request to Borrowed, stamping issue and due
// dates. Fails with ErrInvalidTransition when the request already moved.
func (a *borrowRequests) MarkBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, issueDate, dueDate time.Time) error {
	res, err := tx.NewRaw(markBorrowedSQL, issueDate, dueDate, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark request borrowed")
	}

	if affected(res) > 0 {
		return nil
	}

	record, err := a.Repository.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return err
	}

	return ErrInvalidTransition.WithMetadata(map[string]any{
		"request_id": id.String(),
		"from":       record.Status,
		"to":         BorrowStatusBorrowed,
	})
}

// MarkReturnedTx records the return date and final status. Fails with
// ErrNotReturnable for terminal or never-issued requests, which makes a
// second return attempt a rejection rather than a double credit.
func (a *borrowRequests) MarkReturnedTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status BorrowStatus, returnDate time.Time) error {
	if status != BorrowStatusReturned && status != BorrowStatusLateReturn {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"request_id": id.String(),
			"to":         status,
		})
	}

	res, err := tx.NewRaw(markReturnedSQL, string(status), returnDate, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark request returned")
	}

	if affected(res) > 0 {
		return nil
	}

	record, err := a.Repository.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return err
	}

	return ErrNotReturnable.WithMetadata(map[string]any{
		"request_id": id.String(),
		"status":     record.Status,
	})
}

// MarkOverdue flips a still-Borrowed request to Overdue. Returns false when
// the request was returned (or otherwise moved) since the sweep read it;
// losing that race is expected and not an error.
func (a *borrowRequests) MarkOverdue(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := a.db.NewRaw(markOverdueSQL, id).Exec(ctx)
	if err != nil {
		return false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark request overdue")
	}

	return affected(res) > 0, nil
}

func (a *borrowRequests) DeleteByID(ctx context.Context, id uuid.UUID) error {
	record := &BorrowRequest{ID: id}
	_, err := a.db.NewDelete().
		Model(record).
		WherePK().
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete borrow request")
	}
	return nil
}

func prepareBorrowRequestDefaults(record *BorrowRequest) {
	if record == nil {
		return
	}

	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}
