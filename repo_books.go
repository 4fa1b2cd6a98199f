package library

import (
	"context"
	"database/sql"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// The inventory counters only ever move through these conditional updates.
// The WHERE guards make check-and-move a single atomic statement, so two
// concurrent approvals of the last copy resolve to one success and one
// rejection instead of a negative counter.
var decrementAvailableSQL = `UPDATE "books"
SET
	"available_copies" = "available_copies" - 1,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "deleted_at" IS NULL
AND "available_copies" > 0;`

var incrementAvailableSQL = `UPDATE "books"
SET
	"available_copies" = "available_copies" + 1,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "deleted_at" IS NULL
AND "available_copies" < "total_copies";`

var resizeCopiesSQL = `UPDATE "books"
SET
	"available_copies" = ? - ("total_copies" - "available_copies"),
	"total_copies" = ?,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "deleted_at" IS NULL
AND ("total_copies" - "available_copies") <= ?;`

var deleteBookGuardedSQL = `UPDATE "books"
SET
	"deleted_at" = CURRENT_TIMESTAMP
WHERE
	"id" = ?
AND "deleted_at" IS NULL
AND "available_copies" = "total_copies";`

// Books is the catalog repository. It doubles as the inventory ledger:
// available-copy counters are owned here and move only through the atomic
// operations below, never through plain record updates.
type Books interface {
	repository.Repository[*Book]

	Create(ctx context.Context, record *Book, criteria ...repository.InsertCriteria) (*Book, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *Book, criteria ...repository.InsertCriteria) (*Book, error)

	ListAll(ctx context.Context) ([]*Book, error)

	UpdateMetadata(ctx context.Context, record *Book) (*Book, error)
	UpdateRating(ctx context.Context, record *Book) (*Book, error)

	CheckAvailable(ctx context.Context, id uuid.UUID) (bool, error)
	DecrementAvailable(ctx context.Context, id uuid.UUID) error
	DecrementAvailableTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	IncrementAvailable(ctx context.Context, id uuid.UUID) error
	IncrementAvailableTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	ResizeCopies(ctx context.Context, id uuid.UUID, newTotal int) error
	ResizeCopiesTx(ctx context.Context, tx bun.IDB, id uuid.UUID, newTotal int) error
	DeleteGuarded(ctx context.Context, id uuid.UUID) error
}

type books struct {
	repository.Repository[*Book]
	db *bun.DB
}

var (
	_ Books                        = (*books)(nil)
	_ repository.Repository[*Book] = (*books)(nil)
)

func NewBooksRepository(db *bun.DB) Books {
	repo := repository.NewRepository[*Book](db, repository.ModelHandlers[*Book]{
		NewRecord: func() *Book { return &Book{} },
		GetID: func(b *Book) uuid.UUID {
			if b == nil {
				return uuid.Nil
			}
			return b.ID
		},
		SetID: func(b *Book, id uuid.UUID) {
			if b != nil {
				b.ID = id
			}
		},
	})

	return &books{
		Repository: repo,
		db:         db,
	}
}

func (a *books) Create(ctx context.Context, record *Book, criteria ...repository.InsertCriteria) (*Book, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *books) CreateTx(ctx context.Context, tx bun.IDB, record *Book, criteria ...repository.InsertCriteria) (*Book, error) {
	prepareBookDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *books) ListAll(ctx context.Context) ([]*Book, error) {
	records := []*Book{}
	err := a.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list books")
	}
	return records, nil
}

// UpdateMetadata writes the descriptive columns of a title. Counter columns
// are off limits to record-shaped updates, so a stale record in hand cannot
// clobber a concurrent ledger movement.
func (a *books) UpdateMetadata(ctx context.Context, record *Book) (*Book, error) {
	return a.updateColumns(ctx, record,
		"title", "author", "genre", "description", "summary", "cover", "color")
}

// UpdateRating persists a rating mutation without touching any other column.
func (a *books) UpdateRating(ctx context.Context, record *Book) (*Book, error) {
	return a.updateColumns(ctx, record, "rating", "rated_by")
}

func (a *books) updateColumns(ctx context.Context, record *Book, columns ...string) (*Book, error) {
	if record == nil || record.ID == uuid.Nil {
		return nil, repository.NewRecordNotFound()
	}

	now := time.Now()
	record.UpdatedAt = &now
	columns = append(columns, "updated_at")

	res, err := a.db.NewUpdate().
		Model(record).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update book")
	}

	if affected(res) == 0 {
		return nil, repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": record.ID.String(),
		})
	}

	return a.Repository.GetByID(ctx, record.ID.String())
}

// CheckAvailable is a pre-condition gate, not a reservation. The authoritative
// check is the conditional decrement at approval time.
func (a *books) CheckAvailable(ctx context.Context, id uuid.UUID) (bool, error) {
	record, err := a.Repository.GetByID(ctx, id.String())
	if err != nil {
		return false, err
	}
	return record.IsAvailable(), nil
}

func (a *books) DecrementAvailable(ctx context.Context, id uuid.UUID) error {
	return a.DecrementAvailableTx(ctx, a.db, id)
}

func (a *books) DecrementAvailableTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewRaw(decrementAvailableSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decrement available copies")
	}

	if affected(res) > 0 {
		return nil
	}

	// No row moved: either the title is gone or no copy is free.
	if _, err := a.Repository.GetByIDTx(ctx, tx, id.String()); err != nil {
		return err
	}

	return ErrBookNotAvailable.WithMetadata(map[string]any{
		"book_id": id.String(),
	})
}

func (a *books) IncrementAvailable(ctx context.Context, id uuid.UUID) error {
	return a.IncrementAvailableTx(ctx, a.db, id)
}

func (a *books) IncrementAvailableTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewRaw(incrementAvailableSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to increment available copies")
	}

	if affected(res) > 0 {
		return nil
	}

	// Increment is capped at total_copies; a no-op here means the counters
	// were already flush, which only happens if a return raced a resize.
	if _, err := a.Repository.GetByIDTx(ctx, tx, id.String()); err != nil {
		return err
	}

	return nil
}

func (a *books) ResizeCopies(ctx context.Context, id uuid.UUID, newTotal int) error {
	return a.ResizeCopiesTx(ctx, a.db, id, newTotal)
}

// ResizeCopiesTx sets total_copies and re-derives available_copies from the
// currently borrowed count. Shrinking below the borrowed count is rejected.
func (a *books) ResizeCopiesTx(ctx context.Context, tx bun.IDB, id uuid.UUID, newTotal int) error {
	if newTotal < 0 {
		return ErrInvalidResize.WithMetadata(map[string]any{
			"book_id":   id.String(),
			"new_total": newTotal,
		})
	}

	res, err := tx.NewRaw(resizeCopiesSQL, newTotal, newTotal, id, newTotal).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to resize copy pool")
	}

	if affected(res) > 0 {
		return nil
	}

	record, err := a.Repository.GetByIDTx(ctx, tx, id.String())
	if err != nil {
		return err
	}

	return ErrInvalidResize.WithMetadata(map[string]any{
		"book_id":   id.String(),
		"new_total": newTotal,
		"borrowed":  record.BorrowedCopies(),
	})
}

// DeleteGuarded soft deletes a title, but only while every copy is on the
// shelf. A title with any copy on loan stays put.
func (a *books) DeleteGuarded(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewRaw(deleteBookGuardedSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete book")
	}

	if affected(res) > 0 {
		return nil
	}

	record, err := a.Repository.GetByID(ctx, id.String())
	if err != nil {
		return err
	}

	return ErrHasActiveLoans.WithMetadata(map[string]any{
		"book_id":  id.String(),
		"title":    record.Title,
		"borrowed": record.BorrowedCopies(),
	})
}

func prepareBookDefaults(record *Book) {
	if record == nil {
		return
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	// All copies start on the shelf.
	record.AvailableCopies = record.TotalCopies

	if record.RatedBy == nil {
		record.RatedBy = map[string]int{}
	}
}

func affected(res sql.Result) int64 {
	if res == nil {
		return 0
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
