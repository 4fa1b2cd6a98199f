package library

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var incrementBorrowedSQL = `UPDATE "users" AS "usr"
SET
	"borrowed_count" = "borrowed_count" + 1,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."id" = ?
AND "usr"."deleted_at" IS NULL;`

var decrementBorrowedSQL = `UPDATE "users" AS "usr"
SET
	"borrowed_count" = "borrowed_count" - 1,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."id" = ?
AND "usr"."deleted_at" IS NULL
AND "usr"."borrowed_count" > 0;`

var deleteUserGuardedSQL = `UPDATE "users" AS "usr"
SET
	"deleted_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."id" = ?
AND "usr"."deleted_at" IS NULL
AND "usr"."borrowed_count" = 0;`

var markEmailValidatedSQL = `UPDATE "users" AS "usr"
SET
	"is_email_verified" = TRUE,
	"updated_at" = CURRENT_TIMESTAMP
WHERE
	"usr"."id" = ?
AND "usr"."deleted_at" IS NULL;`

// Users is the member repository. The borrowed_count column mirrors the
// number of open loans and moves only through the paired increment and
// decrement below, inside the same transaction as the ledger update.
type Users interface {
	repository.Repository[*User]

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)
	Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error)
	CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error)

	ListAll(ctx context.Context) ([]*User, error)
	ListByStatus(ctx context.Context, status AccountStatus) ([]*User, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*User, error)
	UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus) (*User, error)
	MarkEmailValidated(ctx context.Context, id uuid.UUID) error

	IncrementBorrowed(ctx context.Context, id uuid.UUID) error
	IncrementBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
	DecrementBorrowed(ctx context.Context, id uuid.UUID) error
	DecrementBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error

	DeleteGuarded(ctx context.Context, id uuid.UUID) error
}

type users struct {
	repository.Repository[*User]
	db *bun.DB
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
	})

	return &users{
		Repository: repo,
		db:         db,
	}
}

// Register creates a member account, rejecting duplicate emails with
// ErrEmailAlreadyRegistered rather than surfacing a constraint violation.
func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	if user == nil || strings.TrimSpace(user.Email) == "" {
		return nil, ErrNoEmptyString
	}

	existing, err := a.GetByIdentifierTx(ctx, tx, user.Email)
	if err != nil && !repository.IsRecordNotFound(err) {
		return nil, err
	}

	if existing != nil {
		return nil, ErrEmailAlreadyRegistered.WithMetadata(map[string]any{
			"email": user.Email,
		})
	}

	return a.CreateTx(ctx, tx, user)
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	options := resolveUserIdentifier(identifier)
	if len(options) == 0 {
		options = []identifierOption{
			{
				column: "id",
				value:  strings.TrimSpace(identifier),
			},
		}
	}

	for _, opt := range options {
		record := &User{}
		q := tx.NewSelect().Model(record)

		for _, c := range criteria {
			q.Apply(c)
		}

		err := q.
			Where(fmt.Sprintf("?TableAlias.%s = ?", opt.column), opt.value).
			Limit(1).
			Scan(ctx)

		if err != nil {
			if repository.IsRecordNotFound(err) {
				continue
			}
			return nil, err
		}

		return record, nil
	}

	return nil, repository.NewRecordNotFound().
		WithMetadata(map[string]any{
			"identifier": identifier,
		})
}

func (a *users) Create(ctx context.Context, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	return a.CreateTx(ctx, a.db, record, criteria...)
}

func (a *users) CreateTx(ctx context.Context, tx bun.IDB, record *User, criteria ...repository.InsertCriteria) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.CreateTx(ctx, tx, record, criteria...)
}

func (a *users) ListAll(ctx context.Context) ([]*User, error) {
	records := []*User{}
	err := a.db.NewSelect().
		Model(&records).
		Order("registered_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users")
	}
	return records, nil
}

func (a *users) ListByStatus(ctx context.Context, status AccountStatus) ([]*User, error) {
	records := []*User{}
	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.account_status = ?", string(status)).
		Order("registered_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to list users by status")
	}
	return records, nil
}

func (a *users) UpdateStatus(ctx context.Context, id uuid.UUID, status AccountStatus) (*User, error) {
	return a.UpdateStatusTx(ctx, a.db, id, status)
}

func (a *users) UpdateStatusTx(ctx context.Context, tx bun.IDB, id uuid.UUID, status AccountStatus) (*User, error) {
	record := &User{
		ID:            id,
		AccountStatus: status,
	}

	return a.Repository.UpdateTx(ctx, tx, record, repository.UpdateByID(id.String()))
}

func (a *users) MarkEmailValidated(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewRaw(markEmailValidatedSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email validated")
	}

	if affected(res) == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": id.String(),
		})
	}

	return nil
}

func (a *users) IncrementBorrowed(ctx context.Context, id uuid.UUID) error {
	return a.IncrementBorrowedTx(ctx, a.db, id)
}

func (a *users) IncrementBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewRaw(incrementBorrowedSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to increment borrowed count")
	}

	if affected(res) == 0 {
		return repository.NewRecordNotFound().WithMetadata(map[string]any{
			"id": id.String(),
		})
	}

	return nil
}

func (a *users) DecrementBorrowed(ctx context.Context, id uuid.UUID) error {
	return a.DecrementBorrowedTx(ctx, a.db, id)
}

// DecrementBorrowedTx is guarded at zero. A no-op on an existing member means
// the counter already drained, which the caller treats as reconciled.
func (a *users) DecrementBorrowedTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	res, err := tx.NewRaw(decrementBorrowedSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to decrement borrowed count")
	}

	if affected(res) > 0 {
		return nil
	}

	if _, err := a.Repository.GetByIDTx(ctx, tx, id.String()); err != nil {
		return err
	}

	return nil
}

// DeleteGuarded soft deletes a member, but only while they hold no books.
func (a *users) DeleteGuarded(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewRaw(deleteUserGuardedSQL, id).Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to delete user")
	}

	if affected(res) > 0 {
		return nil
	}

	record, err := a.Repository.GetByID(ctx, id.String())
	if err != nil {
		return err
	}

	return ErrHasBorrowedBooks.WithMetadata(map[string]any{
		"user_id":  id.String(),
		"borrowed": record.BorrowedCount,
	})
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleMember
	}

	record.EnsureStatus()

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	if record.RegisteredAt == nil {
		now := time.Now()
		record.RegisteredAt = &now
	}
}

type identifierOption struct {
	column string
	value  string
}

func resolveUserIdentifier(identifier string) []identifierOption {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil
	}

	options := make([]identifierOption, 0, 3)

	if isUUID(trimmed) {
		options = append(options, identifierOption{
			column: "id",
			value:  trimmed,
		})
	}

	if isEmail(trimmed) {
		options = append(options, identifierOption{
			column: "email",
			value:  trimmed,
		})
	}

	options = append(options, identifierOption{
		column: "university_id",
		value:  trimmed,
	})

	return options
}

func isEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
