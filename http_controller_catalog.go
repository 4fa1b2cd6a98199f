package library

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// CatalogController handles the book catalog and the borrow request surface.
type CatalogController struct {
	Debug   bool
	Logger  Logger
	Repo    RepositoryManager
	Gate    *SessionGate
	Mail    *NotificationGateway
	Machine BorrowStateMachine
}

type CatalogControllerOption func(*CatalogController) *CatalogController

func WithCatalogControllerLogger(logger Logger) CatalogControllerOption {
	return func(c *CatalogController) *CatalogController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithCatalogControllerDebug(debug bool) CatalogControllerOption {
	return func(c *CatalogController) *CatalogController {
		c.Debug = debug
		return c
	}
}

func WithCatalogControllerNotifications(gateway *NotificationGateway) CatalogControllerOption {
	return func(c *CatalogController) *CatalogController {
		if gateway != nil {
			c.Mail = gateway
		}
		return c
	}
}

func NewCatalogController(repo RepositoryManager, gate *SessionGate, opts ...CatalogControllerOption) *CatalogController {
	c := &CatalogController{
		Logger: defLogger{},
		Repo:   repo,
		Gate:   gate,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in catalog controller...")
	}

	if c.Gate == nil {
		panic("Missing SessionGate in catalog controller...")
	}

	if c.Mail == nil {
		c.Mail = NewNotificationGateway(nil)
	}

	if c.Machine == nil {
		c.Machine = NewBorrowStateMachine(repo.BorrowRequests())
	}

	return c
}

// RegisterRoutes wires the catalog and lending surface. Browsing is public,
// borrowing needs a member session, catalog management needs admin.
func (a *CatalogController) RegisterRoutes(app RouteRegistrar) {
	gate := a.Gate.Protected()
	member := a.Gate.RequireRole(RoleMember)
	admin := a.Gate.RequireRole(RoleAdmin)

	app.Get("/books", a.ListBooks)
	app.Get("/books/:id", a.GetBook)
	app.Post("/books", a.CreateBook, gate, admin)
	app.Put("/books/:id", a.UpdateBook, gate, admin)
	app.Delete("/books/:id", a.DeleteBook, gate, admin)
	app.Post("/books/:id/rate", a.RateBook, gate, member)

	app.Post("/borrow-requests", a.CreateBorrowRequest, gate, member)
	app.Get("/borrow-requests/mine", a.MyBorrowRequests, gate, member)
	app.Get("/borrow-requests/status/:bookId", a.BorrowStatusForBook, gate, member)
	app.Get("/borrow-requests", a.AllBorrowRequests, gate, admin)
	app.Get("/borrow-requests/:id", a.GetBorrowRequest, gate, admin)
	app.Post("/borrow-requests/:id/approve", a.ApproveBorrowRequest, gate, admin)
	app.Post("/borrow-requests/:id/return", a.ReturnBorrowRequest, gate, member)
	app.Delete("/borrow-requests/:id", a.DeleteBorrowRequest, gate, admin)

	app.Get("/users", a.ListUsers, gate, admin)
	app.Post("/users/:id/review", a.ReviewAccount, gate, admin)
	app.Delete("/users/:id", a.DeleteUser, gate, admin)
}

// BookPayload is the create/update body for a catalog title
type BookPayload struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	Summary     string `json:"summary"`
	Cover       string `json:"cover"`
	Color       string `json:"color"`
	TotalCopies int    `json:"total_copies"`
}

// Validate will validate the payload
func (r BookPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Title, validation.Required, validation.Length(1, 300)),
		validation.Field(&r.Author, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.TotalCopies, validation.Required, validation.Min(1)),
	)
}

func (a *CatalogController) ListBooks(ctx router.Context) error {
	records, err := a.Repo.Books().ListAll(ctx.Context())
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"books": records,
	})
}

func (a *CatalogController) GetBook(ctx router.Context) error {
	id := ctx.Param("id", "")

	record, err := a.Repo.Books().GetByID(ctx.Context(), id)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, record)
}

func (a *CatalogController) CreateBook(ctx router.Context) error {
	payload := new(BookPayload)

	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= BOOK CREATE ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("==========================")
	}

	record := &Book{
		Title:       payload.Title,
		Author:      payload.Author,
		Genre:       payload.Genre,
		Description: payload.Description,
		Summary:     payload.Summary,
		Cover:       payload.Cover,
		Color:       payload.Color,
		TotalCopies: payload.TotalCopies,
	}

	record, err := a.Repo.Books().Create(ctx.Context(), record)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, record)
}

// UpdateBook edits title metadata. A change to total_copies goes through the
// resize guard so the pool can never shrink below the copies currently out.
func (a *CatalogController) UpdateBook(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "invalid book id",
		})
	}

	payload := new(BookPayload)
	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	record, err := a.Repo.Books().GetByID(ctx.Context(), id.String())
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	if payload.TotalCopies != record.TotalCopies {
		if err := a.Repo.Books().ResizeCopies(ctx.Context(), id, payload.TotalCopies); err != nil {
			return jsonErrHandler(ctx, err)
		}
	}

	record.Title = payload.Title
	record.Author = payload.Author
	record.Genre = payload.Genre
	record.Description = payload.Description
	record.Summary = payload.Summary
	record.Cover = payload.Cover
	record.Color = payload.Color

	// metadata only: the counters the resize just derived stay untouched
	record, err = a.Repo.Books().UpdateMetadata(ctx.Context(), record)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, record)
}

func (a *CatalogController) DeleteBook(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "invalid book id",
		})
	}

	if err := a.Repo.Books().DeleteGuarded(ctx.Context(), id); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.NoContent(fiber.StatusNoContent)
}

// RatePayload carries a member's star rating
type RatePayload struct {
	Rating int `json:"rating"`
}

// Validate will validate the payload
func (r RatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Rating, validation.Required, validation.Min(1), validation.Max(5)),
	)
}

func (a *CatalogController) RateBook(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	id, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "invalid book id",
		})
	}

	payload := new(RatePayload)
	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	record, err := a.Repo.Books().GetByID(ctx.Context(), id.String())
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	if !record.Rate(principal.ID, payload.Rating) {
		return ctx.JSON(router.StatusConflict, map[string]any{
			"error": "you already rated this book",
		})
	}

	record, err = a.Repo.Books().UpdateRating(ctx.Context(), record)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"rating":   record.Rating,
		"rated_by": len(record.RatedBy),
	})
}

// BorrowPayload identifies the title to borrow
type BorrowPayload struct {
	BookID string `json:"book_id"`
}

// Validate will validate the payload
func (r BorrowPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.BookID, validation.Required, validation.By(validateUUID)),
	)
}

func validateUUID(value any) error {
	s, _ := value.(string)
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("must be a valid uuid")
	}
	return nil
}

func (a *CatalogController) CreateBorrowRequest(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	payload := new(BorrowPayload)
	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	var created *BorrowRequest
	req := CreateBorrowRequestMessage{
		BookID:   payload.BookID,
		MemberID: principal.ID,
		OnResponse: func(r *BorrowRequest) {
			created = r
		},
	}

	handler := NewCreateBorrowRequestHandler(a.Repo)
	if err := handler.Execute(ctx.Context(), req); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(fiber.StatusCreated, created)
}

func (a *CatalogController) MyBorrowRequests(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	memberID, err := uuid.Parse(principal.ID)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	records, err := a.Repo.BorrowRequests().ListByMember(ctx.Context(), memberID)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"borrow_requests": records,
	})
}

// BorrowStatusForBook returns the member's most recent request state for a
// title, which is what the catalog UI renders on the book card.
func (a *CatalogController) BorrowStatusForBook(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	memberID, err := uuid.Parse(principal.ID)
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	bookID, err := uuid.Parse(ctx.Param("bookId", ""))
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "invalid book id",
		})
	}

	record, err := a.Repo.BorrowRequests().FindByMemberAndBook(ctx.Context(), memberID, bookID)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ctx.JSON(router.StatusOK, map[string]any{
				"status": nil,
			})
		}
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"status":   record.Status,
		"due_date": record.DueDate,
	})
}

func (a *CatalogController) AllBorrowRequests(ctx router.Context) error {
	records, err := a.Repo.BorrowRequests().ListAll(ctx.Context())
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"borrow_requests": records,
	})
}

func (a *CatalogController) GetBorrowRequest(ctx router.Context) error {
	record, err := a.Repo.BorrowRequests().GetByID(ctx.Context(), ctx.Param("id", ""))
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, record)
}

func (a *CatalogController) ApproveBorrowRequest(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	var approved *BorrowRequest
	req := ApproveBorrowRequestMessage{
		RequestID: ctx.Param("id", ""),
		ActorID:   principal.ID,
		OnResponse: func(r *BorrowRequest) {
			approved = r
		},
	}

	handler := NewApproveBorrowRequestHandler(a.Repo,
		WithApproveBorrowStateMachine(a.Machine),
		WithApproveBorrowNotifications(a.Mail),
	)
	if err := handler.Execute(ctx.Context(), req); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, approved)
}

func (a *CatalogController) ReturnBorrowRequest(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	req := ReturnBorrowRequestMessage{
		RequestID: ctx.Param("id", ""),
		ActorID:   principal.ID,
	}

	// members may only return their own loans, librarians can return any
	if !principal.IsAdmin() {
		req.MemberID = principal.ID
	}

	var returned *BorrowRequest
	req.OnResponse = func(r *BorrowRequest) {
		returned = r
	}

	handler := NewReturnBorrowRequestHandler(a.Repo,
		WithReturnBorrowStateMachine(a.Machine),
		WithReturnBorrowNotifications(a.Mail),
	)
	if err := handler.Execute(ctx.Context(), req); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, returned)
}

func (a *CatalogController) DeleteBorrowRequest(ctx router.Context) error {
	handler := NewDeleteBorrowRequestHandler(a.Repo)

	if err := handler.Execute(ctx.Context(), DeleteBorrowRequestMessage{
		RequestID: ctx.Param("id", ""),
	}); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.NoContent(fiber.StatusNoContent)
}

func (a *CatalogController) ListUsers(ctx router.Context) error {
	status := ctx.Query("status", "")

	var records []*User
	var err error

	if status != "" {
		records, err = a.Repo.Users().ListByStatus(ctx.Context(), status)
	} else {
		records, err = a.Repo.Users().ListAll(ctx.Context())
	}

	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"users": records,
	})
}

// ReviewPayload carries the admin's approve/deny verdict
type ReviewPayload struct {
	Approve bool `json:"approve"`
}

func (a *CatalogController) ReviewAccount(ctx router.Context) error {
	principal, _ := RouterPrincipal(ctx, a.Gate.LocalsKey())

	payload := new(ReviewPayload)
	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	var reviewed *User
	req := ReviewAccountMessage{
		UserID:  ctx.Param("id", ""),
		Approve: payload.Approve,
		ActorID: principal.ID,
		OnResponse: func(u *User) {
			reviewed = u
		},
	}

	handler := NewReviewAccountHandler(a.Repo, WithReviewAccountNotifications(a.Mail))
	if err := handler.Execute(ctx.Context(), req); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"id":             reviewed.ID.String(),
		"account_status": reviewed.AccountStatus,
	})
}

// DeleteUser removes a member account. Members holding borrowed copies are
// rejected; on success the account's session, if any, is unbound from the
// registry.
func (a *CatalogController) DeleteUser(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id", ""))
	if err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "invalid user id",
		})
	}

	record, err := a.Repo.Users().GetByID(ctx.Context(), id.String())
	if err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := a.Repo.Users().DeleteGuarded(ctx.Context(), id); err != nil {
		return jsonErrHandler(ctx, err)
	}

	// a deleted account must not keep a live session
	a.Gate.auth.Logout(record.Email)

	return ctx.NoContent(fiber.StatusNoContent)
}
