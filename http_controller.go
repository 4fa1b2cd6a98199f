package library

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteRegistrar captures the router methods used by the controllers.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Put(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Delete(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// AuthController handles registration, login, logout, and email verification.
type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Auther       Authenticator
	Gate         *SessionGate
	Verification *VerificationService
	Mail         *NotificationGateway
}

type AuthControllerOption func(*AuthController) *AuthController

func WithAuthControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithAuthControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(repo RepositoryManager, auther Authenticator, gate *SessionGate, verification *VerificationService, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		Repo:         repo,
		Auther:       auther,
		Gate:         gate,
		Verification: verification,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing Authenticator in auth controller...")
	}

	return c
}

// RegisterRoutes wires the auth surface. Logout is the only route behind the
// gate; everything else is reachable without a session.
func (a *AuthController) RegisterRoutes(app RouteRegistrar) {
	app.Post("/auth/register", a.Register)
	app.Post("/auth/login", a.Login)
	app.Get("/auth/exists", a.EmailExists)
	app.Post("/auth/logout", a.Logout, a.Gate.Protected())

	app.Post("/verification/send", a.SendVerificationCode)
	app.Post("/verification/verify", a.VerifyCode)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) Login(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= AUTH LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("=========================")
	}

	token, err := a.Auther.Login(ctx.Context(), payload.Email, payload.Password)
	if err != nil {
		a.Logger.Error("Login error", "error", err)
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": "authentication failed",
		})
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"token": token,
	})
}

func (a *AuthController) Logout(ctx router.Context) error {
	principal, ok := RouterPrincipal(ctx, a.Gate.LocalsKey())
	if !ok {
		return ctx.JSON(router.StatusUnauthorized, map[string]any{
			"error": ErrUnauthenticated.Message,
		})
	}

	a.Auther.Logout(principal.Email)

	return ctx.JSON(router.StatusOK, map[string]any{
		"status": "logged out",
	})
}

// RegistrationPayload is the sign-up body
type RegistrationPayload struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Phone           string `json:"phone_number"`
	UniversityID    string `json:"university_id"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.Length(10, 11), is.Digit),
		validation.Field(&r.UniversityID, validation.Length(0, 50)),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AuthController) Register(ctx router.Context) error {
	payload := new(RegistrationPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("register user parse payload: ", "error", err)
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("register user validate payload: ", "error", err)
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	var created *User
	req := RegisterUserMessage{
		FullName:     payload.FullName,
		Email:        payload.Email,
		Phone:        payload.Phone,
		UniversityID: payload.UniversityID,
		Password:     payload.Password,
		OnResponse: func(u *User) {
			created = u
		},
	}

	registerUser := NewRegisterUserHandler(a.Repo)
	if err := registerUser.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("register user error: ", "error", err)
		return jsonErrHandler(ctx, err)
	}

	// kick off email verification right away, best effort
	if a.Verification != nil {
		if err := a.Verification.SendCode(ctx.Context(), created.Email, created.FullName); err != nil {
			a.Logger.Warn("failed to send verification code", "error", err)
		}
	}

	return ctx.JSON(router.StatusCreated, map[string]any{
		"id":             created.ID.String(),
		"account_status": created.AccountStatus,
	})
}

// EmailExists lets the sign-up form check for duplicates before submitting.
func (a *AuthController) EmailExists(ctx router.Context) error {
	email := ctx.Query("email", "")
	if email == "" {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "email query parameter is required",
		})
	}

	_, err := a.Repo.Users().GetByIdentifier(ctx.Context(), email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			return ctx.JSON(router.StatusOK, map[string]any{"exists": false})
		}
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{"exists": true})
}

// VerificationPayload carries the code redemption body
type VerificationPayload struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// Validate will validate the payload
func (r VerificationPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Code, validation.Required, validation.Length(6, 6), is.Digit),
	)
}

func (a *AuthController) SendVerificationCode(ctx router.Context) error {
	payload := new(VerificationPayload)

	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := validation.Validate(payload.Email, validation.Required, is.Email); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"error": "a valid email is required",
		})
	}

	user, err := a.Repo.Users().GetByIdentifier(ctx.Context(), payload.Email)
	if err != nil {
		if goerrors.IsNotFound(err) {
			// do not reveal which emails are registered
			return ctx.JSON(router.StatusOK, map[string]any{"status": "sent"})
		}
		return jsonErrHandler(ctx, err)
	}

	if err := a.Verification.SendCode(ctx.Context(), user.Email, user.FullName); err != nil {
		a.Logger.Warn("verification code delivery failed", "error", err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{"status": "sent"})
}

func (a *AuthController) VerifyCode(ctx router.Context) error {
	payload := new(VerificationPayload)

	if err := ctx.Bind(payload); err != nil {
		return jsonErrHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.JSON(router.StatusBadRequest, map[string]any{
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if err := a.Verification.VerifyCode(ctx.Context(), payload.Email, payload.Code); err != nil {
		return jsonErrHandler(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{"status": "verified"})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return fmt.Errorf("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field → message map for JSON responses.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	if verrs, ok := err.(validation.Errors); ok {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["error"] = err.Error()
	return out
}

// jsonErrHandler maps rich errors onto JSON responses using the HTTP code
// the error carries.
func jsonErrHandler(c router.Context, err error) error {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		richErr = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	code := richErr.Code
	if code == 0 {
		code = router.StatusInternalServerError
	}

	return c.JSON(code, map[string]any{
		"error":     richErr.Message,
		"text_code": richErr.TextCode,
	})
}
