package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Mail kinds map to template identities at the delivery boundary.
const (
	MailKindBorrowConfirmation = "borrow.confirmation"
	MailKindReturnConfirmation = "return.confirmation"
	MailKindLateReturn         = "return.late"
	MailKindOverdueReminder    = "overdue.reminder"
	MailKindDueReminder        = "due.reminder"
	MailKindVerificationCode   = "account.verification_code"
	MailKindWelcome            = "account.welcome"
	MailKindAccountApproval    = "account.approval"
)

// MailMessage is the payload handed to a Mailer. Book and date fields are
// populated for lending mails, Code for verification mails.
type MailMessage struct {
	Kind      string
	To        string
	Name      string
	BookTitle string
	DueDate   *time.Time
	Code      string
}

// Mailer delivers a single message. Implementations talk to whatever
// transport is configured; the dispatcher owns retry and timeout policy.
type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg MailMessage) error

func (f MailerFunc) Send(ctx context.Context, msg MailMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// NotificationGateway wraps a Mailer with best-effort semantics: delivery
// failures are logged and swallowed so that lending state changes never roll
// back because a mail could not go out.
type NotificationGateway struct {
	mailer  Mailer
	logger  Logger
	timeout time.Duration
}

// NotificationGatewayOption customizes gateway construction
type NotificationGatewayOption func(*NotificationGateway)

// WithNotificationLogger overrides the logger used for delivery failures
func WithNotificationLogger(logger Logger) NotificationGatewayOption {
	return func(g *NotificationGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithNotificationTimeout bounds each delivery attempt
func WithNotificationTimeout(timeout time.Duration) NotificationGatewayOption {
	return func(g *NotificationGateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

func NewNotificationGateway(mailer Mailer, opts ...NotificationGatewayOption) *NotificationGateway {
	g := &NotificationGateway{
		mailer:  mailer,
		logger:  defLogger{},
		timeout: time.Second * 10,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	if g.mailer == nil {
		g.mailer = noopMailer{}
	}

	return g
}

// Dispatch delivers msg under the gateway timeout. The returned error is
// informational: callers that must not fail on delivery problems can ignore
// it, and most do.
func (g *NotificationGateway) Dispatch(ctx context.Context, msg MailMessage) error {
	if msg.To == "" {
		return goerrors.New("mail message missing recipient", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.mailer.Send(ctx, msg); err != nil {
		g.logger.Warn("mail delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
		return goerrors.Wrap(err, ErrDeliveryFailed.Category, ErrDeliveryFailed.Message).
			WithTextCode(ErrDeliveryFailed.TextCode)
	}

	g.logger.Debug("mail dispatched", "kind", msg.Kind, "to", msg.To)
	return nil
}

// DispatchAsync fires the delivery on its own goroutine with a detached
// deadline, for callers inside a request cycle that should not wait on the
// mail transport.
func (g *NotificationGateway) DispatchAsync(msg MailMessage) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
		defer cancel()
		_ = g.Dispatch(ctx, msg)
	}()
}

type noopMailer struct{}

func (noopMailer) Send(context.Context, MailMessage) error {
	return nil
}

// LoggingMailer writes deliveries to the logger instead of a transport.
// Useful in development and as a safe default in examples.
type LoggingMailer struct {
	Logger Logger
}

func (m LoggingMailer) Send(_ context.Context, msg MailMessage) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("mail", "kind", msg.Kind, "to", msg.To, "name", msg.Name, "book", msg.BookTitle)
	return nil
}
