package library

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// DefaultVerificationTTL is how long an emailed code stays redeemable.
const DefaultVerificationTTL = time.Minute * 10

type verificationEntry struct {
	code      string
	expiresAt time.Time
}

// VerificationService issues and redeems the 6-digit email verification
// codes. Codes live in process memory with a short TTL; losing them on
// restart only means the member requests a fresh code.
type VerificationService struct {
	codes  *xsync.MapOf[string, verificationEntry]
	users  Users
	mail   *NotificationGateway
	logger Logger
	ttl    time.Duration
	now    func() time.Time
}

// VerificationOption customizes service construction
type VerificationOption func(*VerificationService)

// WithVerificationTTL overrides the code lifetime
func WithVerificationTTL(ttl time.Duration) VerificationOption {
	return func(s *VerificationService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithVerificationClock injects a custom clock (useful for tests)
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *VerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithVerificationLogger overrides the logger
func WithVerificationLogger(logger Logger) VerificationOption {
	return func(s *VerificationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewVerificationService(users Users, mail *NotificationGateway, opts ...VerificationOption) *VerificationService {
	s := &VerificationService{
		codes:  xsync.NewMapOf[string, verificationEntry](),
		users:  users,
		mail:   mail,
		logger: defLogger{},
		ttl:    DefaultVerificationTTL,
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.mail == nil {
		s.mail = NewNotificationGateway(nil)
	}

	return s
}

// SendCode issues a fresh code for the email, replacing any outstanding one,
// and mails it. The code is stored before dispatch so a slow transport
// cannot lose a redeemable code.
func (s *VerificationService) SendCode(ctx context.Context, email, name string) error {
	if email == "" {
		return goerrors.New("email is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	code, err := generateVerificationCode()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate verification code")
	}

	s.codes.Store(email, verificationEntry{
		code:      code,
		expiresAt: s.now().Add(s.ttl),
	})

	return s.mail.Dispatch(ctx, MailMessage{
		Kind: MailKindVerificationCode,
		To:   email,
		Name: name,
		Code: code,
	})
}

// VerifyCode redeems a code. On success the code is consumed, the account's
// email flag is persisted, and a welcome mail goes out best-effort.
func (s *VerificationService) VerifyCode(ctx context.Context, email, code string) error {
	entry, ok := s.codes.Load(email)
	if !ok {
		return goerrors.New("no verification code issued", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if s.now().After(entry.expiresAt) {
		s.codes.Delete(email)
		return goerrors.New("verification code expired", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	if entry.code != code {
		return goerrors.New("verification code does not match", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	s.codes.Delete(email)

	user, err := s.users.GetByIdentifier(ctx, email)
	if err != nil {
		return err
	}

	if err := s.users.MarkEmailValidated(ctx, user.ID); err != nil {
		return err
	}

	_ = s.mail.Dispatch(ctx, MailMessage{
		Kind: MailKindWelcome,
		To:   user.Email,
		Name: user.FullName,
	})

	return nil
}

// Pending reports whether an unexpired code is outstanding for email.
func (s *VerificationService) Pending(email string) bool {
	entry, ok := s.codes.Load(email)
	if !ok {
		return false
	}
	return s.now().Before(entry.expiresAt)
}

func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
