package library

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// OverdueSweeper periodically walks the open loans and flips those past due
// to Overdue, mailing the member for each flip and for each loan due today.
// The sweep is idempotent: the guarded status update only moves loans still
// Borrowed, so a loan returned between the read and the write is skipped.
type OverdueSweeper struct {
	repo     RepositoryManager
	machine  BorrowStateMachine
	mail     *NotificationGateway
	logger   Logger
	interval time.Duration
	now      func() time.Time
}

// OverdueSweeperOption customizes sweeper construction
type OverdueSweeperOption func(*OverdueSweeper)

// WithSweepInterval overrides the default daily cadence
func WithSweepInterval(interval time.Duration) OverdueSweeperOption {
	return func(s *OverdueSweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepClock injects a custom clock (useful for tests)
func WithSweepClock(clock func() time.Time) OverdueSweeperOption {
	return func(s *OverdueSweeper) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSweepLogger overrides the logger
func WithSweepLogger(logger Logger) OverdueSweeperOption {
	return func(s *OverdueSweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSweepStateMachine overrides the lifecycle machine
func WithSweepStateMachine(sm BorrowStateMachine) OverdueSweeperOption {
	return func(s *OverdueSweeper) {
		if sm != nil {
			s.machine = sm
		}
	}
}

// WithSweepNotifications sets the gateway used for reminder mails
func WithSweepNotifications(gateway *NotificationGateway) OverdueSweeperOption {
	return func(s *OverdueSweeper) {
		if gateway != nil {
			s.mail = gateway
		}
	}
}

func NewOverdueSweeper(repo RepositoryManager, opts ...OverdueSweeperOption) *OverdueSweeper {
	s := &OverdueSweeper{
		repo:     repo,
		logger:   defLogger{},
		interval: time.Hour * 24,
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.machine == nil {
		s.machine = NewBorrowStateMachine(repo.BorrowRequests(), WithStateMachineClock(s.now))
	}

	if s.mail == nil {
		s.mail = NewNotificationGateway(nil)
	}

	return s
}

// Start runs the sweep loop until ctx is cancelled. It sweeps once
// immediately, then on every tick.
func (s *OverdueSweeper) Start(ctx context.Context) {
	s.logger.Info("overdue sweeper starting", "interval", s.interval.String())

	if err := s.Sweep(ctx); err != nil {
		s.logger.Error("overdue sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("overdue sweeper stopping")
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("overdue sweep failed", "error", err)
			}
		}
	}
}

// Sweep performs a single pass. A failure on one loan is logged and does not
// stop the rest of the pass; only the scan query itself can fail the sweep.
func (s *OverdueSweeper) Sweep(ctx context.Context) error {
	loans, err := s.repo.BorrowRequests().ListOpenLoans(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "overdue scan failed")
	}

	today := s.now()
	flipped := 0
	reminded := 0

	for _, loan := range loans {
		if loan.DueDate == nil {
			continue
		}

		switch {
		case DateAfter(today, *loan.DueDate):
			moved, err := s.machine.MarkOverdue(ctx, ActorRef{Type: "sweeper"}, loan)
			if err != nil {
				s.logger.Error("failed to mark loan overdue", "request_id", loan.ID.String(), "error", err)
				continue
			}
			if !moved {
				continue
			}
			flipped++
			_ = s.mail.Dispatch(ctx, MailMessage{
				Kind:      MailKindOverdueReminder,
				To:        loan.MemberEmail,
				Name:      loan.MemberName,
				BookTitle: loan.BookTitle,
				DueDate:   loan.DueDate,
			})
		case SameDate(today, *loan.DueDate):
			reminded++
			_ = s.mail.Dispatch(ctx, MailMessage{
				Kind:      MailKindDueReminder,
				To:        loan.MemberEmail,
				Name:      loan.MemberName,
				BookTitle: loan.BookTitle,
				DueDate:   loan.DueDate,
			})
		}
	}

	s.logger.Info("overdue sweep complete", "scanned", len(loans), "overdue", flipped, "due_today", reminded)
	return nil
}
