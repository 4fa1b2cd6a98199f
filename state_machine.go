package library

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// ActorRef identifies who/what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

// TransitionMetadata captures extra context for a transition.
type TransitionMetadata struct {
	Reason   string
	Metadata map[string]any
}

// TransitionContext is passed into hooks for additional processing.
type TransitionContext struct {
	Actor   ActorRef
	Request *BorrowRequest
	From    BorrowStatus
	To      BorrowStatus
	Meta    TransitionMetadata
}

// TransitionHook is executed before or after a transition.
type TransitionHook func(ctx context.Context, tc TransitionContext) error

// TransitionHookPhase identifies whether a hook ran before or after persistence.
type TransitionHookPhase string

const (
	HookPhaseBefore TransitionHookPhase = "before_transition"
	HookPhaseAfter  TransitionHookPhase = "after_transition"
)

// TransitionOption customizes state machine behavior.
type TransitionOption func(*transitionOptions)

// BorrowStateMachine drives the lending lifecycle. It owns the legal
// transition set and the due-date arithmetic; persistence goes through the
// guarded repository updates so a transition that raced another writer fails
// here instead of overwriting newer state.
type BorrowStateMachine interface {
	Approve(ctx context.Context, tx bun.IDB, actor ActorRef, record *BorrowRequest, opts ...TransitionOption) error
	Return(ctx context.Context, tx bun.IDB, actor ActorRef, record *BorrowRequest, opts ...TransitionOption) error
	MarkOverdue(ctx context.Context, actor ActorRef, record *BorrowRequest) (bool, error)
	CanTransition(from, to BorrowStatus) bool
	CurrentStatus(record *BorrowRequest) BorrowStatus
	ResolveReturnStatus(record *BorrowRequest, returnedAt time.Time) BorrowStatus
}

// HookErrorHandler handles errors surfaced by transition hooks.
type HookErrorHandler func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*borrowStateMachine)

// WithStateMachineClock injects a custom clock (useful for tests).
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *borrowStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithStateMachineActivitySink sets the ActivitySink used to publish lifecycle events.
func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *borrowStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithStateMachineHookErrorHandler overrides how hook failures are propagated.
// Provide a handler to convert hook errors into domain-specific responses,
// otherwise the default handler panics with guidance for developers.
func WithStateMachineHookErrorHandler(handler HookErrorHandler) StateMachineOption {
	return func(sm *borrowStateMachine) {
		if handler != nil {
			sm.hookErrorHandler = handler
		}
	}
}

// WithStateMachineLogger overrides the logger used for sink failures.
func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *borrowStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithLoanPeriod overrides the default loan period in days.
func WithLoanPeriod(days int) StateMachineOption {
	return func(sm *borrowStateMachine) {
		if days > 0 {
			sm.loanPeriodDays = days
		}
	}
}

// WithTransitionReason sets the human-readable reason for the transition.
func WithTransitionReason(reason string) TransitionOption {
	return func(opts *transitionOptions) {
		opts.metadata.Reason = reason
	}
}

// WithTransitionMetadata merges metadata into the transition context.
func WithTransitionMetadata(metadata map[string]any) TransitionOption {
	return func(opts *transitionOptions) {
		if len(metadata) == 0 {
			return
		}
		if opts.metadata.Metadata == nil {
			opts.metadata.Metadata = make(map[string]any, len(metadata))
		}
		for k, v := range metadata {
			opts.metadata.Metadata[k] = v
		}
	}
}

// WithBeforeTransitionHook adds a hook executed before the status update.
func WithBeforeTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.beforeHooks = append(opts.beforeHooks, h)
		}
	}
}

// WithAfterTransitionHook adds a hook executed after the status update succeeds.
func WithAfterTransitionHook(h TransitionHook) TransitionOption {
	return func(opts *transitionOptions) {
		if h != nil {
			opts.afterHooks = append(opts.afterHooks, h)
		}
	}
}

// NewBorrowStateMachine returns the default implementation backed by the provided repository.
func NewBorrowStateMachine(requests BorrowRequests, opts ...StateMachineOption) BorrowStateMachine {
	sm := &borrowStateMachine{
		requests: requests,
		transitions: map[BorrowStatus]map[BorrowStatus]struct{}{
			BorrowStatusPending: {
				BorrowStatusBorrowed: {},
			},
			BorrowStatusBorrowed: {
				BorrowStatusReturned:   {},
				BorrowStatusLateReturn: {},
				BorrowStatusOverdue:    {},
			},
			BorrowStatusOverdue: {
				BorrowStatusReturned:   {},
				BorrowStatusLateReturn: {},
			},
		},
		loanPeriodDays: LoanPeriodDays,
		now:            time.Now,
		activitySink:   noopActivitySink{},
		logger:         defLogger{},
		hookErrorHandler: func(ctx context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
			return defaultHookErrorHandler(ctx, phase, err, tc)
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

type borrowStateMachine struct {
	requests         BorrowRequests
	transitions      map[BorrowStatus]map[BorrowStatus]struct{}
	loanPeriodDays   int
	now              func() time.Time
	activitySink     ActivitySink
	logger           Logger
	hookErrorHandler HookErrorHandler
}

type transitionOptions struct {
	metadata    TransitionMetadata
	beforeHooks []TransitionHook
	afterHooks  []TransitionHook
}

func (o *transitionOptions) cloneMetadata() TransitionMetadata {
	var cloned map[string]any
	if len(o.metadata.Metadata) > 0 {
		cloned = make(map[string]any, len(o.metadata.Metadata))
		for k, v := range o.metadata.Metadata {
			cloned[k] = v
		}
	}

	return TransitionMetadata{
		Reason:   o.metadata.Reason,
		Metadata: cloned,
	}
}

// Approve moves a Pending request to Borrowed, stamping the issue date at now
// and the due date a loan period later.
func (sm *borrowStateMachine) Approve(ctx context.Context, tx bun.IDB, actor ActorRef, record *BorrowRequest, opts ...TransitionOption) error {
	if err := sm.checkRecord(record, BorrowStatusBorrowed); err != nil {
		return err
	}

	from := record.Status
	if !sm.CanTransition(from, BorrowStatusBorrowed) {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"from": from,
			"to":   BorrowStatusBorrowed,
		})
	}

	options := sm.buildTransitionOptions(opts...)
	ctxData := TransitionContext{
		Actor:   actor,
		Request: record,
		From:    from,
		To:      BorrowStatusBorrowed,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return err
	}

	issueDate := sm.now()
	dueDate := issueDate.AddDate(0, 0, sm.loanPeriodDays)

	if err := sm.requests.MarkBorrowedTx(ctx, tx, record.ID, issueDate, dueDate); err != nil {
		return err
	}

	record.Status = BorrowStatusBorrowed
	record.IssueDate = &issueDate
	record.DueDate = &dueDate

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventBorrowApproved,
		Actor:      actor,
		RequestID:  record.ID.String(),
		FromStatus: from,
		ToStatus:   BorrowStatusBorrowed,
		Metadata:   sm.transitionMetadata(ctxData.Meta),
	})

	return nil
}

// Return closes an open loan. The final status depends on the calendar date
// of the return against the due date: same day or earlier is Returned, any
// later day is a late return. Clock-time differences within the due day do
// not count as late.
func (sm *borrowStateMachine) Return(ctx context.Context, tx bun.IDB, actor ActorRef, record *BorrowRequest, opts ...TransitionOption) error {
	if err := sm.checkRecord(record, BorrowStatusReturned); err != nil {
		return err
	}

	from := record.Status
	if !record.IsReturnable() {
		return ErrNotReturnable.WithMetadata(map[string]any{
			"request_id": record.ID.String(),
			"status":     from,
		})
	}

	options := sm.buildTransitionOptions(opts...)
	returnedAt := sm.now()
	target := sm.ResolveReturnStatus(record, returnedAt)

	ctxData := TransitionContext{
		Actor:   actor,
		Request: record,
		From:    from,
		To:      target,
		Meta:    options.cloneMetadata(),
	}

	if err := sm.runHooks(ctx, options.beforeHooks, ctxData, HookPhaseBefore); err != nil {
		return err
	}

	if err := sm.requests.MarkReturnedTx(ctx, tx, record.ID, target, returnedAt); err != nil {
		return err
	}

	record.Status = target
	record.ReturnDate = &returnedAt

	if err := sm.runHooks(ctx, options.afterHooks, ctxData, HookPhaseAfter); err != nil {
		return err
	}

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventBorrowReturned,
		Actor:      actor,
		RequestID:  record.ID.String(),
		FromStatus: from,
		ToStatus:   target,
		Metadata:   sm.transitionMetadata(ctxData.Meta),
	})

	return nil
}

// MarkOverdue flips a Borrowed request whose due date has passed. Returns
// false without error when the request moved since it was read; the sweep
// treats that as already handled.
func (sm *borrowStateMachine) MarkOverdue(ctx context.Context, actor ActorRef, record *BorrowRequest) (bool, error) {
	if record == nil {
		return false, ErrInvalidTransition.WithMetadata(map[string]any{
			"reason": "request is nil",
		})
	}

	moved, err := sm.requests.MarkOverdue(ctx, record.ID)
	if err != nil {
		return false, err
	}

	if !moved {
		return false, nil
	}

	from := record.Status
	record.Status = BorrowStatusOverdue

	sm.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventBorrowOverdue,
		Actor:      actor,
		RequestID:  record.ID.String(),
		FromStatus: from,
		ToStatus:   BorrowStatusOverdue,
	})

	return true, nil
}

func (sm *borrowStateMachine) CanTransition(from, to BorrowStatus) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *borrowStateMachine) CurrentStatus(record *BorrowRequest) BorrowStatus {
	if record == nil {
		return ""
	}
	record.EnsureStatus()
	return record.Status
}

// ResolveReturnStatus compares calendar dates only.
func (sm *borrowStateMachine) ResolveReturnStatus(record *BorrowRequest, returnedAt time.Time) BorrowStatus {
	if record == nil || record.DueDate == nil {
		return BorrowStatusReturned
	}

	if DateAfter(returnedAt, *record.DueDate) {
		return BorrowStatusLateReturn
	}

	return BorrowStatusReturned
}

func (sm *borrowStateMachine) checkRecord(record *BorrowRequest, target BorrowStatus) error {
	if record == nil {
		return ErrInvalidTransition.WithMetadata(map[string]any{
			"target": target,
			"reason": "request is nil",
		})
	}

	record.EnsureStatus()

	if record.IsTerminal() {
		return ErrTerminalState.WithMetadata(map[string]any{
			"request_id": record.ID.String(),
			"from":       record.Status,
			"to":         target,
		})
	}

	return nil
}

func (sm *borrowStateMachine) runHooks(ctx context.Context, hooks []TransitionHook, data TransitionContext, phase TransitionHookPhase) error {
	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		if err := hook(ctx, data); err != nil {
			if sm.hookErrorHandler == nil {
				return err
			}
			return sm.hookErrorHandler(ctx, phase, err, data)
		}
	}
	return nil
}

func (sm *borrowStateMachine) buildTransitionOptions(opts ...TransitionOption) *transitionOptions {
	options := &transitionOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	return options
}

func defaultHookErrorHandler(_ context.Context, phase TransitionHookPhase, err error, tc TransitionContext) error {
	panic(fmt.Sprintf(
		"library: %s transition hook failed: %v\nRequestID: %s from=%s to=%s reason=%s\nProvide library.WithStateMachineHookErrorHandler to customize error handling in production.",
		phase,
		err,
		tc.Request.ID,
		tc.From,
		tc.To,
		tc.Meta.Reason,
	))
}

func (sm *borrowStateMachine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.Actor == (ActorRef{}) {
		event.Actor = ActorRef{Type: "system"}
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = sm.now()
	}

	sink := normalizeActivitySink(sm.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		sm.logger.Warn("state machine activity sink error: %v", err)
	}
}

func (sm *borrowStateMachine) transitionMetadata(meta TransitionMetadata) map[string]any {
	if meta.Reason == "" && len(meta.Metadata) == 0 {
		return nil
	}

	result := map[string]any{}
	if meta.Reason != "" {
		result["reason"] = meta.Reason
	}
	for k, v := range meta.Metadata {
		result[k] = v
	}
	return result
}
