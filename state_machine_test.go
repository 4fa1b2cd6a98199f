package library_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-library"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBorrowStateMachineApproveStampsLoanDates(t *testing.T) {
	repo := &MockBorrowRequests{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, library.LoanPeriodDays)

	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusPending,
	}

	repo.On("MarkBorrowedTx", mock.Anything, mock.Anything, record.ID, now, due).
		Return(nil).Once()

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineClock(func() time.Time { return now }))

	err := sm.Approve(context.Background(), nil, library.ActorRef{ID: "admin"}, record)
	require.NoError(t, err)
	assert.Equal(t, library.BorrowStatusBorrowed, record.Status)
	require.NotNil(t, record.IssueDate)
	require.NotNil(t, record.DueDate)
	assert.Equal(t, now, *record.IssueDate)
	assert.Equal(t, due, *record.DueDate)
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineApproveHonorsCustomLoanPeriod(t *testing.T) {
	repo := &MockBorrowRequests{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, 7)

	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusPending,
	}

	repo.On("MarkBorrowedTx", mock.Anything, mock.Anything, record.ID, now, due).
		Return(nil).Once()

	sm := library.NewBorrowStateMachine(repo,
		library.WithStateMachineClock(func() time.Time { return now }),
		library.WithLoanPeriod(7),
	)

	err := sm.Approve(context.Background(), nil, library.ActorRef{ID: "admin"}, record)
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineApproveRejectsNonPending(t *testing.T) {
	repo := &MockBorrowRequests{}
	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusBorrowed,
	}

	sm := library.NewBorrowStateMachine(repo)

	err := sm.Approve(context.Background(), nil, library.ActorRef{}, record)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrInvalidTransition)
	repo.AssertNotCalled(t, "MarkBorrowedTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBorrowStateMachineRejectsTerminalRecord(t *testing.T) {
	repo := &MockBorrowRequests{}
	returned := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	record := &library.BorrowRequest{
		ID:         uuid.New(),
		Status:     library.BorrowStatusReturned,
		ReturnDate: &returned,
	}

	sm := library.NewBorrowStateMachine(repo)

	err := sm.Approve(context.Background(), nil, library.ActorRef{}, record)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrTerminalState)

	err = sm.Return(context.Background(), nil, library.ActorRef{}, record)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrTerminalState)
}

func TestBorrowStateMachineReturnOnTime(t *testing.T) {
	repo := &MockBorrowRequests{}
	now := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	due := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)

	record := &library.BorrowRequest{
		ID:      uuid.New(),
		Status:  library.BorrowStatusBorrowed,
		DueDate: &due,
	}

	repo.On("MarkReturnedTx", mock.Anything, mock.Anything, record.ID, library.BorrowStatusReturned, now).
		Return(nil).Once()

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineClock(func() time.Time { return now }))

	err := sm.Return(context.Background(), nil, library.ActorRef{ID: "member"}, record)
	require.NoError(t, err)
	assert.Equal(t, library.BorrowStatusReturned, record.Status)
	require.NotNil(t, record.ReturnDate)
	assert.Equal(t, now, *record.ReturnDate)
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineReturnOnDueDateEveningIsOnTime(t *testing.T) {
	repo := &MockBorrowRequests{}
	due := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 12, 23, 59, 0, 0, time.UTC)

	record := &library.BorrowRequest{
		ID:      uuid.New(),
		Status:  library.BorrowStatusBorrowed,
		DueDate: &due,
	}

	repo.On("MarkReturnedTx", mock.Anything, mock.Anything, record.ID, library.BorrowStatusReturned, now).
		Return(nil).Once()

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineClock(func() time.Time { return now }))

	err := sm.Return(context.Background(), nil, library.ActorRef{}, record)
	require.NoError(t, err)
	assert.Equal(t, library.BorrowStatusReturned, record.Status)
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineReturnAfterDueDateIsLate(t *testing.T) {
	repo := &MockBorrowRequests{}
	due := time.Date(2025, 6, 12, 23, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 13, 0, 30, 0, 0, time.UTC)

	record := &library.BorrowRequest{
		ID:      uuid.New(),
		Status:  library.BorrowStatusOverdue,
		DueDate: &due,
	}

	repo.On("MarkReturnedTx", mock.Anything, mock.Anything, record.ID, library.BorrowStatusLateReturn, now).
		Return(nil).Once()

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineClock(func() time.Time { return now }))

	err := sm.Return(context.Background(), nil, library.ActorRef{}, record)
	require.NoError(t, err)
	assert.Equal(t, library.BorrowStatusLateReturn, record.Status)
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineReturnRejectsPending(t *testing.T) {
	repo := &MockBorrowRequests{}
	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusPending,
	}

	sm := library.NewBorrowStateMachine(repo)

	err := sm.Return(context.Background(), nil, library.ActorRef{}, record)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrNotReturnable)
	repo.AssertNotCalled(t, "MarkReturnedTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestBorrowStateMachineMarkOverdueFlipsAndRecordsActivity(t *testing.T) {
	repo := &MockBorrowRequests{}
	sink := &capturingSink{}
	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusBorrowed,
	}

	repo.On("MarkOverdue", mock.Anything, record.ID).Return(true, nil).Once()

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineActivitySink(sink))

	moved, err := sm.MarkOverdue(context.Background(), library.ActorRef{Type: "sweeper"}, record)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, library.BorrowStatusOverdue, record.Status)

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, library.ActivityEventBorrowOverdue, events[0].EventType)
	assert.Equal(t, library.BorrowStatusBorrowed, events[0].FromStatus)
	assert.Equal(t, library.BorrowStatusOverdue, events[0].ToStatus)
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineMarkOverdueRaceLoss(t *testing.T) {
	repo := &MockBorrowRequests{}
	sink := &capturingSink{}
	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusBorrowed,
	}

	// The request was returned between the sweep read and this write.
	repo.On("MarkOverdue", mock.Anything, record.ID).Return(false, nil).Once()

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineActivitySink(sink))

	moved, err := sm.MarkOverdue(context.Background(), library.ActorRef{Type: "sweeper"}, record)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, library.BorrowStatusBorrowed, record.Status)
	assert.Empty(t, sink.all())
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineCanTransition(t *testing.T) {
	sm := library.NewBorrowStateMachine(&MockBorrowRequests{})

	tests := []struct {
		name     string
		from     library.BorrowStatus
		to       library.BorrowStatus
		expected bool
	}{
		{"pending to borrowed", library.BorrowStatusPending, library.BorrowStatusBorrowed, true},
		{"pending to returned", library.BorrowStatusPending, library.BorrowStatusReturned, false},
		{"borrowed to returned", library.BorrowStatusBorrowed, library.BorrowStatusReturned, true},
		{"borrowed to late return", library.BorrowStatusBorrowed, library.BorrowStatusLateReturn, true},
		{"borrowed to overdue", library.BorrowStatusBorrowed, library.BorrowStatusOverdue, true},
		{"overdue to returned", library.BorrowStatusOverdue, library.BorrowStatusReturned, true},
		{"overdue to late return", library.BorrowStatusOverdue, library.BorrowStatusLateReturn, true},
		{"overdue to borrowed", library.BorrowStatusOverdue, library.BorrowStatusBorrowed, false},
		{"returned is terminal", library.BorrowStatusReturned, library.BorrowStatusBorrowed, false},
		{"late return is terminal", library.BorrowStatusLateReturn, library.BorrowStatusBorrowed, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sm.CanTransition(tt.from, tt.to))
		})
	}
}

func TestBorrowStateMachineResolveReturnStatus(t *testing.T) {
	sm := library.NewBorrowStateMachine(&MockBorrowRequests{})
	due := time.Date(2025, 6, 12, 17, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		dueDate    *time.Time
		returnedAt time.Time
		expected   library.BorrowStatus
	}{
		{"day before due", &due, time.Date(2025, 6, 11, 18, 0, 0, 0, time.UTC), library.BorrowStatusReturned},
		{"due day, later clock time", &due, time.Date(2025, 6, 12, 23, 59, 59, 0, time.UTC), library.BorrowStatusReturned},
		{"day after due", &due, time.Date(2025, 6, 13, 0, 0, 1, 0, time.UTC), library.BorrowStatusLateReturn},
		{"weeks after due", &due, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), library.BorrowStatusLateReturn},
		{"no due date recorded", nil, time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC), library.BorrowStatusReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := &library.BorrowRequest{
				ID:      uuid.New(),
				Status:  library.BorrowStatusBorrowed,
				DueDate: tt.dueDate,
			}
			assert.Equal(t, tt.expected, sm.ResolveReturnStatus(record, tt.returnedAt))
		})
	}
}

func TestBorrowStateMachineRunsHooksWithMetadata(t *testing.T) {
	repo := &MockBorrowRequests{}
	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusPending,
	}

	repo.On("MarkBorrowedTx", mock.Anything, mock.Anything, record.ID, mock.Anything, mock.Anything).
		Return(nil).Once()

	sm := library.NewBorrowStateMachine(repo)

	var beforeCalled, afterCalled bool
	var reasonSeen string
	var metadataSeen map[string]any

	before := func(ctx context.Context, tc library.TransitionContext) error {
		beforeCalled = true
		reasonSeen = tc.Meta.Reason
		metadataSeen = tc.Meta.Metadata
		return nil
	}
	after := func(ctx context.Context, tc library.TransitionContext) error {
		afterCalled = true
		return nil
	}

	err := sm.Approve(context.Background(), nil, library.ActorRef{ID: "admin"}, record,
		library.WithTransitionReason("front desk approval"),
		library.WithTransitionMetadata(map[string]any{"desk": "main"}),
		library.WithBeforeTransitionHook(before),
		library.WithAfterTransitionHook(after),
	)
	require.NoError(t, err)
	assert.True(t, beforeCalled)
	assert.True(t, afterCalled)
	assert.Equal(t, "front desk approval", reasonSeen)
	assert.Equal(t, "main", metadataSeen["desk"])
	repo.AssertExpectations(t)
}

func TestBorrowStateMachineBeforeHookFailureBlocksTransition(t *testing.T) {
	repo := &MockBorrowRequests{}
	record := &library.BorrowRequest{
		ID:     uuid.New(),
		Status: library.BorrowStatusPending,
	}

	hookErr := errors.New("audit ledger unavailable")
	handler := func(ctx context.Context, phase library.TransitionHookPhase, err error, tc library.TransitionContext) error {
		return err
	}

	sm := library.NewBorrowStateMachine(repo, library.WithStateMachineHookErrorHandler(handler))

	err := sm.Approve(context.Background(), nil, library.ActorRef{}, record,
		library.WithBeforeTransitionHook(func(ctx context.Context, tc library.TransitionContext) error {
			return hookErr
		}),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, hookErr)
	assert.Equal(t, library.BorrowStatusPending, record.Status)
	repo.AssertNotCalled(t, "MarkBorrowedTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
