package library

import (
	"testing"
	"time"
)

func TestUserEnsureStatusDefaultsToPendingReview(t *testing.T) {
	u := &User{}

	u.EnsureStatus()

	if u.AccountStatus != AccountStatusPending {
		t.Fatalf("expected default status %q, got %q", AccountStatusPending, u.AccountStatus)
	}
}

func TestUserCanBorrow(t *testing.T) {
	cases := []struct {
		status   AccountStatus
		expected bool
	}{
		{AccountStatusVerified, true},
		{AccountStatusPending, false},
		{AccountStatusDenied, false},
	}

	for _, tc := range cases {
		user := &User{AccountStatus: tc.status}
		if got := user.CanBorrow(); got != tc.expected {
			t.Fatalf("CanBorrow returned %t for status %q, expected %t", got, tc.status, tc.expected)
		}
	}
}

func TestBookAvailabilityHelpers(t *testing.T) {
	book := &Book{TotalCopies: 5, AvailableCopies: 2}

	if !book.IsAvailable() {
		t.Fatal("expected book with free copies to be available")
	}
	if got := book.BorrowedCopies(); got != 3 {
		t.Fatalf("expected 3 borrowed copies, got %d", got)
	}

	book.AvailableCopies = 0
	if book.IsAvailable() {
		t.Fatal("expected exhausted book to be unavailable")
	}
}

func TestBookRate(t *testing.T) {
	book := &Book{}

	if !book.Rate("member-1", 4) {
		t.Fatal("first rating should be accepted")
	}
	if !book.Rate("member-2", 2) {
		t.Fatal("second member's rating should be accepted")
	}
	if book.Rate("member-1", 5) {
		t.Fatal("repeat rating by the same member should be rejected")
	}

	if book.Rating != 3.0 {
		t.Fatalf("expected average rating 3.0, got %v", book.Rating)
	}
	if len(book.RatedBy) != 2 {
		t.Fatalf("expected 2 raters, got %d", len(book.RatedBy))
	}
}

func TestBorrowRequestEnsureStatusDefaultsToPending(t *testing.T) {
	r := &BorrowRequest{}

	r.EnsureStatus()

	if r.Status != BorrowStatusPending {
		t.Fatalf("expected default status %q, got %q", BorrowStatusPending, r.Status)
	}
}

func TestBorrowRequestLifecycleHelpers(t *testing.T) {
	now := time.Now()

	cases := []struct {
		name       string
		status     BorrowStatus
		returnDate *time.Time
		terminal   bool
		returnable bool
	}{
		{"pending", BorrowStatusPending, nil, false, false},
		{"borrowed", BorrowStatusBorrowed, nil, false, true},
		{"overdue", BorrowStatusOverdue, nil, false, true},
		{"returned", BorrowStatusReturned, &now, true, false},
		{"late return", BorrowStatusLateReturn, &now, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &BorrowRequest{Status: tc.status, ReturnDate: tc.returnDate}
			if got := r.IsTerminal(); got != tc.terminal {
				t.Fatalf("IsTerminal returned %t, expected %t", got, tc.terminal)
			}
			if got := r.IsReturnable(); got != tc.returnable {
				t.Fatalf("IsReturnable returned %t, expected %t", got, tc.returnable)
			}
		})
	}
}
