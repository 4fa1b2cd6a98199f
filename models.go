package library

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the member's role
type UserRole = string

const (
	// RoleGuest is a guest role (ie. browse the catalog)
	RoleGuest UserRole = "guest"
	// RoleMember is a registered member (i.e. browse, borrow)
	RoleMember UserRole = "member"
	// RoleAdmin is a librarian role (i.e. browse, borrow, manage catalog)
	RoleAdmin UserRole = "admin"
	// RoleOwner is a full administrative role (i.e. everything, incl. delete)
	RoleOwner UserRole = "owner"
)

// AccountStatus is the admin-review state of a member registration
type AccountStatus = string

const (
	// AccountStatusPending means the registration awaits admin review
	AccountStatusPending AccountStatus = "Verification Pending"
	// AccountStatusVerified means an admin approved the registration
	AccountStatusVerified AccountStatus = "Verified"
	// AccountStatusDenied means an admin rejected the registration
	AccountStatusDenied AccountStatus = "Denied"
)

// User is the library member model
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID     `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           UserRole      `bun:"user_role,notnull" json:"user_role,omitempty"`
	FullName       string        `bun:"full_name,notnull" json:"full_name,omitempty"`
	Email          string        `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string        `bun:"phone_number" json:"phone_number,omitempty"`
	UniversityID   string        `bun:"university_id" json:"university_id,omitempty"`
	PasswordHash   string        `bun:"password_hash" json:"password_hash,omitempty"`
	AccountStatus  AccountStatus `bun:"account_status,notnull" json:"account_status,omitempty"`
	EmailValidated bool          `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	BorrowedCount  int           `bun:"borrowed_count" json:"borrowed_count,omitempty"`
	RegisteredAt   *time.Time    `bun:"registered_at,nullzero" json:"registered_at,omitempty"`
	CreatedAt      *time.Time    `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt      *time.Time    `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureStatus applies the default account status for new records
func (u *User) EnsureStatus() {
	if u.AccountStatus == "" {
		u.AccountStatus = AccountStatusPending
	}
}

// CanBorrow reports whether the member may create borrow requests
func (u *User) CanBorrow() bool {
	return u.AccountStatus == AccountStatusVerified
}

// Book is a catalog title with a fixed pool of lending copies
type Book struct {
	bun.BaseModel   `bun:"table:books,alias:bk"`
	ID              uuid.UUID      `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Title           string         `bun:"title,notnull" json:"title,omitempty"`
	Author          string         `bun:"author,notnull" json:"author,omitempty"`
	Genre           string         `bun:"genre" json:"genre,omitempty"`
	Description     string         `bun:"description" json:"description,omitempty"`
	Summary         string         `bun:"summary" json:"summary,omitempty"`
	Cover           string         `bun:"cover" json:"cover,omitempty"`
	Color           string         `bun:"color" json:"color,omitempty"`
	TotalCopies     int            `bun:"total_copies,notnull" json:"total_copies"`
	AvailableCopies int            `bun:"available_copies,notnull" json:"available_copies"`
	Rating          float64        `bun:"rating" json:"rating,omitempty"`
	RatedBy         map[string]int `bun:"rated_by" json:"rated_by,omitempty"`
	CreatedAt       *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt       *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt       *time.Time     `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// BorrowedCopies is the number of copies currently on loan
func (b *Book) BorrowedCopies() int {
	return b.TotalCopies - b.AvailableCopies
}

// IsAvailable reports whether at least one copy can be borrowed
func (b *Book) IsAvailable() bool {
	return b.AvailableCopies > 0
}

// Rate records a member's rating and recomputes the average.
// Each member rates a title at most once.
func (b *Book) Rate(memberID string, rating int) bool {
	if b.RatedBy == nil {
		b.RatedBy = map[string]int{}
	}
	if _, ok := b.RatedBy[memberID]; ok {
		return false
	}
	b.RatedBy[memberID] = rating

	total := 0
	for _, r := range b.RatedBy {
		total += r
	}
	b.Rating = float64(total) / float64(len(b.RatedBy))
	return true
}

// BorrowStatus is the lifecycle state of a borrow request
type BorrowStatus string

const (
	// BorrowStatusPending is a request awaiting librarian approval
	BorrowStatusPending BorrowStatus = "Pending"
	// BorrowStatusBorrowed means the copy was issued to the member
	BorrowStatusBorrowed BorrowStatus = "Borrowed"
	// BorrowStatusReturned means the copy came back on or before the due date
	BorrowStatusReturned BorrowStatus = "Returned"
	// BorrowStatusLateReturn means the copy came back after the due date
	BorrowStatusLateReturn BorrowStatus = "Late Return"
	// BorrowStatusOverdue means the due date passed with the copy still out
	BorrowStatusOverdue BorrowStatus = "Overdue"
)

// LoanPeriodDays is the lending window applied at approval time
const LoanPeriodDays = 14

// BorrowRequest is a single lending transaction from request to return.
// Book title and member name/email are denormalized at creation time so the
// overdue sweep can address reminders without joining.
type BorrowRequest struct {
	bun.BaseModel `bun:"table:borrow_requests,alias:breq"`
	ID            uuid.UUID    `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	BookID        uuid.UUID    `bun:"book_id,notnull,type:uuid" json:"book_id,omitempty"`
	Book          *Book        `bun:"rel:belongs-to,join:book_id=id" json:"book,omitempty"`
	MemberID      uuid.UUID    `bun:"member_id,notnull,type:uuid" json:"member_id,omitempty"`
	Member        *User        `bun:"rel:belongs-to,join:member_id=id" json:"member,omitempty"`
	BookTitle     string       `bun:"book_title" json:"book_title,omitempty"`
	MemberName    string       `bun:"member_name" json:"member_name,omitempty"`
	MemberEmail   string       `bun:"member_email" json:"member_email,omitempty"`
	Status        BorrowStatus `bun:"status,notnull" json:"status,omitempty"`
	RequestDate   *time.Time   `bun:"request_date,nullzero" json:"request_date,omitempty"`
	IssueDate     *time.Time   `bun:"issue_date,nullzero" json:"issue_date,omitempty"`
	DueDate       *time.Time   `bun:"due_date,nullzero" json:"due_date,omitempty"`
	ReturnDate    *time.Time   `bun:"return_date,nullzero" json:"return_date,omitempty"`
	CreatedAt     *time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time   `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// EnsureStatus applies the default status for new records
func (r *BorrowRequest) EnsureStatus() {
	if r.Status == "" {
		r.Status = BorrowStatusPending
	}
}

// IsTerminal reports whether the request can never transition again.
// A request is terminal once its return date is recorded.
func (r *BorrowRequest) IsTerminal() bool {
	return r.ReturnDate != nil
}

// IsReturnable reports whether a return may be recorded for the request
func (r *BorrowRequest) IsReturnable() bool {
	return !r.IsTerminal() &&
		(r.Status == BorrowStatusBorrowed || r.Status == BorrowStatusOverdue)
}
