package library_test

import (
	"context"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-library"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBooksCreateStartsFullyShelved(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "The Go Programming Language", 3)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)

	found, err := repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, found.AvailableCopies)
	assert.True(t, found.IsAvailable())
	assert.Equal(t, 0, found.BorrowedCopies())
}

func TestBooksDecrementAvailableStopsAtZero(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Dune", 1)

	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))

	err := repo.Books().DecrementAvailable(ctx, book.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrBookNotAvailable)

	found, err := repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 0, found.AvailableCopies)
	assert.False(t, found.IsAvailable())
}

func TestBooksDecrementAvailableUnknownBook(t *testing.T) {
	repo, _ := setupRepoManager(t)

	err := repo.Books().DecrementAvailable(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestBooksIncrementAvailableCapsAtTotal(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Neuromancer", 2)

	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))
	require.NoError(t, repo.Books().IncrementAvailable(ctx, book.ID))

	// Already flush with total: a further increment is a reconciled no-op.
	require.NoError(t, repo.Books().IncrementAvailable(ctx, book.ID))

	found, err := repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 2, found.AvailableCopies)
	assert.Equal(t, 2, found.TotalCopies)
}

func TestBooksResizeCopies(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Snow Crash", 3)
	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))

	// One copy out, grow the pool to five.
	require.NoError(t, repo.Books().ResizeCopies(ctx, book.ID, 5))

	found, err := repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 5, found.TotalCopies)
	assert.Equal(t, 4, found.AvailableCopies)
	assert.Equal(t, 1, found.BorrowedCopies())

	// Shrink to exactly the borrowed count leaves nothing on the shelf.
	require.NoError(t, repo.Books().ResizeCopies(ctx, book.ID, 1))

	found, err = repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, found.TotalCopies)
	assert.Equal(t, 0, found.AvailableCopies)

	// Below the borrowed count is rejected.
	err = repo.Books().ResizeCopies(ctx, book.ID, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrInvalidResize)

	err = repo.Books().ResizeCopies(ctx, book.ID, -1)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrInvalidResize)
}

func TestBooksUpdateMetadataKeepsResizedCounters(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Snow Crash", 3)
	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))

	// An admin edit: the record in hand predates the resize.
	record, err := repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 3, record.TotalCopies)
	assert.Equal(t, 2, record.AvailableCopies)

	require.NoError(t, repo.Books().ResizeCopies(ctx, book.ID, 5))

	record.Title = "Snow Crash (2nd printing)"
	updated, err := repo.Books().UpdateMetadata(ctx, record)
	require.NoError(t, err)

	// The stale counters in the record never reach the ledger.
	assert.Equal(t, "Snow Crash (2nd printing)", updated.Title)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 4, updated.AvailableCopies)
}

func TestBooksUpdateMetadataUnknownBook(t *testing.T) {
	repo, _ := setupRepoManager(t)

	_, err := repo.Books().UpdateMetadata(context.Background(), &library.Book{ID: uuid.New()})
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestBooksUpdateRatingLeavesLedgerAlone(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Hyperion", 2)

	record, err := repo.Books().GetByID(ctx, book.ID.String())
	require.NoError(t, err)

	// A loan approval lands between the read and the rating write.
	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))

	require.True(t, record.Rate("member-1", 4))
	updated, err := repo.Books().UpdateRating(ctx, record)
	require.NoError(t, err)

	assert.Equal(t, 4.0, updated.Rating)
	assert.Len(t, updated.RatedBy, 1)
	assert.Equal(t, 1, updated.AvailableCopies)
	assert.Equal(t, 2, updated.TotalCopies)
}

func TestBooksDeleteGuarded(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Hyperion", 2)
	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))

	err := repo.Books().DeleteGuarded(ctx, book.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, library.ErrHasActiveLoans)

	require.NoError(t, repo.Books().IncrementAvailable(ctx, book.ID))
	require.NoError(t, repo.Books().DeleteGuarded(ctx, book.ID))

	_, err = repo.Books().GetByID(ctx, book.ID.String())
	require.Error(t, err)
	assert.True(t, goerrors.IsNotFound(err))
}

func TestBooksCheckAvailable(t *testing.T) {
	repo, _ := setupRepoManager(t)
	ctx := context.Background()

	book := seedBook(t, repo, "Foundation", 1)

	available, err := repo.Books().CheckAvailable(ctx, book.ID)
	require.NoError(t, err)
	assert.True(t, available)

	require.NoError(t, repo.Books().DecrementAvailable(ctx, book.ID))

	available, err = repo.Books().CheckAvailable(ctx, book.ID)
	require.NoError(t, err)
	assert.False(t, available)
}

func TestBooksList(t *testing.T) {
	repo, _ := setupRepoManager(t)

	seedBook(t, repo, "A Memory Called Empire", 1)
	seedBook(t, repo, "A Desolation Called Peace", 2)

	books, err := repo.Books().ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, books, 2)
}
