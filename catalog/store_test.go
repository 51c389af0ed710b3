package catalog_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AntonStoeckl/library-lending-go/catalog"
	"github.com/AntonStoeckl/library-lending-go/domain"
)

func Test_Add_SetsAvailableToTotal(t *testing.T) {
	// arrange
	store := givenStore(t)
	book := aBook("b-1", 3)
	book.AvailableCopies = 99

	// act
	added, err := store.Add(context.Background(), book)

	// assert
	require.NoError(t, err)
	assert.Equal(t, 3, added.AvailableCopies)
	stored, err := store.Get(context.Background(), "b-1")
	require.NoError(t, err)
	assert.Equal(t, added, stored)
}

func Test_Add_RejectsMissingRequiredFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*catalog.Book)
	}{
		{"id", func(b *catalog.Book) { b.ID = "" }},
		{"title", func(b *catalog.Book) { b.Title = "" }},
		{"author", func(b *catalog.Book) { b.Author = "" }},
		{"isbn", func(b *catalog.Book) { b.ISBN = "" }},
		{"negative copies", func(b *catalog.Book) { b.TotalCopies = -1 }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := givenStore(t)
			book := aBook("b-1", 1)
			tc.mutate(&book)

			_, err := store.Add(context.Background(), book)

			assert.ErrorIs(t, err, domain.ErrInvalidBook)
			assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
		})
	}
}

func Test_Add_RejectsDuplicateID(t *testing.T) {
	store := givenStore(t, aBook("b-1", 1))

	_, err := store.Add(context.Background(), aBook("b-1", 2))

	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func Test_Update_AppliesCopyDelta(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t, aBook("b-1", 3))
	reserved, err := store.TryReserveCopy(ctx, "b-1")
	require.NoError(t, err)
	require.True(t, reserved)

	// act
	update := aBook("b-1", 5)
	update.Title = "Second Edition"
	updated, err := store.Update(ctx, update)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "Second Edition", updated.Title)
	assert.Equal(t, 5, updated.TotalCopies)
	assert.Equal(t, 4, updated.AvailableCopies)
}

func Test_Update_RejectsShrinkingBelowCopiesOnLoan(t *testing.T) {
	ctx := context.Background()
	store := givenStore(t, aBook("b-1", 2))
	_, _ = store.TryReserveCopy(ctx, "b-1")
	_, _ = store.TryReserveCopy(ctx, "b-1")

	_, err := store.Update(ctx, aBook("b-1", 1))

	assert.ErrorIs(t, err, domain.ErrInvalidBook)
}

func Test_Update_Unknown_NotFound(t *testing.T) {
	store := givenStore(t)

	_, err := store.Update(context.Background(), aBook("nope", 1))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func Test_Remove(t *testing.T) {
	ctx := context.Background()
	store := givenStore(t, aBook("b-1", 1))

	require.NoError(t, store.Remove(ctx, "b-1"))

	_, err := store.Get(ctx, "b-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Remove(ctx, "b-1"), domain.ErrNotFound)
}

func Test_Find(t *testing.T) {
	// arrange
	ctx := context.Background()
	dune := aBook("b-1", 1)
	dune.Title, dune.Author, dune.Category = "Dune", "Frank Herbert", "scifi"
	emma := aBook("b-2", 1)
	emma.Title, emma.Author, emma.Category = "Emma", "Jane Austen", "classic"
	children := aBook("b-3", 1)
	children.Title, children.Author, children.Category = "Children of Dune", "Frank Herbert", "scifi"
	store := givenStore(t, dune, emma, children)

	// act
	byTitle, titleErr := store.FindByTitle(ctx, "dune")
	byAuthor, authorErr := store.FindByAuthor(ctx, "AUSTEN")
	byCategory, categoryErr := store.FindByCategory(ctx, "scifi")
	byCategoryCase, _ := store.FindByCategory(ctx, "SciFi")
	all, allErr := store.ListAll(ctx)

	// assert
	require.NoError(t, titleErr)
	require.NoError(t, authorErr)
	require.NoError(t, categoryErr)
	require.NoError(t, allErr)
	assert.Equal(t, []string{"b-1", "b-3"}, ids(byTitle))
	assert.Equal(t, []string{"b-2"}, ids(byAuthor))
	assert.Equal(t, []string{"b-1", "b-3"}, ids(byCategory))
	assert.Empty(t, byCategoryCase)
	assert.Equal(t, []string{"b-1", "b-2", "b-3"}, ids(all))
}

func Test_TryReserveCopy_NeverGoesNegative(t *testing.T) {
	ctx := context.Background()
	store := givenStore(t, aBook("b-1", 1))

	first, err1 := store.TryReserveCopy(ctx, "b-1")
	second, err2 := store.TryReserveCopy(ctx, "b-1")

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.True(t, first)
	assert.False(t, second)
	book, _ := store.Get(ctx, "b-1")
	assert.Equal(t, 0, book.AvailableCopies)
}

func Test_TryReserveCopy_Concurrent_ExactlyTotalWinners(t *testing.T) {
	// arrange
	ctx := context.Background()
	store := givenStore(t, aBook("b-1", 3))
	var wins int32
	var wg sync.WaitGroup

	// act
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := store.TryReserveCopy(ctx, "b-1"); err == nil && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	// assert
	assert.Equal(t, int32(3), wins)
	book, _ := store.Get(ctx, "b-1")
	assert.Equal(t, 0, book.AvailableCopies)
}

func Test_ReleaseCopy_SaturatesAtTotal(t *testing.T) {
	ctx := context.Background()
	store := givenStore(t, aBook("b-1", 2))
	_, _ = store.TryReserveCopy(ctx, "b-1")

	require.NoError(t, store.ReleaseCopy(ctx, "b-1"))
	require.NoError(t, store.ReleaseCopy(ctx, "b-1"))

	book, _ := store.Get(ctx, "b-1")
	assert.Equal(t, 2, book.AvailableCopies)
	assert.ErrorIs(t, store.ReleaseCopy(ctx, "nope"), domain.ErrNotFound)
}

func Test_Restore_RejectsInconsistentCopies(t *testing.T) {
	store := givenStore(t, aBook("b-1", 1))
	broken := aBook("b-2", 1)
	broken.AvailableCopies = 2

	err := store.Restore(context.Background(), []catalog.Book{broken})

	assert.ErrorIs(t, err, domain.ErrInvalidBook)
	_, getErr := store.Get(context.Background(), "b-1")
	assert.NoError(t, getErr, "a failed restore leaves the catalog untouched")
}

func Test_NewStore_RejectsNegativeLockTimeout(t *testing.T) {
	_, err := catalog.NewStore(catalog.WithLockTimeout(-1))

	assert.ErrorIs(t, err, catalog.ErrNegativeLockTimeout)
}

func givenStore(t *testing.T, books ...catalog.Book) *catalog.Store {
	t.Helper()

	store, err := catalog.NewStore()
	require.NoError(t, err)

	for _, book := range books {
		_, err := store.Add(context.Background(), book)
		require.NoError(t, err)
	}

	return store
}

func aBook(id string, copies int) catalog.Book {
	return catalog.Book{
		ID:          id,
		Title:       "The Go Programming Language",
		Author:      "Alan Donovan",
		ISBN:        "978-0134190440",
		Category:    "programming",
		TotalCopies: copies,
	}
}

func ids(books []catalog.Book) []string {
	result := make([]string, 0, len(books))
	for _, b := range books {
		result = append(result, b.ID)
	}

	return result
}
