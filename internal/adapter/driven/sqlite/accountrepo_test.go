package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/authenticator/internal/domain/model"
	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

func makeAccount(username, provider string) model.Account {
	return model.Account{
		Username:  username,
		Provider:  provider,
		Method:    model.MethodTOTP,
		Algorithm: model.AlgorithmSHA1,
		Digits:    6,
		Period:    30,
	}
}

func TestAccountRepo_CreateAndGet(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, makeAccount("alice", "GitHub"))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 0, created.Position)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "GitHub", got.Provider)
	assert.Equal(t, model.MethodTOTP, got.Method)
	assert.Equal(t, model.AlgorithmSHA1, got.Algorithm)
	assert.Equal(t, 6, got.Digits)
	assert.Equal(t, 30, got.Period)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestAccountRepo_CreateAssignsIncreasingPositions(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	first, err := repo.Create(ctx, makeAccount("a", "One"))
	require.NoError(t, err)
	second, err := repo.Create(ctx, makeAccount("b", "Two"))
	require.NoError(t, err)

	assert.Equal(t, first.Position+1, second.Position)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestAccountRepo_CreateValidation(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(a *model.Account)
		wantKey string
	}{
		{"seven digits", func(a *model.Account) { a.Digits = 7 }, "digits"},
		{"zero period", func(a *model.Account) { a.Period = 0 }, "period"},
		{"empty username", func(a *model.Account) { a.Username = "" }, "username"},
		{"bad algorithm", func(a *model.Account) { a.Algorithm = "md5" }, "algorithm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := makeAccount("alice", "GitHub")
			tt.mutate(&a)

			_, err := repo.Create(ctx, a)
			require.ErrorIs(t, err, driven.ErrValidationFailed)

			var ve model.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve, tt.wantKey)
		})
	}

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts, "rejected accounts must not be persisted")
}

func TestAccountRepo_GetMissing(t *testing.T) {
	repo := setupAccountRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_Update(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, makeAccount("alice", "GitHub"))
	require.NoError(t, err)

	name := "alice@work"
	updated, err := repo.Update(ctx, created.ID, model.AccountPatch{Username: &name})
	require.NoError(t, err)
	assert.Equal(t, "alice@work", updated.Username)
	assert.Equal(t, "GitHub", updated.Provider, "unset patch fields are untouched")

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@work", got.Username)
	assert.Equal(t, created.Digits, got.Digits)
}

func TestAccountRepo_UpdateRejectsEmptyUsername(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, makeAccount("alice", "GitHub"))
	require.NoError(t, err)

	empty := ""
	_, err = repo.Update(ctx, created.ID, model.AccountPatch{Username: &empty})
	assert.ErrorIs(t, err, driven.ErrValidationFailed)

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestAccountRepo_UpdateMissing(t *testing.T) {
	repo := setupAccountRepo(t)

	name := "x"
	_, err := repo.Update(context.Background(), "nope", model.AccountPatch{Username: &name})
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_Delete(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, makeAccount("alice", "GitHub"))
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.Get(ctx, created.ID)
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)

	err = repo.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, driven.ErrAccountNotFound, "store-level delete reports missing rows")
}

func TestAccountRepo_ListOrder(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		_, err := repo.Create(ctx, makeAccount(name, "Provider"))
		require.NoError(t, err)
	}

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, "first", accounts[0].Username)
	assert.Equal(t, "second", accounts[1].Username)
	assert.Equal(t, "third", accounts[2].Username)
}

func TestAccountRepo_ListEmpty(t *testing.T) {
	repo := setupAccountRepo(t)

	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, accounts)
	assert.Empty(t, accounts)
}

func TestAccountRepo_SetCounter(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	a := makeAccount("bob", "GitLab")
	a.Method = model.MethodHOTP
	created, err := repo.Create(ctx, a)
	require.NoError(t, err)

	require.NoError(t, repo.SetCounter(ctx, created.ID, 42))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got.Counter)

	err = repo.SetCounter(ctx, "nope", 1)
	assert.ErrorIs(t, err, driven.ErrAccountNotFound)
}

func TestAccountRepo_Reorder(t *testing.T) {
	repo := setupAccountRepo(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c", "d"} {
		created, err := repo.Create(ctx, makeAccount(name, "P"))
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	// c first, then a; unknown and duplicate ids are ignored.
	require.NoError(t, repo.Reorder(ctx, []string{ids[2], "ghost", ids[0], ids[2]}))

	accounts, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 4)

	var got []string
	for _, a := range accounts {
		got = append(got, a.Username)
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, got)
}
