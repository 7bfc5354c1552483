package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lazone/api/internal/apperr"
	"lazone/api/internal/models"
	"lazone/api/internal/store"
	"lazone/api/internal/utils"
)

func TestAccountService_EnsureAccount(t *testing.T) {
	ctx := context.Background()
	svc := NewAccountService(store.NewMemoryStore(), testLogger())
	id := utils.NewSixID()

	account, err := svc.EnsureAccount(ctx, id, " Awa@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "awa@example.com", account.Email)

	again, err := svc.EnsureAccount(ctx, id, "other@example.com")
	require.NoError(t, err)
	assert.Equal(t, "awa@example.com", again.Email)

	_, err = svc.EnsureAccount(ctx, utils.SixID{}, "x@example.com")
	assert.ErrorIs(t, err, apperr.ErrNotAuthenticated)

	_, err = svc.FindByID(ctx, utils.NewSixID())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAccountService_SetFreeListingLimit(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	svc := NewAccountService(st, testLogger())
	admin := utils.NewSixID()
	user := utils.NewSixID()
	require.NoError(t, st.UpsertAccount(ctx, &models.Account{Base: models.Base{ID: admin}, IsAdmin: true}))
	require.NoError(t, st.UpsertAccount(ctx, &models.Account{Base: models.Base{ID: user}, FreeListingsUsed: models.FreeListingUsage{LongTerm: 1}}))

	three := 3
	require.NoError(t, svc.SetFreeListingLimit(ctx, admin, user, &three))
	account, err := svc.FindByID(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, account.FreeListingLimit)
	assert.Equal(t, 3, *account.FreeListingLimit)
	assert.Equal(t, 1, account.FreeListingsUsed.LongTerm)

	require.NoError(t, svc.SetFreeListingLimit(ctx, admin, user, nil))
	account, err = svc.FindByID(ctx, user)
	require.NoError(t, err)
	assert.Nil(t, account.FreeListingLimit)

	err = svc.SetFreeListingLimit(ctx, user, user, &three)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	negative := -1
	err = svc.SetFreeListingLimit(ctx, admin, user, &negative)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	err = svc.SetFreeListingLimit(ctx, admin, utils.NewSixID(), &three)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
