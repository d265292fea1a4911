package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablefront/go-core/internal/tenant"
	"github.com/tablefront/go-core/internal/token"
)

func seedLoginAccount(t *testing.T, store *memAccounts, a *tenant.Account, password string) {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	a.PasswordHash = hash
	store.put(a)
}

func TestLoginEmployee(t *testing.T) {
	f := newFixture(t)
	seedLoginAccount(t, f.provisioner.scope("t1"), &tenant.Account{
		ID:           "e1",
		Kind:         tenant.KindEmployee,
		Email:        "e1@t1.test",
		Active:       true,
		RestaurantID: "r1",
	}, "shift-lead-99")

	p, pair, err := f.dispatcher.Login(context.Background(), token.RoleEmployee, "t1", "e1@t1.test", "shift-lead-99")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "e1", p.ID)
	assert.Equal(t, "t1", p.TenantID)
	assert.Equal(t, "r1", p.RestaurantID)

	// The minted pair round-trips through Authenticate and Refresh.
	p2, err := f.dispatcher.Authenticate(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)

	access, err := f.dispatcher.Refresh(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	p3, err := f.dispatcher.Authenticate(context.Background(), access)
	require.NoError(t, err)
	assert.Equal(t, p.ID, p3.ID)
}

func TestLoginOwnerTenantIsOwnID(t *testing.T) {
	f := newFixture(t)
	seedLoginAccount(t, f.platform, &tenant.Account{
		ID:     "o1",
		Kind:   tenant.KindOwner,
		Email:  "o1@platform.test",
		Active: true,
	}, "owner-pass-1")

	p, pair, err := f.dispatcher.Login(context.Background(), token.RoleOwner, "", "o1@platform.test", "owner-pass-1")
	require.NoError(t, err)
	assert.Equal(t, "o1", p.TenantID)

	claims, err := f.codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "o1", claims.TenantID)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t)
	seedLoginAccount(t, f.provisioner.scope("t1"), &tenant.Account{
		ID:     "e1",
		Kind:   tenant.KindEmployee,
		Email:  "e1@t1.test",
		Active: true,
	}, "shift-lead-99")

	_, _, err := f.dispatcher.Login(context.Background(), token.RoleEmployee, "t1", "e1@t1.test", "nope-nope-nope")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.dispatcher.Login(context.Background(), token.RoleEmployee, "t1", "ghost@t1.test", "whatever-pass")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLoginBlockedAccount(t *testing.T) {
	f := newFixture(t)
	seedLoginAccount(t, f.provisioner.scope("t1"), &tenant.Account{
		ID:      "c1",
		Kind:    tenant.KindCustomer,
		Email:   "c1@t1.test",
		Active:  true,
		Blocked: true,
	}, "customer-pass")

	_, _, err := f.dispatcher.Login(context.Background(), token.RoleCustomer, "t1", "c1@t1.test", "customer-pass")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestLoginInactiveAccount(t *testing.T) {
	f := newFixture(t)
	seedLoginAccount(t, f.provisioner.scope("t1"), &tenant.Account{
		ID:    "e1",
		Kind:  tenant.KindEmployee,
		Email: "e1@t1.test",
	}, "shift-lead-99")

	_, _, err := f.dispatcher.Login(context.Background(), token.RoleEmployee, "t1", "e1@t1.test", "shift-lead-99")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestLoginValidation(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.dispatcher.Login(context.Background(), token.RoleEmployee, "t1", "", "pass")
	assert.ErrorIs(t, err, ErrMalformedCredential)

	_, _, err = f.dispatcher.Login(context.Background(), token.RoleEmployee, "", "e@t.test", "pass-word")
	assert.ErrorIs(t, err, ErrMalformedCredential)

	_, _, err = f.dispatcher.Login(context.Background(), token.Role("superuser"), "t1", "e@t.test", "pass-word")
	assert.ErrorIs(t, err, ErrMalformedCredential)
}

func TestLoginTenantOutage(t *testing.T) {
	f := newFixture(t)
	f.provisioner.broken["t1"] = true

	_, _, err := f.dispatcher.Login(context.Background(), token.RoleEmployee, "t1", "e1@t1.test", "shift-lead-99")
	assert.ErrorIs(t, err, ErrServiceUnavailable)
}
