package sqlstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/authcore/store"
	"github.com/MrEthical07/authcore/store/storetest"
	"github.com/stretchr/testify/require"
)

var dbSeq atomic.Int64

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:authcore_test_%d?mode=memory", dbSeq.Add(1))
	s, err := Open(context.Background(), DriverSQLite, dsn)
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Ping(context.Background()))
}

func TestLoginEventForUnknownIdentity(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	err := s.Identities().AppendLoginEvent(context.Background(), store.LoginEvent{IdentityID: "ghost"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUniqueViolationMapping(t *testing.T) {
	require.ErrorIs(t, uniqueViolation("UNIQUE constraint failed: identities.email"), store.ErrDuplicateEmail)
	require.ErrorIs(t, uniqueViolation("identities_phone_uq duplicate key"), store.ErrDuplicatePhone)
	require.ErrorIs(t, uniqueViolation("api_keys.key_hash"), store.ErrAlreadyExists)
	require.NoError(t, classify(nil))
}
