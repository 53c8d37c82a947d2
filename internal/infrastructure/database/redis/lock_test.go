package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/loan-portal/pkg/errors"
)

func stubLockValue(t *testing.T, v string) {
	t.Helper()
	orig := newLockValue
	t.Cleanup(func() { newLockValue = orig })
	newLockValue = func() string { return v }
}

func TestMutex_TryLockAndUnlock(t *testing.T) {
	stubLockValue(t, "owner-1")
	db, mock := redismock.NewClientMock()
	m := NewMutex(NewClientFromRDB(db, nil), "sync:all", time.Minute)

	mock.ExpectSetNX("lock:sync:all", "owner-1", time.Minute).SetVal(true)
	mock.ExpectEvalSha(unlockScript.Hash(), []string{"lock:sync:all"}, "owner-1").SetVal(int64(1))

	ok, err := m.TryLock(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, m.Unlock(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMutex_AlreadyHeld(t *testing.T) {
	stubLockValue(t, "owner-2")
	db, mock := redismock.NewClientMock()
	m := NewMutex(NewClientFromRDB(db, nil), "sync:all", 0)

	mock.ExpectSetNX("lock:sync:all", "owner-2", 30*time.Second).SetVal(false)
	mock.ExpectEvalSha(unlockScript.Hash(), []string{"lock:sync:all"}, "owner-2").SetVal(int64(0))

	ok, err := m.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	err = m.Unlock(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
