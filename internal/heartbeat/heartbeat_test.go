package heartbeat_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apostoldevel/process-TaskScheduler/internal/heartbeat"
)

func TestClock_AuthDueOnZeroDeadline(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := heartbeat.New(func() time.Time { return now }, time.Second)
	require.True(t, c.AuthDue(), "zero deadline should always be due (startup/post-Reload)")
	require.True(t, c.CheckDue())
}

func TestClock_BumpAuth(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := heartbeat.New(func() time.Time { return now }, time.Second)
	c.BumpAuth()
	require.Equal(t, now.Add(heartbeat.AuthBump), c.AuthDeadline)
	require.False(t, c.AuthDue())
}

func TestClock_BackoffAuth(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := heartbeat.New(func() time.Time { return now }, time.Second)
	c.BackoffAuth(10 * time.Second)
	require.Equal(t, now.Add(10*time.Second), c.AuthDeadline)
}

func TestClock_Reset(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := heartbeat.New(func() time.Time { return now }, time.Second)
	c.BumpAuth()
	c.BumpCheck()
	c.Reset()
	require.True(t, c.AuthDeadline.IsZero())
	require.True(t, c.CheckDeadline.IsZero())
}

func TestClock_MinCheckInterval(t *testing.T) {
	c := heartbeat.New(nil, time.Millisecond)
	now := time.Now()
	c.BumpCheck()
	require.GreaterOrEqual(t, c.CheckDeadline.Sub(now), heartbeat.MinCheckInterval-time.Millisecond)
}

func TestHeartbeat_Fire_InvokesAuthWhenDue(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := heartbeat.New(func() time.Time { return now }, time.Second)
	hb := heartbeat.NewHeartbeat(c, func() bool { return false })

	var authCalled bool
	hb.OnAuth = func(context.Context) { authCalled = true }
	hb.OnReconcile = func(context.Context) { t.Fatal("reconcile should not fire while not running") }

	hb.Fire(context.Background())
	require.True(t, authCalled)
	require.False(t, c.AuthDue(), "Fire must bump auth_deadline before invoking OnAuth")
}

func TestHeartbeat_Fire_ReconcileOnlyWhileRunning(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := heartbeat.New(func() time.Time { return now }, time.Second)
	c.BackoffAuth(time.Hour) // auth not due this tick

	running := true
	hb := heartbeat.NewHeartbeat(c, func() bool { return running })

	var reconcileCalled bool
	hb.OnReconcile = func(context.Context) { reconcileCalled = true }

	hb.Fire(context.Background())
	require.True(t, reconcileCalled)
	require.False(t, c.CheckDue())
}
