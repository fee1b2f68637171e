package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/scheduler"
	"github.com/atmx/ledger-engine/internal/store"
)

type stubReconciler struct {
	scopes []reconcile.Scope
	err    error
}

func (s *stubReconciler) Reconcile(_ context.Context, scope reconcile.Scope) (reconcile.Result, error) {
	s.scopes = append(s.scopes, scope)
	return reconcile.Result{Changed: 1}, s.err
}

func TestReconcileJob_RunsWholeLedger(t *testing.T) {
	stub := &stubReconciler{}
	s := scheduler.New(0)

	require.NoError(t, s.RunNow(scheduler.ReconcileJob{Engine: stub}))
	require.Len(t, stub.scopes, 1)
	assert.Nil(t, stub.scopes[0].PlatformID)
	assert.Empty(t, stub.scopes[0].Ticker)
}

func TestReconcileJob_PropagatesError(t *testing.T) {
	stub := &stubReconciler{err: &model.InconsistentLedgerError{Ticker: "X", Reason: "bad"}}
	err := scheduler.New(0).RunNow(scheduler.ReconcileJob{Engine: stub})
	var ile *model.InconsistentLedgerError
	assert.True(t, errors.As(err, &ile))
}

func TestReconcileJob_AgainstService(t *testing.T) {
	svc := reconcile.NewService(store.NewMemoryStore(), reconcile.Options{AllowShort: true})
	_, err := svc.CreatePlatform(context.Background(), "Alpaca")
	require.NoError(t, err)
	assert.NoError(t, scheduler.New(0).RunNow(scheduler.ReconcileJob{Engine: svc}))
}

func TestAddJob_RejectsBadSchedule(t *testing.T) {
	s := scheduler.New(0)
	assert.Error(t, s.AddJob("not a schedule", scheduler.ReconcileJob{Engine: &stubReconciler{}}))
	assert.NoError(t, s.AddJob("@every 1h", scheduler.ReconcileJob{Engine: &stubReconciler{}}))
	s.Start()
	s.Stop()
}
