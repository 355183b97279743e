package reconcile_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/apostoldevel/process-TaskScheduler/internal/gateway"
	"github.com/apostoldevel/process-TaskScheduler/internal/reconcile"
	"github.com/apostoldevel/process-TaskScheduler/internal/registry"
	"github.com/apostoldevel/process-TaskScheduler/internal/storedproc"
)

// testJobID stands in for a job id throughout; storedproc validates ids as
// uuids before interpolating them, so a placeholder like "J1" won't do.
const testJobID = "11111111-1111-1111-1111-111111111111"

// action builds an ExecuteObjectAction call, panicking on error: every id
// used in these tests is the valid testJobID constant above.
func action(id string, a storedproc.Action) string {
	s, err := storedproc.ExecuteObjectAction(id, a)
	if err != nil {
		panic(err)
	}
	return s
}

// label builds a SetObjectLabel call, panicking on error for the same
// reason as action.
func label(id, text string) string {
	s, err := storedproc.SetObjectLabel(id, text)
	if err != nil {
		panic(err)
	}
	return s
}

// stmtResult scripts one statement's worth of rows within a batch.
type stmtResult struct {
	fields []string
	rows   [][]any
}

func (s stmtResult) toRows() *fakeRows {
	fds := make([]pgx.FieldDescription, len(s.fields))
	for i, f := range s.fields {
		fds[i] = pgx.FieldDescription{Name: f}
	}
	return &fakeRows{fields: fds, values: s.rows}
}

type fakeRows struct {
	fields []pgx.FieldDescription
	values [][]any
	pos    int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.values) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Values() ([]any, error)                     { return r.values[r.pos-1], nil }
func (r *fakeRows) Err() error                                 { return nil }
func (r *fakeRows) Close()                                     {}
func (r *fakeRows) FieldDescriptions() []pgx.FieldDescription { return r.fields }

type fakeBatchResults struct {
	stmts []stmtResult
	idx   int
}

func (b *fakeBatchResults) Query() (gateway.Rows, error) {
	r := b.stmts[b.idx].toRows()
	b.idx++
	return r, nil
}
func (b *fakeBatchResults) Close() error { return nil }

// fakeDB records every dispatched batch and serves canned responses in
// call order; a call beyond the scripted set succeeds with empty rows.
type fakeDB struct {
	mu     sync.Mutex
	calls  [][]string
	script [][]stmtResult
}

func (f *fakeDB) SendBatch(ctx context.Context, statements []string) gateway.BatchResults {
	f.mu.Lock()
	i := len(f.calls)
	f.calls = append(f.calls, statements)
	f.mu.Unlock()

	if i < len(f.script) {
		return &fakeBatchResults{stmts: f.script[i]}
	}
	empty := make([]stmtResult, len(statements))
	return &fakeBatchResults{stmts: empty}
}

func (f *fakeDB) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDB) callAt(i int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func authorizedOK() []stmtResult {
	return []stmtResult{{fields: []string{"authorized", "message"}, rows: [][]any{{"t", ""}}}}
}

func jobsRow(id, typeCode, stateCode, body string) stmtResult {
	return stmtResult{
		fields: []string{"id", "typecode", "statecode", "body"},
		rows:   [][]any{{id, typeCode, stateCode, body}},
	}
}

type stubHandle struct {
	ok     bool
	reason string
}

func (h stubHandle) Cancel() (bool, string) { return h.ok, h.reason }

func inlinePost(fn func()) { fn() }

func waitForCalls(t *testing.T, db *fakeDB, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return db.callCount() >= n }, time.Second, time.Millisecond)
}

func TestReconciler_HappyPath_NonPeriodic(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		append(authorizedOK(), jobsRow(testJobID, "regular.job", "enabled", "SELECT 1;")),
		append(authorizedOK(), stmtResult{}), // doStart: authorize + execute_object_action
		append(authorizedOK(), stmtResult{}), // doRun: authorize + job body
		append(authorizedOK(), stmtResult{}), // terminal: authorize + complete
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New()
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { t.Fatalf("unexpected fatal: %v", err) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	waitForCalls(t, db, 4)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)

	require.Equal(t, []string{storedproc.Authorize("S1"), action(testJobID, storedproc.ActionExecute)}, db.callAt(1))
	require.Equal(t, []string{storedproc.Authorize("S1"), action(testJobID, storedproc.ActionComplete)}, db.callAt(3))
}

func TestReconciler_Periodic_CallsDone(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		append(authorizedOK(), jobsRow(testJobID, reconcile.PeriodicJobType, "enabled", "SELECT 1;")),
		append(authorizedOK(), stmtResult{}),
		append(authorizedOK(), stmtResult{}),
		append(authorizedOK(), stmtResult{}),
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New()
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { t.Fatalf("unexpected fatal: %v", err) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	waitForCalls(t, db, 4)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)

	require.Equal(t, []string{storedproc.Authorize("S1"), action(testJobID, storedproc.ActionDone)}, db.callAt(3))
}

func TestReconciler_Cancel_Succeeds(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		append(authorizedOK(), jobsRow(testJobID, "regular.job", "canceled", "")),
		append(authorizedOK(), stmtResult{}), // terminal: authorize + abort
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New()
	reg.Put(testJobID, stubHandle{ok: true})
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { t.Fatalf("unexpected fatal: %v", err) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	waitForCalls(t, db, 2)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)

	require.Equal(t, []string{storedproc.Authorize("S1"), action(testJobID, storedproc.ActionAbort)}, db.callAt(1))
}

func TestReconciler_Cancel_Refused(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		append(authorizedOK(), jobsRow(testJobID, "regular.job", "canceled", "")),
		append(authorizedOK(), stmtResult{}, stmtResult{}), // terminal: authorize + fail + set_object_label
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New()
	reg.Put(testJobID, stubHandle{ok: false, reason: "already committed"})
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { t.Fatalf("unexpected fatal: %v", err) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	waitForCalls(t, db, 2)
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)

	require.Equal(t, []string{
		storedproc.Authorize("S1"),
		action(testJobID, storedproc.ActionFail),
		label(testJobID, "already committed"),
	}, db.callAt(1))
}

func TestReconciler_OrphanExecuted_ForcesCancel(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		append(authorizedOK(), jobsRow(testJobID, "regular.job", "executed", "")),
		append(authorizedOK(), stmtResult{}), // terminal: authorize + cancel
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New() // deliberately empty: the scheduler "forgot" this job
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { t.Fatalf("unexpected fatal: %v", err) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	waitForCalls(t, db, 2)

	require.Equal(t, []string{storedproc.Authorize("S1"), action(testJobID, storedproc.ActionCancel)}, db.callAt(1))
}

func TestReconciler_ExecutedAndPresent_LeavesAlone(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		append(authorizedOK(), jobsRow(testJobID, "regular.job", "executed", "")),
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New()
	reg.Put(testJobID, stubHandle{ok: true})
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { t.Fatalf("unexpected fatal: %v", err) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	waitForCalls(t, db, 1)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, db.callCount(), "a progressing job must not trigger a second batch")
	require.True(t, reg.Contains(testJobID))
}

func TestReconciler_NotAuthorized_IsFatal(t *testing.T) {
	db := &fakeDB{script: [][]stmtResult{
		{{fields: []string{"authorized", "message"}, rows: [][]any{{"f", "session revoked"}}}, {}},
	}}
	gw := gateway.New(db, slog.Default())
	reg := registry.New()

	var fatalErr error
	done := make(chan struct{})
	r := reconcile.New(gw, reg, slog.Default(), func(err error) { fatalErr = err; close(done) }, inlinePost, nil)

	require.NoError(t, r.Tick(context.Background(), []string{"S1"}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onFatal was never called")
	}
	require.ErrorContains(t, fatalErr, "not authorized")
}
