package consolidate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/testutil/teststore"
	"github.com/strawtrace/strawtrace/internal/types"
)

const batch = "CPAL0100"

var measuredAt = time.Date(2022, 6, 1, 9, 0, 0, 0, time.Local)

type fixture struct {
	env  *teststore.Env
	gate *quality.Gate
	wf   *Workflow
}

func newFixture(t *testing.T, store ledger.Store) *fixture {
	t.Helper()
	env := teststore.NewEnv(t)
	env.CreateBatch(batch)
	if store == nil {
		store = env.Store
	}
	gate := quality.New(env.Store, quality.Options{})
	resolver := genealogy.NewResolver(env.Store, genealogy.Options{})
	return &fixture{env: env, gate: gate, wf: New(store, gate, resolver, Options{})}
}

// goodUnits records a passing leak measurement for n fresh units.
func (f *fixture) goodUnits(start, n int) []string {
	units := teststore.Units(start, n)
	for _, u := range units {
		f.env.Leak(u, measuredAt, 5e-5, 5e-6)
	}
	return units
}

func (f *fixture) fullSession(t *testing.T) (*Session, []string) {
	t.Helper()
	s, err := f.wf.Start(f.env.Ctx, batch, []string{"wk-alice", "wk-bob"})
	require.NoError(t, err)
	units := f.goodUnits(1, types.BatchCapacity)
	for _, u := range units {
		require.NoError(t, s.Accept(f.env.Ctx, u))
	}
	require.Equal(t, Reviewing, s.State())
	return s, units
}

func TestFinalizeAppendsExactlyTwoRecords(t *testing.T) {
	f := newFixture(t, nil)
	f.env.Record(batch, types.StepPrep, f.env.Pass("ST90001", "ST90002"))
	path, err := f.env.Store.LedgerPath(f.env.Ctx, batch)
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	s, units := f.fullSession(t)
	require.NoError(t, s.Finalize(f.env.Ctx))
	assert.Equal(t, Finalized, s.State())

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(after), string(before)), "prior records must be byte-identical")

	records := f.env.Records(batch)
	require.Len(t, records, 3)
	for i, step := range []string{types.StepLaserCut, types.StepLength} {
		rec := records[1+i]
		assert.Equal(t, step, rec.Step)
		assert.Equal(t, []string{"wk-alice", "wk-bob"}, rec.Actors)
		for slot, p := range rec.Pairs {
			assert.Equal(t, units[slot], p.Unit)
			assert.True(t, p.Status().Passed())
		}
	}

	// The committed pallet now resolves through the genealogy engine.
	r := genealogy.NewResolver(f.env.Store, genealogy.Options{})
	assert.NoError(t, r.CheckAll(f.env.Ctx, batch, FinalizeSteps, ""))
}

func TestStartRequirements(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.wf.Start(f.env.Ctx, "CPAL0999", []string{"wk"})
	assert.True(t, errors.Is(err, ledger.ErrNotFound))

	_, err = f.wf.Start(f.env.Ctx, batch, []string{" "})
	assert.Error(t, err)

	s, err := f.wf.Start(f.env.Ctx, strings.ToLower(batch), []string{"wk"})
	require.NoError(t, err)
	assert.Equal(t, batch, s.Batch)
	assert.Equal(t, Collecting, s.State())
	assert.Equal(t, types.BatchCapacity, s.Remaining())

	got, err := f.wf.Session(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Equal(t, []string{s.ID}, f.wf.Sessions())
}

func TestAcceptValidation(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.wf.Start(f.env.Ctx, batch, []string{"wk"})
	require.NoError(t, err)
	good := f.goodUnits(1, 1)[0]

	require.NoError(t, s.Accept(f.env.Ctx, strings.ToLower(good)))
	assert.Equal(t, []types.Slot{{Index: 0, Unit: good}}, s.Slots())

	err = s.Accept(f.env.Ctx, good)
	assert.True(t, errors.Is(err, ErrDuplicateUnit))

	f.env.Leak("ST00500", measuredAt, 2e-4, 5e-6)
	err = s.Accept(f.env.Ctx, "ST00500")
	var rerr *RejectedError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "ST00500", rerr.Unit)

	err = s.Accept(f.env.Ctx, "ST00600")
	assert.True(t, errors.Is(err, ErrRejected), "a unit without data is rejected")

	err = s.Accept(f.env.Ctx, "CPAL0001")
	assert.True(t, errors.Is(err, ErrRejected))

	assert.Equal(t, types.BatchCapacity-1, s.Remaining())
}

func TestAcceptByLedgerLeakStep(t *testing.T) {
	f := newFixture(t, nil)
	// No leak-rate row, but the pallet ledger shows a passed leak step.
	f.env.Record(batch, types.StepLeak, f.env.Pass("ST00700"))

	s, err := f.wf.Start(f.env.Ctx, batch, []string{"wk"})
	require.NoError(t, err)
	assert.NoError(t, s.Accept(f.env.Ctx, "ST00700"))
}

func TestAcceptMeasured(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.wf.Start(f.env.Ctx, batch, []string{"wk"})
	require.NoError(t, err)

	sub := quality.Submission{Unit: "ST00800", Worker: "wk", Chamber: "2", Rate: 3e-4, Error: 1e-6, Location: "bench"}
	err = s.AcceptMeasured(f.env.Ctx, sub, false)
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Empty(t, s.Slots())

	require.NoError(t, s.AcceptMeasured(f.env.Ctx, sub, true))
	assert.Equal(t, []types.Slot{{Index: 0, Unit: "ST00800"}}, s.Slots())

	entries, err := f.env.Store.FindQualityEntries(f.env.Ctx, "ST00800")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, quality.SourceConsolidation, entries[0].Source)
	assert.Equal(t, "chamber2", entries[0].Chamber)
}

func TestReplace(t *testing.T) {
	f := newFixture(t, nil)
	s, units := f.fullSession(t)
	replacement := f.goodUnits(100, 1)[0]

	err := s.Replace(f.env.Ctx, 24, replacement)
	assert.Error(t, err)
	assert.Equal(t, Reviewing, s.State())

	err = s.Replace(f.env.Ctx, 3, units[5])
	assert.True(t, errors.Is(err, ErrDuplicateUnit))
	assert.Equal(t, Reviewing, s.State())

	err = s.Replace(f.env.Ctx, 3, "ST77777")
	assert.True(t, errors.Is(err, ErrRejected))
	assert.Equal(t, Reviewing, s.State())
	assert.Equal(t, units[3], s.Slots()[3].Unit)

	require.NoError(t, s.Replace(f.env.Ctx, 3, replacement))
	assert.Equal(t, Reviewing, s.State())
	assert.Equal(t, replacement, s.Slots()[3].Unit)

	// Re-placing a unit into its own slot is not a duplicate.
	require.NoError(t, s.Replace(f.env.Ctx, 3, replacement))
}

func TestStateTransitions(t *testing.T) {
	f := newFixture(t, nil)
	s, err := f.wf.Start(f.env.Ctx, batch, []string{"wk"})
	require.NoError(t, err)

	assert.True(t, errors.Is(s.Finalize(f.env.Ctx), ErrInvalidState), "cannot finalize while collecting")
	assert.True(t, errors.Is(s.Replace(f.env.Ctx, 0, "ST00001"), ErrInvalidState))

	require.NoError(t, s.Abort())
	assert.Equal(t, Aborted, s.State())
	require.NoError(t, s.Abort())
	assert.True(t, errors.Is(s.Accept(f.env.Ctx, "ST00001"), ErrInvalidState))
	assert.Empty(t, f.env.Records(batch), "abort writes nothing")

	_, err = f.wf.Session(s.ID)
	assert.True(t, errors.Is(err, ErrSessionNotFound))

	full, _ := f.fullSession(t)
	assert.True(t, errors.Is(full.Accept(f.env.Ctx, "ST00001"), ErrInvalidState), "cannot accept once full")
	require.NoError(t, full.Finalize(f.env.Ctx))
	var serr *StateError
	require.True(t, errors.As(full.Abort(), &serr))
	assert.Equal(t, "cannot abort a session that is finalized", serr.Error())
	assert.True(t, errors.Is(full.Finalize(f.env.Ctx), ErrInvalidState))
}

// flakyStore fails the first append of one step.
type flakyStore struct {
	ledger.Store
	failStep string
	failed   bool
}

func (s *flakyStore) AppendEvent(ctx context.Context, batch, step string, pairs []types.Pair, actors []string) error {
	if step == s.failStep && !s.failed {
		s.failed = true
		return &ledger.LockError{Path: batch, Err: errors.New("busy")}
	}
	return s.Store.AppendEvent(ctx, batch, step, pairs, actors)
}

func TestFinalizeRetryAfterPartialFailure(t *testing.T) {
	flaky := &flakyStore{failStep: types.StepLength}
	f := newFixture(t, flaky)
	flaky.Store = f.env.Store

	s, _ := f.fullSession(t)
	err := s.Finalize(f.env.Ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrLocked))
	assert.Equal(t, Reviewing, s.State())
	assert.Equal(t, []string{types.StepLaserCut}, f.env.Steps(batch))

	assert.True(t, errors.Is(s.Replace(f.env.Ctx, 0, "ST00001"), ErrInvalidState))

	require.NoError(t, s.Finalize(f.env.Ctx))
	assert.Equal(t, []string{types.StepLaserCut, types.StepLength}, f.env.Steps(batch))
}

func TestAcceptWithoutGate(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch(batch)
	env.Record(batch, types.StepLeak, env.Pass("ST00001"))
	env.Leak("ST00002", measuredAt, 5e-5, 5e-6)
	resolver := genealogy.NewResolver(env.Store, genealogy.Options{})
	wf := New(env.Store, nil, resolver, Options{})

	s, err := wf.Start(env.Ctx, batch, []string{"wk-alice"})
	require.NoError(t, err)

	require.NotPanics(t, func() { err = s.Accept(env.Ctx, "ST00001") })
	require.NoError(t, err)

	// Without a gate the measurement is not consulted.
	var rejected *RejectedError
	require.ErrorAs(t, s.Accept(env.Ctx, "ST00002"), &rejected)
	assert.Equal(t, []types.Slot{{Index: 0, Unit: "ST00001"}}, s.Slots())
}

func TestSessionLogTagsIDAndBatch(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch(batch)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	wf := New(env.Store, nil, nil, Options{Logger: logger})

	first, err := wf.Start(env.Ctx, batch, []string{"wk-alice"})
	require.NoError(t, err)
	second, err := wf.Start(env.Ctx, batch, []string{"wk-bob"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	out := buf.String()
	assert.Contains(t, out, "session="+first.ID)
	assert.Contains(t, out, "session="+second.ID)
	assert.Contains(t, out, "batch="+batch)
}
