package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/ledger"
	"github.com/strawtrace/strawtrace/internal/testutil/teststore"
	"github.com/strawtrace/strawtrace/internal/types"
)

func TestCheckBatches(t *testing.T) {
	env := teststore.NewEnv(t)
	units := teststore.Units(1, 3)
	for _, b := range []string{"CPAL0001", "CPAL0002", "CPAL0003"} {
		env.CreateBatch(b)
		env.Record(b, types.StepPrep, env.Pass(units...))
	}
	env.Record("CPAL0001", types.StepOhms, env.Pass(units...))
	env.Record("CPAL0002", types.StepOhms, env.Fail(units...))
	env.Record("CPAL0003", types.StepOhms, env.Pass(units...))

	r := genealogy.NewResolver(env.Store, genealogy.Options{})
	results, err := checkBatches(env.Ctx, r, []string{"cpal0001", "CPAL0002", "CPAL0003"},
		[]string{types.StepPrep, types.StepOhms}, "", 2)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "CPAL0001", results[0].Batch)
	assert.True(t, results[0].Passed)
	assert.False(t, results[1].Passed)
	assert.Equal(t, []string{"Resistance Test"}, results[1].FailingSteps)
	assert.Equal(t, "CPAL0002 failed step(s): Resistance Test", results[1].Error)
	assert.True(t, errors.Is(results[1].err, genealogy.ErrTraceability))
	assert.True(t, results[2].Passed)
}

func TestCheckBatchesReportsCycleAsResult(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch("CPAL0001")
	env.CreateBatch("CPAL0002")
	env.Adds("CPAL0001", "ST00001", "CPAL0002")
	env.Adds("CPAL0002", "ST00001", "CPAL0001")

	r := genealogy.NewResolver(env.Store, genealogy.Options{})
	results, err := checkBatches(env.Ctx, r, []string{"CPAL0001"}, []string{types.StepPrep}, "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.True(t, errors.Is(results[0].err, genealogy.ErrCycle))
}

func TestCheckBatchesUnknownBatchIsAnError(t *testing.T) {
	env := teststore.NewEnv(t)
	r := genealogy.NewResolver(env.Store, genealogy.Options{})
	_, err := checkBatches(context.Background(), r, []string{"CPAL0404"}, []string{types.StepPrep}, "", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrNotFound))
	assert.Equal(t, exitUsage, exitCodeQuiet(err))
}

// exitCodeQuiet is exitCode without the stderr report.
func exitCodeQuiet(err error) int {
	return exitCode(errors.Join(errSilent, err))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "not_found", errorCode(&ledger.NotFoundError{Kind: "batch", ID: "CPAL0001"}))
	assert.Equal(t, "locked", errorCode(&ledger.LockError{Path: "x", Err: errors.New("busy")}))
	assert.Equal(t, "cycle", errorCode(&genealogy.CycleError{}))
	assert.Equal(t, "", errorCode(errors.New("other")))

	assert.Equal(t, exitLocked, exitCodeQuiet(&ledger.LockError{Path: "x"}))
	assert.Equal(t, exitFailed, exitCodeQuiet(&genealogy.TraceabilityError{BatchID: "CPAL0001"}))
}
