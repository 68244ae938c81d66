package main

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawtrace/strawtrace/internal/consolidate"
	"github.com/strawtrace/strawtrace/internal/genealogy"
	"github.com/strawtrace/strawtrace/internal/quality"
	"github.com/strawtrace/strawtrace/internal/testutil/teststore"
	"github.com/strawtrace/strawtrace/internal/types"
)

func newSession(t *testing.T, env *teststore.Env, batch string) *consolidate.Session {
	t.Helper()
	gate := quality.New(env.Store, quality.Options{})
	wf := consolidate.New(env.Store, gate, genealogy.NewResolver(env.Store, genealogy.Options{}), consolidate.Options{})
	sess, err := wf.Start(env.Ctx, batch, []string{"wk-a"})
	require.NoError(t, err)
	return sess
}

func measuredUnits(env *teststore.Env, start int) []string {
	units := teststore.Units(start, types.BatchCapacity)
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.Local)
	for _, u := range units {
		env.Leak(u, at, 5e-5, 5e-6)
	}
	return units
}

func TestConsolidateUnits(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch("CPAL0042")
	units := measuredUnits(env, 100)

	sess := newSession(t, env, "CPAL0042")
	require.NoError(t, consolidateUnits(env.Ctx, sess, units))

	assert.Equal(t, consolidate.Finalized, sess.State())
	assert.Equal(t, []string{types.StepLaserCut, types.StepLength}, env.Steps("CPAL0042"))
	assert.Equal(t, []string{"wk-a"}, env.Records("CPAL0042")[0].Actors)
}

func TestConsolidateUnitsRejectionAborts(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch("CPAL0042")
	units := measuredUnits(env, 100)
	units[5] = "ST09999"

	sess := newSession(t, env, "CPAL0042")
	err := consolidateUnits(env.Ctx, sess, units)
	require.Error(t, err)
	assert.True(t, errors.Is(err, consolidate.ErrRejected))
	assert.Equal(t, consolidate.Aborted, sess.State())
	assert.Empty(t, env.Steps("CPAL0042"))
}

func TestConsolidateUnitsWrongCount(t *testing.T) {
	env := teststore.NewEnv(t)
	env.CreateBatch("CPAL0042")
	units := measuredUnits(env, 100)

	sess := newSession(t, env, "CPAL0042")
	err := consolidateUnits(env.Ctx, sess, units[:23])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "23 straws given")
	assert.Equal(t, consolidate.Aborted, sess.State())
}

func TestRenderSlots(t *testing.T) {
	slots := make([]types.Slot, 7)
	for i := range slots {
		slots[i] = types.Slot{Index: i, Unit: teststore.Units(i+1, 1)[0]}
	}
	out := renderSlots(slots)
	assert.Contains(t, out, "ST00001")
	assert.Contains(t, out, "ST00007")
	assert.Contains(t, out, "\n")
}

func TestValidateChamber(t *testing.T) {
	assert.NoError(t, validateChamber("3"))
	assert.NoError(t, validateChamber("??"))
	assert.NoError(t, validateChamber(""))
	assert.Error(t, validateChamber("left"))
}
