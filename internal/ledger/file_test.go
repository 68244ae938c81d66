package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawtrace/strawtrace/internal/types"
)

var fixedNow = time.Date(2022, 3, 14, 9, 26, 0, 0, time.Local)

func newTestStore(t *testing.T) (*FileStore, Options) {
	t.Helper()
	opts := Options{
		Root:            t.TempDir(),
		RetryMaxElapsed: 200 * time.Millisecond,
		Now:             func() time.Time { return fixedNow },
	}
	s, err := Init(opts)
	require.NoError(t, err)
	return s, opts
}

func passPairs(units ...string) []types.Pair {
	pairs := make([]types.Pair, len(units))
	for i, u := range units {
		pairs[i] = types.Pair{Unit: u, Value: string(types.StatusPass)}
	}
	return pairs
}

func TestOpenMissingResources(t *testing.T) {
	t.Run("missing pallets dir", func(t *testing.T) {
		_, err := Open(Options{Root: t.TempDir()})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
		var cerr *ConfigurationError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "pallets directory", cerr.Resource)
	})

	t.Run("missing leak ledger", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, DefaultPalletsDir), 0o755))
		_, err := Open(Options{Root: root})
		var cerr *ConfigurationError
		require.True(t, errors.As(err, &cerr))
		assert.Equal(t, "leak-rate ledger", cerr.Resource)
	})
}

func TestAppendFindRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, opts := newTestStore(t)

	_, err := s.CreateBatch(ctx, "CPALID07", "CPAL0042", "Time Stamp, Task, 24 Straw Names/Statuses, Workers")
	require.NoError(t, err)

	pairs := passPairs("ST00001", "ST00002", "ST00003")
	require.NoError(t, s.AppendEvent(ctx, "CPAL0042", types.StepPrep, pairs, []string{"wk-alice", "wk-bob"}))

	records, err := s.Find(ctx, "cpal0042")
	require.NoError(t, err)
	require.Len(t, records, 1, "header line must be skipped")

	rec := records[0]
	assert.Equal(t, "2022-03-14_09:26", rec.Timestamp)
	assert.Equal(t, types.StepPrep, rec.Step)
	require.Len(t, rec.Pairs, types.BatchCapacity)
	assert.Equal(t, types.Pair{Unit: "ST00002", Value: "P"}, rec.Pairs[1])
	assert.Equal(t, types.Pair{}, rec.Pairs[23])
	assert.Equal(t, []string{"wk-alice", "wk-bob"}, rec.Actors)

	// Simulated re-open: a fresh store over the same root sees the same ledger.
	reopened, err := Open(opts)
	require.NoError(t, err)
	again, err := reopened.Find(ctx, "CPAL0042")
	require.NoError(t, err)
	assert.Equal(t, records, again)
}

func TestAppendLeavesPriorBytesUntouched(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	path, err := s.CreateBatch(ctx, "CPALID01", "CPAL0001", "")
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, "CPAL0001", types.StepPrep, passPairs("ST1"), []string{"w1"}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, "CPAL0001", types.StepOhms, passPairs("ST1"), []string{"w1"}))
	after, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(after), string(before)))
	assert.Equal(t, 2, strings.Count(string(after), "\n"))
}

func TestAppendAddsMissingNewline(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	path, err := s.CreateBatch(ctx, "CPALID01", "CPAL0002", "")
	require.NoError(t, err)

	// A station crashed without terminating its last line.
	line := "2021-01-01_10:00,prep" + strings.Repeat(",ST9,P", 1) + strings.Repeat(",,", 23) + ",w9"
	require.NoError(t, os.WriteFile(path, []byte(line), 0o644))

	require.NoError(t, s.AppendEvent(ctx, "CPAL0002", types.StepOhms, passPairs("ST9"), nil))
	records, err := s.Find(ctx, "CPAL0002")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, types.StepPrep, records[0].Step)
	assert.Equal(t, types.StepOhms, records[1].Step)
}

func TestAppendValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateBatch(ctx, "CPALID01", "CPAL0003", "")
	require.NoError(t, err)

	tooMany := make([]types.Pair, types.BatchCapacity+1)
	assert.Error(t, s.AppendEvent(ctx, "CPAL0003", types.StepPrep, tooMany, nil))
	assert.Error(t, s.AppendEvent(ctx, "CPAL0003", "", passPairs("ST1"), nil))
	assert.Error(t, s.AppendEvent(ctx, "CPAL0003", types.StepPrep, passPairs("ST1\nST2"), nil))

	records, err := s.Find(ctx, "CPAL0003")
	require.NoError(t, err)
	assert.Empty(t, records, "rejected appends must not write anything")
}

func TestFindNotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.Find(ctx, "CPAL9999")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.Find(ctx, "ST0001")
	assert.True(t, errors.Is(err, ErrNotFound))

	err = s.AppendEvent(ctx, "CPAL9999", types.StepPrep, passPairs("ST1"), nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFindSkipsMalformedLines(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	path, err := s.CreateBatch(ctx, "CPALID02", "CPAL0010", "")
	require.NoError(t, err)

	good := "2021-01-01_10:00,prep,ST1,P" + strings.Repeat(",,", 23) + ",w1\n"
	content := good + "\n" + "garbage\n" + "2021-01-02_10:00,,ST1,P" + strings.Repeat(",,", 23) + "\n" + good
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := s.Find(ctx, "CPAL0010")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestFindPadsShortLines(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	path, err := s.CreateBatch(ctx, "CPALID02", "CPAL0011", "")
	require.NoError(t, err)

	content := "2021-01-01_10:00,prep,ST00001,P,ST00002,P,wk1\n" + "2021-01-01_11:00,ohms,ST00001\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := s.Find(ctx, "CPAL0011")
	require.NoError(t, err)
	require.Len(t, records, 2)

	prep := records[0]
	assert.Equal(t, types.StepPrep, prep.Step)
	require.Len(t, prep.Pairs, types.BatchCapacity)
	assert.Equal(t, types.Pair{Unit: "ST00001", Value: "P"}, prep.Pairs[0])
	assert.Equal(t, types.Pair{Unit: "ST00002", Value: "P"}, prep.Pairs[1])
	assert.Equal(t, types.Pair{Unit: "wk1"}, prep.Pairs[2])
	assert.Equal(t, types.Pair{}, prep.Pairs[23])
	assert.Empty(t, prep.Actors)

	assert.Equal(t, types.Pair{Unit: "ST00001"}, records[1].Pairs[0])
}

func TestLatestMembership(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateBatch(ctx, "CPALID03", "CPAL0020", "")
	require.NoError(t, err)

	slots, err := s.LatestMembership(ctx, "CPAL0020")
	require.NoError(t, err)
	assert.Empty(t, slots)

	require.NoError(t, s.AppendEvent(ctx, "CPAL0020", types.StepPrep, passPairs("ST1", "ST2", "ST3"), nil))
	require.NoError(t, s.AppendEvent(ctx, "CPAL0020", types.StepOhms,
		[]types.Pair{{Unit: "ST1", Value: "P"}, {}, {Unit: "ST4", Value: ""}}, nil))

	slots, err = s.LatestMembership(ctx, "CPAL0020")
	require.NoError(t, err)
	assert.Equal(t, []types.Slot{{Index: 0, Unit: "ST1"}, {Index: 2, Unit: "ST4"}}, slots)
}

func TestLatestMembershipCountsSubstitutes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	_, err := s.CreateBatch(ctx, "CPALID03", "CPAL0021", "")
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(ctx, "CPAL0021", types.StepPrep, passPairs("ST1", "ST2"), nil))
	require.NoError(t, s.AppendEvent(ctx, "CPAL0021", types.StepAdds, []types.Pair{
		{Unit: "ST1", Value: "ST9"},
		{Unit: "ST2", Value: "CPAL0005"},
		{Unit: "ST3", Value: "ST1"},
	}, nil))

	slots, err := s.LatestMembership(ctx, "CPAL0021")
	require.NoError(t, err)
	assert.Equal(t, []types.Slot{
		{Index: 0, Unit: "ST1"},
		{Index: 0, Unit: "ST9"},
		{Index: 1, Unit: "ST2"},
		{Index: 2, Unit: "ST3"},
	}, slots)
}

func TestCreateAndListBatches(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.CreateBatch(ctx, "CPALID02", "CPAL0200", "")
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, "CPALID01", "CPAL0101", "")
	require.NoError(t, err)
	_, err = s.CreateBatch(ctx, "CPALID01", "CPAL0100", "")
	require.NoError(t, err)

	_, err = s.CreateBatch(ctx, "CPALID09", "CPAL0100", "")
	assert.True(t, errors.Is(err, ErrExists))
	_, err = s.CreateBatch(ctx, "nope", "CPAL0300", "")
	assert.Error(t, err)

	refs, err := s.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, refs, 3)
	assert.Equal(t, "CPALID01", refs[0].Group)
	assert.Equal(t, "CPAL0100", refs[0].Batch)
	assert.Equal(t, "CPAL0101", refs[1].Batch)
	assert.Equal(t, "CPAL0200", refs[2].Batch)
}

func TestQualityEntries(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	legacy := "ST00100,03/01/2021 14:05,leak,wk1,chamber3,4.10E-05,3.00E-06,\n"
	broken := "ST00100,not a date,leak,wk1,chamber3,4.10E-05,3.00E-06,\n"
	badRate := "ST00100,2021-03-02 09:00:00,leak,wk1,chamber3,abc,3.00E-06,\n"
	other := "ST00999,2021-03-02 09:00:00,leak,wk1,chamber3,1.00E-05,1.00E-06,\n"
	require.NoError(t, os.WriteFile(s.QualityFile(), []byte(legacy+broken+badRate+other), 0o644))

	m := types.QualityMeasurement{
		Unit:      "ST00100",
		Timestamp: time.Date(2021, 3, 5, 8, 30, 15, 0, time.Local),
		Source:    "con",
		Worker:    "wk2",
		Chamber:   "chamber4",
		Rate:      5.5e-5,
		Error:     4.2e-6,
		Comment:   "DataLocation:raw_data, shelf 2",
	}
	require.NoError(t, s.AppendQualityEntry(ctx, m))

	entries, err := s.FindQualityEntries(ctx, "st00100")
	require.NoError(t, err)
	require.Len(t, entries, 2, "malformed rows are skipped")

	assert.True(t, time.Date(2021, 3, 1, 14, 5, 0, 0, time.Local).Equal(entries[0].Timestamp))
	assert.InDelta(t, 4.1e-5, entries[0].Rate, 1e-12)

	last := entries[1]
	assert.True(t, m.Timestamp.Equal(last.Timestamp))
	assert.Equal(t, "con", last.Source)
	assert.Equal(t, "chamber4", last.Chamber)
	assert.InDelta(t, 5.5e-5, last.Rate, 1e-12)
	assert.InDelta(t, 4.2e-6, last.Error, 1e-12)
	assert.Equal(t, m.Comment, last.Comment)

	none, err := s.FindQualityEntries(ctx, "ST55555")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "9.65E-05", FormatRate(9.65e-5))
	assert.Equal(t, "1.00E-06", FormatRate(1e-6))
}

func TestParseQualityTime(t *testing.T) {
	a, err := ParseQualityTime("12/31/2020 23:59")
	require.NoError(t, err)
	b, err := ParseQualityTime(" 2021-01-01 00:00:01 ")
	require.NoError(t, err)
	assert.True(t, b.After(a))

	_, err = ParseQualityTime("2021-01-01T00:00:00Z")
	assert.Error(t, err)
}
