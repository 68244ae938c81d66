package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strawtrace/strawtrace/internal/testutil/teststore"
	"github.com/strawtrace/strawtrace/internal/types"
)

func TestStationPairs(t *testing.T) {
	pairs, err := stationPairs([]string{"st00001", "ST00002", "ST00003"}, []string{"st00002"})
	require.NoError(t, err)
	assert.Equal(t, []types.Pair{
		{Unit: "ST00001", Value: "P"},
		{Unit: "ST00002"},
		{Unit: "ST00003", Value: "P"},
	}, pairs)
}

func TestStationPairsRejects(t *testing.T) {
	tests := []struct {
		name   string
		units  []string
		failed []string
		want   string
	}{
		{"not a straw", []string{"CPAL0001"}, nil, "not a straw ID"},
		{"duplicate", []string{"ST00001", "st00001"}, nil, "listed twice"},
		{"unknown fail", []string{"ST00001"}, []string{"ST00009", "ST00008"}, "ST00008, ST00009"},
		{"too many", teststore.Units(1, types.BatchCapacity+1), nil, "a pallet holds 24"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stationPairs(tt.units, tt.failed)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRedirectPairs(t *testing.T) {
	pairs, err := redirectPairs([]string{"st00007=cpal0001", "ST00031=ST00008"})
	require.NoError(t, err)
	assert.Equal(t, []types.Pair{
		{Unit: "ST00007", Value: "CPAL0001"},
		{Unit: "ST00031", Value: "ST00008"},
	}, pairs)

	for _, bad := range []string{"ST00007", "ST00007=", "CPAL0001=ST00001", "ST00007=bogus"} {
		_, err := redirectPairs([]string{bad})
		assert.Error(t, err, bad)
	}
}
