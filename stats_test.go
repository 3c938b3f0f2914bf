package qcast

import (
	"testing"

	"github.com/iti/rngstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func TestIncrementalMeanMatchesBatch(t *testing.T) {
	rng := rngstream.New("stats-test")
	rs := CreateRunningStats("exp", 100, 2, nil)
	rs.MarkStart(0.0)

	now := 0.0
	for round := 0; round < 100; round++ {
		now += 0.5
		rs.RecordRound(now, 2, rng.RandU01(), true)
	}

	require.Equal(t, 100, len(rs.FidelityHistory))
	batch := stat.Mean(rs.FidelityHistory, nil)
	assert.InDelta(t, batch, rs.MeanFidelity, 1e-12)
	assert.Zero(t, rs.LostQubits)
	assert.True(t, rs.Done())
}

func TestLossAccounting(t *testing.T) {
	rs := CreateRunningStats("exp", 4, 4, nil)
	rs.MarkStart(0.0)

	// three clean rounds, one missing a single qubit
	rs.RecordRound(1.0, 4, 0.9, true)
	rs.RecordRound(2.0, 3, 0.0, true)
	rs.RecordRound(3.0, 4, 0.7, true)
	rs.RecordRound(4.0, 4, 0.8, true)

	assert.Equal(t, 4, rs.RunCount)
	assert.Equal(t, 1, rs.LostQubits)
	assert.InDelta(t, 1.0/16.0, rs.LossRate(), 1e-12)

	// the lossy round is excluded from the fidelity mean
	assert.Equal(t, 3, len(rs.FidelityHistory))
	assert.InDelta(t, (0.9+0.7+0.8)/3.0, rs.MeanFidelity, 1e-12)
}

func TestAbandonedRoundCountsLoss(t *testing.T) {
	rs := CreateRunningStats("exp", 2, 2, nil)
	rs.MarkStart(0.0)

	// the source never fused and nothing at all arrived; the round
	// still counts at least one lost qubit
	snap := rs.RecordRound(1.0, 0, 0.0, false)
	assert.False(t, snap.Fused)
	assert.Equal(t, 2, rs.LostQubits)

	// a fusion report with a full census is still loss if fused is false
	rs.RecordRound(2.0, 2, 0.0, false)
	assert.Equal(t, 3, rs.LostQubits)
	assert.Empty(t, rs.FidelityHistory)
}

func TestRateUndefinedOnZeroElapsed(t *testing.T) {
	rs := CreateRunningStats("exp", 3, 2, nil)
	rs.MarkStart(5.0)

	// no simulated time passes: the rate must be reported undefined,
	// not computed as an infinity
	snap := rs.RecordRound(5.0, 2, 1.0, true)
	assert.False(t, snap.RateDefined)
	assert.Zero(t, snap.RateHz)

	row := rs.Result()
	assert.False(t, row.RateDefined)
	assert.Zero(t, row.RateHz)
}

func TestSmoothedRateAndResult(t *testing.T) {
	rs := CreateRunningStats("exp", 3, 2, nil)
	rs.MarkStart(0.0)

	rs.RecordRound(1.0, 2, 1.0, true)
	rs.RecordRound(3.0, 2, 1.0, true)
	snap := rs.RecordRound(6.0, 2, 1.0, true)

	// durations 1, 2, 3: smoothed rate is 1/mean, not 1/latest
	require.True(t, snap.RateDefined)
	assert.InDelta(t, 0.5, snap.RateHz, 1e-12)

	row := rs.Result()
	assert.Equal(t, 3, row.Round)
	assert.InDelta(t, 1.0, row.MinRoundTime, 1e-12)
	assert.InDelta(t, 2.0, row.MeanRoundTime, 1e-12)
	assert.InDelta(t, 0.5, row.RateHz, 1e-12)
	assert.True(t, row.RateDefined)
}

func TestSnapshotBeforeAnyRound(t *testing.T) {
	rs := CreateRunningStats("exp", 1, 2, nil)
	assert.Zero(t, rs.LossRate())

	_, defined := rs.smoothedRate()
	assert.False(t, defined)
}
