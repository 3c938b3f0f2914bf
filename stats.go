package qcast

// stats.go holds the online statistics engine.  One snapshot is
// produced per completed round; aggregates are maintained
// incrementally so per-round cost stays constant no matter how long
// the run is.  The engine also owns run termination: when the round
// budget is exhausted it reports Done and the experiment stops
// scheduling rounds, which drains the event queue and ends the run.

import (
	"log/slog"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// StatsSnapshot is the per-round output of the statistics engine
type StatsSnapshot struct {
	Round        int
	Fused        bool
	Observed     int
	Expected     int
	MeanFidelity float64
	LossRate     float64

	// RateHz is the smoothed entanglement rate; undefined (and false)
	// until two distinct timestamps exist or when no simulated time
	// has elapsed between them
	RateHz      float64
	RateDefined bool
}

// RunningStats aggregates round outcomes for one experiment.  It is
// owned by the experiment that created it and passed where needed;
// there is no process-wide statistics state.
type RunningStats struct {
	ExpName string

	// number of rounds to run before the experiment halts
	Budget int

	// qubits expected per round: the source's retained share plus one
	// delivered share per receiver
	Expected int

	// RunCount counts every completed round, lossy or not
	RunCount int

	// fusedCount counts only the rounds whose full qubit complement
	// arrived; MeanFidelity averages over exactly those
	fusedCount   int
	MeanFidelity float64

	// LostQubits accumulates the per-round shortfall against Expected
	LostQubits int

	// fidelity of every counted round, in order
	FidelityHistory []float64

	// simulated-clock reading at the start of the run and at the end
	// of every round; successive differences give round durations
	Timestamps []float64

	Logger *slog.Logger
}

// CreateRunningStats is a constructor
func CreateRunningStats(expName string, budget, expected int, logger *slog.Logger) *RunningStats {
	rs := new(RunningStats)
	rs.ExpName = expName
	rs.Budget = budget
	rs.Expected = expected
	rs.FidelityHistory = make([]float64, 0, budget)
	rs.Timestamps = make([]float64, 0, budget+1)
	rs.Logger = logger
	if rs.Logger == nil {
		rs.Logger = slog.Default()
	}
	return rs
}

// MarkStart records the simulated time the run began, the baseline
// for the first round's duration
func (rs *RunningStats) MarkStart(now float64) {
	rs.Timestamps = append(rs.Timestamps, now)
}

// RecordRound folds one completed round into the aggregates and
// returns the snapshot for that round.  A round whose observed qubit
// count falls short of Expected is counted as loss and excluded from
// fidelity averaging; fused reports the source-side fusion outcome.
func (rs *RunningStats) RecordRound(now float64, observed int, fidelity float64, fused bool) StatsSnapshot {
	rs.RunCount += 1

	counted := fused && observed == rs.Expected
	if counted {
		rs.fusedCount += 1
		rs.FidelityHistory = append(rs.FidelityHistory, fidelity)
		// incremental mean update, O(1) per round and numerically
		// stable against re-summing a long history
		rs.MeanFidelity += (fidelity - rs.MeanFidelity) / float64(rs.fusedCount)
	} else {
		shortfall := rs.Expected - observed
		if shortfall < 1 {
			shortfall = 1
		}
		rs.LostQubits += shortfall
		rs.Logger.Warn("entangled qubits lost this round",
			slog.String("exp", rs.ExpName), slog.Int("round", rs.RunCount),
			slog.Int("observed", observed), slog.Int("expected", rs.Expected))
	}

	prev := rs.Timestamps[len(rs.Timestamps)-1]
	rs.Timestamps = append(rs.Timestamps, now)
	if now == prev {
		rs.Logger.Error("no simulated time elapsed this round, entanglement rate undefined",
			slog.String("exp", rs.ExpName), slog.Int("round", rs.RunCount))
	}

	rate, defined := rs.smoothedRate()
	return StatsSnapshot{
		Round:        rs.RunCount,
		Fused:        counted,
		Observed:     observed,
		Expected:     rs.Expected,
		MeanFidelity: rs.MeanFidelity,
		LossRate:     rs.LossRate(),
		RateHz:       rate,
		RateDefined:  defined,
	}
}

// LossRate returns the fraction of expected qubits that never arrived
func (rs *RunningStats) LossRate() float64 {
	if rs.RunCount == 0 {
		return 0.0
	}
	return float64(rs.LostQubits) / (float64(rs.RunCount) * float64(rs.Expected))
}

// roundTimes returns the successive differences of the timestamp
// sequence, the durations of the completed rounds
func (rs *RunningStats) roundTimes() []float64 {
	if len(rs.Timestamps) < 2 {
		return nil
	}
	diffs := make([]float64, len(rs.Timestamps)-1)
	for idx := 1; idx < len(rs.Timestamps); idx++ {
		diffs[idx-1] = rs.Timestamps[idx] - rs.Timestamps[idx-1]
	}
	return diffs
}

// smoothedRate estimates the entanglement rate as the reciprocal of
// the mean round duration, damping scheduling jitter by averaging over
// the whole history rather than using the latest difference.  The
// second return is false when the rate is undefined.
func (rs *RunningStats) smoothedRate() (float64, bool) {
	diffs := rs.roundTimes()
	if len(diffs) == 0 {
		return 0.0, false
	}
	mean := stat.Mean(diffs, nil)
	if !(mean > 0.0) {
		return 0.0, false
	}
	return 1.0 / mean, true
}

// Done tells whether the round budget has been exhausted
func (rs *RunningStats) Done() bool {
	return rs.RunCount >= rs.Budget
}

// Result assembles the final aggregate row persisted at termination
func (rs *RunningStats) Result() ResultRow {
	row := ResultRow{
		Round:        rs.RunCount,
		MeanFidelity: rs.MeanFidelity,
		LossRate:     rs.LossRate(),
	}

	diffs := rs.roundTimes()
	if len(diffs) > 0 {
		row.MinRoundTime = floats.Min(diffs)
		row.MeanRoundTime = stat.Mean(diffs, nil)
	}
	row.RateHz, row.RateDefined = rs.smoothedRate()
	return row
}
