package qcast

import (
	"testing"

	"github.com/iti/evt/evtm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type opRecord struct {
	op   string
	time float64
}

func TestMemSchedulerSerializes(t *testing.T) {
	evtMgr := evtm.New()
	ms := CreateMemScheduler("n")

	finished := make([]opRecord, 0)
	complete := func(evtMgr *evtm.EventManager, context any, data any) any {
		finished = append(finished, opRecord{op: context.(string), time: evtMgr.CurrentSeconds()})
		return nil
	}

	// two instructions submitted back to back: the first goes into
	// service, the second waits its turn
	direct := ms.Schedule(evtMgr, "fusion", 2.0, 1, "first", nil, complete)
	assert.True(t, direct)
	direct = ms.Schedule(evtMgr, "fusion", 3.0, 1, "second", nil, complete)
	assert.False(t, direct)

	evtMgr.Run(10.0)

	require.Equal(t, 2, len(finished))
	assert.Equal(t, "first", finished[0].op)
	assert.InDelta(t, 2.0, finished[0].time, 1e-9)
	assert.Equal(t, "second", finished[1].op)
	assert.InDelta(t, 5.0, finished[1].time, 1e-9)
}

func TestMemSchedulerIdleAfterDrain(t *testing.T) {
	evtMgr := evtm.New()
	ms := CreateMemScheduler("n")

	ran := 0
	complete := func(evtMgr *evtm.EventManager, context any, data any) any {
		ran += 1
		return nil
	}

	ms.Schedule(evtMgr, "reset", 1.0, 1, nil, nil, complete)
	evtMgr.Run(10.0)
	require.Equal(t, 1, ran)

	// the processor is free again
	direct := ms.Schedule(evtMgr, "fusion", 1.0, 2, nil, nil, complete)
	assert.True(t, direct)
	evtMgr.Run(20.0)
	assert.Equal(t, 2, ran)
}
