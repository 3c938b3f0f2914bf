package qcast

// opsched.go holds the scheduler for instructions executed by a node's
// quantum memory processor.  The processor runs one instruction at a
// time; an instruction carries a service requirement in simulation
// seconds and a completion handler.  Allocation is first-come
// first-serve.

import (
	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// MemOp describes one instruction queued on a memory processor
type MemOp struct {
	OpType       string  // what instruction is being performed
	arrive       float64 // time the instruction was submitted
	req          float64 // required service
	round        int     // round the instruction belongs to
	completeFunc evtm.EventHandlerFunction // call when finished
	context      any                       // remember this from caller, to return when finished
	data         any                       // information package carried to the completion handler
}

// createMemOp is a constructor
func createMemOp(op string, arrive, req float64, round int, context, data any,
	complete evtm.EventHandlerFunction) *MemOp {

	return &MemOp{OpType: op, arrive: arrive, req: req, round: round,
		context: context, data: data, completeFunc: complete}
}

// MemScheduler serializes instructions on one node's memory processor
type MemScheduler struct {
	nodeName string
	busy     bool
	waiting  []*MemOp
}

// CreateMemScheduler is a constructor
func CreateMemScheduler(nodeName string) *MemScheduler {
	ms := new(MemScheduler)
	ms.nodeName = nodeName
	ms.waiting = make([]*MemOp, 0)
	return ms
}

// Schedule submits an instruction.  The return is true if the
// processor was free and the instruction went directly into service.
func (ms *MemScheduler) Schedule(evtMgr *evtm.EventManager, op string, req float64, round int,
	context, data any, complete evtm.EventHandlerFunction) bool {

	now := evtMgr.CurrentSeconds()
	mop := createMemOp(op, now, req, round, context, data, complete)
	return ms.joinQueue(evtMgr, mop)
}

// joinQueue puts an instruction into service if the processor is free,
// otherwise appends it to the waiting queue
func (ms *MemScheduler) joinQueue(evtMgr *evtm.EventManager, mop *MemOp) bool {
	if ms.busy {
		ms.waiting = append(ms.waiting, mop)
		return false
	}

	ms.busy = true
	evtMgr.Schedule(ms, mop, memOpComplete, vrtime.SecondsToTime(mop.req))
	return true
}

// memOpComplete is called when an instruction's service has been
// delivered.  Its main job is to pull the next instruction into
// service and hand the finished one to its completion handler.
func memOpComplete(evtMgr *evtm.EventManager, context any, data any) any {
	ms := context.(*MemScheduler)
	mop := data.(*MemOp)
	ms.busy = false

	if len(ms.waiting) > 0 {
		var nxt *MemOp
		nxt, ms.waiting = ms.waiting[0], ms.waiting[1:]
		ms.joinQueue(evtMgr, nxt)
	}

	return mop.completeFunc(evtMgr, mop.context, mop.data)
}
