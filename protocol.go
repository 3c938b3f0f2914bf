package qcast

// protocol.go holds the per-node protocol state machine that drives
// entanglement rounds.  A source node triggers every source it owns,
// waits for all of its even memory slots to fill (an AND barrier),
// fuses the retained halves into one GHZ-shaped state, and reports.
// A receiver node waits for the first arrival on any of its odd slots
// (an OR barrier) and reports.  Loss never aborts a run: a barrier
// that does not resolve inside the round window is abandoned and the
// round re-attempted at the next round boundary.

import (
	"log/slog"
	"sort"

	"github.com/iti/evt/evtm"
)

// ProtState enumerates the states of the node protocol state machine
type ProtState int

const (
	StateIdle ProtState = iota
	StateTriggering
	StateAwaitingCompletion
	StateFusing
	StateAwaitingArrival
	StateReporting
)

func (ps ProtState) String() string {
	switch ps {
	case StateIdle:
		return "idle"
	case StateTriggering:
		return "triggering"
	case StateAwaitingCompletion:
		return "awaiting-completion"
	case StateFusing:
		return "fusing"
	case StateAwaitingArrival:
		return "awaiting-arrival"
	case StateReporting:
		return "reporting"
	}
	return "unknown"
}

// NodeProtocol runs on one node for the duration of an experiment.
// Its role is fixed at attachment: a source generates entanglement,
// every other node receives.
type NodeProtocol struct {
	Node     *NetNode
	IsSource bool
	State    ProtState

	// Round is the round currently in progress; deliveries carrying a
	// stale round context are ignored
	Round int

	// outstanding local deliveries before the source barrier resolves
	pending int

	// latch for the receiver's first arrival of the round
	gotArrival bool

	// edge names of the sources this node owns, in trigger order
	triggerEdges []string

	memSched *MemScheduler
	exp      *Experiment
}

// CreateNodeProtocol is a constructor.  It attaches the protocol to
// its node and fixes the trigger order of the node's sources.
func CreateNodeProtocol(node *NetNode, isSource bool, exp *Experiment) *NodeProtocol {
	np := new(NodeProtocol)
	np.Node = node
	np.IsSource = isSource
	np.State = StateIdle
	np.exp = exp
	np.memSched = CreateMemScheduler(node.Name)

	np.triggerEdges = make([]string, 0, len(node.Sources))
	for edgeName := range node.Sources {
		np.triggerEdges = append(np.triggerEdges, edgeName)
	}
	sort.Strings(np.triggerEdges)

	node.Prot = np
	return np
}

// setState records a state transition in the trace
func (np *NodeProtocol) setState(evtMgr *evtm.EventManager, state ProtState) {
	AddProtocolTrace(np.exp.TraceMgr, evtMgr.CurrentTime(), np.Round, np.Node.ID,
		np.State.String()+">"+state.String())
	np.State = state
}

// beginRound starts round number round on this node.  The memory is
// expected to be empty; the statistics drain guarantees that before
// the round boundary.
func (np *NodeProtocol) beginRound(evtMgr *evtm.EventManager, round int) {
	np.Round = round
	np.gotArrival = false

	if !np.IsSource {
		np.setState(evtMgr, StateAwaitingArrival)
		return
	}

	np.setState(evtMgr, StateTriggering)
	np.pending = len(np.triggerEdges)

	for _, edgeName := range np.triggerEdges {
		qs := np.Node.Sources[edgeName]
		err := qs.Trigger(evtMgr)
		if err != nil {
			// substrate refusal is transient: give up on this round
			// and let the round boundary start the next attempt
			np.exp.Logger.Warn("trigger failed, round abandoned",
				slog.String("node", np.Node.Name), slog.Int("round", round),
				slog.String("err", err.Error()))
			np.setState(evtMgr, StateIdle)
			return
		}
	}
	np.setState(evtMgr, StateAwaitingCompletion)
}

// localDelivery notifies the protocol that a source's retained half
// landed in the even slot given.  It is one leg of the AND barrier:
// the barrier resolves only when every triggered edge has delivered.
func (np *NodeProtocol) localDelivery(evtMgr *evtm.EventManager, slot int) {
	if !np.IsSource || np.State != StateAwaitingCompletion {
		return
	}

	np.pending -= 1
	if np.pending > 0 {
		return
	}

	np.setState(evtMgr, StateFusing)
	np.memSched.Schedule(evtMgr, "fusion", np.exp.FusionTime, np.Round, np, nil, fusionDone)
}

// fusionDone is the completion handler for the fusion instruction on
// the memory processor.  It joins the retained halves into one state,
// consumes all but a single representative, and reports the round.
func fusionDone(evtMgr *evtm.EventManager, context any, data any) any {
	np := context.(*NodeProtocol)
	if np.State != StateFusing {
		return nil
	}

	mem := np.Node.Mem
	usedEven := mem.UsedEvenSlots()
	qubits := make([]*Qubit, 0, len(usedEven))
	for _, slot := range usedEven {
		qubits = append(qubits, mem.Peek(slot))
	}

	rep, err := Fuse(qubits)
	if err != nil {
		np.exp.Logger.Warn("fusion failed, round abandoned",
			slog.String("node", np.Node.Name), slog.Int("round", np.Round),
			slog.String("err", err.Error()))
		np.setState(evtMgr, StateIdle)
		return nil
	}

	// the joined state is held through one representative; the other
	// retained halves are consumed by the fusion operation
	for _, slot := range usedEven[1:] {
		Discard(mem.Take(slot))
	}

	fid, ferr := Fidelity(rep.state.qubits, GHZKet(len(rep.state.qubits)), true)
	if ferr != nil {
		np.exp.Logger.Warn("fidelity unavailable after fusion",
			slog.String("node", np.Node.Name), slog.Int("round", np.Round),
			slog.String("err", ferr.Error()))
		fid = 0.0
	}

	np.setState(evtMgr, StateReporting)
	np.exp.sourceReport(evtMgr, np, fid)
	np.setState(evtMgr, StateIdle)
	return nil
}

// arrival notifies the protocol that a qubit landed in the odd slot
// given.  For a receiver this is the OR barrier: the first arrival of
// the round completes it, later arrivals in the same round are left in
// memory for the drain but change nothing.
func (np *NodeProtocol) arrival(evtMgr *evtm.EventManager, slot int) {
	if np.IsSource {
		// a source node owns no round obligations on its odd slots
		return
	}
	if np.State != StateAwaitingArrival || np.gotArrival {
		return
	}

	np.gotArrival = true
	np.setState(evtMgr, StateReporting)
	np.exp.receiverReport(evtMgr, np, slot)
	np.setState(evtMgr, StateIdle)
}

// Received tells whether the protocol's node took delivery this round
func (np *NodeProtocol) Received() bool {
	return np.gotArrival
}
