package qcast

// qstate.go holds the abstracted quantum state model used by the
// simulation.  States are ideal kets over a set of qubits, with channel
// and source imperfections folded into a scalar attenuation carried on
// the state.  That is enough to follow fidelity through generation,
// transmission, and fusion without simulating general circuits.

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"
)

// GHZKet returns the ideal n-qubit GHZ state, the equal superposition
// of the all-zeros and all-ones basis states, as a ket of dimension 2^n.
func GHZKet(n int) []complex128 {
	if n < 1 {
		panic(fmt.Errorf("GHZ ket needs at least one qubit, given %d", n))
	}
	dim := 1 << n
	ket := make([]complex128, dim)
	amp := complex(1.0/math.Sqrt2, 0.0)
	ket[0] = amp
	ket[dim-1] = amp
	return ket
}

// BellKet returns the two-qubit |B00> state emitted by an entanglement source
func BellKet() []complex128 {
	return GHZKet(2)
}

// KetNorm returns the norm of a ket
func KetNorm(ket []complex128) float64 {
	sq := make([]float64, len(ket))
	for idx, amp := range ket {
		mag := cmplx.Abs(amp)
		sq[idx] = mag * mag
	}
	return math.Sqrt(floats.Sum(sq))
}

// ketOverlap returns |<a|b>|^2 for two kets of equal dimension
func ketOverlap(a, b []complex128) float64 {
	var inner complex128
	for idx := range a {
		inner += cmplx.Conj(a[idx]) * b[idx]
	}
	mag := cmplx.Abs(inner)
	return mag * mag
}

// jointState is a shared entangled state.  Every qubit belonging to it
// points back at it; fusing qubit sets merges their states into one.
type jointState struct {
	ket    []complex128 // ideal ket over the live qubits
	attn   float64      // accumulated noise attenuation of fidelity
	qubits []*Qubit     // live members, in creation order
}

// Qubit is one share of a joint entangled state.  EdgeName records the
// source that emitted it, which makes round accounting independent of
// port-name parsing.
type Qubit struct {
	EdgeName string
	state    *jointState
}

// CreateBellPair emits the two halves of a fresh |B00> pair for the
// named edge.  The first return is the half retained at the emitting
// node, the second the half launched into the channel.
func CreateBellPair(edgeName string) (*Qubit, *Qubit) {
	js := &jointState{ket: BellKet(), attn: 1.0}
	local := &Qubit{EdgeName: edgeName, state: js}
	remote := &Qubit{EdgeName: edgeName, state: js}
	js.qubits = []*Qubit{local, remote}
	return local, remote
}

// Attenuate folds a multiplicative fidelity penalty into the qubit's
// joint state, the hook used by channel and source noise models
func (q *Qubit) Attenuate(factor float64) {
	q.state.attn *= factor
}

// Discard removes the qubit from its joint state.  The surviving
// members keep an ideal GHZ-shaped ket over the reduced count; a state
// whose last member is discarded is simply dropped.  Discarding an
// already-discarded qubit is a no-op.
func Discard(q *Qubit) {
	js := q.state
	if js == nil {
		return
	}
	live := make([]*Qubit, 0, len(js.qubits))
	for _, member := range js.qubits {
		if member != q {
			live = append(live, member)
		}
	}
	js.qubits = live
	if len(live) > 0 {
		js.ket = GHZKet(len(live))
	}
	q.state = nil
}

// Fuse joins the states of the given qubits into a single GHZ-shaped
// joint state spanning every live member of every constituent state.
// Attenuations multiply: each imperfect input state degrades the fused
// result.  The fused state is returned through its representative, the
// first offered qubit.
func Fuse(qubits []*Qubit) (*Qubit, error) {
	if len(qubits) == 0 {
		return nil, fmt.Errorf("fusion over empty qubit set")
	}

	// gather the distinct joint states
	states := make([]*jointState, 0, len(qubits))
	for _, q := range qubits {
		if q.state == nil {
			return nil, fmt.Errorf("fusion includes discarded qubit on edge %s", q.EdgeName)
		}
		seen := false
		for _, js := range states {
			if js == q.state {
				seen = true
				break
			}
		}
		if !seen {
			states = append(states, q.state)
		}
	}

	fused := &jointState{attn: 1.0}
	for _, js := range states {
		fused.attn *= js.attn
		fused.qubits = append(fused.qubits, js.qubits...)
	}
	fused.ket = GHZKet(len(fused.qubits))
	for _, member := range fused.qubits {
		member.state = fused
	}
	return qubits[0], nil
}

// Fidelity compares the joint state of a qubit set against a reference
// ket.  The offered qubits must share one joint state and cover it
// completely, and the reference dimension must match.  When squared is
// true the return is the squared (probability) fidelity, otherwise its
// square root.
func Fidelity(qubits []*Qubit, ref []complex128, squared bool) (float64, error) {
	if len(qubits) == 0 {
		return 0.0, fmt.Errorf("fidelity over empty qubit set")
	}
	js := qubits[0].state
	if js == nil {
		return 0.0, fmt.Errorf("fidelity over discarded qubit")
	}
	for _, q := range qubits[1:] {
		if q.state != js {
			return 0.0, fmt.Errorf("fidelity over qubits in distinct joint states")
		}
	}
	if len(qubits) != len(js.qubits) {
		return 0.0, fmt.Errorf("fidelity over %d qubits of a %d-qubit joint state",
			len(qubits), len(js.qubits))
	}
	if len(js.ket) != len(ref) {
		return 0.0, fmt.Errorf("state dimension %d does not match reference dimension %d",
			len(js.ket), len(ref))
	}

	fid := ketOverlap(js.ket, ref) * js.attn
	if !squared {
		fid = math.Sqrt(fid)
	}
	return fid, nil
}

// SlotRole tells how a memory slot is populated
type SlotRole int

const (
	// RoleEven slots hold the halves retained by the node's own sources
	RoleEven SlotRole = iota
	// RoleOdd slots receive qubits arriving over incoming channels
	RoleOdd
)

// RoleOfIndex derives the role from slot index parity.  The parity
// convention is fixed at build time and is the only rule downstream
// code uses to tell local output from peer input.
func RoleOfIndex(idx int) SlotRole {
	if idx%2 == 0 {
		return RoleEven
	}
	return RoleOdd
}

// MemSlot is one position in a node's quantum memory
type MemSlot struct {
	Index int
	Role  SlotRole
	qubit *Qubit
}

// QMemory is a node's quantum memory: an ordered sequence of slots,
// even indices for locally retained source output, odd indices for
// qubits delivered by incoming channels.  A memory is owned by exactly
// one node's protocol; only that protocol and the statistics drain
// mutate it.
type QMemory struct {
	nodeName string
	slots    []MemSlot
}

// CreateQMemory is a constructor
func CreateQMemory(nodeName string, numSlots int) *QMemory {
	qm := new(QMemory)
	qm.nodeName = nodeName
	qm.slots = make([]MemSlot, numSlots)
	for idx := range qm.slots {
		qm.slots[idx].Index = idx
		qm.slots[idx].Role = RoleOfIndex(idx)
	}
	return qm
}

// NumSlots returns the memory capacity
func (qm *QMemory) NumSlots() int {
	return len(qm.slots)
}

// Put stores a qubit at the indexed slot.  Writing past the end of the
// memory or over an occupied slot is an error; the occupied case means
// a stale qubit survived a round drain and the barrier logic upstream
// can no longer be trusted.
func (qm *QMemory) Put(idx int, q *Qubit) error {
	if idx < 0 || idx >= len(qm.slots) {
		return fmt.Errorf("node %s memory has no slot %d", qm.nodeName, idx)
	}
	if qm.slots[idx].qubit != nil {
		return fmt.Errorf("node %s memory slot %d already occupied", qm.nodeName, idx)
	}
	qm.slots[idx].qubit = q
	return nil
}

// Peek returns the qubit at the indexed slot, nil if empty or out of range
func (qm *QMemory) Peek(idx int) *Qubit {
	if idx < 0 || idx >= len(qm.slots) {
		return nil
	}
	return qm.slots[idx].qubit
}

// Take removes and returns the qubit at the indexed slot without
// discarding it, nil if the slot is empty or out of range
func (qm *QMemory) Take(idx int) *Qubit {
	if idx < 0 || idx >= len(qm.slots) {
		return nil
	}
	q := qm.slots[idx].qubit
	qm.slots[idx].qubit = nil
	return q
}

// Occupied tells whether the indexed slot holds a qubit
func (qm *QMemory) Occupied(idx int) bool {
	return qm.Peek(idx) != nil
}

// UsedSlots returns the indices of occupied slots, in order
func (qm *QMemory) UsedSlots() []int {
	used := make([]int, 0, len(qm.slots))
	for idx := range qm.slots {
		if qm.slots[idx].qubit != nil {
			used = append(used, idx)
		}
	}
	return used
}

// UsedEvenSlots returns the occupied even-indexed slots, the positions
// a source node fuses over
func (qm *QMemory) UsedEvenSlots() []int {
	used := make([]int, 0, len(qm.slots))
	for idx := 0; idx < len(qm.slots); idx += 2 {
		if qm.slots[idx].qubit != nil {
			used = append(used, idx)
		}
	}
	return used
}

// Reset discards every held qubit and empties the memory, returning it
// to the state a fresh round requires
func (qm *QMemory) Reset() {
	for idx := range qm.slots {
		if qm.slots[idx].qubit != nil {
			Discard(qm.slots[idx].qubit)
			qm.slots[idx].qubit = nil
		}
	}
}
