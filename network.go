package qcast

// network.go maps an abstract Graph onto concrete simulation
// resources: a quantum memory per node sized to its degree, and one
// entanglement source and one fibre channel per directed edge.  The
// wiring convention is fixed here and nowhere else: a source's
// retained half lands in its owner's next free even memory slot, the
// launched half crosses the channel into the peer's next free odd
// slot.  Downstream code locates qubits purely by slot index parity.

import (
	"fmt"
	"math"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
	"github.com/iti/rngstream"
)

// DuplicateResourceNameError reports that topology construction tried
// to create two sources or channels with the same name, which can only
// happen when the caller offers a graph with duplicate edges
type DuplicateResourceNameError struct {
	Name string
}

func (dre *DuplicateResourceNameError) Error() string {
	return fmt.Sprintf("duplicate resource name %s", dre.Name)
}

// ResourceExhaustionError reports that a node's memory cannot hold the
// slots its edges require
type ResourceExhaustionError struct {
	NodeName string
	Slot     int
	Capacity int
}

func (ree *ResourceExhaustionError) Error() string {
	return fmt.Sprintf("node %s memory exhausted: slot %d requested, capacity %d",
		ree.NodeName, ree.Slot, ree.Capacity)
}

// PortDesc names one memory input port of a node and records, once at
// build time, which edge feeds it and in which role
type PortDesc struct {
	Name     string
	Slot     int
	Role     SlotRole
	EdgeName string
}

// NetNode is the runtime representation of one network node: its
// quantum memory, the sources it owns (one per outgoing edge), the
// channels that terminate at it, and the port descriptors binding
// both to memory slots
type NetNode struct {
	Name string
	ID   int

	Mem   *QMemory
	Ports map[string]*PortDesc

	// sources owned by this node, indexed by edge name
	Sources map[string]*QSource

	// channels delivering to this node, indexed by edge name
	InChannels map[string]*QChannel

	// protocol instance running on this node, attached by the experiment
	Prot *NodeProtocol

	nextEven int
	nextOdd  int
}

// allocEvenSlot hands out the node's next even memory slot
func (nn *NetNode) allocEvenSlot() (int, error) {
	slot := nn.nextEven
	if slot >= nn.Mem.NumSlots() {
		return -1, &ResourceExhaustionError{NodeName: nn.Name, Slot: slot, Capacity: nn.Mem.NumSlots()}
	}
	nn.nextEven += 2
	return slot, nil
}

// allocOddSlot hands out the node's next odd memory slot
func (nn *NetNode) allocOddSlot() (int, error) {
	slot := nn.nextOdd
	if slot >= nn.Mem.NumSlots() {
		return -1, &ResourceExhaustionError{NodeName: nn.Name, Slot: slot, Capacity: nn.Mem.NumSlots()}
	}
	nn.nextOdd += 2
	return slot, nil
}

// QSource is the entanglement source owned by one node for one edge.
// A trigger makes it emit a Bell pair: one half is delivered into the
// owner's even slot, the other is launched into the channel.
type QSource struct {
	Name     string
	ID       int
	EdgeName string

	Owner     *NetNode
	LocalSlot int
	Channel   *QChannel

	// probability a trigger produces an emission
	EmitProb float64

	// an emission is outstanding until its local half lands
	busy bool

	Rngstrm *rngstream.RngStream
}

// Trigger makes the source emit, or reports why it cannot.  The error
// return covers substrate-level refusal (a previous emission still in
// flight); emission failure itself is a physical outcome, sampled
// silently, and shows up only as memory slots that never fill.
func (qs *QSource) Trigger(evtMgr *evtm.EventManager) error {
	if qs.busy {
		return fmt.Errorf("source %s triggered while emission outstanding", qs.Name)
	}

	if qs.EmitProb < 1.0 && qs.Rngstrm.RandU01() > qs.EmitProb {
		// no emission this trigger, nothing arrives anywhere
		return nil
	}
	qs.busy = true

	local, remote := CreateBellPair(qs.EdgeName)

	// retained half lands in the owner's even slot at the current
	// instant, emission delay is fixed at zero
	evtMgr.Schedule(qs, local, deliverSourceOutput, vrtime.SecondsToTime(0.0))

	// launched half rides the channel
	qs.Channel.Transmit(evtMgr, remote)
	return nil
}

// deliverSourceOutput is the event handler for a source's retained
// half landing in its owner's memory
func deliverSourceOutput(evtMgr *evtm.EventManager, context any, data any) any {
	qs := context.(*QSource)
	qubit := data.(*Qubit)
	qs.busy = false

	err := qs.Owner.Mem.Put(qs.LocalSlot, qubit)
	if err != nil {
		panic(err)
	}
	if qs.Owner.Prot != nil {
		qs.Owner.Prot.localDelivery(evtMgr, qs.LocalSlot)
	}
	return nil
}

// QChannel is a lossy fibre channel that carries one half of each pair
// emitted by its source to the destination node's odd memory slot
type QChannel struct {
	Name     string
	ID       int
	EdgeName string

	// physical length in km
	Length float64

	// attenuation in dB/km; loss probability per transmission follows
	Attenuation float64

	// depolarizing fidelity attenuation applied per km traversed
	DepolarPerKm float64

	// propagation speed in km/s
	Speed float64

	Dest     *NetNode
	DestSlot int

	Rngstrm *rngstream.RngStream
}

// Delay returns the propagation delay of the channel in seconds
func (qc *QChannel) Delay() float64 {
	return qc.Length / qc.Speed
}

// LossProb returns the probability that a transmitted qubit is
// absorbed in the fibre
func (qc *QChannel) LossProb() float64 {
	if qc.Attenuation <= 0.0 {
		return 0.0
	}
	return 1.0 - math.Pow(10.0, -qc.Attenuation*qc.Length/10.0)
}

// Transmit carries a qubit across the channel.  Loss is sampled from
// the channel's own RNG stream; a lost qubit is discarded on the spot
// and simply never arrives.  A surviving qubit picks up the channel's
// depolarizing attenuation and is delivered after the propagation delay.
func (qc *QChannel) Transmit(evtMgr *evtm.EventManager, qubit *Qubit) {
	lossProb := qc.LossProb()
	if lossProb > 0.0 && qc.Rngstrm.RandU01() < lossProb {
		Discard(qubit)
		return
	}

	if qc.DepolarPerKm > 0.0 {
		qubit.Attenuate(math.Pow(1.0-qc.DepolarPerKm, qc.Length))
	}
	evtMgr.Schedule(qc, qubit, arriveChannelOutput, vrtime.SecondsToTime(qc.Delay()))
	return
}

// arriveChannelOutput is the event handler for a qubit reaching the
// far end of a channel
func arriveChannelOutput(evtMgr *evtm.EventManager, context any, data any) any {
	qc := context.(*QChannel)
	qubit := data.(*Qubit)

	err := qc.Dest.Mem.Put(qc.DestSlot, qubit)
	if err != nil {
		panic(err)
	}
	if qc.Dest.Prot != nil {
		qc.Dest.Prot.arrival(evtMgr, qc.DestSlot)
	}
	return nil
}

// Network is the resource topology built from a Graph: the concrete
// per-node and per-edge assignment of memories, sources, and channels
type Network struct {
	Name  string
	Graph *Graph

	Nodes    map[string]*NetNode
	Sources  map[string]*QSource
	Channels map[string]*QChannel
}

// global variables for finding things given an id, or a name
var NodeByName map[string]*NetNode
var NodeByID map[int]*NetNode
var SourceByName map[string]*QSource
var ChannelByName map[string]*QChannel

var NumIDs int = 0

// nxtID creates an id for objects created within the qcast module that
// is unique among those objects
func nxtID() int {
	NumIDs += 1
	return NumIDs
}

// BuildNetwork maps the graph onto a Network.  Every node gets a
// memory of 2 x degree slots.  Every directed pair (u,v) with an edge
// between them gets one source owned by u and one channel into v, so a
// bidirectional link yields independent generation resources at both
// endpoints.  Channel parameters come from the experiment configuration.
func BuildNetwork(name string, graph *Graph, cfg *ExpCfg, traceMgr *TraceManager) (*Network, error) {
	net := new(Network)
	net.Name = name
	net.Graph = graph
	net.Nodes = make(map[string]*NetNode)
	net.Sources = make(map[string]*QSource)
	net.Channels = make(map[string]*QChannel)

	// reinitialize the lookup maps, a build starts a fresh experiment
	NodeByName = make(map[string]*NetNode)
	NodeByID = make(map[int]*NetNode)
	SourceByName = make(map[string]*QSource)
	ChannelByName = make(map[string]*QChannel)

	emitProb := cfg.EmitSuccessProb
	if !(emitProb > 0.0) {
		emitProb = 1.0
	}
	speed := cfg.FibreSpeed
	if !(speed > 0.0) {
		speed = DefaultFibreSpeed
	}

	// first pass, nodes and their memories
	for _, nodeName := range graph.Nodes() {
		nn := new(NetNode)
		nn.Name = nodeName
		nn.ID = nxtID()
		nn.Mem = CreateQMemory(nodeName, 2*graph.Degree(nodeName))
		nn.Ports = make(map[string]*PortDesc)
		nn.Sources = make(map[string]*QSource)
		nn.InChannels = make(map[string]*QChannel)
		nn.nextEven = 0
		nn.nextOdd = 1

		net.Nodes[nodeName] = nn
		NodeByName[nodeName] = nn
		NodeByID[nn.ID] = nn
		traceMgr.AddName(nn.ID, nodeName, "node")
	}

	// second pass, one source/channel pair per directed edge
	for _, nodeName := range graph.Nodes() {
		owner := net.Nodes[nodeName]
		for _, nbr := range graph.Neighbors(nodeName) {
			length := graph.EdgesOf(nodeName)[nbr]
			edgeName := nodeName + "-" + nbr
			sourceName := "qsource-" + edgeName
			channelName := "qchannel-" + edgeName

			_, present := net.Sources[sourceName]
			if present {
				return nil, &DuplicateResourceNameError{Name: sourceName}
			}
			_, present = net.Channels[channelName]
			if present {
				return nil, &DuplicateResourceNameError{Name: channelName}
			}

			dest := net.Nodes[nbr]

			localSlot, err := owner.allocEvenSlot()
			if err != nil {
				return nil, err
			}
			destSlot, err := dest.allocOddSlot()
			if err != nil {
				return nil, err
			}

			qc := new(QChannel)
			qc.Name = channelName
			qc.ID = nxtID()
			qc.EdgeName = edgeName
			qc.Length = length
			qc.Attenuation = cfg.Attenuation
			qc.DepolarPerKm = cfg.DepolarPerKm
			qc.Speed = speed
			qc.Dest = dest
			qc.DestSlot = destSlot
			qc.Rngstrm = rngstream.New(channelName)

			qs := new(QSource)
			qs.Name = sourceName
			qs.ID = nxtID()
			qs.EdgeName = edgeName
			qs.Owner = owner
			qs.LocalSlot = localSlot
			qs.Channel = qc
			qs.EmitProb = emitProb
			qs.Rngstrm = rngstream.New(sourceName)

			owner.Sources[edgeName] = qs
			dest.InChannels[edgeName] = qc

			owner.Ports[fmt.Sprintf("qin%d", localSlot)] =
				&PortDesc{Name: fmt.Sprintf("qin%d", localSlot), Slot: localSlot,
					Role: RoleEven, EdgeName: edgeName}
			dest.Ports[fmt.Sprintf("qin%d", destSlot)] =
				&PortDesc{Name: fmt.Sprintf("qin%d", destSlot), Slot: destSlot,
					Role: RoleOdd, EdgeName: edgeName}

			net.Sources[sourceName] = qs
			net.Channels[channelName] = qc
			SourceByName[sourceName] = qs
			ChannelByName[channelName] = qc
			traceMgr.AddName(qs.ID, sourceName, "source")
			traceMgr.AddName(qc.ID, channelName, "channel")
		}
	}

	return net, nil
}

// MaxChannelDelay returns the largest propagation delay in the
// network, used to size the round window
func (net *Network) MaxChannelDelay() float64 {
	maxDelay := 0.0
	for _, qc := range net.Channels {
		if qc.Delay() > maxDelay {
			maxDelay = qc.Delay()
		}
	}
	return maxDelay
}
