package qcast

// qcast.go builds the system data structures for one experiment and
// drives its rounds.  The experiment owns simulation pacing: it starts
// a round on every node, schedules the round-boundary collection event,
// lets the statistics engine fold in the outcome, and either schedules
// the next round or stops scheduling, after which the event queue
// drains and the run ends.

import (
	"fmt"
	"log/slog"
	"path"

	"github.com/iti/evt/evtm"
	"github.com/iti/evt/vrtime"
)

// NullHandler exists to provide as a link for data fields that call for
// an event handler, but no event handler is actually needed
func NullHandler(evtMgr *evtm.EventManager, context any, msg any) any {
	return nil
}

// Experiment binds together the resource topology, the per-node
// protocol instances, the statistics engine, and the round pacing
type Experiment struct {
	Name string
	Cfg  *ExpCfg

	Graph *Graph
	Net   *Network

	Source    *NodeProtocol
	Receivers []*NodeProtocol
	Protocols map[string]*NodeProtocol

	Stats    *RunningStats
	TraceMgr *TraceManager
	Logger   *slog.Logger

	// service time of the fusion instruction on a memory processor
	FusionTime float64

	// length of one round: long enough for every channel delivery and
	// the fusion instruction to land before collection
	roundWindow float64

	round      int
	roundFused bool

	// LastSnapshot is the most recent output of the statistics engine
	LastSnapshot StatsSnapshot

	// file the final result row is appended to, empty suppresses persistence
	ResultFile string

	halted bool
}

// CreateExperiment validates the configuration against the graph and
// builds the full resource topology and protocol assignment for a run.
// Configuration problems are returned immediately and nothing is built.
func CreateExperiment(cfg *ExpCfg, graph *Graph, traceMgr *TraceManager,
	logger *slog.Logger) (*Experiment, error) {

	ex := new(Experiment)
	ex.Name = cfg.Name
	ex.Cfg = cfg
	ex.Graph = graph
	ex.TraceMgr = traceMgr
	ex.Logger = logger
	if ex.Logger == nil {
		ex.Logger = slog.Default()
	}

	srcEdges := graph.EdgesOf(cfg.SrcNode)
	if srcEdges == nil {
		return nil, fmt.Errorf("source node %s not present in graph %s", cfg.SrcNode, graph.Name)
	}

	ex.FusionTime = cfg.FusionTime
	if !(ex.FusionTime > 0.0) {
		ex.FusionTime = DefaultFusionTime
	}

	net, err := BuildNetwork(cfg.Name, graph, cfg, traceMgr)
	if err != nil {
		return nil, err
	}
	ex.Net = net

	ex.Protocols = make(map[string]*NodeProtocol)
	ex.Receivers = make([]*NodeProtocol, 0, len(graph.Nodes())-1)
	for _, nodeName := range graph.Nodes() {
		isSource := nodeName == cfg.SrcNode
		np := CreateNodeProtocol(net.Nodes[nodeName], isSource, ex)
		ex.Protocols[nodeName] = np
		if isSource {
			ex.Source = np
		} else {
			ex.Receivers = append(ex.Receivers, np)
		}
	}

	rounds := cfg.Rounds
	if rounds <= 0 {
		rounds = DefaultRounds
	}

	// one retained share at the source plus one delivered share per
	// edge the source owns
	expected := graph.Degree(cfg.SrcNode) + 1
	ex.Stats = CreateRunningStats(cfg.Name, rounds, expected, ex.Logger)

	// the doubling leaves slack so collection sorts strictly after
	// the last possible delivery of the round
	ex.roundWindow = 2.0 * (net.MaxChannelDelay() + ex.FusionTime)

	return ex, nil
}

// BuildExperimentFiles bundles reading the topology and experiment
// configuration files and building the experiment from them.  File
// format is selected by extension, yaml or json.
func BuildExperimentFiles(dictFiles map[string]string, traceMgr *TraceManager,
	logger *slog.Logger) (*Experiment, error) {

	empty := make([]byte, 0)

	topoFile := dictFiles["topo"]
	ext := path.Ext(topoFile)
	useYAML := (ext == ".yaml") || (ext == ".yml")
	tc, err1 := ReadTopoCfg(topoFile, useYAML, empty)

	expFile := dictFiles["exp"]
	ext = path.Ext(expFile)
	useYAML = (ext == ".yaml") || (ext == ".yml")
	xc, err2 := ReadExpCfg(expFile, useYAML, empty)

	err := ReportErrs([]error{err1, err2})
	if err != nil {
		return nil, err
	}

	graph, err := tc.BuildGraph()
	if err != nil {
		return nil, err
	}
	return CreateExperiment(xc, graph, traceMgr, logger)
}

// RoundWindow returns the simulated duration of one round
func (ex *Experiment) RoundWindow() float64 {
	return ex.roundWindow
}

// Start schedules the first round.  The caller owns the event manager
// and calls its Run method; the run ends when the round budget is
// exhausted and the experiment stops feeding the queue.
func (ex *Experiment) Start(evtMgr *evtm.EventManager) {
	ex.Stats.MarkStart(evtMgr.CurrentSeconds())
	evtMgr.Schedule(ex, nil, startRound, vrtime.SecondsToTime(0.0))
}

// Run builds a horizon comfortably past the budgeted rounds, starts
// the experiment, and runs the event manager until the queue drains
func (ex *Experiment) Run(evtMgr *evtm.EventManager) {
	horizon := ex.roundWindow*float64(ex.Stats.Budget+1)*2.0 + 1.0
	ex.Start(evtMgr)
	evtMgr.Run(horizon)
}

// startRound is the event handler for a round boundary.  Every
// receiver is armed before the source triggers, so no arrival can
// race past an unarmed protocol.
func startRound(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	if ex.halted {
		return nil
	}

	ex.round += 1
	ex.roundFused = false

	for _, np := range ex.Receivers {
		np.beginRound(evtMgr, ex.round)
	}
	ex.Source.beginRound(evtMgr, ex.round)

	evtMgr.Schedule(ex, ex.round, collectRound, vrtime.SecondsToTime(ex.roundWindow))
	return nil
}

// sourceReport records the source protocol's round-success signal
func (ex *Experiment) sourceReport(evtMgr *evtm.EventManager, np *NodeProtocol, fidelity float64) {
	ex.roundFused = true
	AddRoundTrace(ex.TraceMgr, evtMgr.CurrentTime(), np.Round, np.Node.ID,
		"fused", fidelity)
}

// receiverReport records a receiver's first arrival of the round
func (ex *Experiment) receiverReport(evtMgr *evtm.EventManager, np *NodeProtocol, slot int) {
	AddProtocolTrace(ex.TraceMgr, evtMgr.CurrentTime(), np.Round, np.Node.ID,
		fmt.Sprintf("arrival[qin%d]", slot))
}

// collectRound is the event handler for the end of a round.  It
// gathers the round's qubit census, folds the outcome into the
// statistics, drains every memory so the next round starts clean, and
// schedules the next round or ends the run.
func collectRound(evtMgr *evtm.EventManager, context any, data any) any {
	ex := context.(*Experiment)
	round := data.(int)
	if round != ex.round || ex.halted {
		return nil
	}

	// census: the source's retained share, then the first delivered
	// share of each receiver.  A receiver contributes at most one
	// qubit however many input edges it has.
	qubits := make([]*Qubit, 0, ex.Stats.Expected)
	if ex.roundFused {
		srcMem := ex.Source.Node.Mem
		usedEven := srcMem.UsedEvenSlots()
		if len(usedEven) > 0 {
			qubits = append(qubits, srcMem.Peek(usedEven[0]))
		}
	}
	for _, np := range ex.Receivers {
		for _, slot := range np.Node.Mem.UsedSlots() {
			if RoleOfIndex(slot) == RoleOdd {
				qubits = append(qubits, np.Node.Mem.Peek(slot))
				break
			}
		}
	}
	observed := len(qubits)

	fused := ex.roundFused
	fidelity := 0.0
	if fused && observed == ex.Stats.Expected {
		var ferr error
		fidelity, ferr = Fidelity(qubits, GHZKet(observed), true)
		if ferr != nil {
			ex.Logger.Warn("fidelity unavailable at collection",
				slog.String("exp", ex.Name), slog.Int("round", round),
				slog.String("err", ferr.Error()))
			fused = false
		}
	}

	now := evtMgr.CurrentSeconds()
	snap := ex.Stats.RecordRound(now, observed, fidelity, fused)
	ex.LastSnapshot = snap
	AddRoundTrace(ex.TraceMgr, evtMgr.CurrentTime(), round, 0, "collected", snap.MeanFidelity)

	// mandatory drain: stale occupancy would corrupt the next round's
	// barrier and arrival detection
	for _, nn := range ex.Net.Nodes {
		nn.Mem.Reset()
	}

	if ex.Stats.Done() {
		ex.halted = true
		row := ex.Stats.Result()
		if len(ex.ResultFile) > 0 {
			row.WriteToFile(ex.ResultFile)
		}
		ex.Logger.Info("experiment complete",
			slog.String("exp", ex.Name), slog.Int("rounds", row.Round),
			slog.Float64("meanfidelity", row.MeanFidelity),
			slog.Float64("lossrate", row.LossRate))
		return nil
	}

	evtMgr.Schedule(ex, nil, startRound, vrtime.SecondsToTime(0.0))
	return nil
}

// Result returns the aggregate row the run has accumulated so far
func (ex *Experiment) Result() ResultRow {
	return ex.Stats.Result()
}

// Halted tells whether the round budget has been exhausted
func (ex *Experiment) Halted() bool {
	return ex.halted
}
