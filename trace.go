package qcast

import (
	"encoding/json"
	"os"
	"path"
	"sort"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceInst is one gathered trace record, tagged with its simulated
// time and record type
type TraceInst struct {
	TraceTime string
	TraceType string
	TraceStr  string
}

// NameType is a an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceManager gathers information about an execution of a simulation
// experiment: the names and ids of the topology objects, protocol
// state transitions, and round outcomes, all keyed by round number
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, keyed by round
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the experiment
// and a flag indicating whether the trace manager is active.  By testing this
// flag we can inhibit the activity of gathering a trace when we don't want it,
// while embedding calls to its methods everywhere we need them when it is
func CreateTraceManager(ExpName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = ExpName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the Trace Manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace creates a record of the trace using its calling arguments, and stores it
func (tm *TraceManager) AddTrace(vrt vrtime.Time, round int, trace TraceInst) {
	if !tm.InUse {
		return
	}

	_, present := tm.Traces[round]
	if !present {
		tm.Traces[round] = make([]TraceInst, 0)
	}
	tm.Traces[round] = append(tm.Traces[round], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
// When globalOrder is selected the records of all rounds are merged
// into one list sorted by time.
func (tm *TraceManager) WriteToFile(filename string, globalOrder bool) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if !globalOrder {
		if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
			bytes, merr = yaml.Marshal(*tm)
		} else if pathExt == ".json" || pathExt == ".JSON" {
			bytes, merr = json.MarshalIndent(*tm, "", "\t")
		}

		if merr != nil {
			panic(merr)
		}
	} else {
		ntm := new(TraceManager)
		ntm.InUse = tm.InUse
		ntm.ExpName = tm.ExpName
		ntm.NameByID = make(map[int]NameType)
		for key, value := range tm.NameByID {
			ntm.NameByID[key] = value
		}
		ntm.Traces = make(map[int][]TraceInst)
		ntm.Traces[0] = make([]TraceInst, 0)
		for _, valueList := range tm.Traces {
			ntm.Traces[0] = append(ntm.Traces[0], valueList...)
		}

		sort.Slice(ntm.Traces[0], func(i, j int) bool {
			v1, _ := strconv.ParseFloat(ntm.Traces[0][i].TraceTime, 64)
			v2, _ := strconv.ParseFloat(ntm.Traces[0][j].TraceTime, 64)
			return v1 < v2
		})
		if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
			bytes, merr = yaml.Marshal(*ntm)
		} else if pathExt == ".json" || pathExt == ".JSON" {
			bytes, merr = json.MarshalIndent(*ntm, "", "\t")
		}

		if merr != nil {
			panic(merr)
		}
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	err := f.Close()
	if err != nil {
		panic(err)
	}
	return true
}

// ProtocolTrace records one protocol event on a node: a state
// transition or a port arrival
type ProtocolTrace struct {
	Time  float64
	Round int
	ObjID int
	Op    string
}

func (pt *ProtocolTrace) Serialize() string {
	var bytes []byte
	var merr error

	bytes, merr = yaml.Marshal(*pt)

	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// RoundTrace records a round outcome: a source fusion report or the
// round collection, with the fidelity value in play
type RoundTrace struct {
	Time     float64
	Round    int
	ObjID    int
	Op       string
	Fidelity float64
}

func (rt *RoundTrace) Serialize() string {
	var bytes []byte
	var merr error

	bytes, merr = yaml.Marshal(*rt)

	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// AddProtocolTrace creates a record of a protocol event and stores it
func AddProtocolTrace(tm *TraceManager, vrt vrtime.Time, round, objID int, op string) {
	if !tm.InUse {
		return
	}

	pt := new(ProtocolTrace)
	pt.Time = vrt.Seconds()
	pt.Round = round
	pt.ObjID = objID
	pt.Op = op
	ptStr := pt.Serialize()

	traceTime := strconv.FormatFloat(pt.Time, 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: "protocol", TraceStr: ptStr}
	tm.AddTrace(vrt, round, trcInst)
}

// AddRoundTrace creates a record of a round outcome and stores it
func AddRoundTrace(tm *TraceManager, vrt vrtime.Time, round, objID int, op string, fidelity float64) {
	if !tm.InUse {
		return
	}

	rt := new(RoundTrace)
	rt.Time = vrt.Seconds()
	rt.Round = round
	rt.ObjID = objID
	rt.Op = op
	rt.Fidelity = fidelity
	rtStr := rt.Serialize()

	traceTime := strconv.FormatFloat(rt.Time, 'f', -1, 64)
	trcInst := TraceInst{TraceTime: traceTime, TraceType: "round", TraceStr: rtStr}
	tm.AddTrace(vrt, round, trcInst)
}
