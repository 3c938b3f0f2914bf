package qcast

// desc.go holds the serializable descriptions of a simulation
// experiment: the topology of the quantum network, the experiment
// parameters, and the result row written when a run completes.
// Serialization to json or to yaml is selected based on file extension.

import (
	"encoding/json"
	"errors"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// EdgeDesc describes one bidirectional fibre link between two named
// nodes, with its physical length in km
type EdgeDesc struct {
	From   string  `json:"from" yaml:"from"`
	To     string  `json:"to" yaml:"to"`
	Length float64 `json:"length" yaml:"length"`
}

// TopoCfg describes a quantum network topology as read from file
type TopoCfg struct {
	Name  string     `json:"name" yaml:"name"`
	Nodes []string   `json:"nodes" yaml:"nodes"`
	Edges []EdgeDesc `json:"edges" yaml:"edges"`
}

// CreateTopoCfg is an initialization constructor
func CreateTopoCfg(name string) *TopoCfg {
	tc := new(TopoCfg)
	tc.Name = name
	tc.Nodes = make([]string, 0)
	tc.Edges = make([]EdgeDesc, 0)
	return tc
}

// AddNode includes a node name in the description
func (tc *TopoCfg) AddNode(name string) {
	tc.Nodes = append(tc.Nodes, name)
}

// AddEdge includes a link description.  Links are bidirectional, one
// description covers both directions.
func (tc *TopoCfg) AddEdge(from, to string, length float64) {
	tc.Edges = append(tc.Edges, EdgeDesc{From: from, To: to, Length: length})
}

// BuildGraph turns the description into a validated Graph.  Each edge
// description yields adjacency entries in both directions.
func (tc *TopoCfg) BuildGraph() (*Graph, error) {
	edges := make(map[string]map[string]float64)
	for _, ed := range tc.Edges {
		_, present := edges[ed.From]
		if !present {
			edges[ed.From] = make(map[string]float64)
		}
		edges[ed.From][ed.To] = ed.Length
	}
	return CreateGraph(tc.Name, tc.Nodes, symmetrize(edges))
}

// WriteToFile stores the TopoCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tc *TopoCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tc, "", "\t")
	}

	if merr != nil {
		panic(merr)
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
	return werr
}

// ReadTopoCfg deserializes a byte slice holding a representation of a
// TopoCfg struct.  If the input argument of dict (those bytes) is empty,
// the file whose name is given is read to acquire them.  A deserialized
// representation is returned, or an error if one is generated from a
// file read or the deserialization.
func ReadTopoCfg(filename string, useYAML bool, dict []byte) (*TopoCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := TopoCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}
	return &example, nil
}

// ExpCfg holds the parameters of one simulation experiment.  Zero
// values are replaced with defaults when the experiment is built.
type ExpCfg struct {
	// name of the experiment, used to label traces and results
	Name string `json:"name" yaml:"name"`

	// name of the node that generates entanglement, every other
	// node is a receiver
	SrcNode string `json:"srcnode" yaml:"srcnode"`

	// number of entanglement rounds to run before halting
	Rounds int `json:"rounds" yaml:"rounds"`

	// fibre attenuation in dB/km, determines per-transmission loss
	Attenuation float64 `json:"attenuation" yaml:"attenuation"`

	// signal propagation speed in fibre, km/s
	FibreSpeed float64 `json:"fibrespeed" yaml:"fibrespeed"`

	// depolarizing attenuation applied to fidelity per km traversed
	DepolarPerKm float64 `json:"depolarperkm" yaml:"depolarperkm"`

	// probability a triggered source emits its pair
	EmitSuccessProb float64 `json:"emitsuccessprob" yaml:"emitsuccessprob"`

	// execution time in seconds of the local fusion instruction
	FusionTime float64 `json:"fusiontime" yaml:"fusiontime"`

	// gather a trace of protocol transitions and round outcomes
	UseTrace bool `json:"usetrace" yaml:"usetrace"`
}

// default experiment parameters, applied by BuildExperiment when the
// configuration leaves them zero
const (
	DefaultRounds      = 250
	DefaultFibreSpeed  = 2.0e5 // km/s in standard fibre
	DefaultFusionTime  = 1e-6
	DefaultAttenuation = 0.0
)

// ReadExpCfg deserializes a byte slice holding a representation of an
// ExpCfg struct, following the same convention as ReadTopoCfg.
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error

	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}

	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}

	if err != nil {
		return nil, err
	}
	return &example, nil
}

// WriteToFile stores the ExpCfg struct to the file whose name is given.
func (xc *ExpCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*xc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*xc, "", "\t")
	}

	if merr != nil {
		panic(merr)
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
	return werr
}

// ResultRow is the aggregate written out when the round budget is
// exhausted, the experiment's sole required output
type ResultRow struct {
	Round         int     `json:"round" yaml:"round"`
	MeanFidelity  float64 `json:"meanfidelity" yaml:"meanfidelity"`
	LossRate      float64 `json:"lossrate" yaml:"lossrate"`
	MinRoundTime  float64 `json:"minroundtime" yaml:"minroundtime"`
	MeanRoundTime float64 `json:"meanroundtime" yaml:"meanroundtime"`

	// RateHz is the smoothed entanglement generation rate.  When no
	// simulated time elapsed between rounds the rate is undefined and
	// RateDefined is false.
	RateHz      float64 `json:"ratehz" yaml:"ratehz"`
	RateDefined bool    `json:"ratedefined" yaml:"ratedefined"`
}

// WriteToFile appends the result row to the file whose name is given.
// json rows are written one object per line so that repeated runs
// accumulate a tabular artifact; yaml rows are written as documents.
func (rr *ResultRow) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*rr)
		bytes = append([]byte("---\n"), bytes...)
	} else {
		bytes, merr = json.Marshal(*rr)
		bytes = append(bytes, '\n')
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.Write(bytes)
	if werr != nil {
		panic(werr)
	}
	err := f.Close()
	if err != nil {
		panic(err)
	}
	return werr
}

// ReportErrs transforms a list of errors and transforms the non-nil ones into a single error
// with comma-separated report of all the constituent errors, and returns it.
func ReportErrs(errs []error) error {
	errMsg := make([]string, 0)
	for _, err := range errs {
		if err != nil {
			errMsg = append(errMsg, err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}

	return errors.New(strings.Join(errMsg, ","))
}
