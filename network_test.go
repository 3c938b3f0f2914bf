package qcast

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestNetwork(t *testing.T, g *Graph, cfg *ExpCfg) *Network {
	t.Helper()
	tm := CreateTraceManager("test", false)
	net, err := BuildNetwork(g.Name, g, cfg, tm)
	require.NoError(t, err)
	return net
}

func TestBuildNetworkAllocation(t *testing.T) {
	g, err := StarGraph(3, 2.0)
	require.NoError(t, err)

	net := buildTestNetwork(t, g, &ExpCfg{Name: "star"})

	// every node holds 2 x degree memory slots
	for _, nodeName := range g.Nodes() {
		nn := net.Nodes[nodeName]
		require.NotNil(t, nn)
		assert.Equal(t, 2*g.Degree(nodeName), nn.Mem.NumSlots(), "node %s", nodeName)
	}

	// one source and one channel per directed edge, named by the pair
	assert.Equal(t, 6, len(net.Sources))
	assert.Equal(t, 6, len(net.Channels))
	for _, leaf := range []string{"1", "2", "3"} {
		require.Contains(t, net.Sources, "qsource-0-"+leaf)
		require.Contains(t, net.Channels, "qchannel-0-"+leaf)
		require.Contains(t, net.Sources, "qsource-"+leaf+"-0")
		require.Contains(t, net.Channels, "qchannel-"+leaf+"-0")
	}

	// hub sources retain into distinct even slots, their channels
	// deliver into each leaf's first odd slot
	seen := make(map[int]bool)
	for _, leaf := range []string{"1", "2", "3"} {
		qs := net.Sources["qsource-0-"+leaf]
		assert.Equal(t, net.Nodes["0"], qs.Owner)
		assert.Equal(t, 0, qs.LocalSlot%2)
		assert.False(t, seen[qs.LocalSlot], "even slot %d reused", qs.LocalSlot)
		seen[qs.LocalSlot] = true

		qc := qs.Channel
		assert.Equal(t, net.Nodes[leaf], qc.Dest)
		assert.Equal(t, 1, qc.DestSlot%2)
		assert.Equal(t, 2.0, qc.Length)
	}

	// port descriptors carry role by parity and the feeding edge
	for _, nn := range net.Nodes {
		for _, pd := range nn.Ports {
			assert.Equal(t, RoleOfIndex(pd.Slot), pd.Role)
			assert.Equal(t, fmt.Sprintf("qin%d", pd.Slot), pd.Name)
			assert.NotEmpty(t, pd.EdgeName)
		}
	}
}

func TestChannelModel(t *testing.T) {
	g, err := TwinGraph(10.0)
	require.NoError(t, err)

	cfg := &ExpCfg{Name: "twin", Attenuation: 0.2, FibreSpeed: 2.0e5}
	net := buildTestNetwork(t, g, cfg)

	qc := net.Channels["qchannel-0-1"]
	assert.InDelta(t, 10.0/2.0e5, qc.Delay(), 1e-15)

	// 0.2 dB/km over 10 km is 2 dB, about 37% transmission loss
	want := 1.0 - math.Pow(10.0, -0.2)
	assert.InDelta(t, want, qc.LossProb(), 1e-12)

	// lossless fibre
	qc.Attenuation = 0.0
	assert.Zero(t, qc.LossProb())
}

func TestBuildNetworkLookupMaps(t *testing.T) {
	g, err := TwinGraph(1.0)
	require.NoError(t, err)

	net := buildTestNetwork(t, g, &ExpCfg{Name: "twin"})

	for name, nn := range net.Nodes {
		assert.Same(t, nn, NodeByName[name])
		assert.Same(t, nn, NodeByID[nn.ID])
	}
	for name, qs := range net.Sources {
		assert.Same(t, qs, SourceByName[name])
	}
	for name, qc := range net.Channels {
		assert.Same(t, qc, ChannelByName[name])
	}
}
