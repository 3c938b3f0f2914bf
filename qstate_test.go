package qcast

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGHZKetShape(t *testing.T) {
	for n := 1; n <= 8; n++ {
		ket := GHZKet(n)
		require.Equal(t, 1<<n, len(ket))
		assert.InDelta(t, 1.0, KetNorm(ket), 1e-12, "norm for n=%d", n)
		assert.InDelta(t, 1.0/math.Sqrt2, real(ket[0]), 1e-12)
		assert.InDelta(t, 1.0/math.Sqrt2, real(ket[len(ket)-1]), 1e-12)
		for idx := 1; idx < len(ket)-1; idx++ {
			assert.Zero(t, ket[idx])
		}
	}

	assert.Panics(t, func() { GHZKet(0) })
}

func TestBellPairFidelity(t *testing.T) {
	local, remote := CreateBellPair("a-b")
	require.Equal(t, "a-b", local.EdgeName)

	fid, err := Fidelity([]*Qubit{local, remote}, BellKet(), true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, fid, 1e-12)

	// attenuation degrades the pair but stays in range
	local.Attenuate(0.9)
	fid, err = Fidelity([]*Qubit{local, remote}, BellKet(), true)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, fid, 1e-12)
	assert.GreaterOrEqual(t, fid, 0.0)
	assert.LessOrEqual(t, fid, 1.0)

	// amplitude fidelity is the square root
	fid, err = Fidelity([]*Qubit{local, remote}, BellKet(), false)
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt(0.9), fid, 1e-12)
}

func TestFidelityErrors(t *testing.T) {
	_, err := Fidelity(nil, BellKet(), true)
	require.Error(t, err)

	l1, r1 := CreateBellPair("a-b")
	l2, _ := CreateBellPair("a-c")

	// distinct joint states
	_, err = Fidelity([]*Qubit{l1, l2}, BellKet(), true)
	require.Error(t, err)

	// set does not cover the joint state
	_, err = Fidelity([]*Qubit{l1}, GHZKet(1), true)
	require.Error(t, err)

	// dimension mismatch
	_, err = Fidelity([]*Qubit{l1, r1}, GHZKet(3), true)
	require.Error(t, err)
}

func TestFuseAndDiscard(t *testing.T) {
	l1, r1 := CreateBellPair("s-a")
	l2, r2 := CreateBellPair("s-b")
	l2.Attenuate(0.5)

	rep, err := Fuse([]*Qubit{l1, l2})
	require.NoError(t, err)
	require.Same(t, l1, rep)

	// every member now shares one four-qubit state
	fid, err := Fidelity([]*Qubit{l1, r1, l2, r2}, GHZKet(4), true)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fid, 1e-12)

	// consuming the extra retained half leaves a three-qubit GHZ
	Discard(l2)
	fid, err = Fidelity([]*Qubit{rep, r1, r2}, GHZKet(3), true)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, fid, 1e-12)

	// discarding twice is harmless
	Discard(l2)

	_, err = Fuse(nil)
	require.Error(t, err)
	_, err = Fuse([]*Qubit{l2})
	require.Error(t, err)
}

func TestQMemoryRolesAndOccupancy(t *testing.T) {
	qm := CreateQMemory("n", 4)
	require.Equal(t, 4, qm.NumSlots())

	for idx := 0; idx < 4; idx++ {
		want := RoleEven
		if idx%2 == 1 {
			want = RoleOdd
		}
		assert.Equal(t, want, RoleOfIndex(idx))
	}

	l, r := CreateBellPair("n-m")
	require.NoError(t, qm.Put(0, l))
	require.NoError(t, qm.Put(1, r))

	// occupied slot rejects a second write
	require.Error(t, qm.Put(0, r))
	// out of range
	require.Error(t, qm.Put(4, r))

	assert.Equal(t, []int{0, 1}, qm.UsedSlots())
	assert.Equal(t, []int{0}, qm.UsedEvenSlots())
	assert.Same(t, l, qm.Peek(0))
	assert.Nil(t, qm.Peek(2))

	taken := qm.Take(1)
	assert.Same(t, r, taken)
	assert.False(t, qm.Occupied(1))

	qm.Reset()
	assert.Empty(t, qm.UsedSlots())
	// the held qubit was discarded by the reset
	assert.Nil(t, l.state)
}
