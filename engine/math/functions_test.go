package math

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMat4IdentityMulIsNeutral(t *testing.T) {
	m := NewMat4Translation(NewVec3(1, 2, 3))
	require.Equal(t, m, NewMat4Identity().Mul(m))
	require.Equal(t, m, m.Mul(NewMat4Identity()))
}

func TestMat4TranslationComposes(t *testing.T) {
	a := NewMat4Translation(NewVec3(1, 0, 0))
	b := NewMat4Translation(NewVec3(0, 2, 0))
	c := a.Mul(b)
	require.InDelta(t, 1.0, c.Data[12], 1e-6)
	require.InDelta(t, 2.0, c.Data[13], 1e-6)
}

func TestVec3Normalize(t *testing.T) {
	v := NewVec3(3, 0, 4)
	v.Normalize()
	require.InDelta(t, 1.0, v.Length(), 1e-6)
	require.InDelta(t, 0.6, v.X, 1e-6)
	require.InDelta(t, 0.8, v.Z, 1e-6)
}

func TestVec3Cross(t *testing.T) {
	x := NewVec3(1, 0, 0)
	y := NewVec3(0, 1, 0)
	require.Equal(t, NewVec3(0, 0, 1), x.Cross(y))
}
