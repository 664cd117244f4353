package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEFDTSetGetRoundTrip(t *testing.T) {
	e := newEFDT(8)

	e.set(3, EventRead, 42)
	st, ok := e.get(3)
	require.True(t, ok)
	require.Equal(t, EventRead, st.mask)
	require.Equal(t, 42, st.userData)
}

func TestEFDTGetUnsetReturnsNotOK(t *testing.T) {
	e := newEFDT(8)
	_, ok := e.get(5)
	require.False(t, ok)
}

func TestEFDTGrowsOnDemand(t *testing.T) {
	e := newEFDT(4)
	e.set(100, EventWrite, "big-fd")

	st, ok := e.get(100)
	require.True(t, ok)
	require.Equal(t, "big-fd", st.userData)
	require.Greater(t, len(e.entries), 100)
}

func TestEFDTClearIsIdempotent(t *testing.T) {
	e := newEFDT(8)
	e.set(2, EventRead, nil)
	e.clear(2)
	_, ok := e.get(2)
	require.False(t, ok)

	require.NotPanics(t, func() { e.clear(2) })
}

func TestEFDTNegativeAndOutOfRangeFDsAreNoops(t *testing.T) {
	e := newEFDT(4)
	require.NotPanics(t, func() {
		e.set(-1, EventRead, nil)
		e.clear(-1)
	})
	_, ok := e.get(-1)
	require.False(t, ok)

	_, ok = e.get(9999)
	require.False(t, ok)
}
