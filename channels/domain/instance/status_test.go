package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCanTransition_Edges(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDisconnected, StatusConnecting, true},
		{StatusDisconnected, StatusConnected, false},
		{StatusConnecting, StatusConnected, true},
		{StatusConnected, StatusDisconnected, true},
		{StatusError, StatusConnecting, true},
		{StatusError, StatusConnected, false},
		{StatusSuspended, StatusConnecting, false},
		{StatusMaintenance, StatusConnected, false},
		{StatusConnected, StatusSuspended, true},
		{StatusDisconnected, StatusMaintenance, true},
		{StatusConnecting, StatusSuspended, false},
		{StatusConnected, StatusError, true},
		{StatusSuspended, StatusError, true},
		{StatusConnected, StatusConnected, true},
		{StatusConnected, StatusConnecting, false},
		{Status("bogus"), StatusConnected, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPathTo_InsertsConnecting(t *testing.T) {
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, PathTo(StatusDisconnected, StatusConnected))
	assert.Equal(t, []Status{StatusConnecting, StatusConnected}, PathTo(StatusError, StatusConnected))
	assert.Equal(t, []Status{StatusConnected}, PathTo(StatusConnecting, StatusConnected))
	assert.Nil(t, PathTo(StatusSuspended, StatusConnected))
}

func TestPathTo_ReconnectGoesThroughDisconnected(t *testing.T) {
	assert.Equal(t, []Status{StatusDisconnected, StatusConnecting}, PathTo(StatusConnected, StatusConnecting))
}

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStatus("ONLINE")
	assert.Error(t, err)
}

func TestFromRemoteState(t *testing.T) {
	assert.Equal(t, StatusConnected, FromRemoteState("open"))
	assert.Equal(t, StatusConnected, FromRemoteState(" OPEN "))
	assert.Equal(t, StatusConnecting, FromRemoteState("connecting"))
	assert.Equal(t, StatusDisconnected, FromRemoteState("close"))
	assert.Equal(t, StatusError, FromRemoteState("refused"))
}

// Every path produced by PathTo only walks allowed edges and never jumps
// straight from disconnected to connected.
func TestPathTo_PropertyWalksAllowedEdges(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		from := rapid.SampledFrom(AllStatuses).Draw(rt, "from")
		to := rapid.SampledFrom(AllStatuses).Draw(rt, "to")

		path := PathTo(from, to)
		if path == nil {
			if CanTransition(from, to) {
				rt.Fatalf("no path for allowed edge %s -> %s", from, to)
			}
			return
		}
		prev := from
		for _, next := range path {
			if !CanTransition(prev, next) {
				rt.Fatalf("illegal edge %s -> %s", prev, next)
			}
			if prev == StatusDisconnected && next == StatusConnected {
				rt.Fatalf("skipped connecting")
			}
			prev = next
		}
		if prev != to {
			rt.Fatalf("path ends at %s, want %s", prev, to)
		}
	})
}
