package peers

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

func TestAddAndRemovePeer(t *testing.T) {
	r := NewRegistry()
	r.AddPeer("p1")

	s, ok := r.Peer("p1")
	require.True(t, ok)
	assert.Equal(t, StatusConnected, s.Status)
	assert.Equal(t, 1, r.PeerCount())

	_, ok = r.RemovePeer("p1")
	assert.True(t, ok)
	assert.Equal(t, 0, r.PeerCount())
}

func TestMarkDisconnectedKeepsPeerDuringGrace(t *testing.T) {
	r := NewRegistryWithGracePeriod(time.Hour)
	r.AddPeer("p1")
	r.MarkDisconnected("p1")

	s, _ := r.Peer("p1")
	assert.True(t, s.IsDisconnected())
	assert.False(t, s.IsTimedOut())
	assert.Equal(t, 1, r.PeerCount())
	assert.Empty(t, r.CheckGracePeriods())
}

func TestGracePeriodBoundary(t *testing.T) {
	grace := 20 * time.Millisecond
	r := NewRegistryWithGracePeriod(grace)
	r.AddPeer("p1")
	r.MarkDisconnected("p1")

	// Just inside grace: not timed out.
	time.Sleep(grace / 4)
	assert.Empty(t, r.CheckGracePeriods())

	// Past grace: timed out.
	time.Sleep(grace)
	timedOut := r.CheckGracePeriods()
	require.Equal(t, []types.PeerID{"p1"}, timedOut)

	s, _ := r.Peer("p1")
	assert.True(t, s.IsTimedOut())
	assert.Equal(t, 0, r.PeerCount())

	// Already timed out peers are not reported again.
	assert.Empty(t, r.CheckGracePeriods())
}

func TestReconnectWithinGraceRestoresPeer(t *testing.T) {
	r := NewRegistryWithGracePeriod(time.Hour)
	r.AddPeer("p1")
	r.MarkDisconnected("p1")

	r.UpdateLastSeen("p1")

	s, _ := r.Peer("p1")
	assert.Equal(t, StatusConnected, s.Status)
	assert.Empty(t, r.CheckGracePeriods())
}

func TestFindHostExcludesTimedOut(t *testing.T) {
	r := NewRegistryWithGracePeriod(0)
	r.AddPeer("host")
	r.BindParticipant("host", uuid.New(), "Alice", true)

	_, _, ok := r.FindHost()
	assert.True(t, ok)

	r.MarkDisconnected("host")
	r.CheckGracePeriods()

	_, _, ok = r.FindHost()
	assert.False(t, ok)
	assert.False(t, r.IsPeerHost("host"))
}

func TestFindByParticipantID(t *testing.T) {
	r := NewRegistry()
	pid := uuid.New()
	r.AddPeer("p1")
	r.BindParticipant("p1", pid, "Bob", false)

	peer, ok := r.FindByParticipantID(pid)
	require.True(t, ok)
	assert.Equal(t, types.PeerID("p1"), peer)

	_, ok = r.FindByParticipantID(uuid.New())
	assert.False(t, ok)
}
