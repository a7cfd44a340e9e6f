package sync

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

func testEvent(lobbyID types.LobbyID, sequence uint64) LobbyEvent {
	pid := uuid.New()
	return LobbyEvent{
		Sequence: sequence,
		LobbyID:  lobbyID,
		Event:    EventBody{Kind: KindGuestLeft, ParticipantID: &pid},
	}
}

func TestAppendAssignsSequence(t *testing.T) {
	log := NewEventLog()
	lobbyID := uuid.New()

	seq := log.Append(LobbyEvent{LobbyID: lobbyID, Event: EventBody{Kind: KindLobbyCreated}})

	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, uint64(2), log.NextToAssign())
	assert.Equal(t, uint64(1), log.HighestObserved())
}

func TestAddTracksHighestObserved(t *testing.T) {
	log := NewEventLog()
	lobbyID := uuid.New()

	log.Add(testEvent(lobbyID, 5))
	assert.Equal(t, uint64(5), log.HighestObserved())

	log.Add(testEvent(lobbyID, 3))
	assert.Equal(t, uint64(5), log.HighestObserved())

	log.Add(testEvent(lobbyID, 10))
	assert.Equal(t, uint64(10), log.HighestObserved())
}

func TestGetSince(t *testing.T) {
	log := NewEventLog()
	lobbyID := uuid.New()
	for seq := uint64(1); seq <= 5; seq++ {
		log.Add(testEvent(lobbyID, seq))
	}

	since := log.GetSince(3)
	assert.Len(t, since, 2)
	assert.Equal(t, uint64(4), since[0].Sequence)
	assert.Equal(t, uint64(5), since[1].Sequence)
}

func TestCapacityEvictsOldest(t *testing.T) {
	log := NewEventLogWithCapacity(3)
	lobbyID := uuid.New()
	for seq := uint64(1); seq <= 4; seq++ {
		log.Add(testEvent(lobbyID, seq))
	}

	assert.Equal(t, 3, log.Len())
	_, ok := log.Get(1)
	assert.False(t, ok)
	_, ok = log.Get(4)
	assert.True(t, ok)
}

func TestDetectGaps(t *testing.T) {
	log := NewEventLog()
	lobbyID := uuid.New()

	log.Add(testEvent(lobbyID, 1))
	log.Add(testEvent(lobbyID, 2))
	log.Add(testEvent(lobbyID, 4))
	log.Add(testEvent(lobbyID, 7))

	assert.Equal(t, []uint64{3, 5, 6}, log.DetectGaps())
}

func TestDetectGapsEmpty(t *testing.T) {
	assert.Empty(t, NewEventLog().DetectGaps())
}

func TestSetBaseline(t *testing.T) {
	log := NewEventLog()
	log.SetBaseline(10)
	assert.Equal(t, uint64(10), log.HighestObserved())

	// Baseline never lowers the watermark
	log.SetBaseline(5)
	assert.Equal(t, uint64(10), log.HighestObserved())
}

func TestResetPreservesAssignmentCounter(t *testing.T) {
	log := NewEventLog()
	lobbyID := uuid.New()
	log.Append(LobbyEvent{LobbyID: lobbyID, Event: EventBody{Kind: KindLobbyCreated}})
	log.Reset()

	assert.True(t, log.IsEmpty())
	assert.Equal(t, uint64(0), log.HighestObserved())
	assert.Equal(t, uint64(2), log.NextToAssign())
}
