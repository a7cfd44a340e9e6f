package lobby

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

func newTestLobby(t *testing.T) (*Lobby, Participant) {
	t.Helper()
	host, err := NewHost("Alice")
	require.NoError(t, err)
	l, err := New("Test Lobby", host)
	require.NoError(t, err)
	return l, host
}

func guestAt(t *testing.T, name string, joinedAt types.Timestamp) Participant {
	t.Helper()
	g, err := NewGuest(name)
	require.NoError(t, err)
	g.JoinedAt = joinedAt
	return g
}

func TestNewLobby(t *testing.T) {
	l, host := newTestLobby(t)

	assert.Equal(t, "Test Lobby", l.Name())
	assert.Equal(t, host.ID, l.HostID())
	assert.Equal(t, 1, l.Len())
}

func TestNewLobbyRejectsGuestOwner(t *testing.T) {
	guest, err := NewGuest("Bob")
	require.NoError(t, err)

	_, err = New("Test Lobby", guest)
	assert.ErrorIs(t, err, ErrNoHost)
}

func TestAddGuest(t *testing.T) {
	l, _ := newTestLobby(t)
	guest, err := NewGuest("Bob")
	require.NoError(t, err)

	require.NoError(t, l.AddGuest(guest))
	assert.Equal(t, 2, l.Len())

	got, ok := l.Participant(guest.ID)
	assert.True(t, ok)
	assert.Equal(t, "Bob", got.Name)
}

func TestAddGuestRejectsHostRole(t *testing.T) {
	l, _ := newTestLobby(t)
	other, err := NewHost("Bob")
	require.NoError(t, err)

	assert.ErrorIs(t, l.AddGuest(other), ErrCannotPromoteHost)
}

func TestAddGuestCapacity(t *testing.T) {
	l, _ := newTestLobby(t)
	l.SetMaxParticipants(2)

	g1, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(g1))

	g2, _ := NewGuest("Carol")
	assert.ErrorIs(t, l.AddGuest(g2), ErrLobbyFull)
}

func TestRemoveParticipant(t *testing.T) {
	l, _ := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))

	require.NoError(t, l.RemoveParticipant(guest.ID))
	assert.Equal(t, 1, l.Len())

	err := l.RemoveParticipant(guest.ID)
	assert.ErrorIs(t, err, types.ErrUnknownTarget)
}

func TestHostIsNonRemovable(t *testing.T) {
	l, host := newTestLobby(t)

	assert.ErrorIs(t, l.RemoveParticipant(host.ID), ErrCannotRemoveHost)
}

func TestKickGuest(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))

	// Non-host requester is rejected
	assert.ErrorIs(t, l.KickGuest(guest.ID, guest.ID), types.ErrNotAuthorized)

	require.NoError(t, l.KickGuest(guest.ID, host.ID))
	assert.Equal(t, 1, l.Len())
}

func TestDelegateHost(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))

	require.NoError(t, l.DelegateHost(guest.ID))

	assert.Equal(t, guest.ID, l.HostID())
	newHost, _ := l.Participant(guest.ID)
	assert.True(t, newHost.IsHost())
	oldHost, _ := l.Participant(host.ID)
	assert.False(t, oldHost.IsHost())
}

func TestDelegateHostRejectsUnknownAndCurrentHost(t *testing.T) {
	l, host := newTestLobby(t)

	assert.ErrorIs(t, l.DelegateHost(uuid.New()), types.ErrUnknownTarget)
	assert.ErrorIs(t, l.DelegateHost(host.ID), ErrCannotPromoteHost)
}

func TestAutoDelegatePicksOldestGuest(t *testing.T) {
	l, _ := newTestLobby(t)

	bob := guestAt(t, "Bob", 100)
	carol := guestAt(t, "Carol", 200)
	require.NoError(t, l.AddGuest(carol))
	require.NoError(t, l.AddGuest(bob))

	elected, err := l.AutoDelegateHost()
	require.NoError(t, err)
	assert.Equal(t, bob.ID, elected)
	assert.Equal(t, bob.ID, l.HostID())
}

func TestAutoDelegateTieBreaksBySmallestID(t *testing.T) {
	l, _ := newTestLobby(t)

	g1 := guestAt(t, "Bob", 100)
	g2 := guestAt(t, "Carol", 100)
	require.NoError(t, l.AddGuest(g1))
	require.NoError(t, l.AddGuest(g2))

	want := g1.ID
	if g2.ID.String() < g1.ID.String() {
		want = g2.ID
	}

	elected, err := l.AutoDelegateHost()
	require.NoError(t, err)
	assert.Equal(t, want, elected)
}

func TestAutoDelegateWithoutGuests(t *testing.T) {
	l, _ := newTestLobby(t)

	_, err := l.AutoDelegateHost()
	assert.ErrorIs(t, err, ErrEmptyLobby)
}

func TestToggleParticipationMode(t *testing.T) {
	l, _ := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))

	mode, err := l.ToggleParticipationMode(guest.ID, guest.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.ModeTypeSpectating, mode)

	mode, err = l.ToggleParticipationMode(guest.ID, guest.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.ModeTypeActive, mode)
}

func TestToggleRejectsOtherRequester(t *testing.T) {
	l, _ := newTestLobby(t)
	g1, _ := NewGuest("Bob")
	g2, _ := NewGuest("Carol")
	require.NoError(t, l.AddGuest(g1))
	require.NoError(t, l.AddGuest(g2))

	_, err := l.ToggleParticipationMode(g1.ID, g2.ID, false)
	assert.ErrorIs(t, err, types.ErrNotAuthorized)
}

func TestToggleRejectsStaleFlag(t *testing.T) {
	l, _ := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))

	startEchoActivity(t, l)

	// Caller believes no activity is running; actual state disagrees.
	_, err := l.ToggleParticipationMode(guest.ID, guest.ID, false)
	assert.ErrorIs(t, err, ErrToggleStateMismatch)

	// Self-toggle with the correct flag is still rejected mid-activity.
	_, err = l.ToggleParticipationMode(guest.ID, guest.ID, true)
	assert.ErrorIs(t, err, ErrToggleDuringActivity)
}

func TestHostOverrideDuringActivity(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))

	startEchoActivity(t, l)

	mode, err := l.ToggleParticipationMode(guest.ID, host.ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.ModeTypeSpectating, mode)
}

// --- Activities ---

func echoActivity(name string) ActivityMetadata {
	return ActivityMetadata{
		Name: name,
		Payload: ActivityPayload{
			Kind: ActivityKindEcho,
			Echo: &EchoPayload{Prompt: "say hi"},
		},
	}
}

func startEchoActivity(t *testing.T, l *Lobby) types.ActivityID {
	t.Helper()
	require.NoError(t, l.PlanActivity(echoActivity("Warmup")))
	id := l.Activities()[len(l.Activities())-1].ID
	require.NoError(t, l.StartActivity(id))
	return id
}

func TestPlanActivityValidatesPayload(t *testing.T) {
	l, _ := newTestLobby(t)

	err := l.PlanActivity(ActivityMetadata{Name: "Bad", Payload: ActivityPayload{Kind: ActivityKindEcho}})
	assert.Error(t, err)

	err = l.PlanActivity(ActivityMetadata{Name: "Bad", Payload: ActivityPayload{Kind: "mystery"}})
	assert.ErrorIs(t, err, ErrUnknownActivityKind)
}

func TestActivityLifecycle(t *testing.T) {
	l, _ := newTestLobby(t)
	require.NoError(t, l.PlanActivity(echoActivity("Warmup")))
	id := l.Activities()[0].ID

	assert.Equal(t, types.ActivityStatusPlanned, l.Activities()[0].Status)

	require.NoError(t, l.StartActivity(id))
	assert.Equal(t, types.ActivityStatusInProgress, l.Activities()[0].Status)
	assert.True(t, l.ActivityInProgress())

	// Starting again is an illegal transition
	assert.ErrorIs(t, l.StartActivity(id), ErrActivityInProgress)

	require.NoError(t, l.CancelActivity(id))
	assert.Equal(t, types.ActivityStatusCancelled, l.Activities()[0].Status)

	// No backward transition out of Cancelled
	assert.ErrorIs(t, l.StartActivity(id), ErrActivityNotPlanned)
	assert.ErrorIs(t, l.CancelActivity(id), ErrActivityNotRunning)
}

func TestOnlyOneActivityInProgress(t *testing.T) {
	l, _ := newTestLobby(t)
	require.NoError(t, l.PlanActivity(echoActivity("First")))
	require.NoError(t, l.PlanActivity(echoActivity("Second")))

	first := l.Activities()[0].ID
	second := l.Activities()[1].ID

	require.NoError(t, l.StartActivity(first))
	assert.ErrorIs(t, l.StartActivity(second), ErrActivityInProgress)
}

func TestSubmitResultCompletesActivity(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))
	id := startEchoActivity(t, l)

	completed, err := l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: host.ID, Score: 100})
	require.NoError(t, err)
	assert.False(t, completed)

	completed, err = l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: guest.ID, Score: 100})
	require.NoError(t, err)
	assert.True(t, completed)

	a, _ := l.Activity(id)
	assert.Equal(t, types.ActivityStatusCompleted, a.Status)
	assert.Len(t, l.Results(id), 2)
}

func TestSubmitResultRejections(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))
	id := startEchoActivity(t, l)

	// Unknown activity
	_, err := l.SubmitResult(ActivityResult{ActivityID: uuid.New(), ParticipantID: host.ID})
	assert.ErrorIs(t, err, ErrActivityNotFound)

	// Unknown participant
	_, err = l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: uuid.New()})
	assert.ErrorIs(t, err, types.ErrUnknownTarget)

	// Duplicate submission
	_, err = l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: host.ID, Score: 1})
	require.NoError(t, err)
	_, err = l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: host.ID, Score: 2})
	assert.ErrorIs(t, err, ErrDuplicateResult)
}

func TestSpectatorCannotSubmit(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	guest.Mode = types.ModeTypeSpectating
	require.NoError(t, l.AddGuest(guest))
	id := startEchoActivity(t, l)

	_, err := l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: guest.ID})
	assert.ErrorIs(t, err, ErrSpectatorResult)

	// Completion only requires the Active participants.
	completed, err := l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: host.ID, Score: 3})
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestCloneIsDeep(t *testing.T) {
	l, host := newTestLobby(t)
	guest, _ := NewGuest("Bob")
	require.NoError(t, l.AddGuest(guest))
	id := startEchoActivity(t, l)
	_, err := l.SubmitResult(ActivityResult{ActivityID: id, ParticipantID: host.ID, Score: 5})
	require.NoError(t, err)

	c := l.Clone()
	require.NoError(t, l.RemoveParticipant(guest.ID))
	require.NoError(t, l.CancelActivity(id))

	assert.Equal(t, 2, c.Len())
	a, _ := c.Activity(id)
	assert.Equal(t, types.ActivityStatusInProgress, a.Status)
	assert.Len(t, c.Results(id), 1)
}
