package lobby

import (
	"github.com/google/uuid"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// Participant is a member of a lobby. Name is validated at construction;
// role and mode mutations go through the Lobby aggregate so its invariants
// hold after every change.
type Participant struct {
	ID       types.ParticipantID `json:"id"`
	Name     string              `json:"name"`
	Role     types.RoleType      `json:"role"`
	Mode     types.ModeType      `json:"mode"`
	JoinedAt types.Timestamp     `json:"joinedAt"`
}

// NewHost creates a participant with the Host role.
func NewHost(name string) (Participant, error) {
	return newParticipant(name, types.RoleTypeHost)
}

// NewGuest creates a participant with the Guest role.
func NewGuest(name string) (Participant, error) {
	return newParticipant(name, types.RoleTypeGuest)
}

func newParticipant(name string, role types.RoleType) (Participant, error) {
	if err := types.ValidateName(name); err != nil {
		return Participant{}, err
	}
	return Participant{
		ID:       uuid.New(),
		Name:     name,
		Role:     role,
		Mode:     types.ModeTypeActive, // New participants start Active
		JoinedAt: types.Now(),
	}, nil
}

// IsHost reports whether this participant holds the Host role.
func (p Participant) IsHost() bool {
	return p.Role == types.RoleTypeHost
}

// CanSubmitResults reports whether this participant may submit activity
// results.
func (p Participant) CanSubmitResults() bool {
	return p.Mode == types.ModeTypeActive
}

// CanManageLobby reports whether this participant may perform host-only
// actions.
func (p Participant) CanManageLobby() bool {
	return p.IsHost()
}
