package lobby

import (
	"encoding/json"
	"errors"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// ActivityKind tags the payload carried by an activity.
type ActivityKind string

const (
	// ActivityKindEcho is a prompt the participants echo back; the simplest
	// built-in challenge.
	ActivityKindEcho ActivityKind = "echo"
	// ActivityKindOpaque carries raw JSON for activity types this build does
	// not know about.
	ActivityKindOpaque ActivityKind = "opaque"
)

var ErrUnknownActivityKind = errors.New("unknown activity kind")

// ActivityPayload is the typed configuration of an activity. Exactly one
// field matching Kind is set.
type ActivityPayload struct {
	Kind   ActivityKind    `json:"kind"`
	Echo   *EchoPayload    `json:"echo,omitempty"`
	Opaque json.RawMessage `json:"opaque,omitempty"`
}

// EchoPayload configures an echo challenge.
type EchoPayload struct {
	Prompt string `json:"prompt"`
}

// Validate checks that the payload matches its kind tag.
func (p ActivityPayload) Validate() error {
	switch p.Kind {
	case ActivityKindEcho:
		if p.Echo == nil {
			return errors.New("echo activity requires an echo payload")
		}
	case ActivityKindOpaque:
		if len(p.Opaque) == 0 {
			return errors.New("opaque activity requires raw payload bytes")
		}
	default:
		return ErrUnknownActivityKind
	}
	return nil
}

// ActivityMetadata describes a planned activity.
type ActivityMetadata struct {
	ID      types.ActivityID     `json:"id"`
	Name    string               `json:"name"`
	Status  types.ActivityStatus `json:"status"`
	Payload ActivityPayload      `json:"payload"`
}

// ActivityResult is one participant's submission for one activity. Keyed by
// (ActivityID, ParticipantID); duplicates are rejected by the aggregate.
type ActivityResult struct {
	ActivityID    types.ActivityID    `json:"activityId"`
	ParticipantID types.ParticipantID `json:"participantId"`
	Score         int64               `json:"score"`
	Data          json.RawMessage     `json:"data,omitempty"`
	SubmittedAt   types.Timestamp     `json:"submittedAt"`
}

type resultKey struct {
	activity    types.ActivityID
	participant types.ParticipantID
}

func (r ActivityResult) key() resultKey {
	return resultKey{activity: r.ActivityID, participant: r.ParticipantID}
}
