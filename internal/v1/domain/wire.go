package domain

import (
	"encoding/json"
	"fmt"
)

// commandEnvelope is the JSON form of a Command inside a command_request
// message: a kind discriminator plus the command body.
type commandEnvelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeCommand marshals a command as a tagged JSON object.
func EncodeCommand(cmd Command) ([]byte, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Label(), err)
	}
	return json.Marshal(commandEnvelope{Kind: cmd.Label(), Payload: payload})
}

// DecodeCommand unmarshals a tagged JSON object back into a Command.
func DecodeCommand(data []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding command envelope: %w", err)
	}

	switch env.Kind {
	case "CreateLobby":
		var c CreateLobby
		return decodeInto(env, &c)
	case "JoinLobby":
		var c JoinLobby
		return decodeInto(env, &c)
	case "LeaveLobby":
		var c LeaveLobby
		return decodeInto(env, &c)
	case "KickGuest":
		var c KickGuest
		return decodeInto(env, &c)
	case "DelegateHost":
		var c DelegateHost
		return decodeInto(env, &c)
	case "ToggleParticipationMode":
		var c ToggleParticipationMode
		return decodeInto(env, &c)
	case "PlanActivity":
		var c PlanActivity
		return decodeInto(env, &c)
	case "StartActivity":
		var c StartActivity
		return decodeInto(env, &c)
	case "SubmitResult":
		var c SubmitResult
		return decodeInto(env, &c)
	case "CancelActivity":
		var c CancelActivity
		return decodeInto(env, &c)
	default:
		return nil, fmt.Errorf("unknown command kind %q", env.Kind)
	}
}

func decodeInto[T Command](env commandEnvelope, into *T) (Command, error) {
	if err := json.Unmarshal(env.Payload, into); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Kind, err)
	}
	return *into, nil
}
