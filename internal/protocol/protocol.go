package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Event names the kind of an envelope on the browser channel.
type Event string

const (
	EventAction  Event = "action"
	EventStatus  Event = "status"
	EventResults Event = "results"
)

// StatReady is the only status the server announces.
const StatReady = "ready"

// Envelope is one frame on the browser channel.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type ActionPayload struct {
	Command string `json:"command"`
}

type StatusPayload struct {
	Stat string `json:"stat"`
}

var ErrEmptyAction = errors.New("action payload is empty")

// Status builds the greeting sent once per connection.
func Status(stat string) Envelope {
	raw, _ := json.Marshal(StatusPayload{Stat: stat})
	return Envelope{Event: EventStatus, Data: raw}
}

// Results carries the read-back output as text. err, when set, travels next to it.
// The output becomes a JSON string, so bytes that are not valid UTF-8 arrive
// as U+FFFD rather than byte for byte.
func Results(capture []byte, err error) Envelope {
	raw, _ := json.Marshal(string(capture))
	env := Envelope{Event: EventResults, Data: raw}
	if err != nil {
		env.Error = err.Error()
	}

	return env
}

// Action builds an action envelope, used by clients and tests.
func Action(command string) Envelope {
	raw, _ := json.Marshal(ActionPayload{Command: command})
	return Envelope{Event: EventAction, Data: raw}
}

// DecodeAction extracts the command text from an action envelope. Data may be
// an object with a command field or a bare string.
func DecodeAction(env Envelope) (string, error) {
	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", ErrEmptyAction
	}

	if data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return "", fmt.Errorf("decode action string: %w", err)
		}
		return text, nil
	}

	var payload ActionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("decode action payload: %w", err)
	}

	return payload.Command, nil
}

// DecodeResults returns the capture text and error carried by a results envelope.
func DecodeResults(env Envelope) (string, string, error) {
	if env.Event != EventResults {
		return "", "", fmt.Errorf("unexpected event %q", env.Event)
	}
	var text string
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &text); err != nil {
			return "", "", fmt.Errorf("decode results: %w", err)
		}
	}

	return text, env.Error, nil
}
