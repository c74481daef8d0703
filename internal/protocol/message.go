package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNotObject is returned by Decode for frames that are valid JSON but not an object
var ErrNotObject = errors.New("inbound frame is not a JSON object")

// Message protocol definitions for the plugin execution socket

// MessageType is the discriminator carried in every inbound frame's "type" field
type MessageType string

const (
	TypeConnected  MessageType = "connected"  // server accepted the socket
	TypeStatus     MessageType = "status"     // execution state change (starting, ...)
	TypeUpdate     MessageType = "update"     // progress or output chunk
	TypeResult     MessageType = "result"     // execution finished, success or not
	TypeError      MessageType = "error"      // server rejected a command
	TypeSubscribed MessageType = "subscribed" // subscribe acknowledged
)

// CompletionMarker is the type value that ends a probe run
const CompletionMarker = TypeResult

// command names understood by the server
const (
	CommandExecutePlugin = "execute_plugin"
	CommandSubscribe     = "subscribe"
)

// Command is any outbound frame. Name returns the value of its "command" field.
type Command interface {
	Name() string
}

// ExecuteCommand asks the server to run a plugin.
// Timeout is a hint in milliseconds for the server; the client never enforces it.
type ExecuteCommand struct {
	Command    string         `json:"command"`
	PluginID   string         `json:"plugin_id"`
	Parameters map[string]any `json:"parameters"`
	Timeout    int64          `json:"timeout"`
}

func (c *ExecuteCommand) Name() string { return c.Command }

// SubscribeCommand asks the server for updates about an existing session
type SubscribeCommand struct {
	Command   string `json:"command"`
	SessionID string `json:"session_id"`
}

func (c *SubscribeCommand) Name() string { return c.Command }

// constructor execute_plugin command
func NewExecuteCommand(pluginID string, parameters map[string]any, timeoutMS int64) *ExecuteCommand {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return &ExecuteCommand{
		Command:    CommandExecutePlugin,
		PluginID:   pluginID,
		Parameters: parameters,
		Timeout:    timeoutMS,
	}
}

// constructor subscribe command
func NewSubscribeCommand(sessionID string) *SubscribeCommand {
	return &SubscribeCommand{
		Command:   CommandSubscribe,
		SessionID: sessionID,
	}
}

// Encode: marshal a command to the text payload sent on the wire
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", cmd.Name(), err)
	}
	return data, nil
}

// Inbound is the decoded view of a server frame. Fields a variant does not use stay zero,
// and so do fields whose JSON type is not the expected one.
type Inbound struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id,omitempty"`
	PluginID  string      `json:"plugin_id,omitempty"`
	Status    string      `json:"status,omitempty"`
	Message   string      `json:"message,omitempty"`
	Output    string      `json:"output,omitempty"`
	Error     string      `json:"error,omitempty"`
	Success   *bool       `json:"success,omitempty"`

	Raw json.RawMessage `json:"-"` // frame exactly as received
}

// Decode parses a frame as a JSON object. Only malformed JSON or a non-object is an
// error; no field is required and mistyped fields are left zero.
func Decode(data []byte) (*Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		if json.Valid(data) {
			return nil, ErrNotObject
		}
		return nil, fmt.Errorf("decode inbound frame: %w", err)
	}
	if fields == nil { // null
		return nil, ErrNotObject
	}

	msg := &Inbound{Raw: append(json.RawMessage(nil), data...)}
	msg.Type = MessageType(stringField(fields, "type"))
	msg.SessionID = stringField(fields, "session_id")
	msg.PluginID = stringField(fields, "plugin_id")
	msg.Status = stringField(fields, "status")
	msg.Message = stringField(fields, "message")
	msg.Output = stringField(fields, "output")
	msg.Error = stringField(fields, "error")
	if raw, ok := fields["error"]; ok && msg.Error == "" && !isNullOrString(raw) {
		// an error of any other shape is kept as its JSON text
		msg.Error = string(bytes.TrimSpace(raw))
	}

	var success bool
	if raw, ok := fields["success"]; ok && json.Unmarshal(raw, &success) == nil && string(bytes.TrimSpace(raw)) != "null" {
		msg.Success = &success
	}
	return msg, nil
}

func isNullOrString(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || trimmed[0] == '"' || string(trimmed) == "null"
}

// stringField returns fields[key] when it holds a JSON string, "" otherwise
func stringField(fields map[string]json.RawMessage, key string) string {
	var v string
	if raw, ok := fields[key]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}

// IsCompletion reports whether the frame carries the completion marker
func (m *Inbound) IsCompletion() bool {
	return m.Type == CompletionMarker
}

// Succeeded reports the outcome of a result frame.
// A result without a success flag counts as success unless it carries an error.
func (m *Inbound) Succeeded() bool {
	if m.Success != nil {
		return *m.Success
	}
	return m.Error == ""
}
