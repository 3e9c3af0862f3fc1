package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Message types. Inbound and outbound share the same tags on the wire.
const (
	MsgTypeMeta   = "meta"
	MsgTypeJoin   = "join"
	MsgTypeLeave  = "leave"
	MsgTypeLock   = "lock"
	MsgTypeUnlock = "unlock"
	MsgTypeName   = "name"
)

// ErrMalformed is returned for frames that are not a JSON object with a
// string "type", or whose known-type fields have the wrong shape.
var ErrMalformed = errors.New("malformed message")

const fieldSeq = "seq"

// Client -> Server messages

// Inbound is the closed set of client requests. The concrete type is one of
// NameRequest, LockRequest, UnlockRequest or Passthrough.
type Inbound interface {
	inbound()
}

// NameRequest renames the scene.
type NameRequest struct {
	Value string
}

// LockRequest asks for exclusive editing of the listed objects.
type LockRequest struct {
	Objects []string
}

// UnlockRequest gives up the listed objects.
type UnlockRequest struct {
	Objects []string
}

// Passthrough is any other typed payload, relayed verbatim. Fields never
// contains "seq".
type Passthrough struct {
	Type   string
	Fields map[string]json.RawMessage
}

func (NameRequest) inbound()   {}
func (LockRequest) inbound()   {}
func (UnlockRequest) inbound() {}
func (Passthrough) inbound()   {}

// ParseInbound decodes one client frame.
func ParseInbound(raw []byte) (Inbound, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var msgType string
	if err := json.Unmarshal(fields["type"], &msgType); err != nil || msgType == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	switch msgType {
	case MsgTypeName:
		var value string
		if err := json.Unmarshal(fields["value"], &value); err != nil {
			return nil, fmt.Errorf("%w: name value must be a string", ErrMalformed)
		}
		return NameRequest{Value: value}, nil

	case MsgTypeLock:
		objects, err := parseObjects(fields)
		if err != nil {
			return nil, err
		}
		return LockRequest{Objects: objects}, nil

	case MsgTypeUnlock:
		objects, err := parseObjects(fields)
		if err != nil {
			return nil, err
		}
		return UnlockRequest{Objects: objects}, nil

	default:
		delete(fields, fieldSeq)
		return Passthrough{Type: msgType, Fields: fields}, nil
	}
}

func parseObjects(fields map[string]json.RawMessage) ([]string, error) {
	raw, ok := fields["objects"]
	if !ok {
		return []string{}, nil
	}
	var objects []string
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("%w: objects must be a list of ids", ErrMalformed)
	}
	if objects == nil {
		objects = []string{}
	}
	return objects, nil
}

// Server -> Client messages

// Outbound is the closed set of server messages. Broadcast variants are
// stamped with "seq" by the broadcaster; MetaMessage and lock snapshots are
// sent privately without one.
type Outbound interface {
	MessageType() string
}

type MetaMessage struct {
	Type  string   `json:"type"`
	Name  string   `json:"name"`
	Users []string `json:"users"`
}

type JoinMessage struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type LeaveMessage struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type LockMessage struct {
	Type    string   `json:"type"`
	Objects []string `json:"objects"`
	User    string   `json:"user"`
}

type UnlockMessage struct {
	Type    string   `json:"type"`
	Objects []string `json:"objects"`
}

type NameMessage struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	User  string `json:"user"`
}

// RawMessage relays a Passthrough payload.
type RawMessage struct {
	Type   string
	Fields map[string]json.RawMessage
}

func (m *MetaMessage) MessageType() string   { return MsgTypeMeta }
func (m *JoinMessage) MessageType() string   { return MsgTypeJoin }
func (m *LeaveMessage) MessageType() string  { return MsgTypeLeave }
func (m *LockMessage) MessageType() string   { return MsgTypeLock }
func (m *UnlockMessage) MessageType() string { return MsgTypeUnlock }
func (m *NameMessage) MessageType() string   { return MsgTypeName }
func (m *RawMessage) MessageType() string    { return m.Type }

// MarshalJSON writes the payload fields with "type" forced to m.Type and no "seq".
func (m *RawMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(m.Fields)+1)
	for k, v := range m.Fields {
		if k == fieldSeq {
			continue
		}
		out[k] = v
	}
	typ, err := json.Marshal(m.Type)
	if err != nil {
		return nil, err
	}
	out["type"] = typ
	return json.Marshal(out)
}

func NewMetaMessage(scene *Scene) *MetaMessage {
	users := scene.Users
	if users == nil {
		users = []string{}
	}
	return &MetaMessage{Type: MsgTypeMeta, Name: scene.Name, Users: users}
}

func NewJoinMessage(user string) *JoinMessage {
	return &JoinMessage{Type: MsgTypeJoin, User: user}
}

func NewLeaveMessage(user string) *LeaveMessage {
	return &LeaveMessage{Type: MsgTypeLeave, User: user}
}

func NewLockMessage(objects []string, user string) *LockMessage {
	if objects == nil {
		objects = []string{}
	}
	return &LockMessage{Type: MsgTypeLock, Objects: objects, User: user}
}

func NewUnlockMessage(objects []string) *UnlockMessage {
	if objects == nil {
		objects = []string{}
	}
	return &UnlockMessage{Type: MsgTypeUnlock, Objects: objects}
}

func NewNameMessage(value, user string) *NameMessage {
	return &NameMessage{Type: MsgTypeName, Value: value, User: user}
}

func NewRawMessage(p Passthrough) *RawMessage {
	return &RawMessage{Type: p.Type, Fields: p.Fields}
}

// Envelope is the part of a relayed frame the relay inspects.
type Envelope struct {
	Type string `json:"type"`
}

// PeekEnvelope decodes only the type of a channel frame.
func PeekEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}
