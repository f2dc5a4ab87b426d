package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope wraps every decode failure.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Source tells whether a filesystem or storage event originated on a client or on the
// server.
type Source string

const (
	SourceClient Source = "Client"
	SourceServer Source = "Server"
)

func (s Source) valid() bool {
	return s == SourceClient || s == SourceServer
}

// Message is one of the synchronization events below. The set is closed: adding a
// kind changes the protocol.
type Message interface {
	Type() string
	isMessage()
}

type Init struct {
	SessionID uuid.UUID `json:"sessionId"`
}

type FileCreated struct {
	Path      string    `json:"path"`
	Source    Source    `json:"source"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

type FileChanged struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

type FileDeleted struct {
	Path      string    `json:"path"`
	Source    Source    `json:"source"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

type FolderCreated struct {
	Path      string    `json:"path"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

type FolderDeleted struct {
	Path      string    `json:"path"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

// ObjectCreated and ObjectDeleted describe changes in the storage backend.
type ObjectCreated struct {
	Path      string    `json:"path"`
	Source    Source    `json:"source"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

type ObjectDeleted struct {
	Path      string    `json:"path"`
	Source    Source    `json:"source"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
}

type Ping struct{}

type Pong struct{}

func (Init) Type() string          { return "Init" }
func (FileCreated) Type() string   { return "FileCreated" }
func (FileChanged) Type() string   { return "FileChanged" }
func (FileDeleted) Type() string   { return "FileDeleted" }
func (FolderCreated) Type() string { return "FolderCreated" }
func (FolderDeleted) Type() string { return "FolderDeleted" }
func (ObjectCreated) Type() string { return "ObjectCreated" }
func (ObjectDeleted) Type() string { return "ObjectDeleted" }
func (Ping) Type() string          { return "Ping" }
func (Pong) Type() string          { return "Pong" }

func (Init) isMessage()          {}
func (FileCreated) isMessage()   {}
func (FileChanged) isMessage()   {}
func (FileDeleted) isMessage()   {}
func (FolderCreated) isMessage() {}
func (FolderDeleted) isMessage() {}
func (ObjectCreated) isMessage() {}
func (ObjectDeleted) isMessage() {}
func (Ping) isMessage()          {}
func (Pong) isMessage()          {}

// Identity returns the session and user a message claims to come from. ok is false for
// messages that carry no identity (Init, Ping, Pong).
func Identity(m Message) (sessionID, userID uuid.UUID, ok bool) {
	switch v := m.(type) {
	case FileCreated:
		return v.SessionID, v.UserID, true
	case FileChanged:
		return v.SessionID, v.UserID, true
	case FileDeleted:
		return v.SessionID, v.UserID, true
	case FolderCreated:
		return v.SessionID, v.UserID, true
	case FolderDeleted:
		return v.SessionID, v.UserID, true
	case ObjectCreated:
		return v.SessionID, v.UserID, true
	case ObjectDeleted:
		return v.SessionID, v.UserID, true
	}
	return uuid.Nil, uuid.Nil, false
}

// Envelope is the unit exchanged on the wire.
type Envelope struct {
	SenderID uuid.UUID
	Message  Message
}

type wireEnvelope struct {
	SenderID *uuid.UUID   `json:"senderId"`
	Message  *wireMessage `json:"message"`
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EncodeEnvelope serializes env. Field order is fixed, so equal envelopes always encode
// to the same bytes.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// DecodeEnvelope parses a wire frame. Any failure wraps ErrMalformedEnvelope.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		if errors.Is(err, ErrMalformedEnvelope) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Message == nil {
		return nil, errors.New("envelope has no message")
	}
	msg := wireMessage{Type: e.Message.Type()}
	switch m := e.Message.(type) {
	case Ping, Pong:
	default:
		if changed, ok := m.(FileChanged); ok {
			changed.Timestamp = changed.Timestamp.UTC()
			m = changed
		}
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", e.Message.Type(), err)
		}
		msg.Data = data
	}
	sender := e.SenderID
	return json.Marshal(wireEnvelope{SenderID: &sender, Message: &msg})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	top, err := object(b, "senderId", "message")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	rawSender, ok := top["senderId"]
	if !ok || isNull(rawSender) {
		return fmt.Errorf("%w: missing senderId", ErrMalformedEnvelope)
	}
	var sender uuid.UUID
	if err := json.Unmarshal(rawSender, &sender); err != nil {
		return fmt.Errorf("%w: senderId: %v", ErrMalformedEnvelope, err)
	}

	rawMsg, ok := top["message"]
	if !ok || isNull(rawMsg) {
		return fmt.Errorf("%w: missing message", ErrMalformedEnvelope)
	}
	fields, err := object(rawMsg, "type", "data")
	if err != nil {
		return fmt.Errorf("%w: message: %v", ErrMalformedEnvelope, err)
	}
	var tag string
	if rawType, ok := fields["type"]; ok {
		if err := json.Unmarshal(rawType, &tag); err != nil {
			return fmt.Errorf("%w: type: %v", ErrMalformedEnvelope, err)
		}
	}

	msg, err := decodeMessage(tag, fields["data"])
	if err != nil {
		return err
	}
	e.SenderID = sender
	e.Message = msg
	return nil
}

// object decodes a JSON object, rejecting any key not spelled exactly as in allowed.
// encoding/json alone matches keys case-insensitively.
func object(raw []byte, allowed ...string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("expected an object")
	}
	for key := range fields {
		if !slices.Contains(allowed, key) {
			return nil, fmt.Errorf("unknown field %q", key)
		}
	}
	return fields, nil
}

// jsonKeys lists the wire names of the struct out points to.
func jsonKeys(out any) []string {
	t := reflect.TypeOf(out).Elem()
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		keys = append(keys, name)
	}
	return keys
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func decodeMessage(tag string, data json.RawMessage) (Message, error) {
	switch tag {
	case "Ping", "Pong":
		if data != nil {
			return nil, fmt.Errorf("%w: %s carries no data", ErrMalformedEnvelope, tag)
		}
		if tag == "Ping" {
			return Ping{}, nil
		}
		return Pong{}, nil
	case "Init":
		var m Init
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		if m.SessionID == uuid.Nil {
			return nil, fmt.Errorf("%w: Init without sessionId", ErrMalformedEnvelope)
		}
		return m, nil
	case "FileCreated":
		var m FileCreated
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		return m, checkEvent(tag, m.Path, &m.Source, m.SessionID, m.UserID)
	case "FileChanged":
		var m FileChanged
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		if m.Timestamp.IsZero() {
			return nil, fmt.Errorf("%w: FileChanged without timestamp", ErrMalformedEnvelope)
		}
		return m, checkEvent(tag, m.Path, &m.Source, m.SessionID, m.UserID)
	case "FileDeleted":
		var m FileDeleted
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		return m, checkEvent(tag, m.Path, &m.Source, m.SessionID, m.UserID)
	case "FolderCreated":
		var m FolderCreated
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		return m, checkEvent(tag, m.Path, nil, m.SessionID, m.UserID)
	case "FolderDeleted":
		var m FolderDeleted
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		return m, checkEvent(tag, m.Path, nil, m.SessionID, m.UserID)
	case "ObjectCreated":
		var m ObjectCreated
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		return m, checkEvent(tag, m.Path, &m.Source, m.SessionID, m.UserID)
	case "ObjectDeleted":
		var m ObjectDeleted
		if err := decodeData(tag, data, &m); err != nil {
			return nil, err
		}
		return m, checkEvent(tag, m.Path, &m.Source, m.SessionID, m.UserID)
	case "":
		return nil, fmt.Errorf("%w: missing message type", ErrMalformedEnvelope)
	default:
		return nil, fmt.Errorf("%w: unknown message type %q", ErrMalformedEnvelope, tag)
	}
}

func decodeData(tag string, data json.RawMessage, out any) error {
	if len(data) == 0 || isNull(data) {
		return fmt.Errorf("%w: %s without data", ErrMalformedEnvelope, tag)
	}
	if _, err := object(data, jsonKeys(out)...); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedEnvelope, tag, err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformedEnvelope, tag, err)
	}
	return nil
}

func checkEvent(tag, path string, source *Source, sessionID, userID uuid.UUID) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: %s without path", ErrMalformedEnvelope, tag)
	case source != nil && !source.valid():
		return fmt.Errorf("%w: %s with unknown source %q", ErrMalformedEnvelope, tag, *source)
	case sessionID == uuid.Nil:
		return fmt.Errorf("%w: %s without sessionId", ErrMalformedEnvelope, tag)
	case userID == uuid.Nil:
		return fmt.Errorf("%w: %s without userId", ErrMalformedEnvelope, tag)
	}
	return nil
}
