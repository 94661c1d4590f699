// Package wsproto defines the JSON control-message sub-protocol carried over
// the WebSocket text frames described in SPEC_FULL.md §6. Binary frames are
// out of band — this package only encodes/decodes the control envelope.
package wsproto

import (
	"encoding/json"
	"fmt"
)

// Kind identifies a control message's shape. Values match the wire names in
// §6's message table exactly; they are sent as the JSON "kind" field.
type Kind string

const (
	KindHello      Kind = "Hello"
	KindRegistered Kind = "Registered"
	KindMetadata   Kind = "Metadata"
	KindStart      Kind = "Start"
	KindEof        Kind = "Eof"
	KindComplete   Kind = "Complete"
	KindError      Kind = "Error"
)

// envelope is the wire shape every control message shares: a discriminant
// plus the union of all kind-specific fields. Unused fields are omitted on
// encode via omitempty and ignored on decode for kinds that don't use them.
type envelope struct {
	Kind     Kind   `json:"kind"`
	Filename string `json:"filename,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	ID       string `json:"id,omitempty"`
	Bytes    uint64 `json:"bytes,omitempty"`
	ErrKind  string `json:"error_kind,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Hello is sent sender→server to register a transfer, or receiver→server
// (with only the path ID, no body fields) to claim one.
type Hello struct {
	Filename string
	Size     uint64
}

// Registered is sent server→sender when the server allocates the transfer
// id (the sender did not carry one in its connection path).
type Registered struct {
	ID string
}

// Metadata is sent server→receiver immediately after a successful claim.
type Metadata struct {
	Filename string
	Size     uint64
}

// Start is sent server→sender once the receiver has claimed and the
// pipeline is ready to carry chunks.
type Start struct{}

// Eof is sent sender→server as a text-frame alternative to a zero-length
// binary frame, marking end of the chunk stream.
type Eof struct{}

// Complete is sent server→receiver after the sender's end-of-stream has
// been relayed and every chunk before it delivered. Bytes is the actual
// relayed total; it is not compared against the declared size.
type Complete struct {
	Bytes uint64
}

// ErrorMsg is sent server→either peer on a terminal error. Kind is one of
// the errors.Kind string values; Message is a short, payload-free
// description safe to surface to a client.
type ErrorMsg struct {
	Kind    string
	Message string
}

// Encode marshals one of the typed message structs above into its wire
// envelope. msg must be one of Hello, Registered, Metadata, Start, Eof,
// Complete, or ErrorMsg.
func Encode(msg any) ([]byte, error) {
	env := envelope{}
	switch m := msg.(type) {
	case Hello:
		env.Kind = KindHello
		env.Filename = m.Filename
		env.Size = m.Size
	case Registered:
		env.Kind = KindRegistered
		env.ID = m.ID
	case Metadata:
		env.Kind = KindMetadata
		env.Filename = m.Filename
		env.Size = m.Size
	case Start:
		env.Kind = KindStart
	case Eof:
		env.Kind = KindEof
	case Complete:
		env.Kind = KindComplete
		env.Bytes = m.Bytes
	case ErrorMsg:
		env.Kind = KindError
		env.ErrKind = m.Kind
		env.Message = m.Message
	default:
		return nil, fmt.Errorf("wsproto: unsupported message type %T", msg)
	}
	return json.Marshal(env)
}

// Decode parses a JSON control frame and returns its Kind plus the
// typed payload as `any` (one of the structs Encode accepts). Callers
// switch on Kind to type-assert the payload.
func Decode(data []byte) (Kind, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("wsproto: decode: %w", err)
	}
	switch env.Kind {
	case KindHello:
		return env.Kind, Hello{Filename: env.Filename, Size: env.Size}, nil
	case KindRegistered:
		return env.Kind, Registered{ID: env.ID}, nil
	case KindMetadata:
		return env.Kind, Metadata{Filename: env.Filename, Size: env.Size}, nil
	case KindStart:
		return env.Kind, Start{}, nil
	case KindEof:
		return env.Kind, Eof{}, nil
	case KindComplete:
		return env.Kind, Complete{Bytes: env.Bytes}, nil
	case KindError:
		return env.Kind, ErrorMsg{Kind: env.ErrKind, Message: env.Message}, nil
	default:
		return env.Kind, nil, fmt.Errorf("wsproto: unrecognized kind %q", env.Kind)
	}
}
