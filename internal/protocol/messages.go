// Package protocol implements the JSON wire format spoken with the detection
// backend: tagged control/frame messages out, detection batches and notices in.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType is the "type" discriminator carried by every wire message.
type MessageType string

const (
	TypeStart       MessageType = "start"
	TypeSetLanguage MessageType = "set_language"
	TypeFrame       MessageType = "frame"
	TypeStop        MessageType = "stop"

	TypeDetection MessageType = "detection"
	TypeStatus    MessageType = "status"
	TypeError     MessageType = "error"
)

const jpegDataURIPrefix = "data:image/jpeg;base64,"

var ErrInvalidDataURI = errors.New("not a base64 JPEG data URI")

// Outgoing is a message the client sends to the backend.
type Outgoing interface {
	Type() MessageType
}

// Start begins a detection session for a user.
type Start struct {
	Username string
}

// SetLanguage selects the target translation language.
type SetLanguage struct {
	Language string
}

// Frame submits one camera frame; Data is a data-URI-encoded JPEG.
type Frame struct {
	Data string
}

// Stop ends the detection session.
type Stop struct{}

func (Start) Type() MessageType       { return TypeStart }
func (SetLanguage) Type() MessageType { return TypeSetLanguage }
func (Frame) Type() MessageType       { return TypeFrame }
func (Stop) Type() MessageType        { return TypeStop }

// NewFrame wraps raw JPEG bytes into a frame message.
func NewFrame(jpeg []byte) Frame {
	return Frame{Data: FrameDataURI(jpeg)}
}

// FrameDataURI encodes JPEG bytes as a data URI.
func FrameDataURI(jpeg []byte) string {
	return jpegDataURIPrefix + base64.StdEncoding.EncodeToString(jpeg)
}

// ParseFrameDataURI decodes a data URI produced by FrameDataURI.
func ParseFrameDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, jpegDataURIPrefix) {
		return nil, ErrInvalidDataURI
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, jpegDataURIPrefix))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return data, nil
}

// Wire shapes per outgoing type; each always carries its own field.
type (
	startWire struct {
		Type     MessageType `json:"type"`
		Username string      `json:"username"`
	}
	setLanguageWire struct {
		Type     MessageType `json:"type"`
		Language string      `json:"language"`
	}
	frameWire struct {
		Type MessageType `json:"type"`
		Data string      `json:"data"`
	}
	stopWire struct {
		Type MessageType `json:"type"`
	}
)

// Encode serializes an outgoing message to its JSON text frame.
func Encode(msg Outgoing) ([]byte, error) {
	var wire interface{}

	switch m := msg.(type) {
	case Start:
		wire = startWire{Type: m.Type(), Username: m.Username}
	case *Start:
		wire = startWire{Type: m.Type(), Username: m.Username}
	case SetLanguage:
		wire = setLanguageWire{Type: m.Type(), Language: m.Language}
	case *SetLanguage:
		wire = setLanguageWire{Type: m.Type(), Language: m.Language}
	case Frame:
		wire = frameWire{Type: m.Type(), Data: m.Data}
	case *Frame:
		wire = frameWire{Type: m.Type(), Data: m.Data}
	case Stop, *Stop:
		wire = stopWire{Type: msg.Type()}
	default:
		return nil, fmt.Errorf("unsupported outgoing message %T", msg)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s message: %w", msg.Type(), err)
	}
	return data, nil
}
