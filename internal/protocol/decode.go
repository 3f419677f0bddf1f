package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"livedetect/internal/model"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Incoming is a validated message received from the backend.
type Incoming interface {
	Type() MessageType
}

// Detection carries one batch of detections for a recent frame. Results keeps
// only the elements that passed validation, in server emission order.
type Detection struct {
	Results []model.Detection
	Dropped int
}

// Status is an informational notice from the backend.
type Status struct {
	Message string
}

// Error is a backend-reported failure; it does not end the session.
type Error struct {
	Message string
}

func (Detection) Type() MessageType { return TypeDetection }
func (Status) Type() MessageType    { return TypeStatus }
func (Error) Type() MessageType     { return TypeError }

// objectFields splits a JSON object into its members. Keys are matched
// exactly; encoding/json alone would also accept "TYPE" or "Results".
func objectFields(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errors.New("null object")
	}
	return fields, nil
}

// field decodes one optional member into dst; absent members leave dst as is.
func field(fields map[string]json.RawMessage, key string, dst interface{}) error {
	raw, ok := fields[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q: %v", key, err)
	}
	return nil
}

// Decode parses and validates one inbound text frame. It fails closed: any
// payload that is not a JSON object with a recognized type yields an error
// wrapping ErrMalformed or ErrUnknownType.
func Decode(raw []byte) (Incoming, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected JSON object", ErrMalformed)
	}

	fields, err := objectFields(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msgType MessageType
	if err := field(fields, "type", &msgType); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch msgType {
	case TypeDetection:
		det, err := decodeDetections(fields["results"])
		if err != nil {
			return nil, err
		}
		return det, nil
	case TypeStatus, TypeError:
		var message *string
		if err := field(fields, "message", &message); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if msgType == TypeStatus {
			return Status{Message: deref(message)}, nil
		}
		return Error{Message: deref(message)}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
}

func decodeDetections(results json.RawMessage) (Detection, error) {
	out := Detection{Results: []model.Detection{}}

	trimmed := bytes.TrimSpace(results)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return out, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return Detection{}, fmt.Errorf("%w: results is not an array", ErrMalformed)
	}

	for _, element := range elements {
		det, ok := decodeElement(element)
		if !ok {
			out.Dropped++
			continue
		}
		out.Results = append(out.Results, det)
	}
	return out, nil
}

// decodeElement validates a single detection element; invalid elements are
// reported with ok=false and never corrected.
func decodeElement(raw json.RawMessage) (model.Detection, bool) {
	fields, err := objectFields(raw)
	if err != nil {
		return model.Detection{}, false
	}

	var (
		coords     []float64
		label      *string
		translated *string
		confidence *float64
	)
	if field(fields, "box", &coords) != nil ||
		field(fields, "label", &label) != nil ||
		field(fields, "translated", &translated) != nil ||
		field(fields, "confidence", &confidence) != nil {
		return model.Detection{}, false
	}

	if len(coords) != 4 {
		return model.Detection{}, false
	}
	box := model.Box{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}
	if !box.Valid() {
		return model.Detection{}, false
	}

	if label == nil || *label == "" {
		return model.Detection{}, false
	}
	if confidence == nil || *confidence < 0 || *confidence > 1 {
		return model.Detection{}, false
	}

	return model.Detection{
		Box:             box,
		Label:           *label,
		TranslatedLabel: deref(translated),
		Confidence:      *confidence,
	}, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
