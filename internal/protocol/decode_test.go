package protocol

import (
	"errors"
	"testing"
)

func TestDecode_DetectionKeepsValidElementsInOrder(t *testing.T) {
	raw := `{"type":"detection","results":[
		{"box":[10,10,50,50],"label":"cup","translated":"taza","confidence":0.9},
		{"box":[200,100,100,200],"label":"bad","confidence":0.5},
		{"box":[60,60,90,120],"label":"book","confidence":0.4}
	]}`

	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	det, ok := msg.(Detection)
	if !ok {
		t.Fatalf("Expected Detection, got %T", msg)
	}
	if len(det.Results) != 2 {
		t.Fatalf("Expected 2 valid results, got %d", len(det.Results))
	}
	if det.Dropped != 1 {
		t.Errorf("Expected 1 dropped element, got %d", det.Dropped)
	}
	if det.Results[0].Label != "cup" || det.Results[1].Label != "book" {
		t.Errorf("Unexpected order: %q, %q", det.Results[0].Label, det.Results[1].Label)
	}
	if det.Results[0].TranslatedLabel != "taza" {
		t.Errorf("Expected translated label, got %q", det.Results[0].TranslatedLabel)
	}
	if det.Results[1].TranslatedLabel != "" {
		t.Errorf("Expected absent translation, got %q", det.Results[1].TranslatedLabel)
	}
}

func TestDecode_OneValidOneInvalid(t *testing.T) {
	raw := `{"type":"detection","results":[
		{"box":[100,100,200,200],"label":"chair","confidence":0.8},
		{"box":[300,100,200,200],"label":"table","confidence":0.8}
	]}`

	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	det := msg.(Detection)
	if len(det.Results) != 1 || det.Results[0].Label != "chair" {
		t.Errorf("Expected only chair, got %+v", det.Results)
	}
}

func TestDecode_InvalidElements(t *testing.T) {
	elements := []struct {
		name string
		json string
	}{
		{"three coordinates", `{"box":[1,2,3],"label":"a","confidence":0.5}`},
		{"five coordinates", `{"box":[1,2,3,4,5],"label":"a","confidence":0.5}`},
		{"string coordinate", `{"box":[1,2,"3",4],"label":"a","confidence":0.5}`},
		{"overflow coordinate", `{"box":[1,2,1e400,4],"label":"a","confidence":0.5}`},
		{"y2 below y1", `{"box":[1,5,3,4],"label":"a","confidence":0.5}`},
		{"empty label", `{"box":[1,2,3,4],"label":"","confidence":0.5}`},
		{"missing label", `{"box":[1,2,3,4],"confidence":0.5}`},
		{"confidence above one", `{"box":[1,2,3,4],"label":"a","confidence":1.5}`},
		{"missing confidence", `{"box":[1,2,3,4],"label":"a"}`},
		{"not an object", `42`},
		{"null element", `null`},
		{"capitalized keys", `{"Box":[1,2,3,4],"Label":"a","Confidence":0.5}`},
	}

	for _, tt := range elements {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(`{"type":"detection","results":[` + tt.json + `]}`))
			if err != nil {
				t.Fatalf("Invalid element must not fail the batch: %v", err)
			}
			det := msg.(Detection)
			if len(det.Results) != 0 || det.Dropped != 1 {
				t.Errorf("Expected element dropped, got results=%d dropped=%d", len(det.Results), det.Dropped)
			}
		})
	}
}

func TestDecode_EmptyBatches(t *testing.T) {
	for _, raw := range []string{
		`{"type":"detection","results":[]}`,
		`{"type":"detection","results":null}`,
		`{"type":"detection"}`,
	} {
		msg, err := Decode([]byte(raw))
		if err != nil {
			t.Fatalf("Decode(%s) failed: %v", raw, err)
		}
		det := msg.(Detection)
		if det.Results == nil || len(det.Results) != 0 {
			t.Errorf("Decode(%s) expected empty non-nil results, got %#v", raw, det.Results)
		}
	}
}

func TestDecode_StatusAndError(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"status","message":"model warming up"}`))
	if err != nil {
		t.Fatalf("Decode status failed: %v", err)
	}
	if s, ok := msg.(Status); !ok || s.Message != "model warming up" {
		t.Errorf("Unexpected status decode: %#v", msg)
	}

	msg, err = Decode([]byte(`{"type":"error","message":"translation unavailable"}`))
	if err != nil {
		t.Fatalf("Decode error failed: %v", err)
	}
	if e, ok := msg.(Error); !ok || e.Message != "translation unavailable" {
		t.Errorf("Unexpected error decode: %#v", msg)
	}
}

func TestDecode_FailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"empty", ``, ErrMalformed},
		{"not json", `hello`, ErrMalformed},
		{"array", `[1,2,3]`, ErrMalformed},
		{"truncated", `{"type":"detection","results":[`, ErrMalformed},
		{"missing type", `{"message":"x"}`, ErrMalformed},
		{"numeric type", `{"type":5}`, ErrMalformed},
		{"results not array", `{"type":"detection","results":{"box":[1,2,3,4]}}`, ErrMalformed},
		{"message not string", `{"type":"status","message":7}`, ErrMalformed},
		{"unknown type", `{"type":"frame","data":"x"}`, ErrUnknownType},
		{"future type", `{"type":"heartbeat"}`, ErrUnknownType},
		{"uppercase type key", `{"TYPE":"detection","Results":[]}`, ErrMalformed},
		{"capitalized type key", `{"Type":"status","message":"x"}`, ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode(%q) error = %v, expected %v", tt.raw, err, tt.wantErr)
			}
			if msg != nil {
				t.Errorf("Expected nil message on error, got %#v", msg)
			}
		})
	}
}
