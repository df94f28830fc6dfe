package atlas

import (
	"bytes"
	"errors"
	"testing"
)

func TestRequestEncodeRoundTrip(t *testing.T) {
	req := NewSetRequest("OutputGain_2", -12.5)
	frame, err := req.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if !bytes.HasSuffix(frame, []byte("\n")) {
		t.Error("frame missing trailing newline")
	}

	msg, err := DecodeMessage(bytes.TrimSuffix(frame, []byte("\n")))
	if err != nil {
		t.Fatalf("DecodeMessage() error: %v", err)
	}
	if msg.ID != req.ID {
		t.Errorf("ID = %q, want %q", msg.ID, req.ID)
	}
	if msg.Method != MethodSet {
		t.Errorf("Method = %q, want %q", msg.Method, MethodSet)
	}
	v, err := msg.Float()
	if err != nil {
		t.Fatalf("Float() error: %v", err)
	}
	if v != -12.5 {
		t.Errorf("value = %v, want -12.5", v)
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage([]byte("not json at all"))
	if !errors.Is(err, ErrDecode) {
		t.Errorf("error = %v, want ErrDecode", err)
	}
}

func TestMessageIsUpdate(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"method":"update","param":"OutputGain_1","value":-6}`))
	if err != nil {
		t.Fatalf("DecodeMessage() error: %v", err)
	}
	if !msg.IsUpdate() {
		t.Error("push frame not recognised as update")
	}

	resp, err := DecodeMessage([]byte(`{"id":"abc","value":-6}`))
	if err != nil {
		t.Fatalf("DecodeMessage() error: %v", err)
	}
	if resp.IsUpdate() {
		t.Error("response frame misclassified as update")
	}
}

func TestMessageFloatAcceptsQuotedNumbers(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"id":"x","value":"-3.5"}`))
	if err != nil {
		t.Fatalf("DecodeMessage() error: %v", err)
	}
	v, err := msg.Float()
	if err != nil {
		t.Fatalf("Float() error: %v", err)
	}
	if v != -3.5 {
		t.Errorf("value = %v, want -3.5", v)
	}
}

func TestMessageText(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"id":"x","value":"AZM8"}`))
	if err != nil {
		t.Fatalf("DecodeMessage() error: %v", err)
	}
	s, err := msg.Text()
	if err != nil {
		t.Fatalf("Text() error: %v", err)
	}
	if s != "AZM8" {
		t.Errorf("value = %q, want AZM8", s)
	}

	// Numeric capability values come back as numbers.
	msg, _ = DecodeMessage([]byte(`{"id":"x","value":8}`))
	s, err = msg.Text()
	if err != nil {
		t.Fatalf("Text() on numeric error: %v", err)
	}
	if s != "8" {
		t.Errorf("value = %q, want 8", s)
	}
}

func TestParseMeterDatagram(t *testing.T) {
	data := []byte(`{"seq":42,"ts":1755856800000,"meters":[` +
		`{"type":"input","index":1,"level":-18.2,"peak":-12.0,"clip":false},` +
		`{"type":"output","index":3,"level":-6.1,"peak":-0.2,"clip":true}]}`)

	dg, err := ParseMeterDatagram(data)
	if err != nil {
		t.Fatalf("ParseMeterDatagram() error: %v", err)
	}
	if dg.Seq != 42 {
		t.Errorf("Seq = %d, want 42", dg.Seq)
	}
	if len(dg.Meters) != 2 {
		t.Fatalf("Meters len = %d, want 2", len(dg.Meters))
	}
	if dg.Meters[1].Type != "output" || !dg.Meters[1].Clip {
		t.Errorf("unexpected second reading: %+v", dg.Meters[1])
	}
}
