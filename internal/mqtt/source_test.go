package mqtt

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// fakeMessage implements paho.Message for handler tests.
type fakeMessage struct {
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return "facetrack/frames/cam0" }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

var _ paho.Message = fakeMessage{}

func TestTopicNaming(t *testing.T) {
	if got := ResultTopic("cam0"); got != "facetrack/results/cam0" {
		t.Errorf("ResultTopic = %q", got)
	}
	if got := FrameTopic("cam0"); got != "facetrack/frames/cam0" {
		t.Errorf("FrameTopic = %q", got)
	}
}

func TestFrameSource_UndecodablePayloadCounted(t *testing.T) {
	s := NewFrameSource(nil, "cam0", nil)

	s.handleMessage(nil, fakeMessage{payload: []byte("not an image")})
	s.handleMessage(nil, fakeMessage{payload: nil})

	if got := s.DecodeErrors(); got != 2 {
		t.Errorf("expected 2 decode errors, got %d", got)
	}
	if got := s.frameIndex.Load(); got != 0 {
		t.Errorf("undecodable payloads must not advance the frame index, got %d", got)
	}
}

func TestFrameSource_ValidPayloadDecodes(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	img, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("round trip decode failed: %v", err)
	}
	if img.Bounds().Dx() != 8 {
		t.Errorf("unexpected decoded bounds: %v", img.Bounds())
	}
}
