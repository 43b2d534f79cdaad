package mqtt

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/facepass-data/facetrack/internal/pipeline"
)

// FrameSource subscribes to a stream's frame topic and feeds decoded
// frames into a pipeline runner. The runner's newest-wins backpressure
// means a slow pipeline sheds frames here rather than queueing them.
type FrameSource struct {
	client   paho.Client
	streamID string
	runner   *pipeline.Runner

	frameIndex atomic.Int64
	decodeErrs atomic.Uint64
}

// NewFrameSource creates a source for one stream over an existing client.
func NewFrameSource(client paho.Client, streamID string, runner *pipeline.Runner) *FrameSource {
	return &FrameSource{client: client, streamID: streamID, runner: runner}
}

// Start subscribes to the frame topic. Handler invocations run on paho's
// router goroutine; Submit never blocks, so the handler stays fast.
func (s *FrameSource) Start() error {
	topic := FrameTopic(s.streamID)
	token := s.client.Subscribe(topic, 0, s.handleMessage)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	log.Printf("stream %s: subscribed to %s", s.streamID, topic)
	return nil
}

// Stop unsubscribes from the frame topic.
func (s *FrameSource) Stop() {
	s.client.Unsubscribe(FrameTopic(s.streamID)).WaitTimeout(publishTimeout)
}

// DecodeErrors returns the number of payloads that failed image decoding.
func (s *FrameSource) DecodeErrors() uint64 {
	return s.decodeErrs.Load()
}

func (s *FrameSource) handleMessage(_ paho.Client, m paho.Message) {
	img, _, err := image.Decode(bytes.NewReader(m.Payload()))
	if err != nil {
		s.decodeErrs.Add(1)
		log.Printf("stream %s: dropping undecodable frame: %v", s.streamID, err)
		return
	}
	frame := pipeline.Frame{
		StreamID:  s.streamID,
		Index:     s.frameIndex.Add(1),
		Timestamp: time.Now(),
		Image:     img,
	}
	out := s.runner.Submit(frame)
	go func() {
		res := <-out
		if res.Err != nil && res.Err != pipeline.ErrFrameDropped {
			log.Printf("stream %s: frame %d failed: %v", s.streamID, frame.Index, res.Err)
		}
	}()
}
