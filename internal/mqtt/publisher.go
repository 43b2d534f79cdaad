// Package mqtt connects the pipeline to an MQTT broker: frames arrive on
// a per-stream topic, per-frame records leave on another. Transport
// failures never feed back into tracking.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/facepass-data/facetrack/internal/pipeline"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 5 * time.Second
)

// ResultTopic returns the topic frame records for a stream are published on.
func ResultTopic(streamID string) string {
	return "facetrack/results/" + streamID
}

// FrameTopic returns the topic raw frames for a stream arrive on.
func FrameTopic(streamID string) string {
	return "facetrack/frames/" + streamID
}

// NewClient connects a paho client to the broker with a random client ID
// and auto-reconnect enabled.
func NewClient(broker string) (paho.Client, error) {
	clientID := "facetrack-" + uuid.New().String()
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(c paho.Client) {
		log.Printf("connected to MQTT broker %s as %s", broker, clientID)
	}
	opts.OnConnectionLost = func(c paho.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	}

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", broker, err)
	}
	return client, nil
}

// Publisher publishes frame records as JSON to the stream's result topic.
type Publisher struct {
	client paho.Client
	topic  string
}

var _ pipeline.ResultPublisher = (*Publisher)(nil)

// NewPublisher creates a publisher for one stream over an existing client.
func NewPublisher(client paho.Client, streamID string) *Publisher {
	return &Publisher{client: client, topic: ResultTopic(streamID)}
}

// PublishResult sends one frame record, QoS 0. Errors are returned for
// the caller to log; delivery is best-effort.
func (p *Publisher) PublishResult(record *pipeline.FrameRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal frame record: %w", err)
	}
	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", p.topic)
	}
	return token.Error()
}
