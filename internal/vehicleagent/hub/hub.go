// Package hub publishes the agent's telemetry, cranking reports and alerts to
// the MQTT broker.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/mqtt"
	mqtttopic "github.com/barnapet/smartdrive/pkg/mqtt/topic"
)

// Publisher sends one payload to one topic with at-least-once delivery.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

const connectWait = 10 * time.Second

// Hub maps agent records to topics and payloads.
type Hub struct {
	vin string
	qos int

	mc     mqtt.Client
	topics *mqtttopic.Builder
}

var _ Publisher = (*Hub)(nil)

func New(vin string, client mqtt.Client, topics *mqtttopic.Builder, qos int) *Hub {
	return &Hub{
		vin:    vin,
		qos:    qos,
		mc:     client,
		topics: topics,
	}
}

// Publish sends payload unretained at the configured QoS.
func (h *Hub) Publish(ctx context.Context, topic string, payload []byte) error {
	return h.mc.Publish(ctx, topic, h.qos, false, payload)
}

// PublishTelemetry sends the sample as a flat key-value object.
func (h *Hub) PublishTelemetry(ctx context.Context, s model.TelemetrySample) error {
	payload, err := EncodeTelemetry(s)
	if err != nil {
		return err
	}
	return h.Publish(ctx, h.topics.Telemetry(h.vin), payload)
}

func (h *Hub) PublishCranking(ctx context.Context, r *model.CrankingReport) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode cranking report: %w", err)
	}
	return h.Publish(ctx, h.topics.Cranking(h.vin), payload)
}

func (h *Hub) PublishAlert(ctx context.Context, a *model.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	return h.Publish(ctx, h.topics.Alerts(h.vin), payload)
}

func (h *Hub) IsConnected() bool {
	return h.mc.IsConnected()
}

// Start connects to the broker and waits a bounded time for the first
// CONNACK. An unreachable broker is not fatal: the client keeps retrying in
// the background and publishes fail with mqtt.ErrNotConnected until then.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, connectWait)
	defer cancel()
	if err := h.mc.AwaitConnection(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("MQTT broker not reachable yet, continuing offline", "vin", h.vin, "waited", connectWait)
	}
	return nil
}

func (h *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.mc.Disconnect(ctx)
}

// EncodeTelemetry renders a sample in the wire form of the telemetry topic.
func EncodeTelemetry(s model.TelemetrySample) ([]byte, error) {
	st, err := structpb.NewStruct(s.Fields())
	if err != nil {
		return nil, fmt.Errorf("encode telemetry: %w", err)
	}
	return protojson.Marshal(st)
}
