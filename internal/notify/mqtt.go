package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/mqtt"
)

// Publisher is the subset of the MQTT client used here.
type Publisher interface {
	PublishDefault(topic string, payload []byte) error
}

// MQTTTransport publishes a JSON envelope per message on
// <prefix>/notifications/<kind> for delivery bridges.
type MQTTTransport struct {
	pub    Publisher
	topics mqtt.Topics
	now    func() time.Time
}

// NewMQTTTransport creates a transport publishing through pub.
func NewMQTTTransport(pub Publisher, topics mqtt.Topics) *MQTTTransport {
	return &MQTTTransport{pub: pub, topics: topics, now: time.Now}
}

type envelope struct {
	Message
	SentAt string `json:"sent_at"`
}

// Notify implements Notifier.
func (t *MQTTTransport) Notify(_ context.Context, msg Message) error {
	payload, err := json.Marshal(envelope{Message: msg, SentAt: t.now().UTC().Format(time.RFC3339)})
	if err != nil {
		return fmt.Errorf("encoding notification: %w", err)
	}
	if err := t.pub.PublishDefault(t.topics.Notification(string(msg.Kind)), payload); err != nil {
		return fmt.Errorf("publishing notification: %w", err)
	}
	return nil
}
