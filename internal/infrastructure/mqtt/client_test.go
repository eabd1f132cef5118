package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/benjaminthomas/neer-thuli-main-sub000/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "neerthuli-test",
		},
		QoS:         1,
		TopicPrefix: "neerthuli",
	}
}

func TestTopicBuilders(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"notification", NewTopics("acme").Notification("invitation"), "acme/notifications/invitation"},
		{"all notifications", NewTopics("acme").AllNotifications(), "acme/notifications/+"},
		{"system status", NewTopics("acme").SystemStatus(), "acme/system/status"},
		{"default prefix", NewTopics("").Notification("security_alert"), "neerthuli/notifications/security_alert"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.MQTTAuthConfig{Username: "core", Password: "secret"}

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "neerthuli-test" || opts.Username != "core" {
		t.Errorf("ClientID/Username = %q/%q", opts.ClientID, opts.Username)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("expected auto-reconnect and clean session")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" || opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Errorf("TLS options = %v %+v", opts.Servers[0], opts.TLSConfig)
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, NewTopics("neerthuli"), "neerthuli-test")

	if !opts.WillEnabled || opts.WillTopic != "neerthuli/system/status" || !opts.WillRetained {
		t.Fatalf("will = enabled:%v topic:%q retained:%v", opts.WillEnabled, opts.WillTopic, opts.WillRetained)
	}
	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if p.Status != "offline" || p.Reason != "unexpected_disconnect" || p.ClientID != "neerthuli-test" {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	at := time.Date(2026, 7, 1, 8, 0, 0, 0, time.FixedZone("IST", 19800))
	var p statusPayload
	if err := json.Unmarshal(buildStatusPayload("c1", "online", "", at), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.Timestamp != "2026-07-01T02:30:00Z" || p.Reason != "" {
		t.Errorf("payload = %+v", p)
	}
}

func TestConnectInvalidBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the connect timeout")
	}
	cfg := testConfig()
	cfg.Broker.Port = 1 // nothing listens here

	if _, err := Connect(cfg); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig(), topics: NewTopics("neerthuli")}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", []byte("{}"), 1, ErrInvalidTopic},
		{"invalid qos", "t", []byte("{}"), 3, ErrInvalidQoS},
		{"oversized payload", "t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "t", []byte("{}"), 1, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	c := &Client{cfg: testConfig()}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) error = %v, want context.Canceled", err)
	}
}
