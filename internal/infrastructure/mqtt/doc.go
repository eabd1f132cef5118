// Package mqtt provides the MQTT publisher used to hand notifications to
// delivery bridges (SMS gateways, on-call pagers, operator consoles).
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS guarantees and a payload size cap
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health for the readiness probe
//
// # Architecture
//
// The identity core never talks to an SMS or paging provider directly. It
// publishes a JSON envelope per notification and bridges subscribed to
// the notification topics do the delivery.
//
//	Identity Core -> MQTT Broker -> Notification Bridges
//
// # Security Considerations
//
//   - TLS is required for production deployments (cfg.Broker.TLS=true)
//   - Envelopes never carry raw tokens or passwords, only links and metadata
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := mqtt.NewTopics(cfg.MQTT.TopicPrefix).Notification("invitation")
//	client.Publish(topic, payload, 1, false)
package mqtt
