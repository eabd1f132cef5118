package mqtt

import "errors"

// Sentinel errors for the notification publisher.
var (
	// ErrNotConnected is returned when publishing on a disconnected client.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the error from the initial broker connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps publish errors, timeouts and oversized payloads.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrInvalidQoS is returned for a QoS outside 0..2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
)
