package mqtt

import "fmt"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "neerthuli"

// Topics builds topic names under a deployment prefix.
//
//	topics := mqtt.NewTopics("neerthuli")
//	topics.Notification("invitation") // "neerthuli/notifications/invitation"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix, falling back to DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Notification returns the topic for notifications of one kind.
//
// Example: neerthuli/notifications/security_alert
func (t Topics) Notification(kind string) string {
	return fmt.Sprintf("%s/notifications/%s", t.prefix, kind)
}

// AllNotifications returns a pattern matching every notification kind.
//
// Pattern: neerthuli/notifications/+
func (t Topics) AllNotifications() string {
	return fmt.Sprintf("%s/notifications/+", t.prefix)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: neerthuli/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.prefix)
}
