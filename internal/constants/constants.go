package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	// RoutingTopicPrefix is joined with the channel name to form the
	// per-channel routing topic, e.g. "routing.email".
	RoutingTopicPrefix = "routing."
	LogTopic           = "delivery_logs"
)

const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

const (
	MessagesCollection = "messages"
	LogsCollection     = "logs"
	RetriesCollection  = "retries"
	LogIndexName       = "comm-logs"
)

const (
	CacheKeyPrefixDedup = "dedup:"
)

const (
	DefaultMaxAttempts       = 5
	DefaultBaseBackoff       = 1 * time.Second
	DefaultMaxBackoff        = 5 * time.Minute
	DefaultFailRate          = 0.2
	DefaultRetryPollInterval = 1 * time.Second
)

const (
	DefaultPrimaryStartupTimeout = 2 * time.Minute
	DefaultHealthCheckInterval   = 30 * time.Second
	DefaultHealthCheckTimeout    = 5 * time.Second
)

const (
	DefaultMongoDBName = "commagg"
)

const (
	ShutdownTimeout = 5 * time.Second
)

// AllowedChannels is the closed set of delivery channels the gateway accepts.
func AllowedChannels() []string {
	return []string{ChannelEmail, ChannelSMS, ChannelWhatsApp}
}

// RoutingTopic returns the broker topic for a channel.
func RoutingTopic(channel string) string {
	return RoutingTopicPrefix + channel
}
