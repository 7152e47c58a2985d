package protocol

import "time"

// Telemetry goes stale fast; commands must not be replayed long after they
// were issued.
var defaultTTLs = map[string]time.Duration{
	TypeTelemetryUpdate:   2 * time.Second,
	TypeTelemetrySnapshot: 5 * time.Second,
	TypeMatchUpdate:       30 * time.Second,

	TypeRobotCommand:  10 * time.Second,
	TypeEmergencyStop: 10 * time.Second,
	TypeModeChange:    30 * time.Second,

	TypeHubHeartbeat: 90 * time.Second,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = time.Minute

func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

func IsExpired(env *Envelope) bool {
	return expired(env.ExpiresAt)
}

// IsExpiredHeader checks expiry using only the raw header.
func IsExpiredHeader(hdr *RawHeader) bool {
	return expired(hdr.ExpiresAt)
}

func expired(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return time.Now().UTC().After(at)
}
