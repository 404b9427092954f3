package clients

import "fmt"

// ReferenceKind represents the different external time references a coordinator can rank
type ReferenceKind string

const (
	// ReferenceKindHTTPJSON is a worldtimeapi-compatible JSON endpoint
	ReferenceKindHTTPJSON ReferenceKind = "http_json"

	// ReferenceKindHTTPDate reads the Date header of any HTTP server (second resolution)
	ReferenceKindHTTPDate ReferenceKind = "http_date"

	// ReferenceKindRedis uses the Redis TIME command
	ReferenceKindRedis ReferenceKind = "redis"

	// ReferenceKindPostgres uses clock_timestamp() on a Postgres server
	ReferenceKindPostgres ReferenceKind = "postgres"

	// ReferenceKindPeer asks another coordinator's TimeService
	ReferenceKindPeer ReferenceKind = "peer"
)

// ReferenceKindConfig describes a reference kind
type ReferenceKindConfig struct {
	Kind        ReferenceKind `json:"kind"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Precision   string        `json:"precision"`
	NeedsURL    bool          `json:"needs_url"`
}

// GetReferenceKinds returns all supported reference kinds
func GetReferenceKinds() map[ReferenceKind]ReferenceKindConfig {
	return map[ReferenceKind]ReferenceKindConfig{
		ReferenceKindHTTPJSON: {
			Kind:        ReferenceKindHTTPJSON,
			Name:        "HTTP JSON",
			Description: "worldtimeapi-compatible utc_datetime endpoint",
			Precision:   "microsecond",
			NeedsURL:    true,
		},
		ReferenceKindHTTPDate: {
			Kind:        ReferenceKindHTTPDate,
			Name:        "HTTP Date header",
			Description: "Date header of a HEAD response",
			Precision:   "second",
			NeedsURL:    true,
		},
		ReferenceKindRedis: {
			Kind:        ReferenceKindRedis,
			Name:        "Redis TIME",
			Description: "server time of a Redis instance, REDIS_ADDR when no url is given",
			Precision:   "microsecond",
			NeedsURL:    false,
		},
		ReferenceKindPostgres: {
			Kind:        ReferenceKindPostgres,
			Name:        "Postgres clock_timestamp",
			Description: "server clock of a Postgres database",
			Precision:   "microsecond",
			NeedsURL:    false,
		},
		ReferenceKindPeer: {
			Kind:        ReferenceKindPeer,
			Name:        "Peer coordinator",
			Description: "TimeService of another coordinator",
			Precision:   "nanosecond",
			NeedsURL:    true,
		},
	}
}

// ValidateReferenceKind checks if the kind is supported
func ValidateReferenceKind(kind ReferenceKind) error {
	if _, ok := GetReferenceKinds()[kind]; !ok {
		return fmt.Errorf("unknown reference kind %q", kind)
	}
	return nil
}
