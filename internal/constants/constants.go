// Package constants holds the tunable sizes and timeouts shared across the
// transfer engine, grouped the way the rest of the system reads them.
package constants

import "time"

// Chunking and protocol
const (
	// ChunkSize is the fixed size of every chunk except possibly the last.
	ChunkSize = 1 * 1024 * 1024

	// MaxChunkBodyBytes bounds the receiver's request body size. It tracks
	// ChunkSize so raising the chunk size raises the cap with it.
	MaxChunkBodyBytes = 2 * ChunkSize

	// DefaultPort is the TCP port the receiver listens on and peers advertise.
	DefaultPort = 8765

	// TransferIDHexLen is the length, in hex characters, of transfer and queue IDs.
	TransferIDHexLen = 8
)

// HTTP timeouts and retry tuning
const (
	// ConnTimeout bounds a single HTTP round trip made by the sender.
	ConnTimeout = 30 * time.Second

	// RetryInitialDelay is the backoff before the first chunk retry.
	RetryInitialDelay = 1 * time.Second

	// RetryMaxDelay caps the exponential backoff between chunk retries.
	RetryMaxDelay = 30 * time.Second

	// MaxRetries is the number of retry attempts allowed per chunk before
	// the transfer is marked failed.
	MaxRetries = 5
)

// Progress and speed reporting
const (
	// SpeedSampleInterval is the minimum elapsed time between speed samples.
	SpeedSampleInterval = 500 * time.Millisecond

	// SpeedSmoothingAlpha weights new speed samples against the running EMA.
	SpeedSmoothingAlpha = 0.25
)

// Durable state
const (
	// StateExpiry is how long a persisted transfer record survives before
	// being dropped as stale, both on load and on save.
	StateExpiry = 24 * time.Hour
)

// mDNS discovery
const (
	// ServiceType is the mDNS/DNS-SD service type peers advertise and browse for.
	ServiceType = "_lantransfer._tcp"

	// ServiceDomain is the mDNS domain used for all queries and registrations.
	ServiceDomain = "local."

	// ProtocolVersion is advertised in the TXT record so future versions can
	// detect incompatible peers.
	ProtocolVersion = "1.0"

	// BrowseInterval is how often the browser re-queries the network for peers.
	BrowseInterval = 4 * time.Second

	// PeerExpiry is how long a peer is kept after its last sighting before
	// being treated as gone (covers missed "remove" events).
	PeerExpiry = 12 * time.Second
)

// Event bus
const (
	// EventBusDefaultBuffer is the default per-subscriber channel buffer size.
	EventBusDefaultBuffer = 256
)

// HTTP client transport tuning, mirrored from the large-file transfer client.
const (
	HTTPIdleConnTimeout     = 90 * time.Second
	HTTPTLSHandshakeTimeout = 10 * time.Second
	HTTPMaxIdleConns        = 64
	HTTPMaxIdleConnsPerHost = 16
)
