package config

import "time"

// Config carries everything the node needs at startup. Values are populated
// from cobra flags in cmd/lanline.
type Config struct {
	Nick          string
	Port          int // TCP message port, also advertised in heartbeats
	DiscoveryPort int // base UDP port for heartbeat broadcast/listen
	WebPort       int
	DBPath        string
	WebhookURL    string

	DialTimeout   time.Duration
	AckTimeout    time.Duration
	DrainInterval time.Duration
	PeerTTL       time.Duration
}

func Default() Config {
	return Config{
		Nick:          "Anonymous",
		Port:          9000,
		DiscoveryPort: 9100,
		WebPort:       8080,
		DialTimeout:   2 * time.Second,
		AckTimeout:    3 * time.Second,
		DrainInterval: 5 * time.Second,
		PeerTTL:       5 * time.Second,
	}
}
