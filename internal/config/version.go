package config

// Set at build time with -ldflags "-X github.com/edirooss/zmux-relay/internal/config.Version=...".
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)
