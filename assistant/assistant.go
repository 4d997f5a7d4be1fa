// Package assistant holds application-wide constants shared by the DaraPay
// assistant pipeline packages.
package assistant

const (
	// DefaultAppName is used for config and data directory resolution.
	DefaultAppName = "darapay-assistant"

	// DefaultConfigPath is searched after the working directory.
	DefaultConfigPath = "/etc/darapay-assistant"

	// DefaultDatabaseDir is where the embedded conversation database lives.
	DefaultDatabaseDir = "/var/lib/darapay-assistant"

	// DefaultDatabaseDSN is the embedded database file name.
	DefaultDatabaseDSN = "assistant.db"
)
