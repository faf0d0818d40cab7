// Package constants provides named constants used throughout the transitsim codebase.
// This centralizes file names and run defaults for better maintainability.
package constants

// Output layout
const (
	// OutputDir is the per-project directory for config, run history and
	// event files.
	OutputDir = ".transitsim"

	// ConfigFile is the config file name inside OutputDir.
	ConfigFile = "config.yaml"

	// DatabaseFile is the SQLite run history inside OutputDir.
	DatabaseFile = "runs.db"

	// ExportDir holds per-run Arrow and Prometheus files inside OutputDir.
	ExportDir = "exports"

	// ArrowSuffix and MetricsSuffix name per-run export files:
	// <run-id><suffix>.
	ArrowSuffix   = ".events.arrow"
	MetricsSuffix = ".prom"
)

// Run defaults
const (
	// DefaultTicks is the run length when none is configured.
	DefaultTicks = 200

	// DefaultCompareRuns is the number of seeds per regime in compare.
	DefaultCompareRuns = 1

	// MaxCompareRuns bounds batch size for compare requests.
	MaxCompareRuns = 100

	// MaxTicks bounds run length for requests from external tools.
	MaxTicks = 10000

	// MaxPopulation bounds each agent population for requests from external tools.
	MaxPopulation = 5000
)

// Event sink tuning
const (
	// StoreBatchSize is the number of gate events buffered before a SQLite
	// flush.
	StoreBatchSize = 500

	// ArrowBatchSize is the number of gate events per Arrow record batch.
	ArrowBatchSize = 4096
)
