// Package roundtable is the root of the round-table orchestration engine.
// The engine itself lives under application; interfaces/api is the
// embedding entry point.
package roundtable

// Version is reported by the CLI and stamped on trace resources.
const Version = "0.1.0"
