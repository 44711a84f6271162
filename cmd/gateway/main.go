// Gateway routes LLM requests through task groups, echelons and
// instance pools, providing:
//   - Priority-ordered model routing with configurable fallback chains
//   - Per-target circuit breakers
//   - Multi-level concurrency and rate admission
//   - Rotated instance pools with health tracking
//   - Usage persistence and Prometheus metrics
//
// Usage:
//
//	# Start with default configuration
//	gateway run
//
//	# Start with custom configuration file
//	gateway run --config /path/to/gateway.yaml
//
//	# Validate configuration without starting
//	gateway validate
//
//	# Show version information
//	gateway version
package main

func main() {
	Execute()
}
