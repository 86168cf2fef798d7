// Package metrics defines the Prometheus instrumentation of the voice bot.
package metrics
