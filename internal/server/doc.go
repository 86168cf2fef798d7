// Package server exposes the HTTP monitoring API: health, run history,
// redacted configuration and Prometheus metrics.
package server
