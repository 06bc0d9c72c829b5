// Package server implements the optional HTTP status API that runs alongside
// a listening session: health, live pipeline status, the saved session
// library, sanitized configuration and Prometheus metrics.
package server
