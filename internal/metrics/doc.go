// Package metrics defines the Prometheus instruments for capture, the
// collaborator calls, session persistence and the status API.
package metrics
