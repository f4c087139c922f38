// Package events carries job notifications from the submission flow and the
// status pollers to pluggable sinks. Emitters never block: the Hub buffers
// events, batches them on a background goroutine, and fans each batch out to
// sinks such as structured logs, Prometheus counters, Pub/Sub, or the recent
// notification feed served by the local API.
package events
