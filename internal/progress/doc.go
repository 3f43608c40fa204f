// Package progress provides the event primitives, broadcaster, and emitter
// interfaces the pipeline uses to report how a publication moves through its
// stages. The pipeline handles one publication at a time, so events reach the
// pluggable sinks synchronously and in order.
package progress
