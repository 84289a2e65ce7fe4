// Package infra provides the concurrency substrate for the perception
// pipeline: cooperative stop signalling, worker-thread ownership, bounded
// drop-policy queues, latest-value registers, and per-stage metrics.
//
// The substrate encodes the backpressure strategy for the whole system.
// Bounded queues drop (oldest or newest) instead of blocking producers;
// latest-value registers let a slow consumer always pick up the newest
// item and skip the rest. Stages built on top of these never block
// unboundedly and never tear down on data-path overload.
package infra
