// Package shmringbuf is a high-throughput, low-latency transport between
// one producer process and one consumer process over a shared-memory ring
// buffer. A Unix-socket fd-pass handshake hands the consumer the region
// descriptor; a separate control channel carries heartbeats and, when
// enabled, per-message result reports routed through a subscription
// registry. See SPEC_FULL.md for the full design.
package shmringbuf
