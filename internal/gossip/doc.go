// Package gossip implements the per-node dissemination protocol: duplicate
// suppression over a received set, latency-delayed fan-out to the overlay
// neighbors and one Event per inbound delivery.
//
// Delivery is best-effort and at-most-once-processed per node. There is no
// ordering guarantee, no persistence and no retry: an unreachable neighbor
// is logged and skipped.
package gossip
