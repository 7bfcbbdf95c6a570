// Package sim runs a whole overlay in one process: one gossip node per
// graph node, wired through an in-memory transport.
package sim
