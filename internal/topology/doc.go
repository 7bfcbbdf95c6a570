// Package topology generates random connected latency graphs and reads and
// writes them in the JSON topology file format shared by the generator,
// the overlay builder and the gossip nodes.
package topology
