// Package graph provides the undirected weighted graph used for topologies
// and overlays. Edge weights are link latencies in milliseconds. The package
// also provides connected-component analysis, connectivity repair and the
// all-pairs shortest-path distances used as clustering features.
package graph
