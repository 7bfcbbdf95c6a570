// Package cluster partitions a topology into k clusters by running k-means
// over the nodes' shortest-path distance vectors, then repairs the partition
// until every cluster induces a connected subgraph of the topology.
//
// Repair moves nodes out of the smaller components of a disconnected
// cluster into the nearest neighboring cluster that stays connected after
// the move. The number of passes is bounded; a partition that cannot be
// repaired within the bound is reported as ErrPartitionInfeasible rather
// than returned half-fixed.
package cluster
