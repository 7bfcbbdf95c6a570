// Package overlay builds the reduced dissemination graph from a repaired
// cluster partition: the intra-cluster edges of the original graph plus
// bridge edges taken from shortest paths between cluster medoids.
package overlay
