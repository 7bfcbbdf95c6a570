// Package api defines the gossip.v1.Gossip gRPC service: request and
// response types, the service descriptor, a typed client and the JSON codec
// the service is spoken with. Timestamps use the protobuf well-known
// Timestamp type.
package api
