package api

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

// DeliverRequest carries one gossip hop.
type DeliverRequest struct {
	Message   string                 `json:"message"`
	SenderID  string                 `json:"sender_id"`
	SentAt    *timestamppb.Timestamp `json:"sent_at"`
	LatencyMs float64                `json:"latency_ms"`
	OriginID  string                 `json:"origin_id,omitempty"`
	CreatedAt *timestamppb.Timestamp `json:"created_at,omitempty"`
}

type DeliverResponse struct {
	Details string `json:"details"`
}

type StatusRequest struct{}

type Neighbor struct {
	ID        string  `json:"id"`
	Addr      string  `json:"addr,omitempty"`
	LatencyMs float64 `json:"latency_ms"`
}

type StatusResponse struct {
	NodeID        string     `json:"node_id"`
	Neighbors     []Neighbor `json:"neighbors"`
	ReceivedCount int        `json:"received_count"`
	Initiating    bool       `json:"initiating"`
}
