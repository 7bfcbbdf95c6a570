package api

import (
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"gossipsim/internal/gossip"
)

// ToDelivery converts a wire request into a gossip delivery. A missing
// sent_at is read as the zero time.
func ToDelivery(req *DeliverRequest) gossip.Delivery {
	d := gossip.Delivery{
		Message: gossip.Message{
			ID:     req.Message,
			Origin: req.OriginID,
		},
		SenderID:  req.SenderID,
		LatencyMs: req.LatencyMs,
	}
	if req.SentAt != nil {
		d.SentAt = req.SentAt.AsTime()
	}
	if req.CreatedAt != nil {
		d.Message.CreatedAt = req.CreatedAt.AsTime()
	}
	return d
}

// FromDelivery converts a gossip delivery into a wire request.
func FromDelivery(d gossip.Delivery) *DeliverRequest {
	req := &DeliverRequest{
		Message:   d.Message.ID,
		SenderID:  d.SenderID,
		SentAt:    timestamp(d.SentAt),
		LatencyMs: d.LatencyMs,
		OriginID:  d.Message.Origin,
	}
	if !d.Message.CreatedAt.IsZero() {
		req.CreatedAt = timestamp(d.Message.CreatedAt)
	}
	return req
}

// FromStatus converts a node status into a wire response.
func FromStatus(s gossip.Status) *StatusResponse {
	resp := &StatusResponse{
		NodeID:        s.ID,
		Neighbors:     make([]Neighbor, len(s.Neighbors)),
		ReceivedCount: s.Received,
		Initiating:    s.Initiating,
	}
	for i, p := range s.Neighbors {
		resp.Neighbors[i] = Neighbor{ID: p.ID, Addr: p.Addr, LatencyMs: p.LatencyMs}
	}
	return resp
}

func timestamp(t time.Time) *timestamppb.Timestamp {
	if t.IsZero() {
		return nil
	}
	return timestamppb.New(t)
}
