// Package eventlog ships gossip events: one JSON object per line to a
// writer (stdout in gossipd), and optionally to a Kafka topic.
package eventlog
