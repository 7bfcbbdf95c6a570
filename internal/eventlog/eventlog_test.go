package eventlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gossipsim/internal/gossip"
)

func TestWriter_OneJSONObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	ms := 30.5
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w.Record(gossip.Event{Message: "M1", SenderID: "1", ReceiverID: "2", ReceivedAt: at, PropagationTimeMs: &ms, LatencyMs: 20, Kind: gossip.Received, Detail: "d"})
	w.Record(gossip.Event{Message: "M1", SenderID: "0", ReceiverID: "0", ReceivedAt: at, Kind: gossip.Initiate})
	require.NoError(t, w.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, map[string]any{
		"message":             "M1",
		"sender_id":           "1",
		"receiver_id":         "2",
		"received_at":         "2024-01-01T00:00:00Z",
		"propagation_time_ms": 30.5,
		"latency_ms":          20.0,
		"event":               "received",
		"detail":              "d",
	}, first)

	var second map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Contains(t, second, "propagation_time_ms")
	assert.Nil(t, second["propagation_time_ms"])
	assert.Equal(t, "initiate", second["event"])
}

func TestKafkaSink_PublishesEvents(t *testing.T) {
	producer := mocks.NewSyncProducer(t, ProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var e gossip.Event
		if err := json.Unmarshal(val, &e); err != nil {
			return err
		}
		if e.Message != "M1" || e.Kind != gossip.Initiate {
			return errors.New("unexpected event")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	sink := NewKafkaSink(producer, "gossip.events.v1", 8, nil)
	sink.Record(gossip.Event{Message: "M1", Kind: gossip.Initiate})
	sink.Record(gossip.Event{Message: "M1", Kind: gossip.Duplicate})
	require.NoError(t, sink.Close())

	sent, failed, dropped := sink.Stats()
	assert.Equal(t, uint64(1), sent)
	assert.Equal(t, uint64(1), failed)
	assert.Zero(t, dropped)

	sink.Record(gossip.Event{Message: "late"})
	_, _, dropped = sink.Stats()
	assert.Equal(t, uint64(1), dropped)
	assert.NoError(t, sink.Close())
}

func TestDialKafka_NoBrokers(t *testing.T) {
	_, err := DialKafka(nil, "t", nil)
	assert.Error(t, err)
}
