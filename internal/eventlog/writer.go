package eventlog

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gossipsim/internal/gossip"
)

// Writer writes every event as one JSON line. Only event fields are
// written: no level, timestamp or message keys.
type Writer struct {
	logger *zap.Logger
}

// NewWriter returns a sink writing to w.
func NewWriter(w io.Writer) *Writer {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	})
	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), zapcore.InfoLevel)
	return &Writer{logger: zap.New(core)}
}

// Record implements gossip.Sink.
func (s *Writer) Record(e gossip.Event) {
	s.logger.Info("", zap.Inline(e))
}

// Sync flushes buffered output.
func (s *Writer) Sync() error {
	return s.logger.Sync()
}
