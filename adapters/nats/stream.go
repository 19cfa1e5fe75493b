package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/partitionkit/streamproc/core/stream"
)

const defaultStreamSubjectPrefix = "clstr.stream"

// headers carried on every published message. No position header is
// written; the record's Position is always the JetStream sequence number
// minus one (sequences start at 1, Position at 0).
const (
	headerSourcePos = "x-source-position"
	headerKey       = "x-key"
	headerKind      = "x-kind"
	headerValueType = "x-value-type"
	headerIntent    = "x-intent"
)

// LogConfig configures a JetStream-backed per-partition stream.Log.
type LogConfig struct {
	Connect       Connector
	Log           *slog.Logger
	SubjectPrefix string // defaults to "clstr.stream"
	PartitionID   int64
	StreamName    string // defaults to an upper-cased, partition-scoped name
}

// JetStreamLog is the JetStream realization of stream.Log: one JetStream
// stream per partition, one subject, sequence numbers doubling as
// Positions (offset by one, since JetStream sequences start at 1).
type JetStreamLog struct {
	nc      *natsgo.Conn
	closeNc closeFunc
	js      jetstream.JetStream
	stream  jetstream.Stream
	log     *slog.Logger
	subject string
}

func NewJetStreamLog(ctx context.Context, cfg LogConfig) (*JetStreamLog, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultStreamSubjectPrefix
	}
	subject := subjectPrefix + "." + strconv.FormatInt(cfg.PartitionID, 10)

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = fmt.Sprintf("STREAMPROC_P%d", cfg.PartitionID)
	}

	log = log.With(
		slog.String("adapter", "nats_jetstream_log"),
		slog.String("stream", streamName),
		slog.String("subject", subject),
	)

	st, _, err := ensureStream(js, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subject},
		Storage:  jetstream.FileStorage,
		FirstSeq: 1,
	})
	if err != nil {
		closeNatsCon()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	return &JetStreamLog{
		nc:      nc,
		closeNc: closeNatsCon,
		js:      js,
		stream:  st,
		log:     log,
		subject: subject,
	}, nil
}

func (l *JetStreamLog) Close() error {
	l.closeNc()
	return nil
}

func (l *JetStreamLog) Writer() stream.BatchWriter { return &jsWriter{l: l} }

func (l *JetStreamLog) OpenReader(ctx context.Context, from stream.Position) (stream.Reader, error) {
	startSeq := positionToSeq(from) + 1

	consumerCfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{l.subject},
	}
	if from.IsSet() {
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		consumerCfg.OptStartSeq = startSeq
	} else {
		consumerCfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	cc, err := l.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("open ordered consumer: %w", err)
	}

	return &jsReader{log: l, consumer: cc}, nil
}

func (l *JetStreamLog) HighestPosition(ctx context.Context) (stream.Position, error) {
	info, err := l.stream.Info(ctx)
	if err != nil {
		return stream.UnsetPosition, err
	}
	if info.State.LastSeq == 0 {
		return stream.UnsetPosition, nil
	}
	return seqToPosition(info.State.LastSeq), nil
}

func positionToSeq(p stream.Position) uint64 {
	if !p.IsSet() {
		return 0
	}
	return uint64(p) + 1
}

func seqToPosition(seq uint64) stream.Position {
	if seq == 0 {
		return stream.UnsetPosition
	}
	return stream.Position(seq - 1)
}

// --- writer ---

type jsWriter struct{ l *JetStreamLog }

func (w *jsWriter) MaxFragmentLength() int { return int(natsgo.MAX_PAYLOAD_SIZE) }

// Append publishes recs as a single JetStream batch. JetStream has no
// native multi-message transaction, so atomicity is approximated by
// publishing synchronously in order and, on any failure partway through,
// reporting an error without attempting to roll earlier publishes back —
// matching the log's append-only, never-retract-a-position contract: a
// partial batch is a durability gap the next recovery pass will simply
// not see past, since the caller never observed a successful Append.
func (w *jsWriter) Append(ctx context.Context, recs []stream.Record) (stream.Position, error) {
	if len(recs) == 0 {
		return stream.UnsetPosition, errors.New("stream: append requires at least one record")
	}

	var lastSeq uint64
	for _, rec := range recs {
		msg := natsgo.NewMsg(w.l.subject)
		msg.Header.Set(headerKey, rec.Key)
		msg.Header.Set(headerKind, strconv.Itoa(int(rec.Kind)))
		msg.Header.Set(headerValueType, rec.Type.ValueType)
		msg.Header.Set(headerIntent, rec.Type.Intent)
		msg.Header.Set(headerSourcePos, strconv.FormatInt(int64(rec.SourceEventPosition), 10))
		msg.Data = rec.Payload

		ack, err := w.l.js.PublishMsg(ctx, msg)
		if err != nil {
			return stream.UnsetPosition, fmt.Errorf("publish record key=%q: %w", rec.Key, err)
		}
		lastSeq = ack.Sequence
	}
	return seqToPosition(lastSeq), nil
}

// --- reader ---

type jsReader struct {
	log      *JetStreamLog
	consumer jetstream.Consumer
}

func (r *jsReader) Close() error { return nil }

func (r *jsReader) SeekToNextEvent(ctx context.Context, pos stream.Position) error {
	consumerCfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{r.log.subject},
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    positionToSeq(pos) + 1,
	}
	cc, err := r.log.stream.OrderedConsumer(ctx, consumerCfg)
	if err != nil {
		return fmt.Errorf("seek to next event: %w", err)
	}
	r.consumer = cc
	return nil
}

func (r *jsReader) Next(ctx context.Context) (stream.Record, error) {
	for {
		mb, err := r.consumer.FetchNoWait(1)
		if err != nil {
			return stream.Record{}, err
		}
		if mb.Error() != nil {
			return stream.Record{}, mb.Error()
		}

		for msg := range mb.Messages() {
			return r.decode(msg)
		}

		// no message arrived this pass; wait for one or for ctx to end.
		select {
		case <-ctx.Done():
			return stream.Record{}, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (r *jsReader) decode(msg jetstream.Msg) (stream.Record, error) {
	md, err := msg.Metadata()
	if err != nil {
		return stream.Record{}, fmt.Errorf("message metadata: %w", err)
	}

	pos := seqToPosition(md.Sequence.Stream)

	kind, err := strconv.Atoi(msg.Headers().Get(headerKind))
	if err != nil {
		return stream.Record{}, fmt.Errorf("decode kind header: %w", err)
	}
	srcPos, err := strconv.ParseInt(msg.Headers().Get(headerSourcePos), 10, 64)
	if err != nil {
		return stream.Record{}, fmt.Errorf("decode source position header: %w", err)
	}

	return stream.Record{
		Position:            pos,
		SourceEventPosition: stream.Position(srcPos),
		Key:                 msg.Headers().Get(headerKey),
		Kind:                stream.RecordKind(kind),
		Type: stream.TypeKey{
			ValueType: msg.Headers().Get(headerValueType),
			Intent:    msg.Headers().Get(headerIntent),
		},
		Payload: msg.Data(),
	}, nil
}

var _ stream.Log = (*JetStreamLog)(nil)
