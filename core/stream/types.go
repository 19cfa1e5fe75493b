package stream

import "log/slog"

// Position is a monotonically increasing identifier assigned by the Log.
// The engine relies on ordering and equality, and the recovery scan also
// relies on committed positions being contiguous (each one greater by 1).
type Position int64

// UnsetPosition is the sentinel for "no position" (e.g. an empty snapshot).
const UnsetPosition Position = -1

func (p Position) SlogAttr() slog.Attr                  { return p.SlogAttrWithKey("position") }
func (p Position) SlogAttrWithKey(key string) slog.Attr { return slog.Int64(key, int64(p)) }
func (p Position) IsSet() bool                          { return p != UnsetPosition }

// RecordKind distinguishes externally injected commands from follow-up
// records emitted by a handler while processing one.
type RecordKind int

const (
	// KindCommand is an externally injected record; SourceEventPosition
	// equals Position for commands.
	KindCommand RecordKind = iota
	// KindFollowUp is a record emitted by a handler while processing a
	// command; SourceEventPosition names that command's Position.
	KindFollowUp
)

// TypeKey identifies a handler in the registry: a value type paired with
// an intent (e.g. value type "order", intent "create").
type TypeKey struct {
	ValueType string
	Intent    string
}

func (k TypeKey) String() string { return k.ValueType + "/" + k.Intent }

// Record is the unit the Log stores and the engine exchanges with
// handlers. Key is an application-defined partition/aggregate key used by
// handlers to address state; the engine does not interpret it.
type Record struct {
	Position            Position
	SourceEventPosition Position
	Key                 string
	Kind                RecordKind
	Type                TypeKey
	Payload             []byte
}

// IsCommand reports whether this record is a source event rather than a
// follow-up (SourceEventPosition == Position for externally injected
// commands, per spec).
func (r Record) IsCommand() bool { return r.SourceEventPosition == r.Position }

func (r Record) LogAttrs() slog.Attr {
	return slog.Group(
		"record",
		r.Position.SlogAttr(),
		r.SourceEventPosition.SlogAttrWithKey("source_event_position"),
		slog.String("key", r.Key),
		slog.String("value_type", r.Type.ValueType),
		slog.String("intent", r.Type.Intent),
	)
}

// Rejection is returned by a RecordProcessor to signal a deterministic
// business-rule refusal. It is staged as a follow-up record by the
// processing state machine rather than treated as a retryable failure.
type Rejection struct {
	Reason  string
	Message string
}

func (r *Rejection) Error() string { return r.Reason + ": " + r.Message }
