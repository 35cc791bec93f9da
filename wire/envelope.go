// Package wire implements the identity and envelope codec: ActorID, the
// CallID/StreamID value types, and the self-describing, versioned envelope
// format carrying invocations, responses, and stream control/data frames.
//
// The concrete format is JSON with named fields. Binary argument/result/
// payload blobs are carried as []byte fields, which encoding/json
// base64-encodes, so opaque blobs need no extra library (see
// DESIGN.md for why this stays on encoding/json rather than a third-party
// codec).
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/webitel/actorbridge/errs"
)

// Type is the wire discriminator tag.
type Type string

const (
	TypeInvocation   Type = "invocation"
	TypeResponse     Type = "response"
	TypeStreamStart  Type = "streamStart"
	TypeStreamData   Type = "streamData"
	TypeStreamEnd    Type = "streamEnd"
	TypeStreamError  Type = "streamError"
	TypeStreamResume Type = "streamResume"
)

// MinProtocolVersion/MaxProtocolVersion bound what this build of actorbridge
// accepts.
const (
	MinProtocolVersion uint32 = 1
	MaxProtocolVersion uint32 = 1
	// defaultProtocolVersion is substituted when the wire field is absent
	// (zero value): decoders treat a missing version as 1.
	defaultProtocolVersion uint32 = 1
)

// StreamEndReason enumerates why a stream subscription terminated.
type StreamEndReason string

const (
	ReasonCompleted         StreamEndReason = "completed"
	ReasonActorTerminated   StreamEndReason = "actor-terminated"
	ReasonClientUnsubscribed StreamEndReason = "client-unsubscribed"
	ReasonConnectionClosed  StreamEndReason = "connection-closed"
	ReasonError             StreamEndReason = "error"
)

// FilterType enumerates the three StreamFilter shapes.
type FilterType string

const (
	FilterAll        FilterType = "all"
	FilterPredefined FilterType = "predefined"
	FilterCustom     FilterType = "custom"
)

// StreamFilter is attached to a StreamStart (or carried in StreamResume's
// originating request) to let the server suppress uninteresting values.
type StreamFilter struct {
	Type   FilterType        `json:"type"`
	Name   string            `json:"name,omitempty"`
	Params map[string]string `json:"params,omitempty"`
}

// TraceContext propagates a trace/span identity across a call boundary
//.
type TraceContext struct {
	TraceID      string `json:"traceId"`
	SpanID       string `json:"spanId"`
	ParentSpanID string `json:"parentSpanId,omitempty"`
}

// Invocation is a remote-method-call request envelope.
type Invocation struct {
	CallID          CallID        `json:"callId"`
	ActorID         ActorID       `json:"actorId"`
	Method          string        `json:"method"`
	ProtocolVersion uint32        `json:"protocolVersion,omitempty"`
	TypeFingerprints []string     `json:"typeFingerprints,omitempty"`
	Args            [][]byte      `json:"args,omitempty"`
	StreamFilter    *StreamFilter `json:"streamFilter,omitempty"`
	TraceContext    *TraceContext `json:"traceContext,omitempty"`
}

// EffectiveProtocolVersion returns the decoded version, defaulting to 1 when
// the field was absent on the wire.
func (i *Invocation) EffectiveProtocolVersion() uint32 {
	if i.ProtocolVersion == 0 {
		return defaultProtocolVersion
	}
	return i.ProtocolVersion
}

// Response carries exactly one of Result/Error back to the caller. An empty
// Result with no Error means "void success".
type Response struct {
	CallID CallID `json:"callId"`
	Result []byte `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r *Response) IsError() bool { return r.Error != "" }

// StreamStart opens (client->server) or acknowledges (server->client, with
// the canonical StreamID) a streaming subscription.
type StreamStart struct {
	StreamID StreamID      `json:"streamId"`
	CallID   CallID        `json:"callId"`
	ActorID  ActorID       `json:"actorId"`
	Method   string        `json:"method"`
	Filter   *StreamFilter `json:"filter,omitempty"`
}

// StreamData carries one ordered, sequenced payload on an open stream.
type StreamData struct {
	StreamID  StreamID  `json:"streamId"`
	Sequence  uint64    `json:"sequence"`
	Payload   []byte    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamEnd terminates a stream normally. Exactly one of StreamEnd or
// StreamError is ever sent per subscription.
type StreamEnd struct {
	StreamID StreamID        `json:"streamId"`
	Reason   StreamEndReason `json:"reason"`
}

// StreamError terminates a stream with an error.
type StreamError struct {
	StreamID StreamID `json:"streamId"`
	Message  string   `json:"message"`
}

// StreamResume asks the server to replay/continue a stream from the last
// sequence number the client observed.
type StreamResume struct {
	StreamID     StreamID `json:"streamId"`
	LastSequence uint64   `json:"lastSequence"`
	ActorID      ActorID  `json:"actorId"`
	Method       string   `json:"method"`
}

// Envelope is the tagged union transmitted on the wire. Exactly one of the
// variant fields is populated, matching Type.
type Envelope struct {
	Type Type

	Invocation   *Invocation
	Response     *Response
	StreamStart  *StreamStart
	StreamData   *StreamData
	StreamEnd    *StreamEnd
	StreamError  *StreamError
	StreamResume *StreamResume
}

// wireEnvelope is the on-the-wire shape: {"type": ..., "payload": ...}.
type wireEnvelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the populated variant under the "payload" key,
// omitting zero-valued optional sub-fields so older decoders never see
// keys they don't know (handled by each variant's own omitempty tags).
func (e Envelope) MarshalJSON() ([]byte, error) {
	var payload any
	switch e.Type {
	case TypeInvocation:
		payload = e.Invocation
	case TypeResponse:
		payload = e.Response
	case TypeStreamStart:
		payload = e.StreamStart
	case TypeStreamData:
		payload = e.StreamData
	case TypeStreamEnd:
		payload = e.StreamEnd
	case TypeStreamError:
		payload = e.StreamError
	case TypeStreamResume:
		payload = e.StreamResume
	default:
		return nil, errs.New(errs.KindMalformedEnvelope, fmt.Sprintf("unknown envelope type %q", e.Type))
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{Type: e.Type, Payload: raw})
}

// UnmarshalJSON decodes the discriminator first, then the matching variant.
// Unknown top-level fields are silently ignored by encoding/json, which is
// the forward-compatibility behavior newer peers rely on; unknown type
// tags fail with malformed-envelope.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return errs.MalformedEnvelope(err)
	}

	e.Type = w.Type
	switch w.Type {
	case TypeInvocation:
		var v Invocation
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.Invocation = &v
	case TypeResponse:
		var v Response
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.Response = &v
	case TypeStreamStart:
		var v StreamStart
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.StreamStart = &v
	case TypeStreamData:
		var v StreamData
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.StreamData = &v
	case TypeStreamEnd:
		var v StreamEnd
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.StreamEnd = &v
	case TypeStreamError:
		var v StreamError
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.StreamError = &v
	case TypeStreamResume:
		var v StreamResume
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return errs.MalformedEnvelope(err)
		}
		e.StreamResume = &v
	default:
		return errs.New(errs.KindMalformedEnvelope, fmt.Sprintf("unknown-variant %q", w.Type))
	}
	return nil
}

// Encode serializes an envelope to its wire bytes.
func Encode(e Envelope) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, errs.SerializationFailed(err)
	}
	return b, nil
}

// Decode parses wire bytes into an envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		if ae, ok := err.(*errs.Error); ok {
			return Envelope{}, ae
		}
		return Envelope{}, errs.MalformedEnvelope(err)
	}
	return e, nil
}

// Wrap helpers build an Envelope from a concrete variant.

func WrapInvocation(v *Invocation) Envelope   { return Envelope{Type: TypeInvocation, Invocation: v} }
func WrapResponse(v *Response) Envelope       { return Envelope{Type: TypeResponse, Response: v} }
func WrapStreamStart(v *StreamStart) Envelope { return Envelope{Type: TypeStreamStart, StreamStart: v} }
func WrapStreamData(v *StreamData) Envelope   { return Envelope{Type: TypeStreamData, StreamData: v} }
func WrapStreamEnd(v *StreamEnd) Envelope     { return Envelope{Type: TypeStreamEnd, StreamEnd: v} }
func WrapStreamError(v *StreamError) Envelope { return Envelope{Type: TypeStreamError, StreamError: v} }
func WrapStreamResume(v *StreamResume) Envelope {
	return Envelope{Type: TypeStreamResume, StreamResume: v}
}

// CheckProtocolVersion rejects versions outside the supported range:
// strictly-above-max or strictly-below-min both fail the invocation.
func CheckProtocolVersion(version uint32) error {
	if version < MinProtocolVersion || version > MaxProtocolVersion {
		return errs.UnsupportedProtocolVersion(version, MinProtocolVersion, MaxProtocolVersion)
	}
	return nil
}
