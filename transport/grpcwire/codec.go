// Package grpcwire is the grpc-backed transport boundary implementation: a
// bidirectional-streaming grpc service whose single RPC moves opaque wire
// envelopes, registered by hand against a grpc.ServiceDesc instead of
// generated protoc-gen-go stubs — the same manual-generic-streaming approach
// storj/drpc and joeycumines/inprocgrpc use to put non-protobuf payloads on
// a grpc transport.
package grpcwire

import (
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/webitel/actorbridge/wire"
)

// codecName is registered with grpc's global codec registry and must match
// the subtype grpc negotiates in its content-type header.
const codecName = "actorbridge-envelope"

// rawCodec marshals/unmarshals wire.Envelope directly, bypassing protobuf
// entirely. grpc only ever calls it with *wire.Envelope values produced by
// this package's client/server stubs.
type rawCodec struct{}

func (rawCodec) Name() string { return codecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	env, ok := v.(*wire.Envelope)
	if !ok {
		return nil, fmt.Errorf("grpcwire: codec cannot marshal %T", v)
	}
	return wire.Encode(*env)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	env, ok := v.(*wire.Envelope)
	if !ok {
		return fmt.Errorf("grpcwire: codec cannot unmarshal into %T", v)
	}
	decoded, err := wire.Decode(data)
	if err != nil {
		return err
	}
	*env = decoded
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
