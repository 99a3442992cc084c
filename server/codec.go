package server

import (
	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// JSONCodec serializes messages as JSON. It replaces connect's protojson
// codec, which only handles generated protobuf messages.
type JSONCodec struct{}

var _ connect.Codec = JSONCodec{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, msg)
}

// CBORCodec serializes messages as canonical CBOR.
type CBORCodec struct{}

var _ connect.Codec = CBORCodec{}

var cborEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

func (CBORCodec) Name() string { return "cbor" }

func (CBORCodec) Marshal(msg any) ([]byte, error) {
	return cborEnc.Marshal(msg)
}

func (CBORCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return cbor.Unmarshal(data, msg)
}

// CodecByName returns the codec registered under name, or nil.
func CodecByName(name string) connect.Codec {
	switch name {
	case "json":
		return JSONCodec{}
	case "cbor":
		return CBORCodec{}
	}
	return nil
}
