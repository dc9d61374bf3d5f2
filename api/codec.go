package api

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype every protocol call uses. The server
// picks the matching codec up from the registry.
const CodecName = "feddfg-raw"

// Frame is one length-delimited opaque message body. The raw codec moves
// Frames through grpc without a generated message layer; envelope.go
// defines the bytes inside.
type Frame struct {
	Data []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("raw codec: cannot marshal %T", v)
	}
	return f.Data, nil
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("raw codec: cannot unmarshal into %T", v)
	}
	f.Data = data
	return nil
}

func (rawCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
