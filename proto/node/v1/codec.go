package nodev1

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype under which the wire messages travel.
const CodecName = "nodev1"

type wireMessage interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

type codec struct{}

func init() {
	encoding.RegisterCodec(codec{})
}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errWrongType, v)
	}
	return m.Marshal()
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return fmt.Errorf("%w: %T", errWrongType, v)
	}
	return m.Unmarshal(data)
}

func (codec) Name() string {
	return CodecName
}
