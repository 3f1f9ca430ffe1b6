package nodev1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequest_RoundTrip(t *testing.T) {
	in := &Request{
		Header: &Header{
			RoutingId:   "DOCADD",
			ReplyStatus: ReplyStatus_FAILURE,
			Originator:  "node-a",
			Time:        -42,
			ReplyMsg:    "disk full",
			Metadata:    map[string]string{"b": "2", "a": "1"},
		},
		Body: &Payload{
			Finger: &Finger{Tag: "docsync", Number: 1 << 40},
			Doc:    &Document{DocName: "report.txt", ChunkContent: []byte("hello")},
		},
	}

	data, err := in.Marshal()
	require.NoError(t, err)

	out := &Request{}
	require.NoError(t, out.Unmarshal(data))
	assert.Equal(t, in, out)
}

func TestResponse_EmptyFieldsOmitted(t *testing.T) {
	in := &Response{Header: &Header{}, Body: &Payload{Finger: &Finger{}}}
	data, err := in.Marshal()
	require.NoError(t, err)

	out := &Response{}
	require.NoError(t, out.Unmarshal(data))
	require.NotNil(t, out.Header)
	require.NotNil(t, out.Body)
	require.NotNil(t, out.Body.Finger)
	assert.Nil(t, out.Body.Doc)
	assert.Equal(t, ReplyStatus_UNSET, out.Header.ReplyStatus)
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	in := &Request{Header: &Header{RoutingId: "POKE"}}
	data, err := in.Marshal()
	require.NoError(t, err)

	data = protowire.AppendTag(data, 15, protowire.VarintType)
	data = protowire.AppendVarint(data, 7)
	data = protowire.AppendTag(data, 16, protowire.BytesType)
	data = protowire.AppendString(data, "future")

	out := &Request{}
	require.NoError(t, out.Unmarshal(data))
	assert.Equal(t, "POKE", out.Header.RoutingId)
}

func TestUnmarshal_Truncated(t *testing.T) {
	in := &Request{Header: &Header{RoutingId: "DOCADD"}}
	data, err := in.Marshal()
	require.NoError(t, err)

	out := &Request{}
	assert.Error(t, out.Unmarshal(data[:len(data)-2]))
}

func TestCodecRegistered(t *testing.T) {
	c := encoding.GetCodec(CodecName)
	require.NotNil(t, c)

	data, err := c.Marshal(&Response{Header: &Header{ReplyStatus: ReplyStatus_SUCCESS}})
	require.NoError(t, err)

	var out Response
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, ReplyStatus_SUCCESS, out.Header.ReplyStatus)

	_, err = c.Marshal("not a message")
	assert.ErrorIs(t, err, errWrongType)
}
