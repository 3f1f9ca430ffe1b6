// Package nodev1 holds the node-to-node wire messages and the Comm gRPC service.
//
// Messages use the protobuf wire format:
//
//	Header   { 1 routing_id string, 2 reply_status ReplyStatus, 3 originator string,
//	           4 time int64, 5 reply_msg string, 6 repeated MetadataEntry metadata }
//	Finger   { 1 tag string, 2 number int64 }
//	Document { 1 doc_name string, 2 chunk_content bytes }
//	Payload  { 1 finger Finger, 2 doc Document }
//	Request  { 1 header Header, 2 body Payload }
//	Response { 1 header Header, 2 body Payload }
package nodev1

import (
	"errors"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

type ReplyStatus int32

const (
	ReplyStatus_UNSET   ReplyStatus = 0
	ReplyStatus_SUCCESS ReplyStatus = 1
	ReplyStatus_FAILURE ReplyStatus = 2
)

var errWrongType = errors.New("nodev1: unexpected message type")

type Header struct {
	RoutingId   string
	ReplyStatus ReplyStatus
	Originator  string
	Time        int64
	ReplyMsg    string
	Metadata    map[string]string
}

type Finger struct {
	Tag    string
	Number int64
}

type Document struct {
	DocName      string
	ChunkContent []byte
}

type Payload struct {
	Finger *Finger
	Doc    *Document
}

type Request struct {
	Header *Header
	Body   *Payload
}

type Response struct {
	Header *Header
	Body   *Payload
}

func (m *Request) Marshal() ([]byte, error) {
	return appendEnvelope(nil, m.Header, m.Body), nil
}

func (m *Request) Unmarshal(b []byte) error {
	*m = Request{}
	return consumeEnvelope(b, &m.Header, &m.Body)
}

func (m *Response) Marshal() ([]byte, error) {
	return appendEnvelope(nil, m.Header, m.Body), nil
}

func (m *Response) Unmarshal(b []byte) error {
	*m = Response{}
	return consumeEnvelope(b, &m.Header, &m.Body)
}

func appendEnvelope(b []byte, h *Header, p *Payload) []byte {
	if h != nil {
		b = appendMessage(b, 1, h.append(nil))
	}
	if p != nil {
		b = appendMessage(b, 2, p.append(nil))
	}
	return b
}

func consumeEnvelope(b []byte, h **Header, p **Payload) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			*h = &Header{}
			return n, (*h).unmarshal(v)
		case 2:
			*p = &Payload{}
			return n, (*p).unmarshal(v)
		}
		return -1, nil
	})
}

func (m *Header) append(b []byte) []byte {
	b = appendString(b, 1, m.RoutingId)
	if m.ReplyStatus != 0 {
		b = protowire.AppendTag(b, 2, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.ReplyStatus))
	}
	b = appendString(b, 3, m.Originator)
	if m.Time != 0 {
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Time))
	}
	b = appendString(b, 5, m.ReplyMsg)

	keys := make([]string, 0, len(m.Metadata))
	for k := range m.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = appendString(entry, 1, k)
		entry = appendString(entry, 2, m.Metadata[k])
		b = appendMessage(b, 6, entry)
	}
	return b
}

func (m *Header) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.ReplyStatus = ReplyStatus(int32(v))
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Time = int64(v)
			return n, nil
		case typ != protowire.BytesType:
			return -1, nil
		}

		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			m.RoutingId = string(v)
		case 3:
			m.Originator = string(v)
		case 5:
			m.ReplyMsg = string(v)
		case 6:
			var key, value string
			err := consumeFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				if typ != protowire.BytesType || (num != 1 && num != 2) {
					return -1, nil
				}
				s, n := protowire.ConsumeString(b)
				if n < 0 {
					return 0, protowire.ParseError(n)
				}
				if num == 1 {
					key = s
				} else {
					value = s
				}
				return n, nil
			})
			if err != nil {
				return 0, err
			}
			if m.Metadata == nil {
				m.Metadata = make(map[string]string)
			}
			m.Metadata[key] = value
		}
		return n, nil
	})
}

func (m *Payload) append(b []byte) []byte {
	if m.Finger != nil {
		var f []byte
		f = appendString(f, 1, m.Finger.Tag)
		if m.Finger.Number != 0 {
			f = protowire.AppendTag(f, 2, protowire.VarintType)
			f = protowire.AppendVarint(f, uint64(m.Finger.Number))
		}
		b = appendMessage(b, 1, f)
	}
	if m.Doc != nil {
		var d []byte
		d = appendString(d, 1, m.Doc.DocName)
		if len(m.Doc.ChunkContent) > 0 {
			d = protowire.AppendTag(d, 2, protowire.BytesType)
			d = protowire.AppendBytes(d, m.Doc.ChunkContent)
		}
		b = appendMessage(b, 2, d)
	}
	return b
}

func (m *Payload) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType {
			return -1, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		switch num {
		case 1:
			m.Finger = &Finger{}
			return n, m.Finger.unmarshal(v)
		case 2:
			m.Doc = &Document{}
			return n, m.Doc.unmarshal(v)
		}
		return -1, nil
	})
}

func (m *Finger) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Tag = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m.Number = int64(v)
			return n, nil
		}
		return -1, nil
	})
}

func (m *Document) unmarshal(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.BytesType || (num != 1 && num != 2) {
			return -1, nil
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return 0, protowire.ParseError(n)
		}
		if num == 1 {
			m.DocName = string(v)
		} else {
			m.ChunkContent = append([]byte(nil), v...)
		}
		return n, nil
	})
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

// consumeFields walks every field of b. fn returns the number of bytes it
// consumed, or -1 to skip a field it does not know.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
		}
		b = b[m:]
	}
	return nil
}
