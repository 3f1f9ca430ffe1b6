package domain

import "fmt"

// Routing ids understood by the dispatcher.
const (
	RouteDocAdd    = "DOCADD"
	RoutePoke      = "POKE"
	RouteDocDigest = "DOCDIGEST"
)

// Finger tags used by this node on outgoing requests.
const (
	FingerTagReplicate = "replicate"
	FingerTagPoke      = "poke"
	FingerTagDigest    = "digest"
)

// Metadata keys set by handlers on responses.
const (
	MetaDigest   = "digest"
	MetaDocCount = "doc_count"
)

// ReplyStatus is the outcome attached to every response.
// The zero value means "unset" and is never sent by the dispatcher.
type ReplyStatus int32

const (
	StatusUnset   ReplyStatus = 0
	StatusSuccess ReplyStatus = 1
	StatusFailure ReplyStatus = 2
)

func (s ReplyStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusUnset:
		return "UNSET"
	default:
		return fmt.Sprintf("ReplyStatus(%d)", int32(s))
	}
}

// Finger correlates a response with its request. Every response echoes the
// request's finger exactly.
type Finger struct {
	Tag    string
	Number int64
}

type Header struct {
	RoutingID  string
	Status     ReplyStatus
	Originator string
	Time       int64
	ReplyMsg   string
	Metadata   map[string]string
}

type Body struct {
	Finger   Finger
	Document *Document
}

type Request struct {
	Header Header
	Body   Body
}

type Response struct {
	Header Header
	Body   Body
}

// ResponseFor builds a response whose header is derived from the request's header
// and whose finger mirrors the request's finger.
func ResponseFor(req Request, status ReplyStatus, msg string) Response {
	hdr := Header{
		RoutingID:  req.Header.RoutingID,
		Status:     status,
		Originator: req.Header.Originator,
		Time:       req.Header.Time,
		ReplyMsg:   msg,
	}
	if len(req.Header.Metadata) > 0 {
		hdr.Metadata = make(map[string]string, len(req.Header.Metadata))
		for k, v := range req.Header.Metadata {
			hdr.Metadata[k] = v
		}
	}
	return Response{
		Header: hdr,
		Body:   Body{Finger: req.Body.Finger},
	}
}

// SetMeta sets a metadata entry on the response header.
func (r *Response) SetMeta(key, value string) {
	if r.Header.Metadata == nil {
		r.Header.Metadata = make(map[string]string)
	}
	r.Header.Metadata[key] = value
}
