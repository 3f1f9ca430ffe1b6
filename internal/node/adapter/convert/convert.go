// Package convert maps domain messages to and from their nodev1 wire form.
package convert

import (
	"github.com/anthanhphan/go-docsync/internal/node/domain"
	nodev1 "github.com/anthanhphan/go-docsync/proto/node/v1"
)

func ToWireRequest(r domain.Request) *nodev1.Request {
	return &nodev1.Request{Header: toWireHeader(r.Header), Body: toWireBody(r.Body)}
}

func FromWireRequest(m *nodev1.Request) domain.Request {
	if m == nil {
		return domain.Request{}
	}
	return domain.Request{Header: fromWireHeader(m.Header), Body: fromWireBody(m.Body)}
}

func ToWireResponse(r domain.Response) *nodev1.Response {
	return &nodev1.Response{Header: toWireHeader(r.Header), Body: toWireBody(r.Body)}
}

func FromWireResponse(m *nodev1.Response) domain.Response {
	if m == nil {
		return domain.Response{}
	}
	return domain.Response{Header: fromWireHeader(m.Header), Body: fromWireBody(m.Body)}
}

func toWireHeader(h domain.Header) *nodev1.Header {
	return &nodev1.Header{
		RoutingId:   h.RoutingID,
		ReplyStatus: nodev1.ReplyStatus(h.Status),
		Originator:  h.Originator,
		Time:        h.Time,
		ReplyMsg:    h.ReplyMsg,
		Metadata:    h.Metadata,
	}
}

func fromWireHeader(h *nodev1.Header) domain.Header {
	if h == nil {
		return domain.Header{}
	}
	return domain.Header{
		RoutingID:  h.RoutingId,
		Status:     domain.ReplyStatus(h.ReplyStatus),
		Originator: h.Originator,
		Time:       h.Time,
		ReplyMsg:   h.ReplyMsg,
		Metadata:   h.Metadata,
	}
}

func toWireBody(b domain.Body) *nodev1.Payload {
	p := &nodev1.Payload{
		Finger: &nodev1.Finger{Tag: b.Finger.Tag, Number: b.Finger.Number},
	}
	if b.Document != nil {
		p.Doc = &nodev1.Document{DocName: b.Document.Name, ChunkContent: b.Document.Content}
	}
	return p
}

func fromWireBody(p *nodev1.Payload) domain.Body {
	var b domain.Body
	if p == nil {
		return b
	}
	if p.Finger != nil {
		b.Finger = domain.Finger{Tag: p.Finger.Tag, Number: p.Finger.Number}
	}
	if p.Doc != nil {
		b.Document = &domain.Document{Name: p.Doc.DocName, Content: p.Doc.ChunkContent}
	}
	return b
}
