package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{name: "plain", input: "report.txt", valid: true},
		{name: "no extension", input: "README", valid: true},
		{name: "spaces", input: "q3 numbers.csv", valid: true},
		{name: "empty", input: ""},
		{name: "dot", input: "."},
		{name: "dotdot", input: ".."},
		{name: "hidden", input: ".incoming-123"},
		{name: "slash", input: "a/b"},
		{name: "traversal", input: "../etc/passwd"},
		{name: "backslash", input: `a\b`},
		{name: "nul", input: "a\x00b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.input)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidDocumentName)
			}
		})
	}
}

func TestDocumentIsEmpty(t *testing.T) {
	assert.True(t, Document{}.IsEmpty())
	assert.True(t, Document{Name: "a"}.IsEmpty())
	assert.True(t, Document{Content: []byte("x")}.IsEmpty())
	assert.False(t, Document{Name: "a", Content: []byte("x")}.IsEmpty())
}

func TestResponseFor(t *testing.T) {
	req := Request{
		Header: Header{
			RoutingID:  RouteDocAdd,
			Originator: "node-a",
			Time:       42,
			Metadata:   map[string]string{"k": "v"},
		},
		Body: Body{
			Finger:   Finger{Tag: FingerTagReplicate, Number: 7},
			Document: &Document{Name: "a", Content: []byte("x")},
		},
	}

	resp := ResponseFor(req, StatusSuccess, "ok")
	assert.Equal(t, req.Body.Finger, resp.Body.Finger)
	assert.Equal(t, RouteDocAdd, resp.Header.RoutingID)
	assert.Equal(t, "node-a", resp.Header.Originator)
	assert.Equal(t, int64(42), resp.Header.Time)
	assert.Equal(t, StatusSuccess, resp.Header.Status)
	assert.Equal(t, "ok", resp.Header.ReplyMsg)
	assert.Nil(t, resp.Body.Document)

	// metadata is copied, not shared
	resp.SetMeta("k", "changed")
	assert.Equal(t, "v", req.Header.Metadata["k"])
}

func TestSetMetaOnEmptyHeader(t *testing.T) {
	var resp Response
	resp.SetMeta(MetaDocCount, "3")
	assert.Equal(t, "3", resp.Header.Metadata[MetaDocCount])
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "SUCCESS", StatusSuccess.String())
	assert.Equal(t, "FAILURE", StatusFailure.String())
	assert.Equal(t, "UNSET", StatusUnset.String())
	assert.Equal(t, "ReplyStatus(9)", ReplyStatus(9).String())

	assert.Equal(t, "synced", StateSynced.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "unknown(42)", NeighborState(42).String())

	nb := Neighbor{NodeID: "node-b", Host: "127.0.0.1", Port: 9002, MgmtPort: 9102}
	assert.Equal(t, "127.0.0.1:9002", nb.Key())
	assert.Equal(t, "127.0.0.1:9102", nb.MgmtAddr())
	assert.Equal(t, "node-b(127.0.0.1:9002)", nb.String())
}
