package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (p *recordingPublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix, typ, want string
	}{
		{"", "books", "endpoints.books.updated"},
		{"library", "books", "library.books.updated"},
		{"library.", "authors", "library.authors.updated"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Subject(tt.prefix, tt.typ))
	}
}

func TestNATSNotifierPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	n := &NATSNotifier{pub: pub, prefix: "library"}
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	n.Notify(context.Background(), Event{Type: "books", ID: "1", Relationship: "stores", Op: OpAppend, At: at})

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "library.books.updated", pub.subjects[0])

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, map[string]any{
		"type":         "books",
		"id":           "1",
		"relationship": "stores",
		"op":           "append",
		"at":           "2026-03-04T05:06:07Z",
	}, got)
}

func TestNATSNotifierSwallowsErrors(t *testing.T) {
	n := &NATSNotifier{pub: &recordingPublisher{err: errors.New("nats: connection closed")}}
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), Event{Type: "books", ID: "1", Op: OpUpdate})
	})
	assert.NoError(t, n.Close())
}
