package endpoint

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// ErrAlreadyResponded is returned by Reply.Send after the first call
var ErrAlreadyResponded = errors.New("endpoint: response already sent")

// Response is what the handler hands to the transport: a status code and
// an optional document. A nil Data means no body.
type Response struct {
	Code int
	Data any
}

// Reply wraps a transport send function so it runs at most once
type Reply struct {
	sent atomic.Bool
	send func(Response) error
}

// NewReply creates a Reply around send
func NewReply(send func(Response) error) *Reply {
	return &Reply{send: send}
}

// Send delivers resp. Only the first call reaches the transport; later calls
// are logged and return ErrAlreadyResponded.
func (r *Reply) Send(ctx context.Context, resp Response) error {
	if !r.sent.CompareAndSwap(false, true) {
		log.Ctx(ctx).Error().Int("status", resp.Code).Msg("response already sent, dropping second response")
		return ErrAlreadyResponded
	}
	return r.send(resp)
}

// Sent reports whether a response has been delivered
func (r *Reply) Sent() bool {
	return r.sent.Load()
}
