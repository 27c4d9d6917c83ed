package endpoint

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplySendsOnce(t *testing.T) {
	var calls []Response
	reply := NewReply(func(r Response) error {
		calls = append(calls, r)
		return nil
	})
	assert.False(t, reply.Sent())

	require.NoError(t, reply.Send(context.Background(), Response{Code: http.StatusNoContent}))
	err := reply.Send(context.Background(), Response{Code: http.StatusOK})
	assert.True(t, errors.Is(err, ErrAlreadyResponded))

	require.Len(t, calls, 1)
	assert.Equal(t, http.StatusNoContent, calls[0].Code)
	assert.True(t, reply.Sent())
}

func TestReplyConcurrentSends(t *testing.T) {
	var (
		mu    sync.Mutex
		count int
	)
	reply := NewReply(func(Response) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	failures := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reply.Send(context.Background(), Response{Code: http.StatusOK}); err != nil {
				failures <- err
			}
		}()
	}
	wg.Wait()
	close(failures)

	assert.Equal(t, 1, count)
	assert.Len(t, failures, 9)
}

func TestReplyPropagatesTransportError(t *testing.T) {
	boom := errors.New("broken pipe")
	reply := NewReply(func(Response) error { return boom })

	assert.ErrorIs(t, reply.Send(context.Background(), Response{Code: http.StatusOK}), boom)
	assert.ErrorIs(t, reply.Send(context.Background(), Response{Code: http.StatusOK}), ErrAlreadyResponded)
}

func TestServeRespondsExactlyOnce(t *testing.T) {
	h, _ := newTestHandler(t)
	count := 0
	reply := NewReply(func(Response) error {
		count++
		return nil
	})

	require.NoError(t, h.Serve(context.Background(), patch("books", "1", `{"data":[]}`), reply))
	assert.ErrorIs(t, h.Serve(context.Background(), patch("books", "1", `{"data":[]}`), reply), ErrAlreadyResponded)
	assert.Equal(t, 1, count)
}
