package gateway

import (
	"context"
	"errors"

	"github.com/upb/ai-gateway/services/providers"
)

// errStreamClosed marks a stream the caller closed before it finished
var errStreamClosed = errors.New("stream closed before completion")

// Stream delivers completion text chunks followed by a terminal summary.
// It is not safe for concurrent use.
type Stream struct {
	svc    *Service
	call   *call
	cancel context.CancelFunc

	inner  providers.ChunkStream   // streaming adapters
	single *providers.ChatResponse // non-streaming adapters yield one chunk

	current string
	emitted bool
	summary *providers.ChatResponse
	err     error
	done    bool
}

// ChatStream runs the same pre-checks as Chat and opens a stream. Adapters
// without native streaming are called once and replayed as a single chunk.
func (s *Service) ChatStream(ctx context.Context, req *providers.ChatRequest) (*Stream, error) {
	c, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	stream := &Stream{svc: s, call: c, cancel: cancel}

	if streaming, ok := c.adapter.(providers.StreamingAdapter); ok {
		var inner providers.ChunkStream
		err = s.guard(c, func() (err error) {
			inner, err = streaming.ChatStream(callCtx, c.creds, c.req)
			return err
		})
		if err != nil {
			cancel()
			return nil, s.fail(c, err)
		}
		stream.inner = inner
		return stream, nil
	}

	var resp *providers.ChatResponse
	err = s.guard(c, func() (err error) {
		resp, err = c.adapter.Chat(callCtx, c.creds, c.req)
		return err
	})
	cancel()
	if err != nil {
		return nil, s.fail(c, err)
	}
	stream.single = s.succeed(c, resp)
	return stream, nil
}

// Next advances to the next chunk. It returns false once the stream is
// exhausted or failed; check Err afterwards.
func (st *Stream) Next() bool {
	if st.done {
		return false
	}

	if st.single != nil {
		if !st.emitted {
			st.emitted = true
			st.current = st.single.Content
			return true
		}
		st.finish(nil)
		return false
	}

	var more bool
	err := st.svc.guard(st.call, func() error {
		if more = st.inner.Next(); more {
			st.current = st.inner.Chunk()
		}
		return nil
	})
	if err != nil {
		st.finish(err)
		return false
	}
	if more {
		return true
	}
	st.finish(st.inner.Err())
	return false
}

// Chunk returns the text of the current chunk
func (st *Stream) Chunk() string {
	return st.current
}

// Summary returns the final response once the stream ended without error
func (st *Stream) Summary() *providers.ChatResponse {
	if !st.done || st.err != nil {
		return nil
	}
	return st.summary
}

// Err returns the GatewayError that terminated the stream, if any
func (st *Stream) Err() error {
	return st.err
}

// Close releases the vendor connection. Closing before the end accounts the
// call as failed.
func (st *Stream) Close() error {
	if !st.done {
		st.finish(providers.NewTransportError(st.call.req.Provider, errStreamClosed))
	}
	return nil
}

func (st *Stream) finish(err error) {
	st.done = true
	st.current = ""
	defer st.cancel()

	if st.inner != nil {
		_ = st.inner.Close()
	}
	if st.single != nil {
		st.summary = st.single
		return
	}

	if err != nil {
		st.err = st.svc.fail(st.call, err)
		return
	}
	summary := st.inner.Summary()
	if summary == nil {
		summary = &providers.ChatResponse{}
	}
	st.summary = st.svc.succeed(st.call, summary)
}
