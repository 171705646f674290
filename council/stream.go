package council

import (
	"context"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"
)

// StreamingClient opens streamed council turns.
type StreamingClient struct {
	api *apiClient
}

func NewStreamingClient(opts Options, creds Credentials) *StreamingClient {
	return &StreamingClient{api: newAPI(opts, creds)}
}

// Stream is one open council response. Events are delivered in order on
// Events; the channel is closed after the terminal event, or without one
// if the stream was closed by the caller.
type Stream struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	err    error
}

// Open posts the message and starts reading the response body. A non-2xx
// status or an unreachable backend is returned here, before any event.
func (c *StreamingClient) Open(ctx context.Context, conversationID, content string, att *Attachment) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := c.api.newRequest(ctx, http.MethodPost, conversationPath(conversationID)+"/message/stream", newSendRequest(content, att))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.api.send(req, "open stream")
	if err != nil {
		cancel()
		return nil, notFound(err, "conversation", conversationID)
	}
	c.api.logger.Debug("stream opened",
		zap.String("conversation", conversationID),
		zap.String("content_type", resp.Header.Get("Content-Type")))

	s := &Stream{
		events: make(chan Event),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.pump(ctx, resp.Body, NewDecoder(resp.Body, c.api.logger))
	return s, nil
}

func (s *Stream) pump(ctx context.Context, body io.ReadCloser, dec *Decoder) {
	defer s.once.Do(s.cancel)
	defer close(s.done)
	defer close(s.events)
	defer body.Close()

	for {
		ev, err := dec.Next()
		if err != nil {
			return
		}
		if ev.Kind == EventError {
			if ctxErr := ctx.Err(); ctxErr != nil {
				s.err = ctxErr
				return
			}
			s.err = ev.Err
		}

		select {
		case s.events <- ev:
		case <-ctx.Done():
			s.err = ctx.Err()
			return
		}
		if ev.Terminal() {
			return
		}
	}
}

func (s *Stream) Events() <-chan Event { return s.events }

// Err reports why the stream failed. It is only meaningful once Events has
// been closed.
func (s *Stream) Err() error { return s.err }

// Close drops the connection and waits for the reader to exit. It is safe
// to call more than once and after the stream has ended.
func (s *Stream) Close() error {
	s.once.Do(s.cancel)
	<-s.done
	return nil
}
