package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	eventsPath = "/api/v1/events"
	invokePath = "/api/v1/invoke/"

	reconnectInitial = 500 * time.Millisecond
	reconnectMax     = 8 * time.Second
)

// SSEClient consumes the backend's SSE event stream and issues command
// RPCs over HTTP POST. It reconnects with exponential backoff and
// synthesizes EventConnection events so the core can flip into its
// polling fallback while the stream is down.
type SSEClient struct {
	baseURL string
	client  *http.Client

	mu     sync.Mutex
	closed bool
	nextID int
	subs   map[string]map[int]Handler
	cancel context.CancelFunc
}

// NewSSEClient builds a client for the backend at baseURL (no trailing
// slash). A nil httpClient falls back to a default with no timeout on
// the streaming request.
func NewSSEClient(baseURL string, httpClient *http.Client) *SSEClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &SSEClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
		subs:    make(map[string]map[int]Handler),
	}
}

// Start begins consuming the event stream. It returns immediately; the
// reader runs until ctx is cancelled or Close is called.
func (c *SSEClient) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return
	}
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(ctx)
}

func (c *SSEClient) readLoop(ctx context.Context) {
	backoff := reconnectInitial
	for {
		if ctx.Err() != nil {
			return
		}

		err := c.consumeStream(ctx)
		c.dispatchConnection(false)
		if ctx.Err() != nil {
			return
		}
		_ = err // stream errors only drive the backoff; the core polls meanwhile

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}

// consumeStream opens one SSE connection and dispatches events until
// the stream breaks.
func (c *SSEClient) consumeStream(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+eventsPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Command: "subscribe", Body: resp.Status}
	}

	c.dispatchConnection(true)

	reader := bufio.NewReader(resp.Body)
	var eventName string
	var data strings.Builder
	for {
		line, rerr := reader.ReadString('\n')
		if rerr != nil {
			if rerr == io.EOF {
				return nil
			}
			return fmt.Errorf("stream read: %w", rerr)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Blank line terminates one event.
			if eventName != "" || data.Len() > 0 {
				c.dispatch(eventName, []byte(data.String()))
			}
			eventName = ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// keepalive/comment
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
}

func (c *SSEClient) dispatch(event string, payload []byte) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(payload)
	}
}

func (c *SSEClient) dispatchConnection(connected bool) {
	payload, _ := json.Marshal(ConnectionPayload{Connected: connected})
	c.dispatch(EventConnection, payload)
}

// Subscribe registers h for the named event.
func (c *SSEClient) Subscribe(event string, h Handler) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	id := c.nextID
	c.nextID++
	if c.subs[event] == nil {
		c.subs[event] = make(map[int]Handler)
	}
	c.subs[event][id] = h

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[event], id)
	}, nil
}

// Invoke POSTs the command's JSON args and returns the response body.
func (c *SSEClient) Invoke(ctx context.Context, command string, args any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", command, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+invokePath+command, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", command, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Command: command, Body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

// Close stops the reader and rejects further subscriptions.
func (c *SSEClient) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cancel := c.cancel
	c.subs = make(map[string]map[int]Handler)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
