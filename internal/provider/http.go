package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Post sends payload as JSON. Any non-2xx answer is returned as *APIError
// and the response body is already closed.
func Post(ctx context.Context, client *http.Client, id ID, url string, header http.Header, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Provider: id, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return resp, nil
}

// Event is one server-sent event. Name is the last "event:" line seen.
type Event struct {
	Name string
	Data string
}

// ReadEvents calls fn for every "data:" line of an event stream until fn
// asks to stop or r is exhausted.
func ReadEvents(r io.Reader, fn func(Event) (stop bool, err error)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var name string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			stop, err := fn(Event{Name: name, Data: strings.TrimSpace(strings.TrimPrefix(line, "data:"))})
			if err != nil || stop {
				return err
			}
		}
	}
	return scanner.Err()
}

// Stream runs produce on its own goroutine and returns the channel it feeds.
// An error returned by produce is delivered as a final chunk. The channel is
// closed when produce returns.
func Stream(ctx context.Context, produce func(emit func(*Chunk) bool) error) <-chan *Chunk {
	ch := make(chan *Chunk)
	emit := func(c *Chunk) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		if err := produce(emit); err != nil {
			emit(&Chunk{Err: err})
		}
	}()
	return ch
}
