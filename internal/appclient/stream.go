package appclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/g960059/wgpanel/internal/api"
)

const (
	streamScannerInitialBuffer = 64 * 1024
	streamScannerMaxBuffer     = 10 * 1024 * 1024

	// LedgerStreamEvent is the SSE event name carrying ledger appends.
	LedgerStreamEvent = "ledger"
	// GlobalStreamEvent is the SSE event name on the group-independent stream.
	GlobalStreamEvent = "event"
)

// ErrStreamClosed is returned when the server ends a push stream cleanly.
var ErrStreamClosed = errors.New("stream closed by server")

type sseFrame struct {
	Event string
	Data  string
	ID    string
}

// readSSE parses a text/event-stream body and calls onFrame per dispatched
// frame. Multi-line data fields are joined with newlines.
func readSSE(ctx context.Context, r io.Reader, onFrame func(sseFrame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, streamScannerInitialBuffer), streamScannerMaxBuffer)
	var (
		frame   sseFrame
		data    []string
		hasData bool
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if hasData {
				frame.Data = strings.Join(data, "\n")
				if frame.Event == "" {
					frame.Event = "message"
				}
				if err := onFrame(frame); err != nil {
					return err
				}
			}
			frame = sseFrame{}
			data = data[:0]
			hasData = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			frame.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			frame.ID = value
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	return ErrStreamClosed
}

// StreamLedger holds one push connection for a group's ledger and calls
// onEvent for every well-formed event. It returns when the stream ends, the
// context is cancelled, or onEvent fails.
func (c *Client) StreamLedger(ctx context.Context, groupID string, onEvent func(api.Event) error) error {
	return c.streamLedger(ctx, groupID, nil, onEvent)
}

func (c *Client) streamLedger(ctx context.Context, groupID string, onOpen func() error, onEvent func(api.Event) error) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	return c.stream(ctx, groupPath(groupID, "ledger", "stream"), LedgerStreamEvent, onOpen, onEvent)
}

// StreamGlobal follows the group-independent lifecycle stream.
func (c *Client) StreamGlobal(ctx context.Context, onEvent func(api.Event) error) error {
	return c.stream(ctx, "/api/v1/events/stream", GlobalStreamEvent, nil, onEvent)
}

func (c *Client) stream(ctx context.Context, path, eventName string, onOpen func() error, onEvent func(api.Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return decodeEnvelope(resp.StatusCode, payload, nil)
	}
	if onOpen != nil {
		if err := onOpen(); err != nil {
			return err
		}
	}
	return readSSE(ctx, resp.Body, func(frame sseFrame) error {
		if frame.Event != eventName {
			return nil
		}
		var ev api.Event
		if err := json.Unmarshal([]byte(frame.Data), &ev); err != nil {
			c.logger.Warn("skip malformed stream frame", zap.String("path", path), zap.Error(err))
			return nil
		}
		if err := ev.Validate(); err != nil {
			c.logger.Warn("skip invalid stream event", zap.String("path", path), zap.Error(err))
			return nil
		}
		if onEvent == nil {
			return nil
		}
		return onEvent(ev)
	})
}
