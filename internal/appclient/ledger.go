package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

// LedgerTail returns the newest lines events of a group, oldest first, with
// read/ack overlays attached by the server where available.
func (c *Client) LedgerTail(ctx context.Context, groupID string, lines int) ([]api.Event, error) {
	if err := requireID("group_id", groupID); err != nil {
		return nil, err
	}
	query := url.Values{}
	if lines > 0 {
		query.Set("lines", strconv.Itoa(lines))
	}
	query.Set("with_read_status", "true")
	var res api.EventsResult
	if err := c.call(ctx, http.MethodGet, groupPath(groupID, "ledger", "tail"), query, nil, &res); err != nil {
		return nil, err
	}
	out := make([]api.Event, 0, len(res.Events))
	for _, ev := range res.Events {
		if err := ev.Validate(); err != nil {
			return nil, invalidPayload(err)
		}
		out = append(out, ev)
	}
	return out, nil
}

type SendRequest struct {
	Text      string
	To        []string
	Priority  model.Priority
	ReplyTo   string
	QuoteText string
	ClientID  string
}

func (r SendRequest) body() map[string]any {
	to := r.To
	if to == nil {
		to = []string{}
	}
	body := map[string]any{
		"text":     r.Text,
		"to":       to,
		"priority": string(r.Priority.Normalize()),
	}
	if r.ClientID != "" {
		body["client_id"] = r.ClientID
	}
	if r.ReplyTo != "" {
		body["reply_to"] = r.ReplyTo
		if r.QuoteText != "" {
			body["quote_text"] = r.QuoteText
		}
	}
	return body
}

func (c *Client) Send(ctx context.Context, groupID string, req SendRequest) (api.Event, error) {
	if err := requireID("group_id", groupID); err != nil {
		return api.Event{}, err
	}
	var res api.SendResult
	if err := c.call(ctx, http.MethodPost, groupPath(groupID, "send"), nil, c.withBy(req.body()), &res); err != nil {
		return api.Event{}, err
	}
	return res.Event, nil
}

func (c *Client) Reply(ctx context.Context, groupID string, req SendRequest) (api.Event, error) {
	if err := requireID("group_id", groupID); err != nil {
		return api.Event{}, err
	}
	if strings.TrimSpace(req.ReplyTo) == "" {
		return api.Event{}, &RequestError{Code: "missing_reply_to", Message: "reply_to is required"}
	}
	var res api.SendResult
	if err := c.call(ctx, http.MethodPost, groupPath(groupID, "reply"), nil, c.withBy(req.body()), &res); err != nil {
		return api.Event{}, err
	}
	return res.Event, nil
}

// Upload is one binary part of a multipart send.
type Upload struct {
	Name   string
	Reader io.Reader
}

// SendUpload posts a message with attached files as multipart form data. The
// recipient list travels as a JSON-encoded field alongside the binary parts.
func (c *Client) SendUpload(ctx context.Context, groupID string, req SendRequest, files []Upload) (api.Event, error) {
	if err := requireID("group_id", groupID); err != nil {
		return api.Event{}, err
	}
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	to := req.To
	if to == nil {
		to = []string{}
	}
	toJSON, err := json.Marshal(to)
	if err != nil {
		return api.Event{}, &RequestError{Code: CodeDecode, Message: fmt.Sprintf("encode recipients: %v", err), Err: err}
	}
	fields := [][2]string{
		{"by", c.by},
		{"text", req.Text},
		{"to", string(toJSON)},
		{"priority", string(req.Priority.Normalize())},
	}
	if req.ClientID != "" {
		fields = append(fields, [2]string{"client_id", req.ClientID})
	}
	if req.ReplyTo != "" {
		fields = append(fields, [2]string{"reply_to", req.ReplyTo})
		if req.QuoteText != "" {
			fields = append(fields, [2]string{"quote_text", req.QuoteText})
		}
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return api.Event{}, &RequestError{Code: CodeDecode, Message: fmt.Sprintf("write field %s: %v", f[0], err), Err: err}
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.Name)
		if err != nil {
			return api.Event{}, &RequestError{Code: CodeDecode, Message: fmt.Sprintf("create file part %s: %v", f.Name, err), Err: err}
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return api.Event{}, &RequestError{Code: "file_read_error", Message: fmt.Sprintf("read %s: %v", f.Name, err), Err: err}
		}
	}
	if err := mw.Close(); err != nil {
		return api.Event{}, &RequestError{Code: CodeDecode, Message: fmt.Sprintf("close multipart: %v", err), Err: err}
	}
	var res api.SendResult
	if err := c.do(ctx, http.MethodPost, groupPath(groupID, "send_upload"), nil, buf, mw.FormDataContentType(), &res); err != nil {
		return api.Event{}, err
	}
	return res.Event, nil
}

// Ack records the human's acknowledgement of an attention message.
func (c *Client) Ack(ctx context.Context, groupID, eventID string) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	if err := requireID("event_id", eventID); err != nil {
		return err
	}
	body := c.withBy(map[string]any{"actor_id": model.TokenUser})
	return c.call(ctx, http.MethodPost, groupPath(groupID, "events", eventID, "ack"), nil, body, nil)
}

func (c *Client) GetContext(ctx context.Context, groupID string) (api.ContextDoc, error) {
	if err := requireID("group_id", groupID); err != nil {
		return api.ContextDoc{}, err
	}
	var doc api.ContextDoc
	if err := c.call(ctx, http.MethodGet, groupPath(groupID, "context"), nil, nil, &doc); err != nil {
		return api.ContextDoc{}, err
	}
	return doc, nil
}

func (c *Client) ContextOps(ctx context.Context, groupID string, ops []api.ContextOp) error {
	if err := requireID("group_id", groupID); err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}
	body := c.withBy(map[string]any{"ops": ops})
	return c.call(ctx, http.MethodPost, groupPath(groupID, "context"), nil, body, nil)
}

func (c *Client) ListDir(ctx context.Context, path string) (api.DirListing, error) {
	query := url.Values{}
	if p := strings.TrimSpace(path); p != "" {
		query.Set("path", p)
	}
	var res api.DirListing
	if err := c.call(ctx, http.MethodGet, "/api/v1/fs/list", query, nil, &res); err != nil {
		return api.DirListing{}, err
	}
	return res, nil
}

func (c *Client) RecentDirs(ctx context.Context) ([]api.DirItem, error) {
	var res api.RecentDirsResult
	if err := c.call(ctx, http.MethodGet, "/api/v1/fs/recent", nil, nil, &res); err != nil {
		return nil, err
	}
	return res.Items, nil
}

// DownloadBlob copies a stored attachment into w and returns the byte count.
func (c *Client) DownloadBlob(ctx context.Context, groupID, name string, w io.Writer) (int64, error) {
	if err := requireID("group_id", groupID); err != nil {
		return 0, err
	}
	if err := requireID("blob_name", name); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+groupPath(groupID, "blobs", name), nil)
	if err != nil {
		return 0, &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &RequestError{Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return 0, decodeEnvelope(resp.StatusCode, payload, nil)
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, &RequestError{StatusCode: resp.StatusCode, Code: CodeNetwork, Message: err.Error(), Err: err}
	}
	return n, nil
}
