package appclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

func writeOK(w http.ResponseWriter, result any) {
	buf, _ := json.Marshal(map[string]any{"ok": true, "result": result})
	_, _ = w.Write(buf)
}

func writeFail(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	buf, _ := json.Marshal(map[string]any{"ok": false, "error": map[string]any{"code": code, "message": message}})
	_, _ = w.Write(buf)
}

func TestListGroupsDecodesEnvelope(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		writeOK(w, map[string]any{"groups": []map[string]any{
			{"group_id": "g1", "title": "alpha", "running": true, "state": "active"},
			{"group_id": "g2", "title": "beta", "state": "paused"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, "user", srv.Client())
	groups, err := client.ListGroups(context.Background())
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 2 || groups[0].GroupID != "g1" || !groups[0].Running || groups[1].State != model.GroupPaused {
		t.Fatalf("unexpected groups: %+v", groups)
	}
}

func TestBackendErrorEnvelopeBecomesRequestError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/actors/peer-1/start", func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusConflict, "actor_running", "actor already running")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, "user", srv.Client())
	err := client.StartActor(context.Background(), "g1", "peer-1")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T %v", err, err)
	}
	if reqErr.StatusCode != http.StatusConflict || reqErr.Code != "actor_running" || reqErr.Message != "actor already running" {
		t.Fatalf("unexpected request error: %+v", reqErr)
	}
	if reqErr.Retryable() {
		t.Fatalf("409 must not be retryable")
	}
}

func TestOKFalseWithSuccessStatusIsFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"ok":false,"error":{"code":"daemon_unavailable","message":"daemon not running"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := NewWithClient(srv.URL, "user", srv.Client()).Ping(context.Background())
	if err == nil || !strings.Contains(err.Error(), "daemon_unavailable") {
		t.Fatalf("expected daemon_unavailable, got %v", err)
	}
}

func TestNetworkAndDecodeFailuresAreNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	client := NewWithClient(srv.URL, "user", srv.Client())
	_, err := client.ListGroups(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != CodeDecode {
		t.Fatalf("expected decode_error, got %v", err)
	}
	srv.Close()

	_, err = client.ListGroups(context.Background())
	if !errors.As(err, &reqErr) || reqErr.Code != CodeNetwork {
		t.Fatalf("expected network_error after close, got %v", err)
	}
	if !reqErr.Retryable() {
		t.Fatalf("network errors are retryable for the live channel")
	}
}

func TestInvalidGroupPayloadRejectedAtBoundary(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, map[string]any{"groups": []map[string]any{{"title": "no id"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := NewWithClient(srv.URL, "user", srv.Client()).ListGroups(context.Background())
	if !errors.Is(err, api.ErrInvalidPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
}

func TestMutationsCarryBy(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/actors", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		writeOK(w, map[string]any{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, "alice", srv.Client())
	err := client.AddActor(context.Background(), "g1", AddActorRequest{ActorID: "lead", Role: model.RoleForeman, Runtime: "claude"})
	if err != nil {
		t.Fatalf("add actor: %v", err)
	}
	if got["by"] != "alice" || got["actor_id"] != "lead" || got["role"] != "foreman" {
		t.Fatalf("unexpected add actor body: %+v", got)
	}
}

func TestDeleteGroupSendsTypedConfirmation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Fatalf("expected DELETE, got %s", r.Method)
		}
		if r.URL.Query().Get("confirm") != "g1" || r.URL.Query().Get("by") != "user" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		writeOK(w, map[string]any{})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if err := NewWithClient(srv.URL, "", srv.Client()).DeleteGroup(context.Background(), "g1", "g1"); err != nil {
		t.Fatalf("delete group: %v", err)
	}
}

func TestSendUploadEncodesRecipientsAsJSON(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/send_upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		var to []string
		if err := json.Unmarshal([]byte(r.FormValue("to")), &to); err != nil {
			t.Fatalf("decode to: %v", err)
		}
		if len(to) != 2 || to[0] != "@foreman" || to[1] != "peer-1" {
			t.Fatalf("unexpected recipients: %v", to)
		}
		if r.FormValue("by") != "user" || r.FormValue("priority") != "attention" || r.FormValue("text") != "see logs" {
			t.Fatalf("unexpected fields: %+v", r.MultipartForm.Value)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 || files[0].Filename != "a.log" || files[1].Filename != "b.png" {
			t.Fatalf("unexpected files: %+v", files)
		}
		writeOK(w, map[string]any{"event": map[string]any{"id": "ev-9", "kind": "chat.message", "by": "user"}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, "user", srv.Client())
	ev, err := client.SendUpload(context.Background(), "g1", SendRequest{
		Text:     "see logs",
		To:       []string{"@foreman", "peer-1"},
		Priority: model.PriorityAttention,
	}, []Upload{
		{Name: "a.log", Reader: strings.NewReader("line")},
		{Name: "b.png", Reader: bytes.NewReader([]byte{0x89, 0x50})},
	})
	if err != nil {
		t.Fatalf("send upload: %v", err)
	}
	if ev.ID != "ev-9" {
		t.Fatalf("expected ev-9, got %+v", ev)
	}
}

func TestReplyRequiresTarget(t *testing.T) {
	client := New("http://127.0.0.1:1", "user")
	_, err := client.Reply(context.Background(), "g1", SendRequest{Text: "x"})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != "missing_reply_to" {
		t.Fatalf("expected missing_reply_to, got %v", err)
	}
}

func TestDownloadBlob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/blobs/report.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "hello blob")
	})
	mux.HandleFunc("/api/v1/groups/g1/blobs/missing.txt", func(w http.ResponseWriter, _ *http.Request) {
		writeFail(w, http.StatusNotFound, "blob_not_found", "no such blob")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewWithClient(srv.URL, "user", srv.Client())
	var buf bytes.Buffer
	n, err := client.DownloadBlob(context.Background(), "g1", "report.txt", &buf)
	if err != nil || n != int64(len("hello blob")) || buf.String() != "hello blob" {
		t.Fatalf("unexpected download: n=%d err=%v body=%q", n, err, buf.String())
	}
	_, err = client.DownloadBlob(context.Background(), "g1", "missing.txt", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "blob_not_found") {
		t.Fatalf("expected blob_not_found, got %v", err)
	}
}

func TestReadSSEJoinsMultilineData(t *testing.T) {
	body := ": keepalive\n\nevent: ledger\ndata: {\"id\":\"e1\",\ndata: \"kind\":\"chat.message\"}\nid: 7\n\nevent: other\ndata: x\n\n"
	var frames []sseFrame
	err := readSSE(context.Background(), strings.NewReader(body), func(f sseFrame) error {
		frames = append(frames, f)
		return nil
	})
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed at EOF, got %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d: %+v", len(frames), frames)
	}
	if frames[0].Event != "ledger" || frames[0].ID != "7" || frames[0].Data != "{\"id\":\"e1\",\n\"kind\":\"chat.message\"}" {
		t.Fatalf("unexpected first frame: %+v", frames[0])
	}
}

func sseHandler(events []string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			_, _ = fmt.Fprintf(w, "event: ledger\ndata: %s\n\n", e)
		}
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func TestStreamLedgerSkipsMalformedFrames(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/ledger/stream", sseHandler([]string{
		`{"id":"e1","kind":"chat.message","by":"peer-1"}`,
		`{broken`,
		`{"kind":"chat.message"}`,
		`{"id":"e2","kind":"actor.start","by":"user"}`,
	}))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var ids []string
	err := NewWithClient(srv.URL, "user", srv.Client()).StreamLedger(context.Background(), "g1", func(ev api.Event) error {
		ids = append(ids, ev.ID)
		return nil
	})
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestFollowLedgerFallsBackToPollingWithoutReplays(t *testing.T) {
	var streamCalls, tailCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/ledger/stream", func(w http.ResponseWriter, _ *http.Request) {
		streamCalls.Add(1)
		writeFail(w, http.StatusServiceUnavailable, "stream_unavailable", "try later")
	})
	mux.HandleFunc("/api/v1/groups/g1/ledger/tail", func(w http.ResponseWriter, r *http.Request) {
		n := tailCalls.Add(1)
		if r.URL.Query().Get("lines") != "50" {
			t.Errorf("expected lines=50, got %q", r.URL.Query().Get("lines"))
		}
		events := []map[string]any{{"id": "e1", "kind": "chat.message", "by": "peer-1"}}
		if n >= 2 {
			events = append(events, map[string]any{"id": "e2", "kind": "chat.message", "by": "peer-2"})
		}
		writeOK(w, map[string]any{"events": events})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var (
		mu    sync.Mutex
		ids   []string
		modes []model.LiveMode
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := NewWithClient(srv.URL, "user", srv.Client()).FollowLedger(ctx, "g1", FollowOptions{
		FailureThreshold: 2,
		PollInterval:     10 * time.Millisecond,
		PollLines:        50,
		RetryMinBackoff:  5 * time.Millisecond,
		RetryMaxBackoff:  10 * time.Millisecond,
		OnModeChange: func(m model.LiveMode) {
			mu.Lock()
			modes = append(modes, m)
			mu.Unlock()
		},
	}, func(ev api.Event) error {
		mu.Lock()
		defer mu.Unlock()
		ids = append(ids, ev.ID)
		if len(ids) == 2 {
			return context.Canceled
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected handler sentinel, got %v", err)
	}
	if streamCalls.Load() != 2 {
		t.Fatalf("expected 2 stream attempts before polling, got %d", streamCalls.Load())
	}
	if tailCalls.Load() < 2 {
		t.Fatalf("expected polling to run, got %d tail calls", tailCalls.Load())
	}
	if len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Fatalf("expected each event once, got %v", ids)
	}
	if len(modes) != 1 || modes[0] != model.LivePolling {
		t.Fatalf("expected single polling mode change, got %v", modes)
	}
}

func TestFollowLedgerStopsOnNonRetryableError(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/ledger/stream", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeFail(w, http.StatusNotFound, "group_not_found", "no such group")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	err := NewWithClient(srv.URL, "user", srv.Client()).FollowLedger(context.Background(), "g1", FollowOptions{
		RetryMinBackoff: time.Millisecond,
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "group_not_found") {
		t.Fatalf("expected group_not_found, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected single attempt, got %d", calls.Load())
	}
}

func TestFollowLedgerReportsStreamingMode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/ledger/stream", sseHandler([]string{
		`{"id":"e1","kind":"chat.message","by":"peer-1"}`,
	}))
	mux.HandleFunc("/api/v1/groups/g1/ledger/tail", func(w http.ResponseWriter, _ *http.Request) {
		writeOK(w, map[string]any{"events": []any{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var modes []model.LiveMode
	err := NewWithClient(srv.URL, "user", srv.Client()).FollowLedger(context.Background(), "g1", FollowOptions{
		OnModeChange: func(m model.LiveMode) { modes = append(modes, m) },
	}, func(ev api.Event) error {
		return errors.New("stop")
	})
	if err == nil || err.Error() != "stop" {
		t.Fatalf("expected handler error, got %v", err)
	}
	if len(modes) != 1 || modes[0] != model.LiveStreaming {
		t.Fatalf("expected streaming mode, got %v", modes)
	}
}

func TestFollowLedgerCatchesUpAfterEveryOpen(t *testing.T) {
	var streamCalls, tailCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/groups/g1/ledger/tail", func(w http.ResponseWriter, _ *http.Request) {
		events := []map[string]any{
			{"id": "k0", "kind": "chat.message", "by": "peer-1"},
			{"id": "e1", "kind": "chat.message", "by": "peer-1"},
		}
		if tailCalls.Add(1) >= 2 {
			// e2 was appended while the stream was down.
			events = append(events,
				map[string]any{"id": "e2", "kind": "chat.read", "by": "peer-2"},
				map[string]any{"id": "e3", "kind": "chat.message", "by": "peer-2"},
			)
		}
		writeOK(w, map[string]any{"events": events})
	})
	mux.HandleFunc("/api/v1/groups/g1/ledger/stream", func(w http.ResponseWriter, r *http.Request) {
		if streamCalls.Add(1) == 1 {
			sseHandler([]string{`{"id":"e1","kind":"chat.message","by":"peer-1"}`})(w, r)
			return
		}
		sseHandler([]string{`{"id":"e3","kind":"chat.message","by":"peer-2"}`})(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var ids []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := NewWithClient(srv.URL, "user", srv.Client()).FollowLedger(ctx, "g1", FollowOptions{
		PollLines:       20,
		RetryMinBackoff: time.Millisecond,
		RetryMaxBackoff: 2 * time.Millisecond,
		Known:           []string{"k0"},
	}, func(ev api.Event) error {
		ids = append(ids, ev.ID)
		if len(ids) == 3 {
			return context.Canceled
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected handler sentinel, got %v", err)
	}
	if strings.Join(ids, ",") != "e1,e2,e3" {
		t.Fatalf("expected e1,e2,e3 once each without known k0, got %v", ids)
	}
	if streamCalls.Load() != 2 || tailCalls.Load() != 2 {
		t.Fatalf("expected a tail pass per stream open, got %d streams and %d tails", streamCalls.Load(), tailCalls.Load())
	}
}
