package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

// Request is one call recorded by Backend.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body holds decoded JSON fields, or form fields for multipart requests
	// with "to" decoded from its JSON encoding.
	Body  map[string]any
	Files []string
}

type failure struct {
	status  int
	code    string
	message string
	times   int
}

// Backend is an in-memory implementation of the REST and push API used by
// package tests. It is deliberately permissive: it enforces only the rules
// tests rely on.
type Backend struct {
	*httptest.Server

	mu         sync.Mutex
	seq        int
	groupOrder []string
	groups     map[string]*api.Group
	actors     map[string][]api.Actor
	events     map[string][]api.Event
	contexts   map[string]*api.ContextDoc
	settings   map[string]api.Settings
	blobs      map[string][]byte
	runtimes   []api.Runtime
	requests   []Request
	failures   map[string]*failure
	holds      map[string]chan struct{}
	subs       map[string][]chan api.Event
	globalSubs []chan api.Event
}

func NewBackend(t *testing.T) *Backend {
	t.Helper()
	b := &Backend{
		groups:   map[string]*api.Group{},
		actors:   map[string][]api.Actor{},
		events:   map[string][]api.Event{},
		contexts: map[string]*api.ContextDoc{},
		settings: map[string]api.Settings{},
		blobs:    map[string][]byte{},
		failures: map[string]*failure{},
		holds:    map[string]chan struct{}{},
		subs:     map[string][]chan api.Event{},
		runtimes: []api.Runtime{
			{Name: "claude", Available: true, RecommendedCommand: "claude"},
			{Name: "codex", Available: true, RecommendedCommand: "codex"},
			{Name: model.RuntimeCustom, Available: true},
		},
	}
	b.Server = httptest.NewServer(b.routes())
	t.Cleanup(b.Close)
	return b
}

// Close ends open streams before shutting the server down.
func (b *Backend) Close() {
	b.mu.Lock()
	for g, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, g)
	}
	for _, ch := range b.globalSubs {
		close(ch)
	}
	b.globalSubs = nil
	for key, ch := range b.holds {
		close(ch)
		delete(b.holds, key)
	}
	b.mu.Unlock()
	b.Server.Close()
}

func (b *Backend) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/ping", func(w http.ResponseWriter, r *http.Request) { writeOK(w, map[string]any{}) })
	mux.HandleFunc("GET /api/v1/groups", b.listGroups)
	mux.HandleFunc("POST /api/v1/groups", b.createGroup)
	mux.HandleFunc("GET /api/v1/groups/{g}", b.getGroup)
	mux.HandleFunc("PUT /api/v1/groups/{g}", b.updateGroup)
	mux.HandleFunc("DELETE /api/v1/groups/{g}", b.deleteGroup)
	mux.HandleFunc("POST /api/v1/groups/{g}/attach", b.attachScope)
	mux.HandleFunc("POST /api/v1/groups/{g}/scope", b.setScope)
	mux.HandleFunc("POST /api/v1/groups/{g}/start", b.groupRunning(true))
	mux.HandleFunc("POST /api/v1/groups/{g}/stop", b.groupRunning(false))
	mux.HandleFunc("POST /api/v1/groups/{g}/state", b.groupState)
	mux.HandleFunc("GET /api/v1/groups/{g}/settings", b.getSettings)
	mux.HandleFunc("PUT /api/v1/groups/{g}/settings", b.putSettings)
	mux.HandleFunc("GET /api/v1/groups/{g}/actors", b.listActors)
	mux.HandleFunc("POST /api/v1/groups/{g}/actors", b.addActor)
	mux.HandleFunc("POST /api/v1/groups/{g}/actors/{a}", b.updateActor)
	mux.HandleFunc("DELETE /api/v1/groups/{g}/actors/{a}", b.removeActor)
	mux.HandleFunc("POST /api/v1/groups/{g}/actors/{a}/{verb}", b.actorVerb)
	mux.HandleFunc("GET /api/v1/groups/{g}/ledger/tail", b.ledgerTail)
	mux.HandleFunc("GET /api/v1/groups/{g}/ledger/stream", b.ledgerStream)
	mux.HandleFunc("POST /api/v1/groups/{g}/send", b.send(false))
	mux.HandleFunc("POST /api/v1/groups/{g}/reply", b.send(true))
	mux.HandleFunc("POST /api/v1/groups/{g}/send_upload", b.sendUpload)
	mux.HandleFunc("POST /api/v1/groups/{g}/events/{e}/ack", b.ack)
	mux.HandleFunc("GET /api/v1/groups/{g}/context", b.getContext)
	mux.HandleFunc("POST /api/v1/groups/{g}/context", b.contextOps)
	mux.HandleFunc("GET /api/v1/groups/{g}/blobs/{name}", b.blob)
	mux.HandleFunc("GET /api/v1/runtimes", b.listRuntimes)
	mux.HandleFunc("GET /api/v1/fs/list", b.listDir)
	mux.HandleFunc("GET /api/v1/fs/recent", b.recentDirs)
	mux.HandleFunc("GET /api/v1/events/stream", b.globalStream)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := b.record(r)
		key := r.Method + " " + r.URL.Path
		b.mu.Lock()
		hold := b.holds[key]
		b.mu.Unlock()
		if hold != nil {
			select {
			case <-hold:
			case <-r.Context().Done():
				return
			}
		}
		if f := b.takeFailure(key); f != nil {
			writeErr(w, f.status, f.code, f.message)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(rec))
		mux.ServeHTTP(w, r)
	})
}

// record stores the request and returns its raw body for the real handler.
func (b *Backend) record(r *http.Request) string {
	raw, _ := io.ReadAll(r.Body)
	req := Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Body: map[string]any{}}
	ct := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(ct, "multipart/form-data"):
		clone := r.Clone(r.Context())
		clone.Body = io.NopCloser(strings.NewReader(string(raw)))
		if err := clone.ParseMultipartForm(32 << 20); err == nil {
			for k, v := range clone.MultipartForm.Value {
				if len(v) == 0 {
					continue
				}
				if k == "to" {
					var to []any
					_ = json.Unmarshal([]byte(v[0]), &to)
					req.Body[k] = to
					continue
				}
				req.Body[k] = v[0]
			}
			for _, fh := range clone.MultipartForm.File["files"] {
				req.Files = append(req.Files, fh.Filename)
			}
		}
	case len(raw) > 0:
		_ = json.Unmarshal(raw, &req.Body)
	}
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	return string(raw)
}

func (b *Backend) takeFailure(key string) *failure {
	b.mu.Lock()
	defer b.mu.Unlock()
	f, ok := b.failures[key]
	if !ok {
		method, path, _ := strings.Cut(key, " ")
		for k, candidate := range b.failures {
			m, suffix, _ := strings.Cut(k, " *")
			if m == method && strings.HasPrefix(k, method+" *") && strings.HasSuffix(path, suffix) {
				key, f, ok = k, candidate, true
				break
			}
		}
	}
	if !ok {
		return nil
	}
	f.times--
	if f.times <= 0 {
		delete(b.failures, key)
	}
	return f
}

// Fail makes the next times calls of method+path answer with an error
// envelope.
func (b *Backend) Fail(method, path string, status int, code, message string, times int) {
	if times <= 0 {
		times = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[method+" "+path] = &failure{status: status, code: code, message: message, times: times}
}

// FailSuffix is Fail for any path of method ending in suffix, for routes
// whose ids are assigned by the backend.
func (b *Backend) FailSuffix(method, suffix string, status int, code, message string, times int) {
	b.Fail(method, "*"+suffix, status, code, message, times)
}

// Hold blocks calls of method+path until the returned release is called.
func (b *Backend) Hold(method, path string) (release func()) {
	key := method + " " + path
	ch := make(chan struct{})
	b.mu.Lock()
	b.holds[key] = ch
	b.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if b.holds[key] == ch {
				delete(b.holds, key)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
}

func (b *Backend) Requests() []Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Request(nil), b.requests...)
}

// Calls returns recorded requests matching method and path.
func (b *Backend) Calls(method, path string) []Request {
	var out []Request
	for _, r := range b.Requests() {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (b *Backend) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%d", prefix, b.seq)
}

func (b *Backend) AddGroup(g api.Group) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g.State == "" {
		g.State = model.GroupIdle
	}
	if _, ok := b.groups[g.GroupID]; !ok {
		b.groupOrder = append(b.groupOrder, g.GroupID)
	}
	b.groups[g.GroupID] = &g
	if b.contexts[g.GroupID] == nil {
		b.contexts[g.GroupID] = &api.ContextDoc{}
	}
}

func (b *Backend) AddActor(groupID string, a api.Actor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actors[groupID] = append(b.actors[groupID], a)
}

func (b *Backend) SetContext(groupID string, doc api.ContextDoc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	clone := doc.Clone()
	b.contexts[groupID] = &clone
}

func (b *Backend) Context(groupID string) api.ContextDoc {
	b.mu.Lock()
	defer b.mu.Unlock()
	if doc := b.contexts[groupID]; doc != nil {
		return doc.Clone()
	}
	return api.ContextDoc{}
}

func (b *Backend) SetBlob(groupID, name string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[groupID+"/"+name] = data
}

func (b *Backend) Group(groupID string) (api.Group, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.groups[groupID]
	if !ok {
		return api.Group{}, false
	}
	return *g, true
}

func (b *Backend) Actors(groupID string) []api.Actor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Actor(nil), b.actors[groupID]...)
}

func (b *Backend) Events(groupID string) []api.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]api.Event(nil), b.events[groupID]...)
}

// Push appends ev to the group's ledger and delivers it to open streams. An
// empty ID or TS is filled in.
func (b *Backend) Push(groupID string, ev api.Event) api.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushLocked(groupID, ev)
}

func (b *Backend) pushLocked(groupID string, ev api.Event) api.Event {
	if ev.ID == "" {
		ev.ID = b.nextID("ev")
	}
	if ev.TS == "" {
		ev.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	ev.GroupID = groupID
	b.events[groupID] = append(b.events[groupID], ev)
	for _, ch := range b.subs[groupID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// PushGlobal delivers ev on the group-independent stream only.
func (b *Backend) PushGlobal(ev api.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev.ID == "" {
		ev.ID = b.nextID("gev")
	}
	for _, ch := range b.globalSubs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Streams reports how many ledger streams are open for groupID.
func (b *Backend) Streams(groupID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[groupID])
}

// DropStreams closes every open ledger stream of groupID.
func (b *Backend) DropStreams(groupID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[groupID] {
		close(ch)
	}
	delete(b.subs, groupID)
}

func writeOK(w http.ResponseWriter, result any) {
	raw, _ := json.Marshal(result)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(api.Response{OK: true, Result: raw})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(api.Response{OK: false, Error: &api.APIError{Code: code, Message: message}})
}

func decodeBody(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func (b *Backend) requireGroup(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("g")
	if _, ok := b.groups[id]; !ok {
		writeErr(w, http.StatusNotFound, "group_not_found", "group not found: "+id)
		return "", false
	}
	return id, true
}

func (b *Backend) listGroups(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]api.Group, 0, len(b.groupOrder))
	for _, id := range b.groupOrder {
		out = append(out, *b.groups[id])
	}
	writeOK(w, api.GroupsResult{Groups: out})
}

func (b *Backend) createGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
		Topic string `json:"topic"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b.mu.Lock()
	id := b.nextID("g")
	b.mu.Unlock()
	b.AddGroup(api.Group{GroupID: id, Title: body.Title, Topic: body.Topic})
	writeOK(w, api.CreateGroupResult{GroupID: id})
}

func (b *Backend) getGroup(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	writeOK(w, api.GroupResult{Group: *b.groups[id]})
}

func (b *Backend) updateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Patch struct {
			Title *string `json:"title"`
			Topic *string `json:"topic"`
		} `json:"patch"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	if body.Patch.Title != nil {
		b.groups[id].Title = *body.Patch.Title
	}
	if body.Patch.Topic != nil {
		b.groups[id].Topic = *body.Patch.Topic
	}
	writeOK(w, map[string]any{})
}

func (b *Backend) deleteGroup(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	if r.URL.Query().Get("confirm") != id {
		writeErr(w, http.StatusBadRequest, "confirmation_required", "confirm must equal group id")
		return
	}
	delete(b.groups, id)
	delete(b.actors, id)
	delete(b.events, id)
	delete(b.contexts, id)
	for i, g := range b.groupOrder {
		if g == id {
			b.groupOrder = append(b.groupOrder[:i], b.groupOrder[i+1:]...)
			break
		}
	}
	writeOK(w, map[string]any{})
}

func (b *Backend) attachScope(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Path string `json:"path"`
	}
	if err := decodeBody(r, &body); err != nil || strings.TrimSpace(body.Path) == "" {
		writeErr(w, http.StatusBadRequest, "invalid_path", "path is required")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	key := b.nextID("scope")
	g := b.groups[id]
	g.Scopes = append(g.Scopes, api.Scope{ScopeKey: key, URL: body.Path})
	if g.ActiveScopeKey == "" {
		g.ActiveScopeKey = key
	}
	writeOK(w, api.AttachResult{ScopeKey: key})
}

func (b *Backend) setScope(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ScopeKey string `json:"scope_key"`
	}
	_ = decodeBody(r, &body)
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	b.groups[id].ActiveScopeKey = body.ScopeKey
	writeOK(w, map[string]any{})
}

func (b *Backend) groupRunning(running bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		id, ok := b.requireGroup(w, r)
		if !ok {
			return
		}
		b.groups[id].Running = running
		for i := range b.actors[id] {
			if b.actors[id][i].Enabled || !running {
				b.actors[id][i].Running = running
			}
		}
		writeOK(w, map[string]any{})
	}
}

func (b *Backend) groupState(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State model.GroupState `json:"state"`
	}
	_ = decodeBody(r, &body)
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	if !body.State.Valid() {
		writeErr(w, http.StatusBadRequest, "invalid_state", "unknown state")
		return
	}
	b.groups[id].State = body.State
	writeOK(w, map[string]any{})
}

func (b *Backend) getSettings(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	s := b.settings[id]
	if s == nil {
		s = api.Settings{}
	}
	writeOK(w, s)
}

func (b *Backend) putSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Patch api.Settings `json:"patch"`
	}
	_ = decodeBody(r, &body)
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	if b.settings[id] == nil {
		b.settings[id] = api.Settings{}
	}
	for k, v := range body.Patch {
		b.settings[id][k] = v
	}
	writeOK(w, map[string]any{})
}

func (b *Backend) listActors(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	actors := append([]api.Actor{}, b.actors[id]...)
	writeOK(w, api.ActorsResult{Actors: actors})
}

func (b *Backend) addActor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string          `json:"actor_id"`
		Role    model.ActorRole `json:"role"`
		Runtime string          `json:"runtime"`
		Command []string        `json:"command"`
		Title   string          `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	if body.ActorID == "" {
		body.ActorID = b.nextID("actor")
	}
	for _, a := range b.actors[id] {
		if a.ID == body.ActorID {
			writeErr(w, http.StatusConflict, "actor_exists", "actor already exists: "+a.ID)
			return
		}
	}
	b.actors[id] = append(b.actors[id], api.Actor{
		ID: body.ActorID, Role: body.Role, Runtime: body.Runtime, Command: body.Command, Title: body.Title, Enabled: true,
	})
	writeOK(w, map[string]any{"actor_id": body.ActorID})
}

func (b *Backend) findActor(w http.ResponseWriter, groupID, actorID string) (int, bool) {
	for i, a := range b.actors[groupID] {
		if a.ID == actorID {
			return i, true
		}
	}
	writeErr(w, http.StatusNotFound, "actor_not_found", "actor not found: "+actorID)
	return -1, false
}

func (b *Backend) updateActor(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Patch struct {
			Title   *string   `json:"title"`
			Runtime *string   `json:"runtime"`
			Command *[]string `json:"command"`
			Enabled *bool     `json:"enabled"`
		} `json:"patch"`
	}
	_ = decodeBody(r, &body)
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	i, ok := b.findActor(w, g, r.PathValue("a"))
	if !ok {
		return
	}
	a := &b.actors[g][i]
	if body.Patch.Title != nil {
		a.Title = *body.Patch.Title
	}
	if body.Patch.Runtime != nil {
		a.Runtime = *body.Patch.Runtime
	}
	if body.Patch.Command != nil {
		a.Command = *body.Patch.Command
	}
	if body.Patch.Enabled != nil {
		a.Enabled = *body.Patch.Enabled
	}
	writeOK(w, map[string]any{})
}

func (b *Backend) removeActor(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	i, ok := b.findActor(w, g, r.PathValue("a"))
	if !ok {
		return
	}
	b.actors[g] = append(b.actors[g][:i], b.actors[g][i+1:]...)
	writeOK(w, map[string]any{})
}

func (b *Backend) actorVerb(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	i, ok := b.findActor(w, g, r.PathValue("a"))
	if !ok {
		return
	}
	a := &b.actors[g][i]
	switch verb := r.PathValue("verb"); verb {
	case "start", "restart":
		a.Running = true
		a.Enabled = true
	case "stop":
		a.Running = false
	default:
		writeErr(w, http.StatusNotFound, "unknown_verb", verb)
		return
	}
	b.pushLocked(g, api.Event{Kind: "actor." + r.PathValue("verb"), By: "system", Data: mustJSON(map[string]any{"actor_id": a.ID})})
	writeOK(w, map[string]any{})
}

func (b *Backend) ledgerTail(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	events := b.events[g]
	if n, err := strconv.Atoi(r.URL.Query().Get("lines")); err == nil && n > 0 && n < len(events) {
		events = events[len(events)-n:]
	}
	writeOK(w, api.EventsResult{Events: append([]api.Event{}, events...)})
}

func (b *Backend) ledgerStream(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		b.mu.Unlock()
		return
	}
	ch := make(chan api.Event, 64)
	b.subs[g] = append(b.subs[g], ch)
	b.mu.Unlock()
	defer b.unsubscribe(g, ch)
	serveSSE(w, r, ch, "ledger")
}

func (b *Backend) globalStream(w http.ResponseWriter, r *http.Request) {
	ch := make(chan api.Event, 64)
	b.mu.Lock()
	b.globalSubs = append(b.globalSubs, ch)
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.globalSubs {
			if c == ch {
				b.globalSubs = append(b.globalSubs[:i], b.globalSubs[i+1:]...)
				return
			}
		}
	}()
	serveSSE(w, r, ch, "event")
}

func (b *Backend) unsubscribe(groupID string, ch chan api.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[groupID]
	for i, c := range subs {
		if c == ch {
			b.subs[groupID] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func serveSSE(w http.ResponseWriter, r *http.Request, ch <-chan api.Event, name string) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	if flusher != nil {
		flusher.Flush()
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			raw, _ := json.Marshal(ev)
			_, _ = fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", name, ev.ID, raw)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func (b *Backend) send(reply bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			By        string         `json:"by"`
			Text      string         `json:"text"`
			To        []string       `json:"to"`
			Priority  model.Priority `json:"priority"`
			ReplyTo   string         `json:"reply_to"`
			QuoteText string         `json:"quote_text"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if reply && body.ReplyTo == "" {
			writeErr(w, http.StatusBadRequest, "missing_reply_to", "reply_to is required")
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		g, ok := b.requireGroup(w, r)
		if !ok {
			return
		}
		msg := api.ChatMessage{Text: body.Text, To: body.To, Priority: body.Priority}
		if body.ReplyTo != "" {
			msg.ReplyTo = &body.ReplyTo
			if body.QuoteText != "" {
				msg.QuoteText = &body.QuoteText
			}
		}
		ev := b.pushLocked(g, api.Event{Kind: model.KindChatMessage, By: body.By, Data: mustJSON(msg)})
		writeOK(w, api.SendResult{Event: ev})
	}
}

func (b *Backend) sendUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	var to []string
	_ = json.Unmarshal([]byte(r.FormValue("to")), &to)
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	msg := api.ChatMessage{Text: r.FormValue("text"), To: to, Priority: model.Priority(r.FormValue("priority"))}
	if replyTo := r.FormValue("reply_to"); replyTo != "" {
		msg.ReplyTo = &replyTo
	}
	for _, fh := range r.MultipartForm.File["files"] {
		msg.Attachments = append(msg.Attachments, api.Attachment{Kind: "file", Path: "blobs/" + fh.Filename, Title: fh.Filename, Bytes: fh.Size})
	}
	ev := b.pushLocked(g, api.Event{Kind: model.KindChatMessage, By: r.FormValue("by"), Data: mustJSON(msg)})
	writeOK(w, api.SendResult{Event: ev})
}

func (b *Backend) ack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ActorID string `json:"actor_id"`
	}
	_ = decodeBody(r, &body)
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	eventID := r.PathValue("e")
	for _, ev := range b.events[g] {
		if ev.ID == eventID {
			b.pushLocked(g, api.Event{Kind: model.KindChatAck, By: body.ActorID, Data: mustJSON(api.ReceiptData{ActorID: body.ActorID, EventID: eventID})})
			writeOK(w, map[string]any{})
			return
		}
	}
	writeErr(w, http.StatusNotFound, "event_not_found", "event not found: "+eventID)
}

func (b *Backend) getContext(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	doc := b.contexts[g]
	if doc == nil {
		doc = &api.ContextDoc{}
	}
	writeOK(w, doc)
}

func (b *Backend) contextOps(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Ops []map[string]any `json:"ops"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	g, ok := b.requireGroup(w, r)
	if !ok {
		return
	}
	doc := b.contexts[g]
	if doc == nil {
		doc = &api.ContextDoc{}
		b.contexts[g] = doc
	}
	for _, op := range body.Ops {
		if err := b.applyOp(doc, op); err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_op", err.Error())
			return
		}
	}
	b.pushLocked(g, api.Event{Kind: model.KindContextSync, By: "system", Data: mustJSON(map[string]any{"ops": len(body.Ops)})})
	writeOK(w, map[string]any{})
}

func str(op map[string]any, key string) string {
	v, _ := op[key].(string)
	return v
}

func (b *Backend) applyOp(doc *api.ContextDoc, op map[string]any) error {
	switch name := str(op, "op"); name {
	case model.OpVisionUpdate:
		doc.Vision = str(op, "vision")
	case model.OpSketchUpdate:
		doc.Sketch = str(op, "sketch")
	case model.OpMilestoneUpdate:
		for i := range doc.Milestones {
			if doc.Milestones[i].ID == str(op, "milestone_id") {
				if s := str(op, "status"); s != "" {
					doc.Milestones[i].Status = model.MilestoneStatus(s)
				}
				return nil
			}
		}
		return fmt.Errorf("milestone not found: %s", str(op, "milestone_id"))
	case model.OpTaskUpdate:
		for i := range doc.Tasks {
			if doc.Tasks[i].ID == str(op, "task_id") {
				if s := str(op, "status"); s != "" {
					doc.Tasks[i].Status = model.TaskStatus(s)
				}
				if n := str(op, "name"); n != "" {
					doc.Tasks[i].Name = n
				}
				if a, ok := op["assignee"].(string); ok {
					doc.Tasks[i].Assignee = a
				}
				return nil
			}
		}
		return fmt.Errorf("task not found: %s", str(op, "task_id"))
	case model.OpNoteAdd:
		doc.Notes = append(doc.Notes, api.Note{ID: b.nextID("note"), Content: str(op, "content")})
	case model.OpNoteUpdate, model.OpNoteRemove:
		for i := range doc.Notes {
			if doc.Notes[i].ID == str(op, "note_id") {
				if name == model.OpNoteRemove {
					doc.Notes = append(doc.Notes[:i], doc.Notes[i+1:]...)
				} else {
					doc.Notes[i].Content = str(op, "content")
				}
				return nil
			}
		}
		return fmt.Errorf("note not found: %s", str(op, "note_id"))
	case model.OpReferenceAdd:
		doc.References = append(doc.References, api.Reference{ID: b.nextID("ref"), URL: str(op, "url"), Note: str(op, "note")})
	case model.OpReferenceUpdate, model.OpReferenceRemove:
		for i := range doc.References {
			if doc.References[i].ID == str(op, "reference_id") {
				if name == model.OpReferenceRemove {
					doc.References = append(doc.References[:i], doc.References[i+1:]...)
				} else {
					if u := str(op, "url"); u != "" {
						doc.References[i].URL = u
					}
					doc.References[i].Note = str(op, "note")
				}
				return nil
			}
		}
		return fmt.Errorf("reference not found: %s", str(op, "reference_id"))
	default:
		return fmt.Errorf("unknown op %q", name)
	}
	return nil
}

func (b *Backend) blob(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	data, ok := b.blobs[r.PathValue("g")+"/"+r.PathValue("name")]
	b.mu.Unlock()
	if !ok {
		writeErr(w, http.StatusNotFound, "blob_not_found", "blob not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}

func (b *Backend) listRuntimes(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	writeOK(w, api.RuntimesResult{Runtimes: b.runtimes})
}

func (b *Backend) listDir(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/work"
	}
	writeOK(w, api.DirListing{Path: path, Parent: "/", Items: []api.DirItem{{Name: "repo", Path: strings.TrimSuffix(path, "/") + "/repo", IsDir: true}}})
}

func (b *Backend) recentDirs(w http.ResponseWriter, r *http.Request) {
	writeOK(w, api.RecentDirsResult{Items: []api.DirItem{{Name: "repo", Path: "/work/repo", IsDir: true}}})
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// ChatEvent builds a chat.message event for seeding ledgers.
func ChatEvent(id, by, text string, to []string, priority model.Priority) api.Event {
	return api.Event{ID: id, Kind: model.KindChatMessage, By: by, Data: mustJSON(api.ChatMessage{Text: text, To: to, Priority: priority})}
}

// ReceiptEvent builds a chat.read or chat.ack event.
func ReceiptEvent(kind, actorID, eventID string) api.Event {
	return api.Event{Kind: kind, By: actorID, Data: mustJSON(api.ReceiptData{ActorID: actorID, EventID: eventID})}
}
