package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/g960059/wgpanel/internal/model"
)

var ErrInvalidPayload = errors.New("invalid payload")

// Response is the uniform envelope returned by every JSON endpoint.
type Response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *APIError       `json:"error,omitempty"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type Scope struct {
	ScopeKey string `json:"scope_key"`
	URL      string `json:"url"`
	Label    string `json:"label,omitempty"`
}

type Group struct {
	GroupID        string           `json:"group_id"`
	Title          string           `json:"title"`
	Topic          string           `json:"topic,omitempty"`
	Running        bool             `json:"running"`
	State          model.GroupState `json:"state,omitempty"`
	Scopes         []Scope          `json:"scopes,omitempty"`
	ActiveScopeKey string           `json:"active_scope_key,omitempty"`
	CreatedAt      string           `json:"created_at,omitempty"`
	UpdatedAt      string           `json:"updated_at,omitempty"`
}

func (g Group) Validate() error {
	if strings.TrimSpace(g.GroupID) == "" {
		return fmt.Errorf("%w: group_id is required", ErrInvalidPayload)
	}
	if g.State != "" && !g.State.Valid() {
		return fmt.Errorf("%w: group %s has unknown state %q", ErrInvalidPayload, g.GroupID, g.State)
	}
	return nil
}

// ActiveScope returns the scope whose key matches ActiveScopeKey.
func (g Group) ActiveScope() (Scope, bool) {
	for _, s := range g.Scopes {
		if s.ScopeKey == g.ActiveScopeKey {
			return s, true
		}
	}
	return Scope{}, false
}

type Actor struct {
	ID          string          `json:"id"`
	Role        model.ActorRole `json:"role"`
	Title       string          `json:"title,omitempty"`
	Runtime     string          `json:"runtime,omitempty"`
	Command     []string        `json:"command,omitempty"`
	Enabled     bool            `json:"enabled"`
	Running     bool            `json:"running"`
	UnreadCount int             `json:"unread_count,omitempty"`
}

func (a Actor) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: actor id is required", ErrInvalidPayload)
	}
	if a.Role != "" && !a.Role.Valid() {
		return fmt.Errorf("%w: actor %s has unknown role %q", ErrInvalidPayload, a.ID, a.Role)
	}
	return nil
}

// Event is one ledger entry. ReadStatus and AckStatus are overlays the server
// may attach to chat messages; nil means the server sent none.
type Event struct {
	ID         string          `json:"id"`
	TS         string          `json:"ts"`
	Kind       string          `json:"kind"`
	GroupID    string          `json:"group_id,omitempty"`
	By         string          `json:"by"`
	Data       json.RawMessage `json:"data,omitempty"`
	ReadStatus map[string]bool `json:"_read_status,omitempty"`
	AckStatus  map[string]bool `json:"_ack_status,omitempty"`
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidPayload)
	}
	if strings.TrimSpace(e.Kind) == "" {
		return fmt.Errorf("%w: event %s has no kind", ErrInvalidPayload, e.ID)
	}
	return nil
}

func (e Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.TS)
	if err != nil {
		return time.Time{}
	}
	return t
}

type Attachment struct {
	Kind     string `json:"kind,omitempty"`
	Path     string `json:"path"`
	Title    string `json:"title,omitempty"`
	Bytes    int64  `json:"bytes,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type ChatMessage struct {
	Text        string         `json:"text"`
	To          []string       `json:"to,omitempty"`
	ReplyTo     *string        `json:"reply_to,omitempty"`
	QuoteText   *string        `json:"quote_text,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Priority    model.Priority `json:"priority,omitempty"`
}

func (e Event) ChatMessage() (ChatMessage, error) {
	var msg ChatMessage
	if e.Kind != model.KindChatMessage {
		return msg, fmt.Errorf("%w: event %s is %s, not %s", ErrInvalidPayload, e.ID, e.Kind, model.KindChatMessage)
	}
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &msg); err != nil {
			return msg, fmt.Errorf("%w: decode chat message %s: %v", ErrInvalidPayload, e.ID, err)
		}
	}
	msg.Priority = msg.Priority.Normalize()
	return msg, nil
}

// ReceiptData is the payload of chat.read and chat.ack events.
type ReceiptData struct {
	ActorID string `json:"actor_id"`
	EventID string `json:"event_id"`
}

func (e Event) Receipt() (ReceiptData, error) {
	var r ReceiptData
	if err := json.Unmarshal(e.Data, &r); err != nil {
		return r, fmt.Errorf("%w: decode receipt %s: %v", ErrInvalidPayload, e.ID, err)
	}
	if r.ActorID == "" || r.EventID == "" {
		return r, fmt.Errorf("%w: receipt %s missing actor_id or event_id", ErrInvalidPayload, e.ID)
	}
	return r, nil
}

type NotifyData struct {
	Kind          string `json:"kind,omitempty"`
	Title         string `json:"title,omitempty"`
	Message       string `json:"message,omitempty"`
	TargetActorID string `json:"target_actor_id,omitempty"`
}

func (e Event) Notify() (NotifyData, error) {
	var n NotifyData
	if err := json.Unmarshal(e.Data, &n); err != nil {
		return n, fmt.Errorf("%w: decode notify %s: %v", ErrInvalidPayload, e.ID, err)
	}
	return n, nil
}

type Milestone struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Status      model.MilestoneStatus `json:"status"`
	Started     string                `json:"started,omitempty"`
	Completed   string                `json:"completed,omitempty"`
	Description string                `json:"description,omitempty"`
	Outcomes    string                `json:"outcomes,omitempty"`
}

type Step struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status,omitempty"`
}

type Task struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Status    model.TaskStatus `json:"status"`
	Goal      string           `json:"goal,omitempty"`
	Assignee  string           `json:"assignee,omitempty"`
	Milestone string           `json:"milestone,omitempty"`
	Steps     []Step           `json:"steps,omitempty"`
}

type Note struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

type Reference struct {
	ID   string `json:"id"`
	URL  string `json:"url"`
	Note string `json:"note,omitempty"`
}

type Presence struct {
	ActorID   string `json:"actor_id"`
	Status    string `json:"status,omitempty"`
	Activity  string `json:"activity,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type ContextDoc struct {
	Version    string      `json:"version,omitempty"`
	Vision     string      `json:"vision,omitempty"`
	Sketch     string      `json:"sketch,omitempty"`
	Milestones []Milestone `json:"milestones,omitempty"`
	Tasks      []Task      `json:"tasks,omitempty"`
	Notes      []Note      `json:"notes,omitempty"`
	References []Reference `json:"references,omitempty"`
	Presence   []Presence  `json:"presence,omitempty"`
}

// Clone returns a deep copy suitable as a rollback snapshot.
func (d ContextDoc) Clone() ContextDoc {
	out := d
	out.Milestones = append([]Milestone(nil), d.Milestones...)
	out.Tasks = make([]Task, len(d.Tasks))
	for i, t := range d.Tasks {
		t.Steps = append([]Step(nil), t.Steps...)
		out.Tasks[i] = t
	}
	if d.Tasks == nil {
		out.Tasks = nil
	}
	out.Notes = append([]Note(nil), d.Notes...)
	out.References = append([]Reference(nil), d.References...)
	out.Presence = append([]Presence(nil), d.Presence...)
	return out
}

// ContextOp is one named operation applied to the context document. The op
// name is flattened into the same JSON object as its fields.
type ContextOp map[string]any

func NewOp(op string, fields map[string]any) ContextOp {
	out := ContextOp{"op": op}
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func (o ContextOp) Name() string {
	name, _ := o["op"].(string)
	return name
}

type Runtime struct {
	Name               string `json:"name"`
	Available          bool   `json:"available"`
	RecommendedCommand string `json:"recommended_command,omitempty"`
}

type DirItem struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
}

type DirListing struct {
	Path   string    `json:"path"`
	Parent string    `json:"parent,omitempty"`
	Items  []DirItem `json:"items"`
}

type Settings map[string]any

type GroupsResult struct {
	Groups []Group `json:"groups"`
}

type GroupResult struct {
	Group Group `json:"group"`
}

type CreateGroupResult struct {
	GroupID string `json:"group_id"`
}

type AttachResult struct {
	ScopeKey string `json:"scope_key"`
}

type ActorsResult struct {
	Actors []Actor `json:"actors"`
}

type EventsResult struct {
	Events []Event `json:"events"`
}

type SendResult struct {
	Event Event `json:"event"`
}

type RuntimesResult struct {
	Runtimes []Runtime `json:"runtimes"`
}

type RecentDirsResult struct {
	Items []DirItem `json:"items"`
}
