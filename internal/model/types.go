package model

import "strings"

// ActorRole is the role an actor holds within a group. Exactly one actor per
// group may be the foreman.
type ActorRole string

const (
	RoleForeman ActorRole = "foreman"
	RolePeer    ActorRole = "peer"
)

func (r ActorRole) Valid() bool {
	return r == RoleForeman || r == RolePeer
}

type GroupState string

const (
	GroupActive GroupState = "active"
	GroupIdle   GroupState = "idle"
	GroupPaused GroupState = "paused"
)

func (s GroupState) Valid() bool {
	switch s {
	case GroupActive, GroupIdle, GroupPaused:
		return true
	}
	return false
}

// RuntimeCustom is the runtime name that carries no built-in command line.
const RuntimeCustom = "custom"

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityAttention Priority = "attention"
)

// Normalize maps unknown or empty priorities to normal.
func (p Priority) Normalize() Priority {
	if p == PriorityAttention {
		return PriorityAttention
	}
	return PriorityNormal
}

// Ledger event kinds consumed by the panel.
const (
	KindChatMessage  = "chat.message"
	KindChatRead     = "chat.read"
	KindChatAck      = "chat.ack"
	KindSystemNotify = "system.notify"
	KindContextSync  = "context.sync"
	KindActorPrefix  = "actor."
	KindGroupPrefix  = "group."
)

// Recipient tokens understood by recipient resolution.
const (
	TokenAll     = "@all"
	TokenPeers   = "@peers"
	TokenForeman = "@foreman"
	TokenUser    = "user"
	TokenAtUser  = "@user"
)

// FixedMentionTokens are offered by mention autocomplete ahead of actor ids.
var FixedMentionTokens = []string{TokenAll, TokenForeman, TokenPeers}

// IsUserToken reports whether token addresses the human rather than an actor.
func IsUserToken(token string) bool {
	t := strings.TrimSpace(token)
	return t == TokenUser || t == TokenAtUser
}

type MilestoneStatus string

const (
	MilestoneActive   MilestoneStatus = "active"
	MilestonePlanned  MilestoneStatus = "planned"
	MilestoneDone     MilestoneStatus = "done"
	MilestoneArchived MilestoneStatus = "archived"
)

type TaskStatus string

const (
	TaskPlanned  TaskStatus = "planned"
	TaskActive   TaskStatus = "active"
	TaskDone     TaskStatus = "done"
	TaskArchived TaskStatus = "archived"
)

// Context document operation names accepted by the backend.
const (
	OpVisionUpdate    = "vision.update"
	OpSketchUpdate    = "sketch.update"
	OpMilestoneUpdate = "milestone.update"
	OpTaskUpdate      = "task.update"
	OpNoteAdd         = "note.add"
	OpNoteUpdate      = "note.update"
	OpNoteRemove      = "note.remove"
	OpReferenceAdd    = "reference.add"
	OpReferenceUpdate = "reference.update"
	OpReferenceRemove = "reference.remove"
)

// LiveMode reports how the live channel is currently receiving events.
type LiveMode string

const (
	LiveOff       LiveMode = "off"
	LiveStreaming LiveMode = "streaming"
	LivePolling   LiveMode = "polling"
)
