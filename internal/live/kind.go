// Package live turns the push stream of a group's ledger into typed events
// and routes each one to a single handler.
package live

import (
	"strings"

	"github.com/g960059/wgpanel/internal/model"
)

// Kind is the closed set of event categories the panel reacts to.
type Kind int

const (
	KindOther Kind = iota
	KindChatMessage
	KindChatRead
	KindChatAck
	KindContextSync
	KindSystemNotify
	KindActor
	KindGroup
)

var kindNames = map[Kind]string{
	KindOther:        "other",
	KindChatMessage:  "chat_message",
	KindChatRead:     "chat_read",
	KindChatAck:      "chat_ack",
	KindContextSync:  "context_sync",
	KindSystemNotify: "system_notify",
	KindActor:        "actor",
	KindGroup:        "group",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "other"
}

// Classify maps a ledger kind string onto Kind. Unknown kinds are KindOther.
func Classify(kind string) Kind {
	switch kind {
	case model.KindChatMessage:
		return KindChatMessage
	case model.KindChatRead:
		return KindChatRead
	case model.KindChatAck:
		return KindChatAck
	case model.KindContextSync:
		return KindContextSync
	case model.KindSystemNotify:
		return KindSystemNotify
	}
	switch {
	case strings.HasPrefix(kind, model.KindActorPrefix):
		return KindActor
	case strings.HasPrefix(kind, model.KindGroupPrefix):
		return KindGroup
	}
	return KindOther
}
