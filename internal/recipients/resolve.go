// Package recipients computes the effective recipient set of a chat message
// from its "to" tokens and the live actor roster.
package recipients

import (
	"strings"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

// IsBroadcast reports whether to addresses every actor.
func IsBroadcast(to []string) bool {
	hasToken := false
	for _, raw := range to {
		t := strings.TrimSpace(raw)
		if t == "" {
			continue
		}
		hasToken = true
		if t == model.TokenAll {
			return true
		}
	}
	return !hasToken
}

// Resolve returns actor ids in roster order. Empty or @all expands to every
// actor except the sender, @peers and @foreman expand by role, literal ids
// pass through when present in the roster, and user tokens are dropped.
func Resolve(to []string, sender string, roster []api.Actor) []string {
	sender = strings.TrimSpace(sender)
	want := make(map[string]struct{}, len(roster))
	if IsBroadcast(to) {
		for _, a := range roster {
			want[a.ID] = struct{}{}
		}
	} else {
		for _, raw := range to {
			t := strings.TrimSpace(raw)
			switch {
			case t == "" || model.IsUserToken(t):
			case t == model.TokenPeers:
				for _, a := range roster {
					if a.Role == model.RolePeer {
						want[a.ID] = struct{}{}
					}
				}
			case t == model.TokenForeman:
				for _, a := range roster {
					if a.Role == model.RoleForeman {
						want[a.ID] = struct{}{}
					}
				}
			default:
				want[strings.TrimPrefix(t, "@")] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(want))
	for _, a := range roster {
		if a.ID == sender {
			continue
		}
		if _, ok := want[a.ID]; ok {
			out = append(out, a.ID)
		}
	}
	return out
}

// FilterToRoster keeps only ids that belong to the current roster, in roster
// order.
func FilterToRoster(ids map[string]bool, roster []api.Actor) []string {
	out := make([]string, 0, len(ids))
	for _, a := range roster {
		if _, ok := ids[a.ID]; ok {
			out = append(out, a.ID)
		}
	}
	return out
}

// RosterIDs returns the set of actor ids in roster.
func RosterIDs(roster []api.Actor) map[string]struct{} {
	out := make(map[string]struct{}, len(roster))
	for _, a := range roster {
		out[a.ID] = struct{}{}
	}
	return out
}
