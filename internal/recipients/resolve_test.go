package recipients

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

func roster() []api.Actor {
	return []api.Actor{
		{ID: "lead", Role: model.RoleForeman},
		{ID: "peer-1", Role: model.RolePeer},
		{ID: "peer-2", Role: model.RolePeer},
	}
}

func TestBroadcastExcludesSenderForEveryRoster(t *testing.T) {
	rosters := [][]api.Actor{
		nil,
		{{ID: "lead", Role: model.RoleForeman}},
		roster(),
		append(roster(), api.Actor{ID: "peer-3", Role: model.RolePeer}),
	}
	for _, r := range rosters {
		for _, to := range [][]string{nil, {}, {"@all"}, {" "}} {
			for _, sender := range []string{"user", "lead", "peer-1"} {
				got := Resolve(to, sender, r)
				want := []string{}
				for _, a := range r {
					if a.ID != sender {
						want = append(want, a.ID)
					}
				}
				require.Equal(t, want, got, "to=%v sender=%s", to, sender)
			}
		}
	}
}

func TestRoleTokensAndLiterals(t *testing.T) {
	require.Equal(t, []string{"peer-1", "peer-2"}, Resolve([]string{"@peers"}, "user", roster()))
	require.Equal(t, []string{"lead"}, Resolve([]string{"@foreman"}, "peer-1", roster()))
	require.Equal(t, []string{"lead", "peer-2"}, Resolve([]string{"peer-2", "@lead", "ghost"}, "user", roster()))
	require.Equal(t, []string{"peer-2"}, Resolve([]string{"@peers"}, "peer-1", roster()))
}

func TestUserTokensAreExcluded(t *testing.T) {
	require.Empty(t, Resolve([]string{"user", "@user"}, "peer-1", roster()))
	require.Equal(t, []string{"lead"}, Resolve([]string{"user", "@foreman"}, "peer-1", roster()))
}

func TestFilterToRosterDropsRemovedActors(t *testing.T) {
	got := FilterToRoster(map[string]bool{"peer-2": true, "retired": true, "lead": false}, roster())
	require.Equal(t, []string{"lead", "peer-2"}, got)
}
