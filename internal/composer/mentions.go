package composer

import (
	"strings"
	"unicode"

	"github.com/g960059/wgpanel/internal/api"
	"github.com/g960059/wgpanel/internal/model"
)

// Candidates lists every mention the roster allows: the fixed group tokens
// first, then "@<id>" per actor in roster order.
func Candidates(roster []api.Actor) []string {
	out := append([]string{}, model.FixedMentionTokens...)
	for _, a := range roster {
		out = append(out, "@"+a.ID)
	}
	return out
}

// Suggest finds the partial mention ending at cursor and the candidates it
// matches. ok is false when the cursor is not inside a mention.
func Suggest(text string, cursor int, roster []api.Actor) (query string, start int, items []string, ok bool) {
	runes := []rune(text)
	if cursor < 0 || cursor > len(runes) {
		cursor = len(runes)
	}
	start = -1
	for i := cursor - 1; i >= 0; i-- {
		r := runes[i]
		if r == '@' {
			if i == 0 || unicode.IsSpace(runes[i-1]) {
				start = i
			}
			break
		}
		if unicode.IsSpace(r) {
			break
		}
	}
	if start < 0 {
		return "", -1, nil, false
	}
	query = string(runes[start+1 : cursor])
	lower := strings.ToLower(query)
	for _, c := range Candidates(roster) {
		if strings.HasPrefix(strings.ToLower(strings.TrimPrefix(c, "@")), lower) {
			items = append(items, c)
		}
	}
	return query, start, items, true
}

// Autocomplete is the mention popup. The zero value is closed.
type Autocomplete struct {
	Open  bool
	Query string
	Items []string
	Index int
	// start is the rune offset of the '@' being completed; end is the cursor.
	start int
	end   int
}

func (a *Autocomplete) update(text string, cursor int, roster []api.Actor) {
	query, start, items, ok := Suggest(text, cursor, roster)
	if !ok || len(items) == 0 {
		*a = Autocomplete{}
		return
	}
	prevSelected := ""
	if a.Open && a.Index < len(a.Items) {
		prevSelected = a.Items[a.Index]
	}
	*a = Autocomplete{Open: true, Query: query, Items: items, start: start, end: runeCursor(text, cursor)}
	for i, it := range items {
		if it == prevSelected {
			a.Index = i
		}
	}
}

// Up moves the highlight up, wrapping to the last item.
func (a *Autocomplete) Up() {
	if !a.Open || len(a.Items) == 0 {
		return
	}
	a.Index = (a.Index - 1 + len(a.Items)) % len(a.Items)
}

// Down moves the highlight down, wrapping to the first item.
func (a *Autocomplete) Down() {
	if !a.Open || len(a.Items) == 0 {
		return
	}
	a.Index = (a.Index + 1) % len(a.Items)
}

func (a *Autocomplete) Dismiss() {
	*a = Autocomplete{}
}

func (a Autocomplete) Selected() (string, bool) {
	if !a.Open || a.Index < 0 || a.Index >= len(a.Items) {
		return "", false
	}
	return a.Items[a.Index], true
}

func runeCursor(text string, cursor int) int {
	n := len([]rune(text))
	if cursor < 0 || cursor > n {
		return n
	}
	return cursor
}

// textMentions returns the "@token" words of text. Unless trailing is set, a
// mention at the very end of the text is left out: it may still be typed.
func textMentions(text string, trailing bool) []string {
	var out []string
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' || (i > 0 && !unicode.IsSpace(runes[i-1])) {
			continue
		}
		j := i + 1
		for j < len(runes) && !unicode.IsSpace(runes[j]) {
			j++
		}
		if j > i+1 && (j < len(runes) || trailing) {
			out = append(out, string(runes[i:j]))
		}
		i = j
	}
	return out
}
