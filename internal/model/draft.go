package model

import "time"

// Draft is the unsent composer state of one group, kept across group
// switches and restarts.
type Draft struct {
	GroupID   string
	Text      string
	To        []string
	ReplyTo   string
	ReplyBy   string
	QuoteText string
	Priority  Priority
	Files     []DraftFile
	UpdatedAt time.Time
}

// Empty reports whether there is nothing worth persisting.
func (d Draft) Empty() bool {
	return d.Text == "" && len(d.To) == 0 && d.ReplyTo == "" && len(d.Files) == 0 && d.Priority.Normalize() == PriorityNormal
}

// DraftFile identifies a staged attachment. The bytes stay where the user
// picked them; only the identity is stored.
type DraftFile struct {
	Name       string
	Path       string
	Size       int64
	ModifiedAt time.Time
}
