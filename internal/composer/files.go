package composer

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/g960059/wgpanel/internal/model"
)

const DefaultMaxFileBytes int64 = 20 << 20

// Rejection names one file refused by AddFiles.
type Rejection struct {
	File   model.DraftFile
	Reason string
}

type fileKey struct {
	name     string
	size     int64
	modified int64
}

func keyOf(f model.DraftFile) fileKey {
	return fileKey{name: f.Name, size: f.Size, modified: f.ModifiedAt.UnixNano()}
}

// AddFiles stages files. Each file over the size ceiling is rejected on its
// own; the rest are appended unless an identical (name, size, modified) file
// is already staged.
func (c *Composer) AddFiles(files []model.DraftFile) (accepted []model.DraftFile, rejected []Rejection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[fileKey]struct{}, len(c.files)+len(files))
	for _, f := range c.files {
		seen[keyOf(f)] = struct{}{}
	}
	for _, f := range files {
		if f.Size > c.maxFileBytes {
			rejected = append(rejected, Rejection{
				File:   f,
				Reason: fmt.Sprintf("%s exceeds the %s limit", humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(c.maxFileBytes))),
			})
			continue
		}
		k := keyOf(f)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		c.files = append(c.files, f)
		accepted = append(accepted, f)
	}
	return accepted, rejected
}

// RejectionMessage summarises rejections for display, naming every file.
func RejectionMessage(rejected []Rejection) string {
	if len(rejected) == 0 {
		return ""
	}
	parts := make([]string, 0, len(rejected))
	for _, r := range rejected {
		parts = append(parts, fmt.Sprintf("%s (%s)", r.File.Name, r.Reason))
	}
	noun := "file"
	if len(rejected) > 1 {
		noun = "files"
	}
	return fmt.Sprintf("%d %s not attached: %s", len(rejected), noun, strings.Join(parts, ", "))
}

// RemoveFile unstages the file at index i.
func (c *Composer) RemoveFile(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i < 0 || i >= len(c.files) {
		return false
	}
	c.files = append(c.files[:i:i], c.files[i+1:]...)
	return true
}

// FileLabel renders a staged file chip.
func FileLabel(f model.DraftFile) string {
	return fmt.Sprintf("%s · %s", f.Name, humanize.IBytes(uint64(f.Size)))
}
