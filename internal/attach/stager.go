// Package attach holds files the user has picked but not yet sent, and
// resolves them into durable backend references at send time.
package attach

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync"
)

// Staged is a file selected for the next message. It exists only client-side
// and is never persisted; sending turns it into a conversation.Attachment.
type Staged struct {
	Path string
	Name string
	Type string
	Size int64

	mu       sync.Mutex
	resolved bool
}

// markResolved flips the staged file to resolved. Returns false if it
// already was: resolving twice is a logic error, not a retry.
func (s *Staged) markResolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return false
	}
	s.resolved = true
	return true
}

// StageFile builds a Staged entry from a file on disk.
func StageFile(path string) (*Staged, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("stage %s: is a directory", path)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Staged{
		Path: path,
		Name: filepath.Base(path),
		Type: contentType,
		Size: info.Size(),
	}, nil
}

// Stager is the client-side list of not-yet-sent files. Indices are
// positional; the dispatcher must Snapshot (copy) the list at send time so
// concurrent removes during an in-flight send cannot corrupt what it
// captured.
type Stager struct {
	mu    sync.Mutex
	files []*Staged
}

// NewStager creates an empty stager.
func NewStager() *Stager {
	return &Stager{}
}

// Add appends a staged file.
func (s *Stager) Add(f *Staged) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = append(s.files, f)
}

// Remove drops the staged file at the given position. Out-of-range indices
// are ignored.
func (s *Stager) Remove(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.files) {
		return
	}
	s.files = append(s.files[:index], s.files[index+1:]...)
}

// Clear empties the stager for the next compose cycle.
func (s *Stager) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = nil
}

// Snapshot returns a copy of the current list.
func (s *Stager) Snapshot() []*Staged {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Staged, len(s.files))
	copy(out, s.files)
	return out
}

// Len returns the number of staged files.
func (s *Stager) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
