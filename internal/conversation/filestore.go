package conversation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileStore persists the conversation as a JSON-lines file: a metadata line
// first, then one message per line. Saves go through a temp file and rename
// so a crash mid-write never truncates the previous conversation.
type FileStore struct {
	path string
}

// NewFileStore creates a file store at path, creating parent directories.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create conversation dir: %w", err)
	}
	return &FileStore{path: path}, nil
}

type fileMeta struct {
	Type      string `json:"_type"`
	UpdatedAt string `json:"updated_at"`
	Count     int    `json:"count"`
}

// Load reads the persisted conversation. A missing file is an empty
// conversation, not an error.
func (f *FileStore) Load() ([]Message, error) {
	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open conversation file: %w", err)
	}
	defer file.Close()

	var msgs []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if first {
			first = false
			var meta fileMeta
			if json.Unmarshal(line, &meta) == nil && meta.Type == "metadata" {
				continue
			}
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			return nil, fmt.Errorf("decode conversation line: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read conversation file: %w", err)
	}
	return msgs, nil
}

// Save writes the full message list.
func (f *FileStore) Save(msgs []Message) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".conversation-*")
	if err != nil {
		return fmt.Errorf("create temp conversation file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	meta := fileMeta{
		Type:      "metadata",
		UpdatedAt: time.Now().Format(time.RFC3339),
		Count:     len(msgs),
	}
	metaLine, _ := json.Marshal(meta)
	w.Write(metaLine)
	w.WriteByte('\n')
	for _, msg := range msgs {
		line, err := json.Marshal(msg)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode message %s: %w", msg.ID, err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write conversation file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close conversation file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace conversation file: %w", err)
	}
	return nil
}

// Clear removes the conversation file.
func (f *FileStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove conversation file: %w", err)
	}
	return nil
}
