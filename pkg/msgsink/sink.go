// Package msgsink implements process-wide storage for the RTS2 "M"
// protocol messages a running device process observes, adapted from the
// teacher's rotating audit-event logger. See SPEC_FULL.md §12.
package msgsink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rts2go/rts2drv/pkg/rlog"
)

// Message is one archived "M" line.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sec       int       `json:"sec"`
	Usec      int       `json:"usec"`
	Origin    string    `json:"origin"`
	Type      int       `json:"type"`
	Text      string    `json:"text"`
}

// Filter selects a subset of archived messages for Query.
type Filter struct {
	Origin    string
	MinType   int
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// RotationConfig configures log file rotation by size and backup count.
type RotationConfig struct {
	MaxSize    int64 // bytes; 0 disables rotation
	MaxBackups int
}

// FileSink appends Messages to a JSON-lines file, rotating it once it
// exceeds the configured size.
type FileSink struct {
	path     string
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	rotation RotationConfig
}

// NewFileSink opens (creating if absent) path for append, ready for
// Append calls.
func NewFileSink(path string, rotation RotationConfig) (*FileSink, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating message log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening message log: %w", err)
	}
	return &FileSink{path: path, file: file, encoder: json.NewEncoder(file), rotation: rotation}, nil
}

// Append implements netman.MessageSink: records one "M" line.
func (s *FileSink) Append(sec, usec int, origin string, msgType int, text string) {
	msg := &Message{
		Timestamp: time.Unix(int64(sec), int64(usec)*1000),
		Sec:       sec,
		Usec:      usec,
		Origin:    origin,
		Type:      msgType,
		Text:      text,
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rotation.MaxSize > 0 {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.rotation.MaxSize {
			if err := s.rotate(); err != nil {
				rlog.Errorf("rotating message log: %v", err)
			}
		}
	}
	if err := s.encoder.Encode(msg); err != nil {
		rlog.Errorf("writing message log entry: %v", err)
	}
}

// Query reads back archived messages matching filter.
func (s *FileSink) Query(filter Filter) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	var out []*Message
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var m Message
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			continue
		}
		if matches(&m, filter) {
			out = append(out, &m)
		}
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[len(out)-filter.Limit:]
	}
	return out, scanner.Err()
}

// Close releases the underlying file handle.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

func matches(m *Message, f Filter) bool {
	if f.Origin != "" && m.Origin != f.Origin {
		return false
	}
	if m.Type < f.MinType {
		return false
	}
	if !f.StartTime.IsZero() && m.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && m.Timestamp.After(f.EndTime) {
		return false
	}
	return true
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return err
	}
	rotated := s.path + "." + time.Now().Format("20060102-150405")
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.file = file
	s.encoder = json.NewEncoder(file)
	if s.rotation.MaxBackups > 0 {
		s.cleanupOldFiles()
	}
	return nil
}

func (s *FileSink) cleanupOldFiles() {
	dir := filepath.Dir(s.path)
	matches, err := filepath.Glob(filepath.Join(dir, filepath.Base(s.path)+".*"))
	if err != nil {
		return
	}
	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{p, info.ModTime()})
	}
	if len(files) <= s.rotation.MaxBackups {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	for i := 0; i < len(files)-s.rotation.MaxBackups; i++ {
		os.Remove(files[i].path)
	}
}
