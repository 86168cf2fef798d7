package download

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileRef identifies a remote media attachment. FileID is what the
// transport needs to fetch the bytes; UniqueID is stable across bots and
// names the local file.
type FileRef struct {
	FileID   string `json:"file_id"`
	UniqueID string `json:"file_unique_id"`
	Size     int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// TaskState is the lifecycle state of a download task.
type TaskState int

const (
	StatePending TaskState = iota
	StateDownloaded
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDownloaded:
		return "downloaded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Task tracks one download: the reference, the local target and the attempts made.
type Task struct {
	Ref         FileRef
	Path        string
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	State       TaskState
	Bytes       int64
	Waited      time.Duration
	LastErr     error
}

// markDownloaded moves a pending task to Downloaded. A failed task stays failed.
func (t *Task) markDownloaded(n int64) {
	if t.State == StateFailed {
		return
	}
	t.State = StateDownloaded
	t.Bytes = n
}

func (t *Task) markFailed(err error) {
	t.State = StateFailed
	t.LastErr = err
}

// TargetPath returns the local path for ref inside dir, named by the
// file's unique id so distinct attachments never collide.
func TargetPath(dir string, ref FileRef, ext string) (string, error) {
	id := ref.UniqueID
	if id == "" {
		return "", fmt.Errorf("file reference has no unique id")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid file unique id %q", id)
	}
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return filepath.Join(dir, id), nil
	}
	return filepath.Join(dir, id+"."+ext), nil
}
