package utils

import (
	"os"
	"time"
)

type TaskState int

const (
	StatePending TaskState = iota
	StateProbing
	StateStreaming
	StateCompleted
	StateFailed
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateProbing:
		return "probing"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can happen from s.
func (s TaskState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// OpenMode decides how a destination file is opened at the start of an attempt.
type OpenMode int

const (
	OpenTruncate OpenMode = iota
	OpenAppend
)

func OpenModeFor(resume bool) OpenMode {
	if resume {
		return OpenAppend
	}
	return OpenTruncate
}

func (m OpenMode) Flags() int {
	if m == OpenAppend {
		return os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	return os.O_CREATE | os.O_WRONLY | os.O_TRUNC
}

type DownloadTask struct {
	ID                 string
	SourceURL          string
	DestinationPath    string
	ResumeRequested    bool
	BytesAlreadyOnDisk int64
	TotalSize          int64 // 0 when the server does not declare a length
	Attempt            int
	MaxRetries         int
	State              TaskState
}

// Outcome is the terminal result of one task, returned by value from a worker.
type Outcome struct {
	TaskID    string
	URL       string
	Path      string
	State     TaskState
	Attempt   int
	Bytes     int64 // bytes on disk when the task ended
	TotalSize int64
	Err       error
	Duration  time.Duration
}

func (o Outcome) Failed() bool {
	return o.State == StateFailed
}

type DownloadEntry struct {
	URL string `yaml:"link"`
}
