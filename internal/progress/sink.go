// Package progress aggregates per-task byte progress and overall completion
// counts reported concurrently by download workers.
//
// Workers never touch shared counters. Every call on a Sink is turned into an
// Event and sent over a channel; a single goroutine owns the state and applies
// events in arrival order. Snapshots are read under a read lock.
package progress

import (
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/shabi/internal/utils"
)

type EventKind int

const (
	EventRegister EventKind = iota
	EventProbe
	EventStart
	EventBytes
	EventTerminal
)

type Event struct {
	TaskID  string
	Kind    EventKind
	Name    string
	Attempt int // 0-based attempt for EventProbe
	Delta   int64
	Total   int64 // expected total for EventStart, 0 when unknown
	OnDisk  int64 // bytes already on disk when the attempt started
	State   utils.TaskState
	Err     error
}

type TaskProgress struct {
	ID       string
	Name     string
	Index    int
	Current  int64
	Total    int64
	Attempts int
	State    utils.TaskState
	Err      error
}

type Overall struct {
	Completed int
	Failed    int
	Total     int
}

// Done is the number of tasks in a terminal state.
func (o Overall) Done() int {
	return o.Completed + o.Failed
}

type Sink struct {
	events    chan Event
	done      chan struct{}
	mu        sync.RWMutex
	tasks     map[string]*TaskProgress
	overall   Overall
	closeOnce sync.Once
}

func NewSink(buffer int) *Sink {
	if buffer <= 0 {
		buffer = 256
	}
	s := &Sink{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		tasks:  make(map[string]*TaskProgress),
	}
	go s.run()
	return s
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		s.apply(ev)
	}
}

func (s *Sink) apply(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Kind == EventRegister {
		if _, exists := s.tasks[ev.TaskID]; exists {
			return
		}
		s.tasks[ev.TaskID] = &TaskProgress{
			ID:    ev.TaskID,
			Name:  ev.Name,
			Index: len(s.tasks),
			State: utils.StatePending,
		}
		s.overall.Total++
		return
	}
	info, exists := s.tasks[ev.TaskID]
	if !exists {
		log.Warn().Str("op", "progress/sink").Str("task", ev.TaskID).Msg("Event for unregistered task dropped")
		return
	}
	if info.State.Terminal() {
		return
	}
	switch ev.Kind {
	case EventProbe:
		info.State = utils.StateProbing
		info.Attempts = ev.Attempt + 1
	case EventStart:
		// Re-base on what is actually on disk. Bytes counted by a failed
		// attempt are either still on disk (append) or gone (truncate), so
		// the old count is discarded rather than adjusted.
		info.Current = ev.OnDisk
		info.Total = ev.Total
		info.State = utils.StateStreaming
	case EventBytes:
		info.Current += ev.Delta
	case EventTerminal:
		info.State = ev.State
		info.Err = ev.Err
		if ev.State == utils.StateFailed {
			s.overall.Failed++
		} else {
			s.overall.Completed++
		}
	}
}

func (s *Sink) send(ev Event) {
	s.events <- ev
}

func (s *Sink) Register(taskID, name string) {
	s.send(Event{TaskID: taskID, Kind: EventRegister, Name: name})
}

// OnTaskProbe marks the start of Probing for an attempt, before any request is
// sent. A task retrying after errors stays visible as active.
func (s *Sink) OnTaskProbe(taskID string, attempt int) {
	s.send(Event{TaskID: taskID, Kind: EventProbe, Attempt: attempt})
}

// OnTaskStart marks the beginning of streaming for an attempt. onDisk is the number of
// bytes present in the destination file before any byte of this attempt was
// written.
func (s *Sink) OnTaskStart(taskID string, expectedTotal, onDisk int64) {
	s.send(Event{TaskID: taskID, Kind: EventStart, Total: expectedTotal, OnDisk: onDisk})
}

func (s *Sink) OnBytes(taskID string, delta int64) {
	s.send(Event{TaskID: taskID, Kind: EventBytes, Delta: delta})
}

// OnTaskTerminal records Completed or Failed. Only the first terminal event of
// a task is counted.
func (s *Sink) OnTaskTerminal(taskID string, state utils.TaskState, err error) {
	s.send(Event{TaskID: taskID, Kind: EventTerminal, State: state, Err: err})
}

func (s *Sink) OverallSnapshot() Overall {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overall
}

func (s *Sink) TaskSnapshot(taskID string) (TaskProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.tasks[taskID]
	if !ok {
		return TaskProgress{}, false
	}
	return *info, true
}

// Snapshot returns every task in registration order.
func (s *Sink) Snapshot() []TaskProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskProgress, 0, len(s.tasks))
	for _, info := range s.tasks {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Index < out[j].Index
	})
	return out
}

// Close stops accepting events and waits until every queued event has been
// applied. Calls on the Sink after Close panic.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
	<-s.done
}
