package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tanq16/shabi/internal/progress"
	"github.com/tanq16/shabi/internal/utils"
)

type recordingCollector struct {
	mu        sync.Mutex
	processed []int
	collected []string
}

func (c *recordingCollector) Processing(index, total int, url, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed = append(c.processed, index)
}

func (c *recordingCollector) Collected(index, total int, outcome utils.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collected = append(c.collected, outcome.URL)
}

func noSleep(context.Context, time.Duration) error { return nil }

func testOptions(dir string, concurrency int) Options {
	return Options{
		Directory:   dir,
		Concurrency: concurrency,
		MaxRetries:  3,
		BackoffUnit: time.Millisecond,
		Sleep:       noSleep,
	}
}

func TestRunAllBoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		body := []byte(strings.Repeat("x", 1000))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer server.Close()

	urls := []string{server.URL + "/a.bin", server.URL + "/b.bin", server.URL + "/c.bin"}
	dir := t.TempDir()
	sink := progress.NewSink(0)
	collector := &recordingCollector{}
	outcomes, err := RunAll(context.Background(), urls, testOptions(dir, 2), sink, collector)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	sink.Close()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent transfers, saw %d", peak.Load())
	}
	overall := sink.OverallSnapshot()
	if overall.Completed != 3 || overall.Total != 3 {
		t.Errorf("unexpected overall %+v", overall)
	}
	for i, o := range outcomes {
		if o.URL != urls[i] {
			t.Errorf("outcome %d out of order: %s", i, o.URL)
		}
		if o.State != utils.StateCompleted {
			t.Errorf("%s: expected completed, got %s: %v", o.URL, o.State, o.Err)
		}
		info, err := os.Stat(o.Path)
		if err != nil || info.Size() != 1000 {
			t.Errorf("%s: bad file: %v", o.Path, err)
		}
	}
	if len(collector.processed) != 3 || collector.processed[0] != 1 || collector.processed[2] != 3 {
		t.Errorf("unexpected processing order %v", collector.processed)
	}
	for i, u := range collector.collected {
		if u != urls[i] {
			t.Errorf("collected %d out of order: %s", i, u)
		}
	}
}

func TestRunAllSlowHeadOfLine(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.bin" {
			<-release
		}
		w.Header().Set("Content-Length", "4")
		w.Write([]byte("data"))
	}))
	defer server.Close()

	urls := []string{server.URL + "/slow.bin", server.URL + "/fast.bin"}
	dir := t.TempDir()
	sink := progress.NewSink(0)
	collector := &recordingCollector{}
	done := make(chan []utils.Outcome, 1)
	go func() {
		outcomes, err := RunAll(context.Background(), urls, testOptions(dir, 2), sink, collector)
		if err != nil {
			t.Errorf("RunAll: %v", err)
		}
		done <- outcomes
	}()

	// the fast file finishes and is counted while the slow one still blocks
	deadline := time.Now().Add(5 * time.Second)
	for sink.OverallSnapshot().Completed < 1 {
		if time.Now().After(deadline) {
			close(release)
			t.Fatal("fast download never counted as completed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	var fastDone bool
	for _, info := range sink.Snapshot() {
		if info.Name == "fast.bin" && info.State == utils.StateCompleted {
			fastDone = true
		}
	}
	collector.mu.Lock()
	collectedEarly := len(collector.collected)
	collector.mu.Unlock()
	close(release)

	outcomes := <-done
	sink.Close()

	if !fastDone {
		t.Error("the completed task should be fast.bin")
	}
	if collectedEarly != 0 {
		t.Errorf("nothing may be collected before the first file, got %d", collectedEarly)
	}
	if len(collector.collected) != 2 || collector.collected[0] != urls[0] || collector.collected[1] != urls[1] {
		t.Errorf("expected collection in submission order, got %v", collector.collected)
	}
	if len(outcomes) != 2 || outcomes[0].URL != urls[0] {
		t.Errorf("unexpected outcomes %+v", outcomes)
	}
	if sink.OverallSnapshot().Completed != 2 {
		t.Errorf("unexpected overall %+v", sink.OverallSnapshot())
	}
}

func TestRunAllFailureIsolated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken.bin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", "4")
		w.Write([]byte("data"))
	}))
	defer server.Close()

	urls := []string{server.URL + "/broken.bin", server.URL + "/ok1.bin", server.URL + "/ok2.bin"}
	sink := progress.NewSink(0)
	outcomes, err := RunAll(context.Background(), urls, testOptions(t.TempDir(), 4), sink, nil)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	sink.Close()

	if Failures(outcomes) != 1 {
		t.Errorf("expected 1 failure, got %d", Failures(outcomes))
	}
	if !outcomes[0].Failed() || outcomes[1].Failed() || outcomes[2].Failed() {
		t.Errorf("unexpected states: %s %s %s", outcomes[0].State, outcomes[1].State, outcomes[2].State)
	}
	overall := sink.OverallSnapshot()
	if overall.Failed != 1 || overall.Completed != 2 {
		t.Errorf("unexpected overall %+v", overall)
	}
}

func TestRunAllRejectsCollisions(t *testing.T) {
	sink := progress.NewSink(0)
	defer sink.Close()
	urls := []string{"https://a.example/x/file.bin", "https://b.example/y/file.bin"}
	_, err := RunAll(context.Background(), urls, testOptions(t.TempDir(), 2), sink, nil)
	if !errors.Is(err, utils.ErrDestinationCollision) {
		t.Fatalf("expected collision error, got %v", err)
	}
	if got := sink.OverallSnapshot().Total; got != 0 {
		t.Errorf("no task should be registered, got %d", got)
	}
}

func TestBuildTasks(t *testing.T) {
	dir := t.TempDir()
	tasks, err := BuildTasks([]string{"https://example.com/a.iso?sig=1", "https://example.com/"}, Options{Directory: dir, Resume: true, MaxRetries: 5})
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}
	if tasks[0].DestinationPath != filepath.Join(dir, "a.iso") {
		t.Errorf("unexpected path %s", tasks[0].DestinationPath)
	}
	if tasks[1].DestinationPath != filepath.Join(dir, utils.FallbackFileName) {
		t.Errorf("unexpected fallback path %s", tasks[1].DestinationPath)
	}
	if tasks[0].ID == tasks[1].ID || tasks[0].ID == "" {
		t.Error("task ids must be unique")
	}
	if !tasks[0].ResumeRequested || tasks[0].MaxRetries != 5 || tasks[0].State != utils.StatePending {
		t.Errorf("options not applied: %+v", tasks[0])
	}

	if _, err := BuildTasks([]string{"ftp://example.com/a"}, Options{Directory: dir}); !errors.Is(err, utils.ErrUnsupportedScheme) {
		t.Errorf("expected scheme error, got %v", err)
	}
}

func TestRunOne(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "5")
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	dir := t.TempDir()
	sink := progress.NewSink(0)
	outcome, err := RunOne(context.Background(), server.URL+"/greeting.txt", testOptions(dir, 1), sink)
	if err != nil {
		t.Fatalf("RunOne: %v", err)
	}
	sink.Close()

	if outcome.State != utils.StateCompleted {
		t.Fatalf("expected completed, got %s: %v", outcome.State, outcome.Err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "greeting.txt"))
	if string(got) != "hello" {
		t.Errorf("unexpected content %q", got)
	}
	if sink.OverallSnapshot().Completed != 1 {
		t.Errorf("unexpected overall %+v", sink.OverallSnapshot())
	}
}
