package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/shabi/internal/progress"
	"github.com/tanq16/shabi/internal/utils"
)

const (
	nameWidth       = 25
	barWidth        = 30
	maxFinishedRows = 5
)

// Manager renders progress.Sink snapshots. On a terminal it redraws a live
// block of lines every tick; otherwise it only prints notices and the summary.
type Manager struct {
	sink        *progress.Sink
	out         io.Writer
	live        bool
	mutex       sync.Mutex
	numLines    int
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	startTime   time.Time
	started     bool
}

func NewManager(sink *progress.Sink, out io.Writer, live bool) *Manager {
	return &Manager{
		sink:        sink,
		out:         out,
		live:        live,
		doneCh:      make(chan struct{}),
		displayTick: 300 * time.Millisecond,
		startTime:   time.Now(),
	}
}

func (m *Manager) StartDisplay() {
	m.startTime = time.Now()
	if !m.live {
		return
	}
	m.started = true
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

func (m *Manager) StopDisplay() {
	if !m.started {
		return
	}
	close(m.doneCh)
	m.displayWg.Wait()
	m.started = false
}

// Notice prints a line that stays above the live block.
func (m *Manager) Notice(text string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.clearLines()
	fmt.Fprintln(m.out, text)
	if m.live && m.started {
		m.draw()
	}
}

func (m *Manager) Processing(index, total int, url, path string) {
	m.Notice(infoStyle.Render(fmt.Sprintf("Processing file %d of %d", index, total)))
}

func (m *Manager) Collected(index, total int, outcome utils.Outcome) {
	if outcome.Failed() {
		m.Notice(errorStyle.Render(fmt.Sprintf("Error downloading %s: %v", outcome.URL, outcome.Err)))
		return
	}
	m.Notice(successStyle.Render(fmt.Sprintf("Download completed: %s", outcome.Path)))
}

func (m *Manager) updateDisplay() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.clearLines()
	m.draw()
}

// clearLines erases the previously drawn block. Caller holds the mutex.
func (m *Manager) clearLines() {
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	m.numLines = 0
}

// draw prints the live block. Caller holds the mutex.
func (m *Manager) draw() {
	lines := m.render()
	available := m.availableLines()
	if len(lines) > available {
		// keep the overall line, which is always last
		lines = append(lines[:available-1], lines[len(lines)-1])
	}
	for _, line := range lines {
		fmt.Fprintln(m.out, line)
	}
	m.numLines = len(lines)
}

func (m *Manager) availableLines() int {
	height := 24
	if f, ok := m.out.(*os.File); ok {
		height = terminalHeight(f)
	}
	return max(2, height-3) // Leave some buffer for prompt
}

func (m *Manager) render() []string {
	tasks := m.sink.Snapshot()
	overall := m.sink.OverallSnapshot()
	var active, finished []string
	waiting := 0
	for _, t := range tasks {
		switch t.State {
		case utils.StatePending:
			waiting++
		case utils.StateCompleted, utils.StateFailed:
			finished = append(finished, taskLine(t))
		default:
			active = append(active, taskLine(t))
		}
	}
	if len(finished) > maxFinishedRows {
		hidden := len(finished) - maxFinishedRows
		finished = append([]string{streamStyle.Render(fmt.Sprintf("  %d earlier files finished ...", hidden))}, finished[hidden:]...)
	}
	lines := append(active, finished...)
	if waiting > 0 {
		lines = append(lines, pendingStyle.Render(fmt.Sprintf("  %s %d waiting for a free slot", StyleSymbols["pending"], waiting)))
	}
	return append(lines, overallLine(overall))
}

func taskLine(t progress.TaskProgress) string {
	name := fmt.Sprintf("%-*s", nameWidth, ShortenName(t.Name, nameWidth))
	var detail string
	switch {
	case t.State == utils.StateProbing:
		detail = "connecting"
	case t.Total > 0:
		detail = fmt.Sprintf("%s %s / %s", ProgressBar(t.Current, t.Total, barWidth), FormatBytes(t.Current), FormatBytes(t.Total))
	default:
		detail = fmt.Sprintf("%s (size unknown)", FormatBytes(t.Current))
	}
	line := fmt.Sprintf("  %s %s %s", statusIndicator(t.State), name, debugStyle.Render(detail))
	if t.Attempts > 1 && !t.State.Terminal() {
		line += " " + warningStyle.Render(fmt.Sprintf("attempt %d", t.Attempts))
	}
	return line
}

func overallLine(o progress.Overall) string {
	text := fmt.Sprintf("Overall Progress %s %d/%d files", ProgressBar(int64(o.Done()), int64(o.Total), barWidth), o.Done(), o.Total)
	if o.Failed > 0 {
		text += fmt.Sprintf(" (%d failed)", o.Failed)
	}
	return headerStyle.Render(text)
}

func statusIndicator(state utils.TaskState) string {
	switch state {
	case utils.StateCompleted:
		return successStyle.Render(StyleSymbols["pass"])
	case utils.StateFailed:
		return errorStyle.Render(StyleSymbols["fail"])
	case utils.StatePending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) ShowSummary(outcomes []utils.Outcome) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	fmt.Fprintln(m.out)
	var success, failures int
	var totalBytes int64
	for _, o := range outcomes {
		if o.Failed() {
			failures++
		} else {
			success++
		}
		totalBytes += o.Bytes
	}
	elapsed := time.Since(m.startTime).Round(time.Millisecond)
	PrintSuccess(m.out, fmt.Sprintf("Completed %d of %d", success, len(outcomes)))
	if failures > 0 {
		PrintError(m.out, fmt.Sprintf("Failed %d of %d", failures, len(outcomes)))
	}
	fmt.Fprintln(m.out, debugStyle.Render(fmt.Sprintf("Total Data: %s %s Time Elapsed: %s %s Average Speed: %s",
		FormatBytes(totalBytes), StyleSymbols["bullet"], elapsed, StyleSymbols["bullet"], FormatSpeed(totalBytes, elapsed))))
	m.displayErrors(outcomes, failures)
}

func (m *Manager) displayErrors(outcomes []utils.Outcome, failures int) {
	if failures == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	i := 0
	for _, o := range outcomes {
		if !o.Failed() {
			continue
		}
		i++
		fmt.Fprintf(m.out, "%s%s %s\n", strings.Repeat(" ", 2+2), errorStyle.Render(fmt.Sprintf("%d.", i)), errorStyle.Render(o.URL))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", o.Err)))
	}
}
