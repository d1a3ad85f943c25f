package shabihttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/shabi/internal/utils"
)

type ProgressSink interface {
	OnTaskProbe(taskID string, attempt int)
	OnTaskStart(taskID string, expectedTotal, onDisk int64)
	OnBytes(taskID string, delta int64)
	OnTaskTerminal(taskID string, state utils.TaskState, err error)
}

type Options struct {
	MaxRetries  int
	BackoffUnit time.Duration
	// Sleep waits between attempts; tests replace it to observe backoff.
	Sleep SleepFunc
}

// Worker drives one DownloadTask at a time from Pending to a terminal state.
// A Worker holds no per-task state and may be shared by goroutines.
type Worker struct {
	client utils.HTTPDoer
	sink   ProgressSink
	opts   Options
}

func NewWorker(client utils.HTTPDoer, sink ProgressSink, opts Options) *Worker {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = utils.DefaultMaxRetries
	}
	if opts.BackoffUnit <= 0 {
		opts.BackoffUnit = utils.DefaultBackoffUnit
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if sink == nil {
		sink = nopSink{}
	}
	return &Worker{client: client, sink: sink, opts: opts}
}

func (w *Worker) Run(ctx context.Context, task *utils.DownloadTask) utils.Outcome {
	start := time.Now()
	if task.MaxRetries <= 0 {
		task.MaxRetries = w.opts.MaxRetries
	}
	task.State = utils.StatePending
	task.Attempt = 0
	for {
		res := w.attempt(ctx, task)
		onDisk := task.BytesAlreadyOnDisk + res.written
		switch res.kind {
		case attemptOK:
			log.Info().Str("op", "http/transfer-worker").Str("file", task.DestinationPath).Int64("bytes", onDisk).Int("attempt", task.Attempt).Msg("Download completed")
			return w.finish(task, utils.StateCompleted, nil, onDisk, start)
		case attemptFatal:
			log.Error().Str("op", "http/transfer-worker").Err(res.err).Str("url", task.SourceURL).Msg("Download aborted")
			return w.finish(task, utils.StateFailed, res.err, onDisk, start)
		}
		if task.Attempt >= task.MaxRetries-1 {
			err := fmt.Errorf("download failed after %d attempts: %w", task.Attempt+1, res.err)
			log.Error().Str("op", "http/transfer-worker").Err(res.err).Str("url", task.SourceURL).Msg("Retries exhausted")
			return w.finish(task, utils.StateFailed, err, onDisk, start)
		}
		delay := Backoff(task.Attempt, w.opts.BackoffUnit)
		log.Warn().Str("op", "http/transfer-worker").Err(res.err).Msgf("Attempt %d/%d failed for %s, retrying in %s", task.Attempt+1, task.MaxRetries, task.SourceURL, delay)
		if err := w.opts.Sleep(ctx, delay); err != nil {
			return w.finish(task, utils.StateFailed, err, onDisk, start)
		}
		task.Attempt++
	}
}

func (w *Worker) finish(task *utils.DownloadTask, state utils.TaskState, err error, onDisk int64, start time.Time) utils.Outcome {
	task.State = state
	w.sink.OnTaskTerminal(task.ID, state, err)
	return utils.Outcome{
		TaskID:    task.ID,
		URL:       task.SourceURL,
		Path:      task.DestinationPath,
		State:     state,
		Attempt:   task.Attempt,
		Bytes:     onDisk,
		TotalSize: task.TotalSize,
		Err:       err,
		Duration:  time.Since(start),
	}
}

// attempt runs Probing then Streaming once.
func (w *Worker) attempt(ctx context.Context, task *utils.DownloadTask) attemptResult {
	task.State = utils.StateProbing
	task.BytesAlreadyOnDisk = 0
	w.sink.OnTaskProbe(task.ID, task.Attempt)
	mode := utils.OpenModeFor(task.ResumeRequested)
	if task.ResumeRequested {
		info, err := os.Stat(task.DestinationPath)
		switch {
		case err == nil:
			task.BytesAlreadyOnDisk = info.Size()
		case !errors.Is(err, fs.ErrNotExist):
			return fatal(fmt.Errorf("error checking destination file: %w", err), 0)
		}
	}
	offset := task.BytesAlreadyOnDisk

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.SourceURL, nil)
	if err != nil {
		return fatal(fmt.Errorf("error creating GET request: %w", err), 0)
	}
	if offset > 0 {
		req.Header.Set("Range", rangeHeader(offset))
		log.Debug().Str("op", "http/transfer-worker").Msgf("Resuming %s from offset %d", task.DestinationPath, offset)
	}
	req.Header.Set("Connection", "keep-alive")

	task.State = utils.StateStreaming
	resp, err := w.client.Do(req)
	if err != nil {
		return networkFailure(ctx, fmt.Errorf("error executing GET request: %w", err), 0)
	}
	defer resp.Body.Close()

	if offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		if total, ok := unsatisfiedRangeTotal(resp.Header.Get("Content-Range")); ok && total == offset {
			task.TotalSize = offset
			w.sink.OnTaskStart(task.ID, offset, offset)
			log.Info().Str("op", "http/transfer-worker").Str("file", task.DestinationPath).Msg("File already complete on disk")
			return succeeded(0)
		}
	}
	if !isSuccess(resp.StatusCode) {
		return retryable(&StatusError{StatusCode: resp.StatusCode, Status: resp.Status}, 0)
	}

	task.TotalSize = 0
	if resp.ContentLength >= 0 {
		task.TotalSize = resp.ContentLength + offset
	}
	if offset > 0 {
		if resp.StatusCode != http.StatusPartialContent {
			return retryable(fmt.Errorf("%w (status %d)", utils.ErrRangeIgnored, resp.StatusCode), 0)
		}
		// the file is untouched until here, so a retry re-probes the same size
		if err := checkPartialContent(resp.Header, offset, resp.ContentLength); err != nil {
			return retryable(err, 0)
		}
		if _, _, total, _ := parseContentRange(resp.Header.Get("Content-Range")); total > 0 {
			task.TotalSize = total
		}
	}

	outFile, err := os.OpenFile(task.DestinationPath, mode.Flags(), 0644)
	if err != nil {
		return fatal(fmt.Errorf("error opening output file: %w", err), 0)
	}
	defer outFile.Close()
	w.sink.OnTaskStart(task.ID, task.TotalSize, offset)

	buffer := make([]byte, utils.ChunkSize)
	var written int64
	for {
		bytesRead, readErr := resp.Body.Read(buffer)
		if bytesRead > 0 {
			if _, writeErr := outFile.Write(buffer[:bytesRead]); writeErr != nil {
				return fatal(fmt.Errorf("error writing to output file: %w", writeErr), written)
			}
			written += int64(bytesRead)
			w.sink.OnBytes(task.ID, int64(bytesRead))
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return networkFailure(ctx, fmt.Errorf("error reading response body: %w", readErr), written)
		}
	}
	if err := outFile.Sync(); err != nil {
		return fatal(fmt.Errorf("error flushing output file: %w", err), written)
	}
	if resp.ContentLength >= 0 && written < resp.ContentLength {
		return retryable(fmt.Errorf("%w: got %d of %d bytes", utils.ErrShortBody, written, resp.ContentLength), written)
	}
	return succeeded(written)
}

type nopSink struct{}

func (nopSink) OnTaskProbe(string, int) {}
func (nopSink) OnTaskStart(string, int64, int64) {}
func (nopSink) OnBytes(string, int64) {}
func (nopSink) OnTaskTerminal(string, utils.TaskState, error) {}
