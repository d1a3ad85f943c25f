package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	shabihttp "github.com/tanq16/shabi/internal/downloaders/http"
	"github.com/tanq16/shabi/internal/progress"
	"github.com/tanq16/shabi/internal/utils"
)

type Options struct {
	Directory        string
	Concurrency      int
	Resume           bool
	MaxRetries       int
	BackoffUnit      time.Duration
	HTTPClientConfig utils.HTTPClientConfig
	// Client overrides the HTTP client built from HTTPClientConfig.
	Client utils.HTTPDoer
	Sleep  shabihttp.SleepFunc
}

// Collector observes outcome collection, which happens in submission order.
// Processing for file i is reported before its result is awaited, so it can
// appear before the transfer has actually started.
type Collector interface {
	Processing(index, total int, url, path string)
	Collected(index, total int, outcome utils.Outcome)
}

// BuildTasks validates every URL and resolves its destination. No task is
// returned if any URL is invalid or two URLs share a destination.
func BuildTasks(urls []string, opts Options) ([]*utils.DownloadTask, error) {
	tasks := make([]*utils.DownloadTask, 0, len(urls))
	normalized := make([]string, 0, len(urls))
	paths := make([]string, 0, len(urls))
	for _, raw := range urls {
		link, err := utils.NormalizeURL(raw)
		if err != nil {
			return nil, err
		}
		path, err := utils.ResolveDestination(link, opts.Directory)
		if err != nil {
			return nil, err
		}
		normalized = append(normalized, link)
		paths = append(paths, path)
		tasks = append(tasks, &utils.DownloadTask{
			ID:              uuid.NewString(),
			SourceURL:       link,
			DestinationPath: path,
			ResumeRequested: opts.Resume,
			MaxRetries:      opts.MaxRetries,
			State:           utils.StatePending,
		})
	}
	if err := utils.DetectCollisions(normalized, paths); err != nil {
		return nil, err
	}
	return tasks, nil
}

func newWorker(opts Options, sink *progress.Sink) *shabihttp.Worker {
	client := opts.Client
	if client == nil {
		client = utils.NewShabiHTTPClient(opts.HTTPClientConfig)
	}
	return shabihttp.NewWorker(client, sink, shabihttp.Options{
		MaxRetries:  opts.MaxRetries,
		BackoffUnit: opts.BackoffUnit,
		Sleep:       opts.Sleep,
	})
}

// RunOne downloads a single URL on the calling goroutine.
func RunOne(ctx context.Context, url string, opts Options, sink *progress.Sink) (utils.Outcome, error) {
	tasks, err := BuildTasks([]string{url}, opts)
	if err != nil {
		return utils.Outcome{}, err
	}
	task := tasks[0]
	sink.Register(task.ID, filepath.Base(task.DestinationPath))
	return newWorker(opts, sink).Run(ctx, task), nil
}

type submission struct {
	task   *utils.DownloadTask
	result chan<- utils.Outcome
}

// RunAll downloads every URL with at most opts.Concurrency transfers in
// flight and returns outcomes in submission order. A failed task never stops
// the others; the returned error only covers invalid input detected before
// any transfer starts.
func RunAll(ctx context.Context, urls []string, opts Options, sink *progress.Sink, collector Collector) ([]utils.Outcome, error) {
	tasks, err := BuildTasks(urls, opts)
	if err != nil {
		return nil, err
	}
	if collector == nil {
		collector = nopCollector{}
	}
	for _, task := range tasks {
		sink.Register(task.ID, filepath.Base(task.DestinationPath))
	}
	worker := newWorker(opts, sink)

	// Create job channel
	queue := make(chan submission, len(tasks))
	futures := make([]chan utils.Outcome, len(tasks))
	for i, task := range tasks {
		futures[i] = make(chan utils.Outcome, 1)
		queue <- submission{task: task, result: futures[i]}
	}
	close(queue)

	numWorkers := max(1, min(opts.Concurrency, len(tasks)))
	log.Debug().Str("op", "scheduler/scheduler").Msgf("Starting %d workers for %d downloads", numWorkers, len(tasks))
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range queue {
				sub.result <- worker.Run(ctx, sub.task)
			}
		}()
	}

	outcomes := make([]utils.Outcome, len(tasks))
	for i, task := range tasks {
		// URL and path are never written after BuildTasks, so reading them
		// here does not race with the worker owning the task.
		collector.Processing(i+1, len(tasks), task.SourceURL, task.DestinationPath)
		outcomes[i] = <-futures[i]
		collector.Collected(i+1, len(tasks), outcomes[i])
	}
	wg.Wait()

	failed := Failures(outcomes)
	log.Info().Str("op", "scheduler/scheduler").Int("failed", failed).Int("total", len(outcomes)).Msg("All downloads finished")
	return outcomes, nil
}

func Failures(outcomes []utils.Outcome) int {
	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	return failed
}

type nopCollector struct{}

func (nopCollector) Processing(int, int, string, string) {}
func (nopCollector) Collected(int, int, utils.Outcome) {}
