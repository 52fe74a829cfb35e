// Package app runs command-line downloads for a batch of URLs.
package app

import (
	"context"
	"errors"
	"sync"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
	"github.com/lvcoi/tubeform/internal/tui"
)

// exitInterrupted is returned when the run was canceled before finishing.
const exitInterrupted = 130

// Service is the part of downloader.Service the runner drives.
type Service interface {
	Probe(ctx context.Context, rawURL string) (*downloader.ProbeResult, error)
	Download(ctx context.Context, req downloader.DownloadRequest) (*downloader.DownloadResult, error)
	DirectLinks(ctx context.Context, rawURL string, option media.Option, language string) ([]downloader.StreamLink, error)
}

// Options selects what to do with each URL.
type Options struct {
	// Info only probes and reports metadata.
	Info bool
	// Direct resolves stream links instead of downloading.
	Direct    bool
	Quality   string
	Audio     bool
	Language  string
	OutputDir string
	Jobs      int
	// Progress draws bars when set.
	Progress *tui.ProgressManager
}

// Result is the outcome for one URL.
type Result struct {
	URL      string                  `json:"url"`
	Title    string                  `json:"title,omitempty"`
	Option   string                  `json:"option,omitempty"`
	Info     *downloader.ProbeResult `json:"info,omitempty"`
	File     string                  `json:"file,omitempty"`
	Size     int64                   `json:"size,omitempty"`
	Kind     media.Kind              `json:"kind,omitempty"`
	Fallback bool                    `json:"fallback,omitempty"`
	Links    []downloader.StreamLink `json:"links,omitempty"`
	Err      error                   `json:"-"`
	Error    string                  `json:"error,omitempty"`
	Hint     string                  `json:"hint,omitempty"`
	Category string                  `json:"category,omitempty"`
}

// Run processes urls on opts.Jobs workers. Results keep the input order;
// the exit code is the most severe failure, or 130 when ctx was canceled.
func Run(ctx context.Context, svc Service, urls []string, opts Options) ([]Result, int) {
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}

	type task struct {
		index int
		url   string
	}
	tasks := make(chan task)
	results := make([]Result, len(urls))
	done := make([]bool, len(urls))
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				res := process(ctx, svc, t.url, opts)
				mu.Lock()
				results[t.index] = res
				done[t.index] = true
				mu.Unlock()
			}
		}()
	}

submit:
	for i, url := range urls {
		select {
		case <-ctx.Done():
			break submit
		case tasks <- task{index: i, url: url}:
		}
	}
	close(tasks)
	wg.Wait()

	output := make([]Result, 0, len(urls))
	exitCode := 0
	for i, res := range results {
		if !done[i] {
			continue
		}
		output = append(output, res)
		if res.Err != nil {
			if code := downloader.ExitCode(res.Err); code > exitCode {
				exitCode = code
			}
		}
	}
	if ctx.Err() != nil {
		exitCode = exitInterrupted
	}
	return output, exitCode
}

func process(ctx context.Context, svc Service, url string, opts Options) Result {
	res := Result{URL: url}
	info, err := svc.Probe(ctx, url)
	if err != nil {
		return res.fail(err)
	}
	res.URL = info.URL
	res.Title = info.Video.Title
	if opts.Info {
		res.Info = info
		return res
	}

	opt, err := media.ResolveOption(info.Options, opts.Quality, opts.Audio)
	if err != nil {
		return res.fail(err)
	}
	res.Option = opt.Name

	if opts.Direct {
		links, err := svc.DirectLinks(ctx, info.URL, opt, opts.Language)
		if err != nil {
			return res.fail(err)
		}
		res.Links = links
		return res
	}

	bar := opts.Progress.Register(info.Video.Title)
	out, err := svc.Download(ctx, downloader.DownloadRequest{
		URL:       info.URL,
		Option:    opt,
		Language:  opts.Language,
		Title:     info.Video.Title,
		Channel:   info.Video.Channel,
		VideoID:   info.Video.ID,
		OutputDir: opts.OutputDir,
		Progress:  opts.Progress.Func(bar),
	})
	if err != nil {
		opts.Progress.Finish(bar, "", err)
		return res.fail(err)
	}
	a := out.Artifact
	opts.Progress.Finish(bar, a.Filename, nil)
	res.File = a.Path
	res.Size = a.Size
	res.Kind = a.Kind
	res.Fallback = out.Fallback
	return res
}

func (r Result) fail(err error) Result {
	if errors.Is(err, context.Canceled) {
		r.Err = err
		r.Error = "canceled"
		return r
	}
	r.Err = err
	r.Error = downloader.UserMessage(err)
	r.Hint = downloader.Hint(err)
	if cat := downloader.CategoryOf(err); cat != downloader.CategoryUnknown {
		r.Category = string(cat)
	}
	return r
}
