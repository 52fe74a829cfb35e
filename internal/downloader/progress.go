package downloader

import (
	"context"
	"io"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/lvcoi/tubeform/internal/media"
)

const progressInterval = 250 * time.Millisecond

// progressWriter counts bytes written through it and reports throttled
// Progress updates.
type progressWriter struct {
	size       int64
	total      atomic.Int64
	start      time.Time
	lastUpdate atomic.Int64 // Unix nanoseconds
	finished   atomic.Bool
	report     ProgressFunc
	label      string
}

func newProgressWriter(size int64, label string, report ProgressFunc) *progressWriter {
	now := time.Now()
	pw := &progressWriter{
		size:   size,
		start:  now,
		report: report,
		label:  label,
	}
	pw.lastUpdate.Store(now.UnixNano())
	return pw
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n := len(b)
	p.total.Add(int64(n))

	now := time.Now()
	last := p.lastUpdate.Load()
	if now.UnixNano()-last >= progressInterval.Nanoseconds() {
		if p.lastUpdate.CompareAndSwap(last, now.UnixNano()) {
			p.emit(StageDownloading)
		}
	}
	return n, nil
}

func (p *progressWriter) snapshot(stage string) Progress {
	current := p.total.Load()
	elapsed := time.Since(p.start)
	out := Progress{
		Stage:      stage,
		Downloaded: current,
		Total:      p.size,
		Message:    p.label,
	}
	if p.size > 0 {
		out.Percent = float64(current) * 100 / float64(p.size)
		if out.Percent > 100 {
			out.Percent = 100
		}
	}
	if secs := elapsed.Seconds(); secs > 0 && current > 0 {
		rate := float64(current) / secs
		out.Speed = media.FormatSize(int64(rate)) + "/s"
		if p.size > current && rate > 0 {
			out.ETA = time.Duration(float64(p.size-current)/rate) * time.Second
		}
	}
	return out
}

func (p *progressWriter) emit(stage string) {
	if p.finished.Load() {
		return
	}
	p.report.emit(p.snapshot(stage))
}

// Finish sends a final update once.
func (p *progressWriter) Finish() {
	if p.finished.Swap(true) {
		return
	}
	p.report.emit(p.snapshot(StageDownloading))
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	select {
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	default:
		return r.r.Read(p)
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	reader := &contextReader{ctx: ctx, r: src}
	return io.Copy(dst, reader)
}

var ansiEscape = regexp.MustCompile(`\x1B(?:[@-Z\\-_]|\[[0-?]*[ -/]*[@-~])`)

// CleanANSI strips terminal escape sequences from extractor output.
func CleanANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}
