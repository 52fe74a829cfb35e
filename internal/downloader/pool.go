package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lvcoi/tubeform/internal/ws"
)

// ErrPoolStopped is returned by AddTask after Stop.
var ErrPoolStopped = errors.New("download pool stopped")

// Task is one queued download.
type Task struct {
	ID      string
	Request DownloadRequest
	// FileURL is where the finished artifact can be fetched; it is sent to
	// websocket clients on completion.
	FileURL  string
	OnStart  func(id string)
	OnFinish func(id string, res *DownloadResult, err error)
}

// WSBroadcaster decouples the pool from the WebSocket hub.
type WSBroadcaster interface {
	Broadcast(msg ws.WSMessage)
}

// Downloader is the part of Service the pool drives.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (*DownloadResult, error)
}

// Pool runs downloads on a fixed number of workers and mirrors their
// progress to the hub.
type Pool struct {
	TaskQueue chan Task
	Workers   int
	Hub       WSBroadcaster
	service   Downloader
	wg        sync.WaitGroup
	pending   sync.WaitGroup
	queued    atomic.Int64
	running   atomic.Int64
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPool creates a pool; hub may be nil.
func NewPool(workers int, service Downloader, hub WSBroadcaster) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		TaskQueue: make(chan Task),
		Workers:   workers,
		Hub:       hub,
		service:   service,
	}
}

// Start launches the workers. Canceling ctx aborts running downloads.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// AddTask queues t without blocking the caller.
func (p *Pool) AddTask(t Task) error {
	if p.ctx == nil || p.ctx.Err() != nil {
		return ErrPoolStopped
	}
	p.queued.Add(1)
	p.pending.Add(1)
	go func() {
		select {
		case p.TaskQueue <- t:
		case <-p.ctx.Done():
			p.queued.Add(-1)
			p.pending.Done()
			if t.OnFinish != nil {
				t.OnFinish(t.ID, nil, p.ctx.Err())
			}
		}
	}()
	return nil
}

// Queued and Running report the pool's load.
func (p *Pool) Queued() int  { return int(p.queued.Load()) }
func (p *Pool) Running() int { return int(p.running.Load()) }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.TaskQueue:
			p.queued.Add(-1)
			p.running.Add(1)
			p.processTask(task)
			p.running.Add(-1)
			p.pending.Done()
		}
	}
}

func (p *Pool) processTask(t Task) {
	if t.OnStart != nil {
		t.OnStart(t.ID)
	}
	p.broadcast(t.ID, ws.TypeProgress, ws.ProgressPayload{ID: t.ID, Stage: StageStarting})

	req := t.Request
	own := req.Progress
	req.Progress = func(pr Progress) {
		own.emit(pr)
		if pr.Stage == StageComplete || pr.Stage == StageFailed {
			return
		}
		p.broadcast(t.ID, ws.TypeProgress, progressPayload(t.ID, pr))
	}

	res, err := p.service.Download(p.ctx, req)
	// OnFinish runs first so clients reacting to the broadcast see the final
	// job state.
	if t.OnFinish != nil {
		t.OnFinish(t.ID, res, err)
	}
	if err != nil {
		p.broadcast(t.ID, ws.TypeError, ws.ErrorPayload{
			ID:       t.ID,
			Message:  UserMessage(err),
			Hint:     Hint(err),
			Category: string(CategoryOf(err)),
			Code:     ExitCode(err),
		})
		return
	}
	p.broadcast(t.ID, ws.TypeComplete, ws.CompletePayload{
		ID:       t.ID,
		Filename: res.Artifact.Filename,
		Size:     res.Artifact.Size,
		URL:      t.FileURL,
	})
}

func (p *Pool) broadcast(id, typ string, payload any) {
	if p.Hub == nil {
		return
	}
	p.Hub.Broadcast(ws.WSMessage{Type: typ, JobID: id, Payload: payload})
}

func progressPayload(id string, pr Progress) ws.ProgressPayload {
	out := ws.ProgressPayload{
		ID:       id,
		Stage:    pr.Stage,
		Percent:  pr.Percent,
		Speed:    pr.Speed,
		Message:  pr.Message,
		Fallback: pr.Fallback,
	}
	if pr.ETA > 0 {
		out.ETA = pr.ETA.Round(time.Second).String()
	}
	return out
}

// Wait blocks until every queued task has finished.
func (p *Pool) Wait() {
	p.pending.Wait()
}

// Stop cancels running downloads and waits for the workers to exit.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
