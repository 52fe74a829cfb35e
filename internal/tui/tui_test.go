package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

func TestProgressModelStableOrdering(t *testing.T) {
	m := newProgressModel()
	m.Update(registerMsg{id: "a", label: "alpha", start: time.Now()})
	m.Update(registerMsg{id: "b", label: "beta", start: time.Now()})
	m.Update(updateMsg{id: "b", progress: downloader.Progress{Stage: downloader.StageDownloading, Percent: 10}})
	m.Update(updateMsg{id: "a", progress: downloader.Progress{Stage: downloader.StageDownloading, Percent: 50, Speed: "1.2MiB/s"}})

	out := m.View()
	alpha, beta := strings.Index(out, "alpha"), strings.Index(out, "beta")
	if alpha == -1 || beta == -1 || alpha > beta {
		t.Fatalf("expected alpha before beta, got %q", out)
	}
	if !strings.Contains(out, "50.0%") || !strings.Contains(out, "1.2MiB/s") {
		t.Fatalf("expected percent and speed in output, got %q", out)
	}
}

func TestProgressModelFinish(t *testing.T) {
	m := newProgressModel()
	m.Update(registerMsg{id: "ok", label: "good clip", start: time.Now()})
	m.Update(registerMsg{id: "bad", label: "bad clip", start: time.Now()})
	m.Update(finishMsg{id: "ok", result: "clip.mp4"})
	m.Update(finishMsg{id: "bad", err: downloader.Classify(errors.New("ERROR: HTTP Error 403: Forbidden"))})
	m.Update(updateMsg{id: "ok", progress: downloader.Progress{Percent: 5}})

	out := m.View()
	if !strings.Contains(out, "clip.mp4") || !strings.Contains(out, "completed in") {
		t.Fatalf("expected completion line, got %q", out)
	}
	if !strings.Contains(out, "HTTP Error 403: Forbidden") || !strings.Contains(out, "restricted") {
		t.Fatalf("expected error and hint, got %q", out)
	}
	if m.tasks["ok"].progress.Percent != 0 {
		t.Fatalf("updates after finish must be ignored")
	}
}

func TestStatusLine(t *testing.T) {
	tests := []struct {
		p    downloader.Progress
		want string
	}{
		{downloader.Progress{}, "starting"},
		{downloader.Progress{Stage: downloader.StageProcessing, Message: "Merging video and audio"}, "Merging video and audio"},
		{downloader.Progress{Stage: downloader.StageDownloading, Downloaded: 1 << 20, Total: 2 << 20, ETA: 90 * time.Second}, "eta 1m30s"},
	}
	for _, tt := range tests {
		if got := statusLine(tt.p, 5*time.Second); !strings.Contains(got, tt.want) {
			t.Errorf("statusLine(%+v) = %q, want it to contain %q", tt.p, got, tt.want)
		}
	}
}

func TestTruncateLine(t *testing.T) {
	if got := truncateLine("abcdefghij", 6); got != "abc..." {
		t.Fatalf("got %q", got)
	}
	if got := truncateLine("short", 10); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestProgressManagerRendersToWriter(t *testing.T) {
	var buf bytes.Buffer
	pm := NewProgressManager(&buf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pm.Start(ctx)

	id := pm.Register("sample")
	pm.Func(id)(downloader.Progress{Stage: downloader.StageDownloading, Percent: 40})
	pm.Finish(id, "sample.mp4", nil)
	time.Sleep(50 * time.Millisecond)
	pm.Stop()

	if !strings.Contains(buf.String(), "sample") {
		t.Fatalf("expected label in output, got %q", buf.String())
	}
}

func TestNilProgressManager(t *testing.T) {
	var pm *ProgressManager
	pm.Start(context.Background())
	id := pm.Register("x")
	if pm.Func(id) != nil {
		t.Fatalf("nil manager should not hand out callbacks")
	}
	pm.Finish(id, "", nil)
	pm.Stop()
}

func TestInfoCard(t *testing.T) {
	res := &downloader.ProbeResult{
		Video: &media.Video{
			Title:    "Test Clip",
			Channel:  "Test Channel",
			Duration: 125,
			Views:    1500,
			Formats:  []media.Format{{Height: 2160, VCodec: "vp9", ACodec: "none"}},
		},
		Options: []media.Option{
			{Name: "2160p (4K)", Height: 2160, EstimatedSize: 3 << 30},
			{Name: media.AudioOptionName, AudioOnly: true, EstimatedSize: 2 << 20, Exact: true},
		},
		Languages: []string{"de", "en"},
		Elapsed:   1500 * time.Millisecond,
	}
	card := InfoCard(res, false)
	for _, want := range []string{"Test Clip", "Test Channel", "2m 5s", "1,500 views", "4K", "2160p (4K)", "high resolution", "de, en", "ZIP", "fetched in 1.5s"} {
		if !strings.Contains(card, want) {
			t.Errorf("expected card to contain %q:\n%s", want, card)
		}
	}
	if InfoCard(nil, true) != "" {
		t.Errorf("expected empty card for nil result")
	}
}
