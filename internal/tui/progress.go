package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lvcoi/tubeform/internal/downloader"
	"github.com/lvcoi/tubeform/internal/media"
)

// ProgressManager draws one bar per download with Bubble Tea. A nil
// manager is valid and renders nothing.
type ProgressManager struct {
	mu      sync.Mutex
	out     io.Writer
	program *tea.Program
	started bool
	done    chan struct{}
}

// NewProgressManager renders to out; keyboard input is not read.
func NewProgressManager(out io.Writer) *ProgressManager {
	return &ProgressManager{out: out}
}

// Start begins rendering in a separate goroutine until Stop or ctx is done.
func (pm *ProgressManager) Start(ctx context.Context) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.started {
		return
	}

	program := tea.NewProgram(newProgressModel(),
		tea.WithOutput(pm.out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	pm.program = program
	pm.started = true
	pm.done = make(chan struct{})

	go func() {
		defer close(pm.done)
		_, _ = program.Run()
	}()
	go func() {
		select {
		case <-ctx.Done():
			program.Send(stopMsg{})
		case <-pm.done:
		}
	}()
}

// Stop renders the final frame and waits for the program to exit.
func (pm *ProgressManager) Stop() {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	program := pm.program
	done := pm.done
	pm.mu.Unlock()

	if program != nil {
		program.Send(stopMsg{})
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

// Register adds a bar labeled label and returns its ID. Call it after
// Start.
func (pm *ProgressManager) Register(label string) string {
	id := fmt.Sprintf("%s@%d", label, time.Now().UnixNano())
	pm.send(registerMsg{id: id, label: label, start: time.Now()})
	return id
}

// Func adapts the bar with id to a downloader progress callback.
func (pm *ProgressManager) Func(id string) downloader.ProgressFunc {
	if pm == nil {
		return nil
	}
	return func(p downloader.Progress) {
		pm.send(updateMsg{id: id, progress: p})
	}
}

// Finish marks a bar done, with err shown in place of the bar when set.
func (pm *ProgressManager) Finish(id, result string, err error) {
	pm.send(finishMsg{id: id, result: result, err: err})
}

func (pm *ProgressManager) send(msg tea.Msg) {
	if pm == nil {
		return
	}
	pm.mu.Lock()
	program := pm.program
	pm.mu.Unlock()
	if program != nil {
		program.Send(msg)
	}
}

type registerMsg struct {
	id    string
	label string
	start time.Time
}

type updateMsg struct {
	id       string
	progress downloader.Progress
}

type finishMsg struct {
	id     string
	result string
	err    error
}

type stopMsg struct{}

type progressTask struct {
	label    string
	started  time.Time
	finished time.Time
	progress downloader.Progress
	bar      progressbar.Model
	spin     spinner.Model
	done     bool
	result   string
	err      error
}

type progressModel struct {
	tasks map[string]*progressTask
	order []string
	width int
}

func newProgressModel() *progressModel {
	return &progressModel{
		tasks: make(map[string]*progressTask),
		width: 80,
	}
}

func barWidth(total int) int {
	return max(10, total-10)
}

func truncateLine(text string, width int) string {
	r := []rune(text)
	if width <= 0 || len(r) <= width {
		return text
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}

func (m *progressModel) Init() tea.Cmd {
	return nil
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for _, task := range m.tasks {
			task.bar.Width = barWidth(m.width)
		}
	case registerMsg:
		if _, exists := m.tasks[msg.id]; exists {
			return m, nil
		}
		m.order = append(m.order, msg.id)
		spin := spinner.New()
		spin.Spinner = spinner.MiniDot
		spin.Style = spinnerStyle
		task := &progressTask{
			label:   msg.label,
			started: msg.start,
			bar: progressbar.New(
				progressbar.WithGradient("#FF006E", "#00F5FF"),
				progressbar.WithWidth(barWidth(m.width)),
				progressbar.WithoutPercentage(),
			),
			spin: spin,
		}
		m.tasks[msg.id] = task
		return m, tea.Batch(task.bar.SetPercent(0), task.spin.Tick)
	case updateMsg:
		task, ok := m.tasks[msg.id]
		if !ok || task.done {
			return m, nil
		}
		task.progress = msg.progress
		if msg.progress.Percent > 0 {
			return m, task.bar.SetPercent(min(1, msg.progress.Percent/100))
		}
	case finishMsg:
		task, ok := m.tasks[msg.id]
		if !ok {
			return m, nil
		}
		task.done = true
		task.finished = time.Now()
		task.result = msg.result
		task.err = msg.err
		if msg.err == nil {
			return m, task.bar.SetPercent(1)
		}
	case progressbar.FrameMsg:
		cmds := make([]tea.Cmd, 0, len(m.tasks))
		for _, task := range m.tasks {
			model, cmd := task.bar.Update(msg)
			if updated, ok := model.(progressbar.Model); ok {
				task.bar = updated
			}
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case spinner.TickMsg:
		cmds := make([]tea.Cmd, 0, len(m.tasks))
		for _, task := range m.tasks {
			if task.done {
				continue
			}
			var cmd tea.Cmd
			task.spin, cmd = task.spin.Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	case stopMsg:
		return m, tea.Quit
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.order) == 0 {
		return ""
	}
	var b strings.Builder
	for _, id := range m.order {
		task := m.tasks[id]
		b.WriteString(m.taskView(task))
	}
	return b.String()
}

func (m *progressModel) taskView(task *progressTask) string {
	var b strings.Builder
	label := labelStyle.Render(truncateLine(task.label, m.width-12))

	switch {
	case task.done && task.err != nil:
		fmt.Fprintf(&b, "%s %s\n", errorStyle.Render("✗"), label)
		b.WriteString("        " + errorStyle.Render(truncateLine(downloader.UserMessage(task.err), m.width-8)) + "\n")
		if hint := downloader.Hint(task.err); hint != "" {
			b.WriteString("        " + mutedStyle.Render(hint) + "\n")
		}
		return b.String()
	case task.done:
		fmt.Fprintf(&b, "%s %s\n", okStyle.Render("✓"), label)
		b.WriteString(task.bar.View() + "\n")
		line := fmt.Sprintf("%s · completed in %s", task.result, formatDurationShort(task.finished.Sub(task.started)))
		b.WriteString("        " + mutedStyle.Render(line) + "\n")
		return b.String()
	}

	p := task.progress
	fmt.Fprintf(&b, "%s %s %s\n", task.spin.View(), percentStyle.Render(fmt.Sprintf("%5.1f%%", p.Percent)), label)
	b.WriteString(task.bar.View() + "\n")
	b.WriteString("        " + mutedStyle.Render(statusLine(p, time.Since(task.started))) + "\n")
	return b.String()
}

func statusLine(p downloader.Progress, elapsed time.Duration) string {
	switch p.Stage {
	case downloader.StageProcessing:
		if p.Message != "" {
			return p.Message
		}
		return "processing"
	case "", downloader.StageStarting:
		if p.Message != "" {
			return p.Message
		}
		return "starting"
	}
	parts := []string{}
	if p.Total > 0 {
		parts = append(parts, media.FormatSize(p.Downloaded)+" / "+media.FormatSize(p.Total))
	}
	if p.Speed != "" {
		parts = append(parts, p.Speed)
	}
	parts = append(parts, "elapsed "+formatDurationShort(elapsed))
	if p.ETA > 0 {
		parts = append(parts, "eta "+formatDurationShort(p.ETA))
	}
	return strings.Join(parts, " · ")
}

func formatDurationShort(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.0fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}
