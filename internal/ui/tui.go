package ui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TUIRenderer draws live progress with bubbletea.
type TUIRenderer struct {
	mu      sync.Mutex
	cfg     Config
	program *tea.Program
	model   *syncModel
	tracker *ProgressTracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTUIRenderer fails when the output is not a terminal.
func NewTUIRenderer(cfg Config) (*TUIRenderer, error) {
	if !IsTTY(cfg.Output) {
		return nil, fmt.Errorf("output is not a TTY")
	}
	tracker := NewProgressTracker()
	model := newSyncModel(tracker, cfg.Target)
	if cfg.NoColor || DetectNoColor() {
		model.styles = NoColorStyles()
	}
	return &TUIRenderer{
		cfg:     cfg,
		tracker: tracker,
		model:   model,
		done:    make(chan struct{}),
	}, nil
}

// Start implements Renderer.
func (r *TUIRenderer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.program != nil {
		return nil
	}

	ctx, r.cancel = context.WithCancel(ctx)
	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if f, ok := r.cfg.Output.(*os.File); ok {
		opts = append(opts, tea.WithOutput(f))
	}
	r.program = tea.NewProgram(r.model, opts...)

	go func() {
		defer close(r.done)
		_, _ = r.program.Run()
	}()
	return nil
}

// UpdateProgress implements Renderer.
func (r *TUIRenderer) UpdateProgress(ev ProgressEvent) {
	r.tracker.Apply(ev)
	r.send(progressMsg(ev))
}

// AddError implements Renderer.
func (r *TUIRenderer) AddError(ev ErrorEvent) {
	r.tracker.AddError(ev)
	r.send(errorMsg(ev))
}

// Complete implements Renderer.
func (r *TUIRenderer) Complete(stats CompletionStats) {
	r.tracker.Complete()
	r.send(completeMsg(stats))
}

func (r *TUIRenderer) send(msg tea.Msg) {
	r.mu.Lock()
	p := r.program
	r.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

// Stop implements Renderer. It waits briefly for the program to draw its
// final frame.
func (r *TUIRenderer) Stop() error {
	r.mu.Lock()
	p, cancel := r.program, r.cancel
	r.mu.Unlock()
	if p == nil {
		return nil
	}

	select {
	case <-r.done:
	case <-time.After(500 * time.Millisecond):
		p.Quit()
		select {
		case <-r.done:
		case <-time.After(2 * time.Second):
		}
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

type (
	progressMsg ProgressEvent
	errorMsg    ErrorEvent
	completeMsg CompletionStats
	tickMsg     time.Time
)

// syncModel is the bubbletea model for a sync run.
type syncModel struct {
	tracker  *ProgressTracker
	target   string
	width    int
	quitting bool
	complete bool
	stats    CompletionStats
	spinner  spinner.Model
	bar      progress.Model
	styles   Styles
}

func newSyncModel(tracker *ProgressTracker, target string) *syncModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorAccent))

	return &syncModel{
		tracker: tracker,
		target:  target,
		width:   80,
		spinner: s,
		bar: progress.New(
			progress.WithSolidFill(ColorAccent),
			progress.WithWidth(40),
			progress.WithoutPercentage(),
		),
		styles: DefaultStyles(),
	}
}

// Init implements tea.Model.
func (m *syncModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tick())
}

func tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update implements tea.Model.
func (m *syncModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.quitting = true
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(msg.Width-30, 20)
	case completeMsg:
		m.complete = true
		m.stats = CompletionStats(msg)
		return m, tea.Quit
	case tickMsg:
		return m, tick()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *syncModel) View() string {
	if m.quitting {
		return "Cancelled.\n"
	}
	if m.complete {
		return m.renderComplete()
	}

	width := max(m.width-4, 40)
	divider := m.styles.Border.Render(strings.Repeat("─", width))
	sections := []string{
		m.renderStages(),
		divider,
		m.renderCounts(),
		m.renderSpeed(),
		divider,
		m.styles.Sparkline.Render(m.tracker.RenderSparkline(width-12)) + " " + m.styles.Dim.Render("docs/sec"),
	}

	title := "Legal codes sync"
	if m.target != "" {
		title += " • " + m.target
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorDarkGray)).
		Padding(0, 1).
		Width(width)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.Header.Render(title),
		panel.Render(strings.Join(sections, "\n")),
	) + "\n" + m.renderStatusBar()
}

// renderStages draws the pipeline with the active stage highlighted.
func (m *syncModel) renderStages() string {
	current := m.tracker.Stats().Stage
	stages := []Stage{StageRetrying, StageReading, StageEncoding, StageWriting}

	parts := make([]string, len(stages))
	for i, s := range stages {
		switch {
		case s == current:
			parts[i] = m.styles.Active.Render(m.spinner.View() + " " + s.String())
		case s < current:
			parts[i] = m.styles.Success.Render("● " + s.String())
		default:
			parts[i] = m.styles.Dim.Render("○ " + s.String())
		}
	}
	return strings.Join(parts, m.styles.Dim.Render(" → "))
}

func (m *syncModel) renderCounts() string {
	st := m.tracker.Stats()
	if st.Processed == 0 {
		return fmt.Sprintf("%s %s batch %d...", m.spinner.View(), st.Stage, max(st.Batch, 1))
	}
	ratio := m.tracker.SuccessRatio()
	return fmt.Sprintf("%s  %s\n%s",
		m.bar.ViewAs(ratio),
		m.styles.Active.Render(fmt.Sprintf("%3.0f%% committed", ratio*100)),
		m.styles.Label.Render(fmt.Sprintf("batch %d • %d processed • %d committed • %d failed",
			st.Batch, st.Processed, st.Committed, st.Failed)))
}

func (m *syncModel) renderSpeed() string {
	st := m.tracker.Stats()
	line := fmt.Sprintf("Speed: %.0f/s", st.Speed.Current)
	if st.Speed.Avg > 0 {
		line += fmt.Sprintf(" (avg: %.0f, peak: %.0f)", st.Speed.Avg, st.Speed.Peak)
	}
	return m.styles.Label.Render(line) + m.styles.Dim.Render("  •  ") +
		m.styles.Label.Render("Elapsed: "+formatDuration(st.Elapsed))
}

func (m *syncModel) renderStatusBar() string {
	st := m.tracker.Stats()
	var parts []string
	if st.WarnCount > 0 {
		parts = append(parts, m.styles.Warning.Render(fmt.Sprintf("⚠ %d warnings", st.WarnCount)))
	}
	if st.ErrorCount > 0 {
		parts = append(parts, m.styles.Error.Render(fmt.Sprintf("✗ %d failed documents", st.ErrorCount)))
	}
	parts = append(parts, m.styles.Dim.Render("ctrl+c to stop"))
	return strings.Join(parts, m.styles.Dim.Render("  │  "))
}

func (m *syncModel) renderComplete() string {
	s := m.stats
	header := m.styles.Success.Render("✓ Sync complete")
	if s.Err != nil {
		header = m.styles.Error.Render("✗ Sync stopped: " + s.Err.Error())
	}
	row := func(label string, v any) string {
		return fmt.Sprintf("%s %s", m.styles.Label.Render(fmt.Sprintf("%-11s", label)), m.styles.Active.Render(fmt.Sprint(v)))
	}

	lines := []string{
		header,
		"",
		row("Committed:", s.Committed),
		row("Failed:", s.Failed),
		row("Skipped:", s.Skipped),
		row("Unchanged:", s.Unchanged),
		row("Duration:", formatDuration(s.Duration)),
	}
	if !s.Watermark.IsZero() {
		lines = append(lines, row("Watermark:", s.Watermark.UTC().Format(time.RFC3339)))
	}
	if s.Gaps > 0 {
		lines = append(lines, "", m.styles.Warning.Render(fmt.Sprintf("⚠ %d documents exceeded the retry limit", s.Gaps)))
	}

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorAccent)).
		Padding(1, 2).
		Width(max(m.width-4, 40)).
		Render(strings.Join(lines, "\n")) + "\n"
}

// formatDuration renders d as "42s", "3m 5s" or "1h 2m".
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		if s := int(d.Seconds()) % 60; s != 0 {
			return fmt.Sprintf("%dm %ds", int(d.Minutes()), s)
		}
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

var _ Renderer = (*TUIRenderer)(nil)
