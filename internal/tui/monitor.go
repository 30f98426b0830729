package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/phylorun/internal/supervisor"
	"github.com/ShayCichocki/phylorun/pkg/models"
)

const (
	outputLines = 10
	logLines    = 8
)

// EventMsg wraps a supervisor event for the TUI.
type EventMsg struct {
	Event supervisor.Event
}

// DoneMsg is sent when the supervisor has stopped.
type DoneMsg struct {
	Err error
}

// stopResultMsg carries the outcome of a stop request.
type stopResultMsg struct {
	jobID string
	err   error
}

// StopHandler stops a running job. It may block until the engine exits.
type StopHandler func(jobID string) error

// JobState is what the monitor knows about the current job.
type JobState struct {
	JobID      string
	Category   models.Category
	Phase      supervisor.Phase
	Status     models.JobStatus
	Percentage float64
	// Reported is set once the engine has reported progress.
	Reported  bool
	Consensus string
	Message   string
}

// Active reports whether the job's engine may still be running.
func (s JobState) Active() bool {
	return s.JobID != "" && !s.Status.Terminal()
}

// LogEntry is a line in the activity log.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
}

// MonitorApp is the bubbletea model for `phylorun run --tui`.
type MonitorApp struct {
	keys    keyMap
	spinner spinner.Model
	job     JobState
	output  *OutputStream
	logs    []LogEntry

	width       int
	height      int
	quitting    bool
	done        bool
	err         error
	confirmStop bool
	stopping    bool
	stopHandler StopHandler

	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	phaseStyle    lipgloss.Style
	outputStyle   lipgloss.Style
	logTimeStyle  lipgloss.Style
	errorStyle    lipgloss.Style
	doneStyle     lipgloss.Style
	helpStyle     lipgloss.Style
}

// NewMonitorApp creates a new MonitorApp instance.
func NewMonitorApp() *MonitorApp {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return &MonitorApp{
		keys:    defaultKeyMap(),
		spinner: sp,
		output:  NewOutputStream(DefaultBufferSize),

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")),

		progressEmpty: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		phaseStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		outputStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("250")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1),

		logTimeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),

		errorStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),

		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),

		helpStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
	}
}

// SetRefreshRate sets how often the spinner redraws.
func (a *MonitorApp) SetRefreshRate(d time.Duration) {
	if d > 0 {
		a.spinner.Spinner.FPS = d
	}
}

// SetStopHandler sets the callback used by the stop key.
func (a *MonitorApp) SetStopHandler(h StopHandler) {
	a.stopHandler = h
}

// Job returns the current job state.
func (a *MonitorApp) Job() JobState {
	return a.job
}

// Logs returns the activity log.
func (a *MonitorApp) Logs() []LogEntry {
	return a.logs
}

// Init implements tea.Model.
func (a *MonitorApp) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update implements tea.Model.
func (a *MonitorApp) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)

	case stopResultMsg:
		a.stopping = false
		if msg.err != nil {
			a.addLog("ERROR", fmt.Sprintf("stop %s: %v", msg.jobID, msg.err))
		} else {
			a.addLog("INFO", fmt.Sprintf("stop %s confirmed", msg.jobID))
		}

	case DoneMsg:
		a.done = true
		a.err = msg.Err
	}

	return a, nil
}

func (a *MonitorApp) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.confirmStop {
		switch {
		case key.Matches(msg, a.keys.Confirm):
			a.confirmStop = false
			return a, a.requestStop(a.job.JobID)
		case key.Matches(msg, a.keys.Cancel):
			a.confirmStop = false
			return a, nil
		}
	}

	switch {
	case key.Matches(msg, a.keys.Quit):
		a.quitting = true
		return a, tea.Quit
	case key.Matches(msg, a.keys.Stop):
		if a.stopHandler != nil && a.job.Active() && !a.stopping {
			a.confirmStop = true
		}
	}
	return a, nil
}

func (a *MonitorApp) requestStop(jobID string) tea.Cmd {
	if a.stopHandler == nil || jobID == "" {
		return nil
	}
	a.stopping = true
	a.addLog("INFO", fmt.Sprintf("stopping %s", jobID))
	h := a.stopHandler
	return func() tea.Msg {
		return stopResultMsg{jobID: jobID, err: h(jobID)}
	}
}

// handleEvent folds a supervisor event into the monitor state.
func (a *MonitorApp) handleEvent(e supervisor.Event) {
	if e.JobID != "" && e.JobID != a.job.JobID {
		a.job = JobState{JobID: e.JobID, Category: e.Category}
		a.output.Reset()
		a.confirmStop = false
	}

	switch e.Type {
	case supervisor.EventStatus:
		if e.Phase != a.job.Phase {
			a.addLog("INFO", fmt.Sprintf("job %s %s (%s)", e.JobID, e.Phase, e.Status))
		}
		a.job.Phase = e.Phase
		a.job.Status = e.Status
		if e.Percentage > a.job.Percentage {
			a.job.Percentage = e.Percentage
		}

	case supervisor.EventProgress:
		a.job.Reported = true
		if e.Percentage > a.job.Percentage {
			a.job.Percentage = e.Percentage
		}

	case supervisor.EventOutput:
		a.output.Write(e.Data)

	case supervisor.EventConsensus:
		a.job.Consensus = e.Message
		a.addLog("INFO", fmt.Sprintf("job %s consensus tree stored", e.JobID))

	case supervisor.EventError:
		a.job.Phase = e.Phase
		a.job.Status = e.Status
		a.job.Message = e.Message
		a.addLog("ERROR", fmt.Sprintf("job %s: %s", e.JobID, e.Message))
	}
}

func (a *MonitorApp) addLog(level, msg string) {
	a.logs = append(a.logs, LogEntry{Timestamp: time.Now(), Level: level, Message: msg})
}

// View implements tea.Model.
func (a *MonitorApp) View() string {
	if a.quitting {
		return "Monitor closed.\n"
	}

	var b strings.Builder

	b.WriteString(a.headerStyle.Render("=== phylorun ==="))
	b.WriteString("\n\n")

	b.WriteString(a.renderJob())
	b.WriteString("\n")

	if tail := a.output.Tail(outputLines); len(tail) > 0 {
		b.WriteString(a.renderOutput(tail))
		b.WriteString("\n")
	}

	b.WriteString(a.renderLogs())
	b.WriteString("\n")
	b.WriteString(a.renderFooter())
	b.WriteString("\n")

	return b.String()
}

func (a *MonitorApp) renderJob() string {
	var b strings.Builder

	if a.job.JobID == "" {
		b.WriteString(a.spinner.View())
		b.WriteString(" waiting for ready jobs\n")
		return b.String()
	}

	row := func(label, value string) {
		b.WriteString(a.labelStyle.Render(label))
		b.WriteString(value)
		b.WriteString("\n")
	}

	row("Job:", a.valueStyle.Render(a.job.JobID))
	row("Category:", a.valueStyle.Render(string(a.job.Category)))
	row("Phase:", a.phaseStyle.Render(string(a.job.Phase)))

	status := string(a.job.Status)
	if a.job.Active() {
		status = a.spinner.View() + " " + status
	}
	row("Status:", status)

	switch {
	case a.job.Reported || a.job.Status == models.JobFinished:
		b.WriteString(a.renderProgressBar(a.job.Percentage, 30))
		b.WriteString("\n")
	case a.job.Active():
		b.WriteString(a.helpStyle.Render("  engine reports no progress"))
		b.WriteString("\n")
	}

	if a.job.Consensus != "" {
		tree := a.job.Consensus
		if limit := a.width - 16; limit > 20 && len(tree) > limit {
			tree = tree[:limit-3] + "..."
		}
		row("Consensus:", tree)
	}
	if a.job.Message != "" {
		row("Error:", a.errorStyle.Render(a.job.Message))
	}

	return b.String()
}

// renderProgressBar renders a progress bar.
func (a *MonitorApp) renderProgressBar(pct float64, width int) string {
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}

	filled := int(pct / 100 * float64(width))
	empty := width - filled

	bar := a.progressFull.Render(strings.Repeat("█", filled)) +
		a.progressEmpty.Render(strings.Repeat("░", empty))

	return fmt.Sprintf("  %s %.1f%%", bar, pct)
}

func (a *MonitorApp) renderOutput(lines []string) string {
	style := a.outputStyle
	if a.width > 4 {
		style = style.Width(a.width - 4)
	}
	return style.Render(strings.Join(lines, "\n"))
}

// renderLogs renders the recent log entries.
func (a *MonitorApp) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity Log"))
	b.WriteString("\n")

	start := 0
	if len(a.logs) > logLines {
		start = len(a.logs) - logLines
	}

	for _, entry := range a.logs[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		msg := entry.Message
		if entry.Level == "ERROR" {
			msg = a.errorStyle.Render(msg)
		}
		b.WriteString(fmt.Sprintf("  %s %s\n", ts, msg))
	}

	return b.String()
}

func (a *MonitorApp) renderFooter() string {
	if a.confirmStop {
		return a.errorStyle.Render(fmt.Sprintf("Stop job %s? (y/n)", a.job.JobID))
	}
	if a.done {
		if a.err != nil {
			return a.errorStyle.Render(fmt.Sprintf("Supervisor stopped: %v. Press q to exit.", a.err))
		}
		return a.doneStyle.Render("Queue drained. Press q to exit.")
	}

	help := []string{helpText(a.keys.Quit)}
	if a.stopHandler != nil && a.job.Active() {
		help = append(help, helpText(a.keys.Stop))
	}
	return a.helpStyle.Render(strings.Join(help, " | "))
}

func helpText(b key.Binding) string {
	h := b.Help()
	return h.Key + " " + h.Desc
}

// NewMonitorProgram creates a new Bubbletea program for the monitor.
func NewMonitorProgram() (*tea.Program, *MonitorApp) {
	app := NewMonitorApp()
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}

// Forward sends supervisor events to the program until events is closed.
func Forward(p *tea.Program, events <-chan supervisor.Event) {
	for e := range events {
		p.Send(EventMsg{Event: e})
	}
}
