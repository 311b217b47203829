// Package ui renders the progress of a running mirror in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/franksops/filestore/engine"
)

// UIState is what the model draws. It is rebuilt from an engine.Progress on
// every tick.
type UIState struct {
	Source      string
	Destination string

	TotalFiles     int64
	TotalBytes     int64
	CompletedFiles int64
	CompletedBytes int64
	SkippedFiles   int64
	FailedFiles    int64

	ActiveStreams  []*ActiveStream
	ActiveWorkers  int
	ThroughputBPms float64 // bytes per millisecond, completed plus in flight
	IsRunning      bool
	Done           bool
}

// ActiveStream is one in-flight copy.
type ActiveStream struct {
	JobID    string
	FilePath string
	Progress float64 // 0..1
	BytesSec float64
}

// FromProgress converts a mirror snapshot into UI state.
func FromProgress(p engine.Progress) *UIState {
	state := &UIState{
		TotalFiles:     p.TotalFiles,
		TotalBytes:     p.TotalBytes,
		CompletedFiles: p.CompletedFiles,
		CompletedBytes: p.CompletedBytes,
		SkippedFiles:   p.SkippedFiles,
		FailedFiles:    p.FailedFiles,
		ActiveWorkers:  p.Workers,
		IsRunning:      true,
	}

	var inFlight int64
	now := time.Now()
	for _, a := range p.Active {
		inFlight += a.Bytes
		s := &ActiveStream{JobID: a.JobID, FilePath: a.Path}
		if a.Total > 0 {
			s.Progress = min(float64(a.Bytes)/float64(a.Total), 1)
		}
		if secs := now.Sub(a.Started).Seconds(); secs > 0 {
			s.BytesSec = float64(a.Bytes) / secs
		}
		state.ActiveStreams = append(state.ActiveStreams, s)
	}

	if ms := p.Elapsed.Milliseconds(); ms > 0 {
		state.ThroughputBPms = float64(p.CompletedBytes+inFlight) / float64(ms)
	}
	return state
}

// TUIUpdateMsg replaces the drawn state.
type TUIUpdateMsg struct {
	State *UIState
}

// WorkerCountMsg asks for the pool to grow or shrink by its value.
type WorkerCountMsg int

type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	speed   lipgloss.Style
	help    lipgloss.Style
	failure lipgloss.Style
	done    lipgloss.Style
}

func defaultStyles() styles {
	pink := lipgloss.Color("205")
	grey := lipgloss.Color("241")
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(pink).Padding(0, 1),
		muted:   lipgloss.NewStyle().Foreground(grey),
		speed:   lipgloss.NewStyle().Foreground(lipgloss.Color("78")),
		help:    lipgloss.NewStyle().Foreground(grey).MarginTop(1),
		failure: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
	}
}

// chrome is the number of rows drawn around the stream list.
const chrome = 8

// A stream row is the shortened path, the speed column and a bar that takes
// whatever width is left.
const (
	pathCols   = 40
	streamCols = pathCols + 10 + 10
)

// TUIModel is the bubbletea model of the mirror screen.
type TUIModel struct {
	state     *UIState
	onWorkers func(delta int)

	spinner   spinner.Model
	bar       progress.Model
	streamBar progress.Model
	streams   viewport.Model
	style     styles
	width     int
	height    int
}

// NewTUIModel creates the model. onWorkers receives +1 or -1 when the user
// resizes the pool and may be nil.
func NewTUIModel(state *UIState, onWorkers func(delta int)) TUIModel {
	sp := spinner.New(spinner.WithSpinner(spinner.Dot))
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return TUIModel{
		state:     state,
		onWorkers: onWorkers,
		spinner:   sp,
		bar:       progress.New(progress.WithDefaultGradient()),
		streamBar: progress.New(progress.WithDefaultGradient()),
		style:     defaultStyles(),
	}
}

func (m TUIModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case WorkerCountMsg:
		if m.onWorkers != nil {
			m.onWorkers(int(msg))
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar.Width = msg.Width - 14
		m.streamBar.Width = max(msg.Width-streamCols, 10)
		m.streams = viewport.New(msg.Width, max(msg.Height-chrome, 1))

	case TUIUpdateMsg:
		m.state = msg.State
		if m.state.Done {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progress.FrameMsg:
		model, cmd := m.bar.Update(msg)
		m.bar = model.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m TUIModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var delta WorkerCountMsg
	switch msg.String() {
	case "q", "ctrl+c":
		m.state.IsRunning = false
		return m, tea.Quit
	case "+", "=":
		delta = 1
	case "-":
		delta = -1
	default:
		return m, nil
	}
	return m, func() tea.Msg { return delta }
}

func (m TUIModel) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var b strings.Builder
	m.renderHeader(&b)
	m.renderTotals(&b)
	m.renderStreams(&b)
	m.renderFooter(&b)
	return b.String()
}

func (m TUIModel) renderHeader(b *strings.Builder) {
	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	b.WriteString(m.style.title.Render("filestore mirror"))
	if st := m.state; st.Source != "" {
		b.WriteString(m.style.muted.Render(" " + st.Source + " -> " + st.Destination))
	}
	b.WriteString("\n")
}

func (m TUIModel) renderTotals(b *strings.Builder) {
	st := m.state
	var done float64
	if st.TotalBytes > 0 {
		done = float64(st.CompletedBytes) / float64(st.TotalBytes)
	}

	line := fmt.Sprintf("ETA: %s | Workers: %d | Files: %d/%d | %s / %s",
		formatETA(done, st.ThroughputBPms, st.TotalBytes, st.CompletedBytes),
		st.ActiveWorkers, st.CompletedFiles, st.TotalFiles,
		formatBytes(st.CompletedBytes), formatBytes(st.TotalBytes))
	b.WriteString(m.style.muted.Render(line) + "\n")

	if st.SkippedFiles > 0 || st.FailedFiles > 0 {
		b.WriteString(m.style.muted.Render(fmt.Sprintf("Skipped: %d", st.SkippedFiles)))
		if st.FailedFiles > 0 {
			b.WriteString(" " + m.style.failure.Render(fmt.Sprintf("Failed: %d", st.FailedFiles)))
		}
		b.WriteString("\n")
	}
	b.WriteString(m.bar.ViewAs(done) + "\n\n")
}

func (m TUIModel) renderStreams(b *strings.Builder) {
	b.WriteString("Active Streams:\n")
	if len(m.state.ActiveStreams) == 0 {
		m.streams.SetContent(m.style.muted.Render("No active streams..."))
		b.WriteString(m.streams.View())
		return
	}

	rows := make([]string, 0, len(m.state.ActiveStreams))
	for _, s := range m.state.ActiveStreams {
		rows = append(rows, fmt.Sprintf("%-*s | %s | %s",
			pathCols, shortenPath(s.FilePath, pathCols),
			m.style.speed.Render(fmt.Sprintf("%-10s", formatSpeed(s.BytesSec))),
			m.streamBar.ViewAs(s.Progress)))
	}
	m.streams.SetContent(strings.Join(rows, "\n"))
	b.WriteString(m.streams.View())
}

func (m TUIModel) renderFooter(b *strings.Builder) {
	b.WriteString("\n")
	if m.state.Done {
		b.WriteString(m.style.done.Render("Mirror Complete!") + " Press 'q' to exit.")
		return
	}
	b.WriteString(m.style.help.Render("q/ctrl+c: quit • +/-: adjust workers"))
}

// shortenPath keeps the tail of p so that it fits in width runes.
func shortenPath(p string, width int) string {
	r := []rune(p)
	if len(r) <= width {
		return p
	}
	return "..." + string(r[len(r)-(width-3):])
}

var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

func formatBytes(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	v, i := float64(n), 0
	for v >= 1024 && i < len(byteUnits)-1 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", v, byteUnits[i])
}

func formatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 1024 {
		return fmt.Sprintf("%.0f B/s", bytesPerSec)
	}
	v, i := bytesPerSec, 0
	for v >= 1024 && i < 3 {
		v /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s/s", v, byteUnits[i])
}

// formatETA estimates the remaining time from the overall throughput.
func formatETA(done, bytesPerMs float64, total, completed int64) string {
	if done == 0 || bytesPerMs <= 0 || total == 0 {
		return "Calculating..."
	}
	left := total - completed
	if left <= 0 {
		return "0s"
	}
	eta := time.Duration(float64(left)/bytesPerMs) * time.Millisecond
	if eta > 24*time.Hour {
		return "> 1d"
	}
	return eta.Round(time.Second).String()
}
