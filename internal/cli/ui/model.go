package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/motcorr/qcreport/internal/cli/hooks"
	"github.com/motcorr/qcreport/pkg/report"
)

const listHeightMargin = 4

// Phase messages shown in the header.
const (
	phaseInitializing = "Initializing..."
	phaseScanning     = "Scanning subjects..."
	phaseRendering    = "Rendering reports..."
	phaseComplete     = "Complete"
)

// Model is the bubbletea model of the batch progress view. Update is only
// ever called from the bubbletea event loop, so the model needs no locking.
type Model struct {
	list    list.Model
	spinner spinner.Model
	version string

	width       int
	height      int
	initialized bool

	subjectItems []listItem
	itemMap      map[string]int
	startedAt    map[string]time.Time

	summary      Summary
	phaseMessage string
	fatalError   string
	outputPath   string
	quitting     bool

	// listUpdatePending coalesces list refreshes into one UpdateListMsg per tick.
	listUpdatePending bool
}

// listItem is one subject row.
type listItem struct {
	subject  string
	status   report.Status
	message  string
	duration time.Duration
}

// Summary holds the aggregated counts displayed in the footer.
type Summary struct {
	TotalSubjects  int
	GeneratedCount int
	CachedCount    int
	SkippedCount   int
	ErrorCount     int
	CrashCount     int
	StartTime      time.Time
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles key presses, window resizes and hook messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.list.SetSize(m.width, max(m.height-listHeightMargin, 1))
		m.initialized = true

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		var listCmd tea.Cmd
		m.list, listCmd = m.list.Update(msg)
		cmds = append(cmds, listCmd)

	case spinner.TickMsg:
		if m.quitting {
			return m, nil
		}
		var spinnerCmd tea.Cmd
		m.spinner, spinnerCmd = m.spinner.Update(msg)
		cmds = append(cmds, spinnerCmd)

	case hooks.SubjectDiscoveredMsg:
		if _, exists := m.itemMap[msg.Subject]; !exists {
			m.subjectItems = append(m.subjectItems, listItem{subject: msg.Subject, status: report.StatusPending})
			m.itemMap[msg.Subject] = len(m.subjectItems) - 1
			m.summary.TotalSubjects++
			cmds = append(cmds, m.scheduleListUpdate())
		}
		if m.phaseMessage == phaseInitializing {
			m.phaseMessage = phaseScanning
		}

	case hooks.SubjectStatusUpdateMsg:
		m.applyStatus(msg)
		cmds = append(cmds, m.scheduleListUpdate())
		if msg.Status == report.StatusProcessing && m.phaseMessage != phaseComplete {
			m.phaseMessage = phaseRendering
		}

	case hooks.RunCompleteMsg:
		m.phaseMessage = phaseComplete
		info := msg.Summary.Info
		m.summary.TotalSubjects = info.SubjectsFound
		m.summary.GeneratedCount = info.GeneratedCount
		m.summary.CachedCount = info.CachedCount
		m.summary.SkippedCount = info.SkippedCount
		m.summary.ErrorCount = info.ErrorCount
		m.summary.CrashCount = info.CrashCount
		m.outputPath = info.OutputPath
		for _, e := range msg.Summary.Errors {
			if e.IsFatal {
				m.fatalError = fmt.Sprintf("Fatal error: %s (%s)", e.Error, e.Stage)
				break
			}
		}

	case UpdateListMsg:
		m.listUpdatePending = false
		items := make([]list.Item, len(m.subjectItems))
		for i, item := range m.subjectItems {
			items[i] = item
		}
		cmds = append(cmds, m.list.SetItems(items))
	}

	return m, tea.Batch(cmds...)
}

// applyStatus records a status change and keeps the footer counts in step.
func (m *Model) applyStatus(msg hooks.SubjectStatusUpdateMsg) {
	idx, ok := m.itemMap[msg.Subject]
	if !ok {
		m.subjectItems = append(m.subjectItems, listItem{subject: msg.Subject, status: report.StatusPending})
		idx = len(m.subjectItems) - 1
		m.itemMap[msg.Subject] = idx
		m.summary.TotalSubjects++
	}
	item := &m.subjectItems[idx]

	switch {
	case msg.Status == report.StatusProcessing:
		m.startedAt[msg.Subject] = time.Now()
		item.duration = 0
	case isFinalStatus(msg.Status):
		if msg.Duration > 0 {
			item.duration = msg.Duration
		} else if start, found := m.startedAt[msg.Subject]; found {
			item.duration = time.Since(start)
		}
		delete(m.startedAt, msg.Subject)
	}

	wasFinal := isFinalStatus(item.status)
	if isFinalStatus(msg.Status) && !wasFinal {
		m.adjustSummaryCount(msg.Status, 1)
	} else if !isFinalStatus(msg.Status) && wasFinal {
		m.adjustSummaryCount(item.status, -1)
	}
	item.status = msg.Status
	item.message = msg.Message
}

// View renders header, subject list and footer.
func (m *Model) View() string {
	if m.quitting {
		return "Exiting...\n"
	}
	if !m.initialized {
		return phaseInitializing
	}

	headerLeft := fmt.Sprintf("qcreport %s", m.version)
	headerRight := m.phaseMessage
	if m.phaseMessage != phaseComplete && m.phaseMessage != phaseInitializing {
		headerRight = m.spinner.View() + " " + m.phaseMessage
	}
	header := renderBar(HeaderStyle, m.width, headerLeft, headerRight)

	elapsed := time.Since(m.summary.StartTime).Round(time.Millisecond)
	summaryText := fmt.Sprintf(
		"Generated: %d (Cached: %d) | Skipped: %d | Failed: %d | Subjects: %d | Elapsed: %s",
		m.summary.GeneratedCount+m.summary.CachedCount,
		m.summary.CachedCount,
		m.summary.SkippedCount,
		m.summary.ErrorCount,
		m.summary.TotalSubjects,
		elapsed,
	)
	footer := renderBar(FooterStyle, m.width, summaryText, "q: quit")

	var extra []string
	if m.phaseMessage == phaseComplete && m.outputPath != "" {
		extra = append(extra, StatusStyleSuccess.Render("Reports written to "+m.outputPath))
	}
	if m.summary.CrashCount > 0 {
		extra = append(extra, StatusStyleSkipped.Render(fmt.Sprintf("%d crash record(s) included in reports", m.summary.CrashCount)))
	}
	if m.fatalError != "" {
		extra = append(extra, StatusStyleFailed.Render(m.fatalError))
	}

	parts := []string{header, m.list.View()}
	parts = append(parts, extra...)
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// renderBar renders a full-width bar in style with left and right at its ends.
// Width in lipgloss includes padding, so the content is spread over the inner width.
func renderBar(style lipgloss.Style, width int, left, right string) string {
	inner := width - style.GetHorizontalFrameSize()
	return style.Width(width).Render(joinSpread(inner, left, right))
}

// joinSpread places left and right at the two ends of a line of the given width.
func joinSpread(width int, left, right string) string {
	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	center := ""
	if gap > 0 {
		center = lipgloss.PlaceHorizontal(gap, lipgloss.Center, " ")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, left, center, right)
}

// NewModel creates the initial TUI model.
func NewModel(version string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(ColorStatusProcessing)

	delegate := list.NewDefaultDelegate()
	delegate.SetSpacing(0)
	delegate.ShowDescription = true
	delegate.Styles.SelectedTitle = delegate.Styles.SelectedTitle.
		Foreground(ColorSelectedFg).
		Background(ColorSelectedBg).
		Bold(true).
		Padding(0, 0, 0, 1)
	delegate.Styles.SelectedDesc = delegate.Styles.SelectedDesc.
		Foreground(ColorSelectedDescFg).
		Background(ColorSelectedBg).
		Padding(0, 0, 0, 1)
	delegate.Styles.NormalTitle = delegate.Styles.NormalTitle.
		Foreground(ColorNormalFg).Padding(0, 0, 0, 1)
	delegate.Styles.NormalDesc = delegate.Styles.NormalDesc.
		Foreground(ColorNormalDescFg).Padding(0, 0, 0, 1)

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetShowFilter(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	if version == "" {
		version = "dev"
	}
	return &Model{
		list:         l,
		spinner:      s,
		version:      version,
		summary:      Summary{StartTime: time.Now()},
		phaseMessage: phaseInitializing,
		subjectItems: make([]listItem, 0, 64),
		itemMap:      make(map[string]int),
		startedAt:    make(map[string]time.Time),
	}
}

func isFinalStatus(status report.Status) bool {
	return status == report.StatusSuccess ||
		status == report.StatusFailed ||
		status == report.StatusSkipped ||
		status == report.StatusCached
}

func (m *Model) adjustSummaryCount(status report.Status, delta int) {
	switch status {
	case report.StatusSuccess:
		m.summary.GeneratedCount += delta
	case report.StatusCached:
		m.summary.CachedCount += delta
	case report.StatusSkipped:
		m.summary.SkippedCount += delta
	case report.StatusFailed:
		m.summary.ErrorCount += delta
	}
}

// FilterValue implements list.Item.
func (i listItem) FilterValue() string { return i.subject }

// Title implements list.DefaultItem.
func (i listItem) Title() string { return i.subject }

// Description implements list.DefaultItem.
func (i listItem) Description() string {
	style := StatusStylePending
	icon := " "
	switch i.status {
	case report.StatusSuccess:
		style, icon = StatusStyleSuccess, "✓"
	case report.StatusFailed:
		style, icon = StatusStyleFailed, "✗"
	case report.StatusSkipped:
		style, icon = StatusStyleSkipped, "S"
	case report.StatusCached:
		style, icon = StatusStyleCached, "C"
	case report.StatusProcessing:
		style, icon = StatusStyleProcessing, "…"
	}

	details := ""
	switch i.status {
	case report.StatusFailed:
		details = i.message
	case report.StatusSkipped:
		reason, _, _ := strings.Cut(i.message, ":")
		details = strings.TrimSpace(reason)
	case report.StatusSuccess, report.StatusCached:
		details = formatDuration(i.duration)
		if i.message != "" {
			details = strings.TrimSpace(details + " " + i.message)
		}
	}
	return fmt.Sprintf("%s %s", style.Render("["+icon+"]"), details)
}

func formatDuration(d time.Duration) string {
	switch {
	case d == 0:
		return ""
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}

// UpdateListMsg signals that the list component should refresh its items.
type UpdateListMsg struct{}

const listUpdateDebounceDuration = 50 * time.Millisecond

// scheduleListUpdate returns a tick producing UpdateListMsg unless one is already pending.
func (m *Model) scheduleListUpdate() tea.Cmd {
	if m.listUpdatePending {
		return nil
	}
	m.listUpdatePending = true
	return tea.Tick(listUpdateDebounceDuration, func(time.Time) tea.Msg {
		return UpdateListMsg{}
	})
}
