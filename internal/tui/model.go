// Package tui implements the interactive scheduled-jobs browser.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/autopay/internal/model"
	"github.com/Veraticus/autopay/internal/tui/themes"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// JobManager lists and removes scheduled jobs.
type JobManager interface {
	List(ctx context.Context) ([]model.ScheduledJob, error)
	Remove(ctx context.Context, id string) error
}

// Model is the bubbletea model of the jobs browser.
type Model struct {
	ctx        context.Context
	manager    JobManager
	now        func() time.Time
	keys       KeyMap
	theme      themes.Theme
	err        error
	status     string
	confirming string
	jobs       []model.ScheduledJob
	help       help.Model
	table      table.Model
	width      int
	height     int
	quitting   bool
}

// NewModel creates the jobs browser.
func NewModel(ctx context.Context, manager JobManager, theme themes.Theme) Model {
	columns := []table.Column{
		{Title: "Due", Width: 16},
		{Title: "Type", Width: 8},
		{Title: "Title", Width: 28},
		{Title: "Details", Width: 32},
		{Title: "ID", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.Border).
		BorderBottom(true).
		Bold(false)
	s.Selected = theme.Selected
	t.SetStyles(s)

	return Model{
		ctx:     ctx,
		manager: manager,
		now:     time.Now,
		keys:    DefaultKeyMap(),
		theme:   theme,
		help:    help.New(),
		table:   t,
		width:   100,
		height:  24,
	}
}

// Init loads the job list.
func (m Model) Init() tea.Cmd {
	return m.load
}

func (m Model) load() tea.Msg {
	jobs, err := m.manager.List(m.ctx)
	if err != nil {
		return errMsg{err: err}
	}
	return jobsLoadedMsg{jobs: jobs}
}

func (m Model) remove(id string) tea.Cmd {
	return func() tea.Msg {
		if err := m.manager.Remove(m.ctx, id); err != nil {
			return errMsg{err: err}
		}
		return jobRemovedMsg{id: id}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetHeight(max(3, msg.Height-8))
		m.help.Width = msg.Width
		return m, nil

	case jobsLoadedMsg:
		m.jobs = msg.jobs
		m.err = nil
		m.table.SetRows(m.rows())
		if m.table.Cursor() >= len(m.jobs) {
			m.table.SetCursor(max(0, len(m.jobs)-1))
		}
		return m, nil

	case jobRemovedMsg:
		m.status = fmt.Sprintf("Removed job %s", shortID(msg.id))
		return m, m.load

	case errMsg:
		m.err = msg.err
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirming != "" {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			id := m.confirming
			m.confirming = ""
			return m, m.remove(id)
		case key.Matches(msg, m.keys.Cancel), key.Matches(msg, m.keys.Quit):
			m.confirming = ""
			m.status = "Removal canceled"
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Refresh):
		m.status = ""
		return m, m.load
	case key.Matches(msg, m.keys.Remove):
		if job, ok := m.Selected(); ok {
			m.confirming = job.ID
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// Selected returns the job under the cursor.
func (m Model) Selected() (model.ScheduledJob, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.jobs) {
		return model.ScheduledJob{}, false
	}
	return m.jobs[i], true
}

func (m Model) rows() []table.Row {
	now := m.now()
	rows := make([]table.Row, 0, len(m.jobs))
	for _, job := range m.jobs {
		due := job.Date.Local().Format("2006-01-02 15:04")
		if !job.Date.After(now) {
			due += " !"
		}
		rows = append(rows, table.Row{
			due,
			string(job.Type),
			job.Title,
			details(job),
			shortID(job.ID),
		})
	}
	return rows
}

func details(job model.ScheduledJob) string {
	switch {
	case job.Payment != nil:
		p := job.Payment
		currency := p.Currency
		if currency == "" {
			currency = model.DefaultCurrency
		}
		return fmt.Sprintf("%s %s → %s", currency, model.FormatAmount(p.Amount), p.ToAlias)
	case job.Notification != nil:
		return job.Notification.Subject
	default:
		return ""
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// View renders the browser.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.theme.Title.Render(fmt.Sprintf("Scheduled jobs (%d)", len(m.jobs))))
	b.WriteString("\n")

	if len(m.jobs) == 0 {
		b.WriteString(m.theme.StatusPending.Render("No jobs queued."))
	} else {
		b.WriteString(m.table.View())
	}
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(m.theme.StatusError.Render("Error: " + m.err.Error()))
	case m.confirming != "":
		b.WriteString(m.theme.StatusWarning.Render(fmt.Sprintf("Remove job %s? (y/n)", shortID(m.confirming))))
	case m.status != "":
		b.WriteString(m.theme.StatusSuccess.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))

	return b.String()
}
