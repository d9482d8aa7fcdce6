package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/HsGalaxy/gptload-go/internal/core/domain"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			MarginBottom(1)

	availableStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
	unavailableStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	footerStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1)
	errStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

const pollInterval = 2 * time.Second

type upstreamsMsg struct {
	rows []upstreamRow
	err  error
}

type requestMsg domain.RequestLogEntry

// model is the ollactl root bubbletea.Model: a table of upstreams refreshed
// by polling, plus a scrolling tail of the most recent completed requests
// fed by the admin SSE stream. Polling and streaming run as independent
// tea.Cmd loops so a stalled SSE connection never blocks the upstream table.
type model struct {
	client *client

	upstreams table.Model
	requests  []domain.RequestLogEntry
	maxTail   int

	lastErr error
	width   int
	height  int

	reqCh chan domain.RequestLogEntry
	done  chan struct{}
}

func newModel(c *client) model {
	columns := []table.Column{
		{Title: "UPSTREAM", Width: 16},
		{Title: "BASE URL", Width: 32},
		{Title: "WEIGHT", Width: 6},
		{Title: "KEYS", Width: 5},
		{Title: "2XX", Width: 8},
		{Title: "4XX", Width: 8},
		{Title: "5XX", Width: 8},
		{Title: "STATUS", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	return model{
		client:    c,
		upstreams: t,
		maxTail:   12,
		reqCh:     make(chan domain.RequestLogEntry, 64),
		done:      make(chan struct{}),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(pollUpstreams(m.client), startRequestStream(m.client, m.reqCh, m.done), waitForRequest(m.reqCh))
}

func pollUpstreams(c *client) tea.Cmd {
	return func() tea.Msg {
		rows, err := c.listUpstreams()
		return upstreamsMsg{rows: rows, err: err}
	}
}

func tickPoll(c *client) tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return pollUpstreams(c)()
	})
}

func startRequestStream(c *client, out chan<- domain.RequestLogEntry, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		go func() {
			_ = c.streamRequests(out, done)
		}()
		return nil
	}
}

func waitForRequest(ch <-chan domain.RequestLogEntry) tea.Cmd {
	return func() tea.Msg {
		entry := <-ch
		return requestMsg(entry)
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			close(m.done)
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.upstreams, cmd = m.upstreams.Update(msg)
		return m, cmd

	case upstreamsMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			m.upstreams.SetRows(rowsFromUpstreams(msg.rows))
		}
		return m, tickPoll(m.client)

	case requestMsg:
		entry := domain.RequestLogEntry(msg)
		m.requests = append(m.requests, entry)
		if len(m.requests) > m.maxTail {
			m.requests = m.requests[len(m.requests)-m.maxTail:]
		}
		return m, waitForRequest(m.reqCh)
	}

	return m, nil
}

func rowsFromUpstreams(rows []upstreamRow) []table.Row {
	sorted := make([]upstreamRow, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	out := make([]table.Row, 0, len(sorted))
	for _, u := range sorted {
		status := "up"
		if !u.Available {
			status = "cooling down"
		}
		out = append(out, table.Row{
			u.ID,
			u.BaseURL,
			fmt.Sprintf("%d", u.Weight),
			fmt.Sprintf("%d", u.KeyCount),
			fmt.Sprintf("%d", u.Counters.Responses2xx),
			fmt.Sprintf("%d", u.Counters.Responses4xx),
			fmt.Sprintf("%d", u.Counters.Responses5xx),
			status,
		})
	}
	return out
}

func (m model) View() string {
	var b []byte
	b = append(b, headerStyle.Render("ollactl — upstream status")...)
	b = append(b, '\n')
	b = append(b, m.upstreams.View()...)
	b = append(b, '\n')

	if m.lastErr != nil {
		b = append(b, errStyle.Render("poll error: "+m.lastErr.Error())...)
		b = append(b, '\n')
	}

	b = append(b, headerStyle.Render("recent requests")...)
	b = append(b, '\n')
	if len(m.requests) == 0 {
		b = append(b, "(waiting for traffic)\n"...)
	}
	for i := len(m.requests) - 1; i >= 0; i-- {
		r := m.requests[i]
		style := availableStyle
		if r.Status >= 400 {
			style = unavailableStyle
		}
		line := fmt.Sprintf("%-20s %-24s %s %6dms",
			time.UnixMilli(r.TsMs).Format("15:04:05"), r.Model, style.Render(fmt.Sprintf("%d", r.Status)), r.LatencyMs)
		b = append(b, line...)
		b = append(b, '\n')
	}

	b = append(b, footerStyle.Render("q quit · ↑/↓ navigate upstreams")...)
	return string(b)
}
