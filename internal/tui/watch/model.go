// Package watch implements an optional interactive progress view for a
// fleetctl deployment, subscribed to the Status Callback event stream
// rather than polling. It uses a single scrolling marker table since
// this view never drives operations back into the controller.
package watch

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fleetctl/fleetctl/internal/ports"
)

// markerState tracks one marker's lifecycle as observed through events.
type markerState struct {
	name      string
	status    string // "pending", "running", "done", "failed"
	hosts     []string
	startedAt time.Time
}

// Model is a bubbletea model rendering phase and marker progress. Events
// are delivered through EventMsg by a goroutine bridging the
// ports.EventPublisher subscription into the program's message loop.
type Model struct {
	spinner  spinner.Model
	phase    string
	markers  map[string]*markerState
	order    []string
	errs     []string
	finished bool
	finalErr error
	quitting bool
}

// NewModel constructs an empty watch Model.
func NewModel() Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle
	return Model{
		spinner: s,
		markers: make(map[string]*markerState),
	}
}

// EventMsg wraps one fleet event for delivery into the bubbletea loop.
type EventMsg struct {
	Event ports.FleetEvent
}

// DoneMsg signals that the underlying Controller run has returned, with
// a nil error on success.
type DoneMsg struct {
	Err error
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		return m, nil

	case DoneMsg:
		m.finished = true
		m.finalErr = msg.Err
		return m, tea.Quit

	default:
		return m, nil
	}
}

func (m *Model) apply(e ports.FleetEvent) {
	switch e.Type {
	case ports.EventPhaseStarted:
		if phase, ok := e.Data["phase"].(string); ok {
			m.phase = phase
		}
	case ports.EventPhaseFailed:
		if msg, ok := e.Data["error"].(string); ok {
			m.errs = append(m.errs, msg)
		}
	case ports.EventMarkerStarted:
		name := stringField(e.Data, "marker")
		if name == "" {
			return
		}
		if _, seen := m.markers[name]; !seen {
			m.order = append(m.order, name)
		}
		m.markers[name] = &markerState{name: name, status: "running", startedAt: time.Now()}
	case ports.EventMarkerCompleted:
		if s, ok := m.markers[stringField(e.Data, "marker")]; ok {
			s.status = "done"
		}
	case ports.EventMarkerFailed:
		if s, ok := m.markers[stringField(e.Data, "marker")]; ok {
			s.status = "failed"
		}
		if msg := stringField(e.Data, "error"); msg != "" {
			m.errs = append(m.errs, msg)
		}
	case ports.EventDroneRegistered:
		host := stringField(e.Data, "host")
		if host == "" {
			return
		}
		const registrationRow = "registration"
		s, ok := m.markers[registrationRow]
		if !ok {
			s = &markerState{name: registrationRow, status: "running"}
			m.markers[registrationRow] = s
			m.order = append(m.order, registrationRow)
		}
		s.hosts = append(s.hosts, host)
	}
}

func stringField(data map[string]interface{}, key string) string {
	v, _ := data[key].(string)
	return v
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	phase := m.phase
	if phase == "" {
		phase = "starting"
	}
	b.WriteString(titleStyle.Render(fmt.Sprintf("fleetctl — phase: %s", phase)))
	b.WriteString("\n\n")

	names := append([]string(nil), m.order...)
	sort.Strings(names)
	for _, name := range names {
		s := m.markers[name]
		b.WriteString(renderMarkerRow(m.spinner, s))
		b.WriteString("\n")
	}

	if len(m.errs) > 0 {
		b.WriteString("\n")
		for _, e := range m.errs {
			b.WriteString(errorStyle.Render("! " + e))
			b.WriteString("\n")
		}
	}

	if m.finished {
		if m.finalErr != nil {
			b.WriteString("\n" + errorStyle.Render("run failed: "+m.finalErr.Error()) + "\n")
		} else {
			b.WriteString("\n" + successStyle.Render("run completed") + "\n")
		}
	} else if !m.quitting {
		b.WriteString("\n" + mutedStyle.Render("press q to stop watching (the run keeps going until it finishes)") + "\n")
	}

	return b.String()
}

func renderMarkerRow(s spinner.Model, st *markerState) string {
	var marker string
	switch st.status {
	case "done":
		marker = successStyle.Render("done")
	case "failed":
		marker = errorStyle.Render("failed")
	case "running":
		marker = s.View() + " running"
	default:
		marker = mutedStyle.Render("pending")
	}
	label := st.name
	if len(st.hosts) > 0 {
		label = fmt.Sprintf("%s (%d host(s))", st.name, len(st.hosts))
	}
	return fmt.Sprintf("  %-28s %s", label, marker)
}
