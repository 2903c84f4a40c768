package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fleetctl/fleetctl/internal/ports"
	"github.com/fleetctl/fleetctl/internal/tui/watch"
)

// watchedEventTypes lists every Status Callback event the watch view
// reacts to; unlisted event types are still logged by the production
// event publisher but never reach the TUI.
var watchedEventTypes = []string{
	ports.EventPhaseStarted,
	ports.EventPhaseCompleted,
	ports.EventPhaseFailed,
	ports.EventMarkerStarted,
	ports.EventMarkerCompleted,
	ports.EventMarkerFailed,
	ports.EventDroneRegistered,
}

// runInstallWatched drives info.controller.Run in the background while an
// interactive bubbletea program renders its progress, bridged through a
// subscription on app.Events. Pressing q stops rendering, but the
// function still waits for the run to finish before returning, since the
// process would otherwise exit and abandon an in-flight deployment.
func runInstallWatched(ctx context.Context, app *AppContext, info *buildInfo) error {
	program := tea.NewProgram(watch.NewModel(), tea.WithAltScreen())

	var subs []ports.Subscription
	for _, eventType := range watchedEventTypes {
		sub, err := app.Events.Subscribe(eventType, func(_ context.Context, event ports.DomainEvent) error {
			if fe, ok := event.(ports.FleetEvent); ok {
				program.Send(watch.EventMsg{Event: fe})
			}
			return nil
		})
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}
	defer func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}()

	result := make(chan error, 1)
	go func() {
		err := info.controller.Run(ctx)
		result <- err
		program.Send(watch.DoneMsg{Err: err})
	}()

	if _, err := program.Run(); err != nil {
		return err
	}
	return <-result
}
