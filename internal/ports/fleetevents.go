package ports

const (
	// EventPhaseStarted fires when the init, deploy or clean phase begins;
	// prep, plan and build run inside init and publish no start event.
	EventPhaseStarted = "phase.started"
	// EventPhaseCompleted fires when a controller phase ends successfully.
	EventPhaseCompleted = "phase.completed"
	// EventPhaseFailed fires when a controller phase ends with an error.
	EventPhaseFailed = "phase.failed"

	// EventFleetStepStarted fires before a plugin-supplied phase step runs.
	EventFleetStepStarted = "fleet.step.started"
	// EventFleetStepCompleted fires after a plugin-supplied phase step succeeds.
	EventFleetStepCompleted = "fleet.step.completed"
	// EventFleetStepFailed fires after a plugin-supplied phase step fails.
	EventFleetStepFailed = "fleet.step.failed"

	// EventMarkerStarted fires when a marker's units begin deploying.
	EventMarkerStarted = "marker.started"
	// EventMarkerCompleted fires when every unit in a marker has finished.
	EventMarkerCompleted = "marker.completed"
	// EventMarkerFailed fires when a marker records at least one failed unit.
	EventMarkerFailed = "marker.failed"

	// EventDroneRegistered fires once a drone registers its agent
	// certificate against the configuration-management master, when
	// register_with_master is enabled.
	EventDroneRegistered = "drone.registered"
)

// FleetEvent is a simple ports.DomainEvent carrying a string type and a
// map payload, used for every phase/step/marker boundary notification.
type FleetEvent struct {
	Type string
	Data map[string]interface{}
}

// EventType implements ports.DomainEvent.
func (e FleetEvent) EventType() string { return e.Type }

// Payload implements ports.DomainEvent.
func (e FleetEvent) Payload() interface{} { return e.Data }
