package attensys

import "attenuator-go/bus"

// -----------------------------------------------------------------------------
// Inputs
// -----------------------------------------------------------------------------

var (
	TopicBeamEnergy = bus.T("beam", "energy", "actual")
	TopicBeamStatus = bus.T("beam", "energy", "status")

	TopicCmdRun    = bus.T("cmd", "run")
	TopicCmdApply  = bus.T("cmd", "apply")
	TopicCmdCancel = bus.T("cmd", "cancel")
)

// MotorState is the raw telemetry topic of one motor.
func MotorState(motor int) bus.Topic {
	return bus.T("motor").Index(motor).Append("state")
}

// MotorStatus is the link-status topic of one motor.
func MotorStatus(motor int) bus.Topic {
	return bus.T("motor").Index(motor).Append("status")
}

// MotorSet is the command topic of one motor.
func MotorSet(motor int) bus.Topic {
	return bus.T("motor").Index(motor).Append("set")
}

// -----------------------------------------------------------------------------
// Outputs (retained)
// -----------------------------------------------------------------------------

var (
	TopicBestConfig        = bus.T("sys", "best_config")
	TopicBestConfigBitmask = bus.T("sys", "best_config_bitmask")
	TopicBestConfigError   = bus.T("sys", "best_config_error")

	TopicActiveConfig        = bus.T("sys", "active_config")
	TopicActiveConfigBitmask = bus.T("sys", "active_config_bitmask")

	TopicCalculatedTransmission  = bus.T("sys", "calculated_transmission")
	TopicCalculatedTransmission3 = bus.T("sys", "calculated_transmission_3omega")
	TopicTransmissionActual      = bus.T("sys", "transmission_actual")
	TopicTransmissionActual3     = bus.T("sys", "transmission_actual_3omega")

	TopicMoving              = bus.T("sys", "moving")
	TopicFilterMoving        = bus.T("sys", "filter_moving")
	TopicFilterMovingBitmask = bus.T("sys", "filter_moving_bitmask")

	TopicLastEnergy       = bus.T("sys", "last_energy")
	TopicLastMode         = bus.T("sys", "last_mode")
	TopicLastTransmission = bus.T("sys", "last_transmission")

	TopicFault = bus.T("sys", "fault")
)

// FilterOutput returns blade/<n>/filter/<k>/<field> for per-filter results.
func FilterOutput(blade, filter int, field string) bus.Topic {
	return bus.T("blade").Index(blade).Append("filter").Index(filter).Append(field)
}
