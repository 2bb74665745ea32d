package handler

import "yeelightble/yeelight"

type State = yeelight.State
type Mode = yeelight.Mode
type RGB = yeelight.RGB
type Version = yeelight.Version
type Alarm = yeelight.Alarm
type NightMode = yeelight.NightMode
type Flow = yeelight.Flow

// Scene is a stored scene slot with its decoded name.
type Scene struct {
	Slot uint8
	Name string
}

// DeviceInfo aggregates the identity answers used by the "info" command.
type DeviceInfo struct {
	Version Version
	Serial  string
}
