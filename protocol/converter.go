package protocol

import (
	"errors"
	"fmt"

	"yeelightble/yeelight"
	"yeelightble/yeelight/handler"
	"yeelightble/yeelight/transport"
)

// StateToProtocol converts a decoded lamp state to its protocol form.
func StateToProtocol(s yeelight.State) LampState {
	return LampState{
		Power:       s.Power,
		Mode:        s.Mode.String(),
		Color:       s.Color.String(),
		Brightness:  s.Brightness,
		Temperature: s.Temperature,
	}
}

// InfoToProtocol converts a device info answer to its protocol form.
func InfoToProtocol(info handler.DeviceInfo) InfoData {
	return InfoData{
		HWVersion: fmt.Sprintf("%d.%d", info.Version.HWMajor, info.Version.HWMinor),
		SWVersion: fmt.Sprintf("%d.%d", info.Version.SWMajor, info.Version.SWMinor),
		Beta:      info.Version.Beta,
		Serial:    info.Serial,
	}
}

// AlarmToProtocol converts an alarm slot to its protocol form.
func AlarmToProtocol(a yeelight.Alarm) AlarmData {
	return AlarmData{
		Slot:    a.Slot,
		Enabled: a.Enabled,
		Hour:    a.Hour,
		Minute:  a.Minute,
		Repeat:  a.Repeat,
	}
}

// NightModeToProtocol converts a night mode window to its protocol form.
func NightModeToProtocol(n yeelight.NightMode) NightModeData {
	return NightModeData{
		Enabled:    n.Enabled,
		Brightness: n.Brightness,
		Start:      n.Start,
		End:        n.End,
	}
}

// FlowToProtocol converts a color-flow slot to its protocol form.
func FlowToProtocol(f yeelight.Flow) FlowData {
	return FlowData{
		Slot:    f.Slot,
		Running: f.Running,
		Frames:  f.Frames,
	}
}

// ScanResultToProtocol converts a scan hit to its protocol form.
func ScanResultToProtocol(r transport.ScanResult) ScanDevice {
	return ScanDevice{
		Mac:  r.Address,
		Name: r.Name,
		RSSI: r.RSSI,
	}
}

// ErrorFromHandler maps an engine error to a protocol error. Front ends and
// the daemon share this mapping so a given failure always reports the same
// code.
func ErrorFromHandler(err error) Error {
	var verr *yeelight.ValidationError
	var merr *yeelight.MalformedError
	var terr *handler.TransportError
	var cerr *transport.ConnectError
	switch {
	case errors.As(err, &verr):
		return Error{Code: ErrorCodeValidationError, Message: verr.Error()}
	case errors.Is(err, handler.ErrTimeout):
		return Error{Code: ErrorCodeTimeout, Message: err.Error()}
	case errors.Is(err, handler.ErrConnectionLost):
		return Error{Code: ErrorCodeConnectionLost, Message: err.Error()}
	case errors.As(err, &terr), errors.As(err, &cerr):
		return Error{Code: ErrorCodeTransportError, Message: err.Error()}
	case errors.As(err, &merr):
		return Error{Code: ErrorCodeTransportError, Message: merr.Error()}
	default:
		return Error{Code: ErrorCodeInternalServerError, Message: err.Error()}
	}
}
