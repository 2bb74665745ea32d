package console

import (
	"time"
)

// CommandType is the type of a console command
type CommandType int

const (
	CmdState CommandType = iota
	CmdMode
	CmdOn
	CmdOff
	CmdBrightness
	CmdColor
	CmdTemperature
	CmdName
	CmdRename
	CmdInfo
	CmdTime
	CmdSetTime
	CmdScene
	CmdSetScene
	CmdAlarm
	CmdNightMode
	CmdSleep
	CmdFlow
	CmdScan
	CmdUse
	CmdHelp
	CmdQuit
)

// Command is a parsed console command, handed to the CommandProcessor
// for execution. Done is closed when the command has finished; Error
// holds the execution result.
type Command struct {
	Type CommandType

	Mac      string // explicit lamp address, empty means the current target
	Level    uint8
	R, G, B  uint8
	Kelvin   uint16
	Name     string
	Slot     uint8
	At       time.Time // zero means the local clock
	Duration time.Duration
	Topic    *string // help topic

	Done  chan struct{}
	Error error
}

func newCommand(t CommandType) *Command {
	return &Command{
		Type: t,
		Done: make(chan struct{}),
	}
}
