package console

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/c-bata/go-prompt"

	"yeelightble/client"
	"yeelightble/protocol"
)

// CommandProcessor executes parsed commands against a lamp controller.
// Commands run on a single worker goroutine so their output does not
// interleave with the prompt.
type CommandProcessor struct {
	controller client.Controller
	cmdChan    chan *Command
	done       chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	target   string
	lastScan []protocol.ScanDevice
}

func NewCommandProcessor(ctx context.Context, controller client.Controller, target string) *CommandProcessor {
	pctx, cancel := context.WithCancel(ctx)
	return &CommandProcessor{
		controller: controller,
		cmdChan:    make(chan *Command),
		done:       make(chan struct{}),
		ctx:        pctx,
		cancel:     cancel,
		target:     target,
	}
}

func (p *CommandProcessor) Start() {
	go p.processCommands()
}

func (p *CommandProcessor) Stop() {
	p.cancel()
	select {
	case <-p.done:
	default:
		close(p.cmdChan)
		<-p.done
	}
}

// SendCommand queues a command and waits for it to finish
func (p *CommandProcessor) SendCommand(cmd *Command) error {
	p.cmdChan <- cmd
	<-cmd.Done
	return cmd.Error
}

// Target returns the currently selected lamp address
func (p *CommandProcessor) Target() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

func (p *CommandProcessor) setTarget(mac string) {
	p.mu.Lock()
	p.target = mac
	p.mu.Unlock()
}

// macCandidates returns completion suggestions for lamp addresses,
// built from the last scan and the current target.
func (p *CommandProcessor) macCandidates() []prompt.Suggest {
	p.mu.Lock()
	defer p.mu.Unlock()

	suggests := make([]prompt.Suggest, 0, len(p.lastScan)+1)
	seen := make(map[string]struct{})
	for _, dev := range p.lastScan {
		suggests = append(suggests, prompt.Suggest{Text: dev.Mac, Description: dev.Name})
		seen[dev.Mac] = struct{}{}
	}
	if p.target != "" {
		if _, ok := seen[p.target]; !ok {
			suggests = append(suggests, prompt.Suggest{Text: p.target, Description: "current lamp"})
		}
	}
	return suggests
}

func (p *CommandProcessor) processCommands() {
	defer close(p.done)

	for cmd := range p.cmdChan {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		if cmd.Type == CmdQuit {
			close(cmd.Done)
			return
		}

		cmd.Error = p.execute(cmd)
		close(cmd.Done)
	}
}

// commandsWithoutLamp are executable before a lamp has been selected
func needsLamp(t CommandType) bool {
	switch t {
	case CmdScan, CmdUse, CmdHelp, CmdQuit:
		return false
	}
	return true
}

func (p *CommandProcessor) execute(cmd *Command) error {
	mac := cmd.Mac
	if mac == "" {
		mac = p.Target()
	}
	if mac == "" && needsLamp(cmd.Type) {
		return fmt.Errorf("no lamp selected; run 'scan' and then 'use <address>'")
	}

	ctx := p.ctx

	switch cmd.Type {
	case CmdUse:
		p.setTarget(cmd.Mac)
		fmt.Printf("using %s\n", cmd.Mac)
		return nil

	case CmdScan:
		duration := cmd.Duration
		if duration == 0 {
			duration = 5 * time.Second
		}
		fmt.Printf("scanning for %v...\n", duration)
		devices, err := p.controller.Scan(ctx, duration)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.lastScan = devices
		p.mu.Unlock()
		if len(devices) == 0 {
			fmt.Println("no lamps found")
			return nil
		}
		for _, dev := range devices {
			name := dev.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("  %s  %-16s %d dBm\n", dev.Mac, name, dev.RSSI)
		}
		return nil

	case CmdState:
		state, err := p.controller.GetState(ctx, mac)
		if err != nil {
			return err
		}
		printState(state)
		return nil

	case CmdMode:
		state, err := p.controller.GetState(ctx, mac)
		if err != nil {
			return err
		}
		fmt.Printf("mode: %s\n", state.Mode)
		return nil

	case CmdOn:
		return p.controller.SetPower(ctx, mac, true)

	case CmdOff:
		return p.controller.SetPower(ctx, mac, false)

	case CmdBrightness:
		return p.controller.SetBrightness(ctx, mac, cmd.Level)

	case CmdColor:
		return p.controller.SetColor(ctx, mac, cmd.R, cmd.G, cmd.B, cmd.Level)

	case CmdTemperature:
		return p.controller.SetTemperature(ctx, mac, cmd.Kelvin, cmd.Level)

	case CmdName:
		name, err := p.controller.GetName(ctx, mac)
		if err != nil {
			return err
		}
		fmt.Printf("name: %s\n", name)
		return nil

	case CmdRename:
		return p.controller.SetName(ctx, mac, cmd.Name)

	case CmdInfo:
		info, err := p.controller.GetInfo(ctx, mac)
		if err != nil {
			return err
		}
		fw := info.SWVersion
		if info.Beta {
			fw += " (beta)"
		}
		fmt.Printf("hardware: %s\nfirmware: %s\nserial:   %s\n", info.HWVersion, fw, info.Serial)
		return nil

	case CmdTime:
		at, err := p.controller.GetTime(ctx, mac)
		if err != nil {
			return err
		}
		fmt.Printf("lamp clock: %s\n", at.Format(time.RFC3339))
		return nil

	case CmdSetTime:
		at := cmd.At
		if at.IsZero() {
			at = time.Now()
		}
		return p.controller.SetTime(ctx, mac, at)

	case CmdScene:
		scene, err := p.controller.GetScene(ctx, mac, cmd.Slot)
		if err != nil {
			return err
		}
		name := scene.Name
		if name == "" {
			name = "(empty)"
		}
		fmt.Printf("scene %d: %s\n", scene.Slot, name)
		return nil

	case CmdSetScene:
		return p.controller.SetScene(ctx, mac, cmd.Slot, cmd.Name)

	case CmdAlarm:
		alarm, err := p.controller.GetAlarm(ctx, mac, cmd.Slot)
		if err != nil {
			return err
		}
		status := "off"
		if alarm.Enabled {
			status = "on"
		}
		fmt.Printf("alarm %d: %s, %02d:%02d, %s\n",
			alarm.Slot, status, alarm.Hour, alarm.Minute, formatRepeat(alarm.Repeat))
		return nil

	case CmdNightMode:
		nm, err := p.controller.GetNightMode(ctx, mac)
		if err != nil {
			return err
		}
		status := "off"
		if nm.Enabled {
			status = "on"
		}
		fmt.Printf("night mode: %s, brightness %d%%, %s - %s\n",
			status, nm.Brightness, formatMinutes(nm.Start), formatMinutes(nm.End))
		return nil

	case CmdSleep:
		sleep, err := p.controller.GetSleep(ctx, mac)
		if err != nil {
			return err
		}
		if sleep.Minutes == 0 {
			fmt.Println("sleep timer: off")
		} else {
			fmt.Printf("sleep timer: %d minutes\n", sleep.Minutes)
		}
		return nil

	case CmdFlow:
		flow, err := p.controller.GetFlow(ctx, mac, cmd.Slot)
		if err != nil {
			return err
		}
		status := "stopped"
		if flow.Running {
			status = "running"
		}
		fmt.Printf("flow %d: %s, %d frames\n", flow.Slot, status, flow.Frames)
		return nil

	case CmdHelp:
		PrintUsage(cmd.Topic)
		return nil

	default:
		return fmt.Errorf("unhandled command type %d", cmd.Type)
	}
}

func printState(state protocol.LampState) {
	power := "off"
	if state.Power {
		power = "on"
	}
	fmt.Printf("power:       %s\n", power)
	fmt.Printf("mode:        %s\n", state.Mode)
	if state.Mode == "color" {
		fmt.Printf("color:       %s\n", state.Color)
	} else {
		fmt.Printf("temperature: %dK\n", state.Temperature)
	}
	fmt.Printf("brightness:  %d%%\n", state.Brightness)
}

// formatMinutes renders minutes since midnight as HH:MM
func formatMinutes(m uint16) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

var weekdayNames = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// formatRepeat renders an alarm weekday bitmask, bit 0 = Monday
func formatRepeat(mask uint8) string {
	if mask == 0 {
		return "once"
	}
	if mask == 0x7F {
		return "every day"
	}
	var days []string
	for i, name := range weekdayNames {
		if mask&(1<<i) != 0 {
			days = append(days, name)
		}
	}
	return strings.Join(days, ",")
}
