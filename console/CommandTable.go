package console

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/exp/slices"
)

// CommandDefinition describes one console command
type CommandDefinition struct {
	Name              string
	Aliases           []string
	Summary           string
	Syntax            string
	Description       []string
	ParseFunc         func(parts []string) (*Command, error)
	GetCandidatesFunc func(p *CommandProcessor, d prompt.Document) []prompt.Suggest
}

var macRe = regexp.MustCompile(`^(?i:[0-9a-f]{2}(:[0-9a-f]{2}){5})$`)

func parseLevel(arg string) (uint8, error) {
	n, err := strconv.ParseUint(arg, 10, 8)
	if err != nil || n > 100 {
		return 0, fmt.Errorf("brightness must be 0-100, got %q", arg)
	}
	return uint8(n), nil
}

func parseKelvin(arg string) (uint16, error) {
	n, err := strconv.ParseUint(arg, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("temperature must be a number of kelvin, got %q", arg)
	}
	return uint16(n), nil
}

func parseHexColor(arg string) (r, g, b uint8, err error) {
	s := strings.TrimPrefix(arg, "#")
	if len(s) != 6 {
		return 0, 0, 0, fmt.Errorf("color must be RRGGBB or #RRGGBB, got %q", arg)
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("color must be RRGGBB or #RRGGBB, got %q", arg)
	}
	return uint8(n >> 16), uint8(n >> 8), uint8(n), nil
}

func parseSlot(arg string) (uint8, error) {
	n, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("slot must be a small number, got %q", arg)
	}
	return uint8(n), nil
}

// CommandTable holds the definitions of all console commands. It is
// assigned in init because the help command's completion closure refers
// back to the table, which a direct initializer reports as a cycle.
var CommandTable []CommandDefinition

func init() {
	CommandTable = []CommandDefinition{
		{
			Name:    "use",
			Summary: "Select the lamp to talk to",
			Syntax:  "use AA:BB:CC:DD:EE:FF",
			Description: []string{
				"Sets the target lamp for all following commands.",
				"Run 'scan' first to discover addresses.",
			},
			GetCandidatesFunc: func(p *CommandProcessor, d prompt.Document) []prompt.Suggest {
				return p.macCandidates()
			},
			ParseFunc: func(parts []string) (*Command, error) {
				if len(parts) != 2 {
					return nil, fmt.Errorf("use requires a lamp address")
				}
				if !macRe.MatchString(parts[1]) {
					return nil, fmt.Errorf("%q is not a Bluetooth address", parts[1])
				}
				cmd := newCommand(CmdUse)
				cmd.Mac = parts[1]
				return cmd, nil
			},
		},
		{
			Name:    "scan",
			Summary: "Scan for nearby lamps",
			Syntax:  "scan [seconds]",
			Description: []string{
				"Scans for lamp advertisements and lists address, name and signal strength.",
				"seconds: how long to scan (default 5).",
			},
			ParseFunc: func(parts []string) (*Command, error) {
				cmd := newCommand(CmdScan)
				if len(parts) > 1 {
					secs, err := strconv.Atoi(parts[1])
					if err != nil || secs <= 0 {
						return nil, fmt.Errorf("scan duration must be a positive number of seconds")
					}
					cmd.Duration = time.Duration(secs) * time.Second
				}
				return cmd, nil
			},
		},
		{
			Name:    "state",
			Summary: "Show the lamp state",
			Syntax:  "state",
			Description: []string{
				"Shows power, mode, color, brightness and color temperature.",
			},
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdState), nil
			},
		},
		{
			Name:    "mode",
			Summary: "Show the current light mode",
			Syntax:  "mode",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdMode), nil
			},
		},
		{
			Name:    "on",
			Summary: "Turn the lamp on",
			Syntax:  "on",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdOn), nil
			},
		},
		{
			Name:    "off",
			Summary: "Turn the lamp off",
			Syntax:  "off",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdOff), nil
			},
		},
		{
			Name:    "brightness",
			Aliases: []string{"bright"},
			Summary: "Set the brightness",
			Syntax:  "brightness <0-100>",
			ParseFunc: func(parts []string) (*Command, error) {
				if len(parts) != 2 {
					return nil, fmt.Errorf("brightness requires a level (0-100)")
				}
				level, err := parseLevel(parts[1])
				if err != nil {
					return nil, err
				}
				cmd := newCommand(CmdBrightness)
				cmd.Level = level
				return cmd, nil
			},
		},
		{
			Name:    "color",
			Summary: "Set the color",
			Syntax:  "color <RRGGBB> [brightness]",
			Description: []string{
				"RRGGBB: hex color, with or without a leading '#'.",
				"brightness: 0-100, default 100.",
			},
			ParseFunc: func(parts []string) (*Command, error) {
				if len(parts) < 2 || len(parts) > 3 {
					return nil, fmt.Errorf("color requires a hex color and an optional brightness")
				}
				r, g, b, err := parseHexColor(parts[1])
				if err != nil {
					return nil, err
				}
				cmd := newCommand(CmdColor)
				cmd.R, cmd.G, cmd.B = r, g, b
				cmd.Level = 100
				if len(parts) == 3 {
					if cmd.Level, err = parseLevel(parts[2]); err != nil {
						return nil, err
					}
				}
				return cmd, nil
			},
		},
		{
			Name:    "temperature",
			Aliases: []string{"temp"},
			Summary: "Set the white color temperature",
			Syntax:  "temperature <1700-6500> [brightness]",
			Description: []string{
				"kelvin: white temperature between 1700 and 6500.",
				"brightness: 0-100, default 100.",
			},
			ParseFunc: func(parts []string) (*Command, error) {
				if len(parts) < 2 || len(parts) > 3 {
					return nil, fmt.Errorf("temperature requires a kelvin value and an optional brightness")
				}
				kelvin, err := parseKelvin(parts[1])
				if err != nil {
					return nil, err
				}
				cmd := newCommand(CmdTemperature)
				cmd.Kelvin = kelvin
				cmd.Level = 100
				if len(parts) == 3 {
					if cmd.Level, err = parseLevel(parts[2]); err != nil {
						return nil, err
					}
				}
				return cmd, nil
			},
		},
		{
			Name:    "name",
			Summary: "Show the lamp name",
			Syntax:  "name",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdName), nil
			},
		},
		{
			Name:    "rename",
			Summary: "Rename the lamp",
			Syntax:  "rename <name>",
			Description: []string{
				"name: the new lamp name, at most 15 bytes. Quote names with spaces.",
			},
			ParseFunc: func(parts []string) (*Command, error) {
				if len(parts) != 2 {
					return nil, fmt.Errorf("rename requires the new name")
				}
				cmd := newCommand(CmdRename)
				cmd.Name = parts[1]
				return cmd, nil
			},
		},
		{
			Name:    "info",
			Summary: "Show firmware versions and serial number",
			Syntax:  "info",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdInfo), nil
			},
		},
		{
			Name:    "time",
			Summary: "Show or set the lamp clock",
			Syntax:  "time [sync | set <RFC3339>]",
			Description: []string{
				"No argument: shows the lamp clock.",
				"sync: sets the lamp clock to this machine's clock.",
				"set <RFC3339>: sets the lamp clock to the given time, e.g. 2026-08-31T21:00:00Z.",
			},
			GetCandidatesFunc: func(p *CommandProcessor, d prompt.Document) []prompt.Suggest {
				words := splitWords(d.TextBeforeCursor())
				if len(words) == 2 {
					return []prompt.Suggest{
						{Text: "sync", Description: "Set the lamp clock from this machine"},
						{Text: "set", Description: "Set the lamp clock to a given time"},
					}
				}
				return nil
			},
			ParseFunc: func(parts []string) (*Command, error) {
				if len(parts) == 1 {
					return newCommand(CmdTime), nil
				}
				switch parts[1] {
				case "sync":
					return newCommand(CmdSetTime), nil
				case "set":
					if len(parts) != 3 {
						return nil, fmt.Errorf("time set requires an RFC3339 timestamp")
					}
					at, err := time.Parse(time.RFC3339, parts[2])
					if err != nil {
						return nil, fmt.Errorf("invalid timestamp %q: %w", parts[2], err)
					}
					cmd := newCommand(CmdSetTime)
					cmd.At = at
					return cmd, nil
				default:
					return nil, fmt.Errorf("time takes no argument, 'sync', or 'set <RFC3339>'")
				}
			},
		},
		{
			Name:    "scene",
			Summary: "Show or name a scene slot",
			Syntax:  "scene [slot] | scene <slot> <name>",
			Description: []string{
				"No argument: shows scene slot 0.",
				"slot: shows the scene stored in that slot.",
				"slot name: stores a name (at most 14 bytes) for that slot.",
			},
			ParseFunc: func(parts []string) (*Command, error) {
				cmd := newCommand(CmdScene)
				switch len(parts) {
				case 1:
					return cmd, nil
				case 2:
					slot, err := parseSlot(parts[1])
					if err != nil {
						return nil, err
					}
					cmd.Slot = slot
					return cmd, nil
				case 3:
					slot, err := parseSlot(parts[1])
					if err != nil {
						return nil, err
					}
					cmd.Type = CmdSetScene
					cmd.Slot = slot
					cmd.Name = parts[2]
					return cmd, nil
				default:
					return nil, fmt.Errorf("scene takes at most a slot and a name")
				}
			},
		},
		{
			Name:    "alarm",
			Summary: "Show an alarm slot",
			Syntax:  "alarm [slot]",
			ParseFunc: func(parts []string) (*Command, error) {
				cmd := newCommand(CmdAlarm)
				if len(parts) > 1 {
					slot, err := parseSlot(parts[1])
					if err != nil {
						return nil, err
					}
					cmd.Slot = slot
				}
				return cmd, nil
			},
		},
		{
			Name:    "nightmode",
			Summary: "Show the night mode schedule",
			Syntax:  "nightmode",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdNightMode), nil
			},
		},
		{
			Name:    "sleep",
			Summary: "Show the sleep timer",
			Syntax:  "sleep",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdSleep), nil
			},
		},
		{
			Name:    "flow",
			Summary: "Show a color flow slot",
			Syntax:  "flow [slot]",
			ParseFunc: func(parts []string) (*Command, error) {
				cmd := newCommand(CmdFlow)
				if len(parts) > 1 {
					slot, err := parseSlot(parts[1])
					if err != nil {
						return nil, err
					}
					cmd.Slot = slot
				}
				return cmd, nil
			},
		},
		{
			Name:    "help",
			Summary: "Show help",
			Syntax:  "help [command]",
			Description: []string{
				"No argument: shows a summary of all commands.",
				"command: shows the details of that command.",
			},
			GetCandidatesFunc: func(p *CommandProcessor, d prompt.Document) []prompt.Suggest {
				words := splitWords(d.TextBeforeCursor())
				if len(words) == 2 {
					suggests := make([]prompt.Suggest, 0, len(CommandTable))
					for _, def := range CommandTable {
						suggests = append(suggests, prompt.Suggest{Text: def.Name, Description: def.Summary})
					}
					return suggests
				}
				return nil
			},
			ParseFunc: func(parts []string) (*Command, error) {
				cmd := newCommand(CmdHelp)
				if len(parts) > 1 {
					cmd.Topic = &parts[1]
				}
				return cmd, nil
			},
		},
		{
			Name:    "quit",
			Aliases: []string{"exit"},
			Summary: "Quit",
			Syntax:  "quit",
			ParseFunc: func(parts []string) (*Command, error) {
				return newCommand(CmdQuit), nil
			},
		},
	}
}

func findCommandDefinition(name string) *CommandDefinition {
	for i := range CommandTable {
		def := &CommandTable[i]
		if def.Name == name || slices.Contains(def.Aliases, name) {
			return def
		}
	}
	return nil
}

// ParseCommand parses one console input line. A nil command with a nil
// error means the line was empty.
func ParseCommand(line string) (*Command, error) {
	parts := splitWords(strings.TrimSpace(line))
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return ParseArgs(parts)
}

// ParseArgs parses an already split command. The one-shot CLI path uses
// it directly so quoted arguments survive.
func ParseArgs(parts []string) (*Command, error) {
	if len(parts) == 0 {
		return nil, nil
	}
	def := findCommandDefinition(parts[0])
	if def == nil {
		return nil, fmt.Errorf("unknown command %q, try 'help'", parts[0])
	}
	return def.ParseFunc(parts)
}

// PrintCommandSummary prints a one-line summary of every command
func PrintCommandSummary() {
	fmt.Println("Commands:")
	for _, def := range CommandTable {
		name := def.Name
		if len(def.Aliases) > 0 {
			name = fmt.Sprintf("%s, %s", name, strings.Join(def.Aliases, ", "))
		}
		fmt.Printf("  %-12s %s\n", name, def.Summary)
	}
	fmt.Println()
	fmt.Println("'help <command>' shows the details, e.g. 'help scene'.")
}

// PrintCommandDetail prints the syntax and description of one command
func PrintCommandDetail(name string) {
	def := findCommandDefinition(name)
	if def == nil {
		fmt.Printf("unknown command %q\n", name)
		fmt.Println("'help' lists the available commands")
		return
	}
	fmt.Printf("  %s: %s\n", def.Name, def.Summary)
	fmt.Printf("  syntax: %s\n", def.Syntax)
	if len(def.Description) > 0 {
		for _, line := range def.Description {
			fmt.Printf("    %s\n", line)
		}
	}
}

// PrintUsage prints the summary, or the detail of one command
func PrintUsage(topic *string) {
	if topic == nil {
		PrintCommandSummary()
	} else {
		PrintCommandDetail(*topic)
	}
}
