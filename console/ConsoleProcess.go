package console

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"yeelightble/client"
)

// ConsoleProcess runs the interactive console until the user quits.
// target is the initially selected lamp address, may be empty.
func ConsoleProcess(ctx context.Context, controller client.Controller, target string) {
	processor := NewCommandProcessor(ctx, controller, target)
	processor.Start()

	fmt.Println("help for usage, quit to exit")

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		// Piped input, no completion or history
		runPlain(processor)
		processor.Stop()
		return
	}

	historyPath := historyFilePath()
	history := loadHistory(historyPath)

	quitting := false
	executor := func(line string) {
		if strings.TrimSpace(line) != "" {
			history = append(history, line)
		}
		if !runLine(processor, line) {
			quitting = true
		}
	}

	p := prompt.New(
		executor,
		newCompleter(processor),
		prompt.OptionTitle("yeelightble"),
		prompt.OptionPrefix("> "),
		prompt.OptionHistory(history),
		prompt.OptionSetExitCheckerOnInput(func(in string, breakline bool) bool {
			if quitting {
				return true
			}
			fields := strings.Fields(in)
			return breakline && len(fields) == 1 && (fields[0] == "quit" || fields[0] == "exit")
		}),
	)
	p.Run()

	saveHistory(historyPath, history)
	processor.Stop()
}

// runLine parses and executes one input line; returns false on quit
func runLine(processor *CommandProcessor, line string) bool {
	cmd, err := ParseCommand(line)
	if err != nil {
		fmt.Printf("error: %v\n", err)
		return true
	}
	if cmd == nil {
		return true
	}
	if cmd.Type == CmdQuit {
		return false
	}
	if err := processor.SendCommand(cmd); err != nil {
		fmt.Printf("error: %v\n", err)
	}
	return true
}

func runPlain(processor *CommandProcessor) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if !runLine(processor, scanner.Text()) {
			return
		}
	}
}
