package console

import (
	"github.com/c-bata/go-prompt"
)

// newCompleter builds the go-prompt completion function. The first word
// completes against command names; later words delegate to the matched
// command's GetCandidatesFunc.
func newCompleter(p *CommandProcessor) func(d prompt.Document) []prompt.Suggest {
	return func(d prompt.Document) []prompt.Suggest {
		words := splitWords(d.TextBeforeCursor())

		if len(words) <= 1 {
			suggests := make([]prompt.Suggest, 0, len(CommandTable))
			for _, def := range CommandTable {
				suggests = append(suggests, prompt.Suggest{Text: def.Name, Description: def.Summary})
			}
			return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
		}

		def := findCommandDefinition(words[0])
		if def == nil || def.GetCandidatesFunc == nil {
			return nil
		}
		return prompt.FilterHasPrefix(def.GetCandidatesFunc(p, d), d.GetWordBeforeCursor(), true)
	}
}

// splitWords splits an input line into words, honoring quotes. A
// trailing space yields one empty final word so completion can tell
// "finishing a word" from "starting the next one".
func splitWords(line string) []string {
	if line == "" {
		return []string{}
	}

	words := make([]string, 0)
	var word string
	inQuote := false
	lastWasSpace := true

	for _, r := range line {
		switch r {
		case ' ', '\t':
			if inQuote {
				word += string(r)
				lastWasSpace = false
				continue
			}
			if !lastWasSpace && word != "" {
				words = append(words, word)
				word = ""
			}
			lastWasSpace = true
		case '"', '\'':
			inQuote = !inQuote
			lastWasSpace = false
		default:
			word += string(r)
			lastWasSpace = false
		}
	}

	if word != "" {
		words = append(words, word)
	}
	if lastWasSpace {
		words = append(words, "")
	}
	return words
}
