package console

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

const historyFileName = ".yeelightble_history"

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("Cannot resolve home directory, keeping history in the current directory", "err", err)
		return historyFileName
	}
	return fmt.Sprintf("%s/%s", home, historyFileName)
}

// loadHistory reads the history file, dropping blanks and duplicates
// while keeping the most recent occurrence of each line.
func loadHistory(path string) []string {
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Cannot read history file", "path", path, "err", err)
		}
		return []string{}
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("Error while reading history file", "path", path, "err", err)
	}

	cleaned := make([]string, 0, len(lines))
	seen := make(map[string]struct{})
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		cleaned = append(cleaned, line)
		seen[line] = struct{}{}
	}
	for i, j := 0, len(cleaned)-1; i < j; i, j = i+1, j-1 {
		cleaned[i], cleaned[j] = cleaned[j], cleaned[i]
	}
	return cleaned
}

func saveHistory(path string, history []string) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		slog.Warn("Cannot write history file", "path", path, "err", err)
		return
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, line := range history {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := fmt.Fprintln(writer, line); err != nil {
			slog.Warn("Error while writing history file", "path", path, "err", err)
			return
		}
	}
	if err := writer.Flush(); err != nil {
		slog.Warn("Error while flushing history file", "path", path, "err", err)
	}
}
