package cli

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Status is one animated progress line, optionally nested under a parent.
type Status struct {
	message     string
	indentLevel int
	lineIndex   int
	active      bool
	stopChan    chan struct{}
	mu          sync.Mutex
	parent      *Status
}

var (
	outputLines []string
	outputMu    sync.Mutex
	maxLines    int
)

var spinnerFrames = []string{
	"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
}

// Start creates a new Status and begins animating it. A non-nil parent
// indents the line one level below the parent's.
func Start(message string, parent *Status) *Status {
	status := &Status{
		message:  message,
		active:   true,
		stopChan: make(chan struct{}),
	}

	if parent != nil {
		status.parent = parent
		status.indentLevel = parent.indentLevel + 1
	}

	status.lineIndex = reserveLine()
	status.render(spinnerFrames[0])
	go status.animate()

	return status
}

// Success stops the spinner and replaces the line with a check mark.
func (s *Status) Success(message string) {
	s.finish("✔", message)
}

// Fail stops the spinner and replaces the line with a cross.
func (s *Status) Fail(message string) {
	s.finish("✗", message)
}

// Warn stops the spinner and replaces the line with a warning mark.
func (s *Status) Warn(message string) {
	s.finish("!", message)
}

func (s *Status) finish(symbol, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	close(s.stopChan)
	s.active = false
	if message != "" {
		s.message = message
	}
	s.render(symbol)
}

func (s *Status) animate() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	frameIndex := 0
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.active {
				frameIndex = (frameIndex + 1) % len(spinnerFrames)
				s.render(spinnerFrames[frameIndex])
			}
			s.mu.Unlock()
		}
	}
}

func (s *Status) render(symbol string) {
	content := fmt.Sprintf("%s%s %s", indentation(s.indentLevel), symbol, s.message)
	updateLine(s.lineIndex, content)
	refreshScreen()
}

func reserveLine() int {
	outputMu.Lock()
	defer outputMu.Unlock()
	return len(outputLines)
}

func updateLine(index int, content string) {
	outputMu.Lock()
	defer outputMu.Unlock()

	for len(outputLines) <= index {
		outputLines = append(outputLines, "")
	}
	outputLines[index] = content

	if len(outputLines) > maxLines {
		maxLines = len(outputLines)
	}
}

func refreshScreen() {
	outputMu.Lock()
	defer outputMu.Unlock()

	if maxLines > 0 {
		fmt.Printf("\033[%dA", maxLines)
	}

	for _, line := range outputLines {
		fmt.Print("\033[2K\r")
		fmt.Println(line)
	}

	for i := len(outputLines); i < maxLines; i++ {
		fmt.Print("\033[2K\r\n")
	}
}

// ResetScreen forgets rendered lines so a fresh block starts below them.
func ResetScreen() {
	outputMu.Lock()
	defer outputMu.Unlock()
	outputLines = nil
	maxLines = 0
}

func indentation(level int) string {
	if level <= 0 {
		return ""
	}
	return strings.Repeat("  ", level) + "└── "
}
