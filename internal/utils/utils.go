package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// so crash information is not lost if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// Logs returns whatever the process wrote to stderr so far.
func (s *SafeCommand) Logs() string {
	if s == nil || s.Stderr == nil {
		return ""
	}
	return s.Stderr.String()
}

// --- 2. Error Reporting ---

// errWriter is where ShowError prints. Tests swap it out.
var errWriter io.Writer = os.Stderr

// ShowError prints a formatted error box and dumps worker logs if a SafeCommand is provided.
func ShowError(context string, err error, s *SafeCommand) {
	fmt.Fprintf(errWriter, "\n---------------------------------------------------------\n")
	fmt.Fprintf(errWriter, "🚨 FACEREC ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(errWriter, "DETAILS: %v\n", err)
	}

	if logs := s.Logs(); logs != "" {
		fmt.Fprintf(errWriter, "\nWORKER LOGS:\n%s\n", logs)
	}
	fmt.Fprintf(errWriter, "---------------------------------------------------------\n")
}
