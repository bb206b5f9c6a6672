package gateway

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

// CommandResult is the outcome of one executed command.
type CommandResult struct {
	Command    string    `json:"command"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
	ExitStatus int       `json:"exit_status"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
}

// Executor runs shell commands on behalf of authenticated devices. The
// gateway trusts admission has already happened before Execute is called.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (*CommandResult, error)
}

// LocalExecutor runs commands on the host the gateway runs on.
type LocalExecutor struct{}

// Execute runs command through the shell, bounded by timeout.
func (LocalExecutor) Execute(ctx context.Context, command string, timeout time.Duration) (*CommandResult, error) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &CommandResult{
		Command:   command,
		Output:    stdout.String(),
		Error:     strings.TrimRight(stderr.String(), "\n"),
		Timestamp: time.Now(),
		Status:    "success",
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			result.ExitStatus = exitErr.ExitCode()
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.ExitStatus = -1
			result.Error = "command timed out"
		default:
			return nil, err
		}
		result.Status = "error"
	}
	return result, nil
}
