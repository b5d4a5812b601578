package backend

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CommandAdapter runs an arbitrary agent command once per message. The
// message is written to stdin and trimmed stdout is the response. Session,
// model and system prompt reach the command through BUTLER_* variables.
type CommandAdapter struct {
	command      string
	args         []string
	sessionID    string
	workDir      string
	model        string
	systemPrompt string
	resume       bool
	procMgr      *ProcessManager
}

// NewCommandAdapter creates a command backend. cfg.Command is required.
func NewCommandAdapter(cfg Config, procMgr *ProcessManager) (*CommandAdapter, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend requires a command")
	}
	return &CommandAdapter{
		command:      cfg.Command,
		args:         cfg.Args,
		sessionID:    cfg.SessionID,
		workDir:      cfg.WorkDir,
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		resume:       cfg.Resume,
		procMgr:      procMgr,
	}, nil
}

// Send runs the command with msg on stdin.
func (a *CommandAdapter) Send(ctx context.Context, msg Message) (Response, error) {
	cmd := newCommand(ctx, a.command, a.args...)
	cmd.Dir = a.workDir
	cmd.Stdin = strings.NewReader(msg.Content)
	cmd.Env = append(os.Environ(),
		"BUTLER_SESSION_ID="+a.sessionID,
		"BUTLER_RESUME="+fmt.Sprint(a.resume),
		"BUTLER_MODEL="+a.model,
		"BUTLER_SYSTEM_PROMPT="+a.systemPrompt,
	)

	stdout, _, err := executeCommand(ctx, cmd, a.procMgr)
	if err != nil {
		return Response{
			Error: fmt.Sprintf("%s failed: %v", a.command, err),
		}, err
	}

	a.resume = true
	return Response{
		Content:   strings.TrimSpace(string(stdout)),
		SessionID: a.sessionID,
	}, nil
}

// Close is a no-op; every Send is its own process.
func (a *CommandAdapter) Close() error {
	return nil
}

// SessionID returns the session identifier passed to the command.
func (a *CommandAdapter) SessionID() string {
	return a.sessionID
}
