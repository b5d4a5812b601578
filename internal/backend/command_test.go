package backend

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

// TestCommandAdapter_PromptOnStdin verifies the message reaches stdin and
// stdout becomes the response.
func TestCommandAdapter_PromptOnStdin(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{
		Type:      "command",
		Command:   "bash",
		Args:      []string{"-c", `printf 'got: '; cat; echo; echo "session=$BUTLER_SESSION_ID resume=$BUTLER_RESUME model=$BUTLER_MODEL"`},
		SessionID: "thread-9",
		Model:     "local",
	}, NewProcessManager())
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "summarize the inbox"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := "got: summarize the inbox\nsession=thread-9 resume=false model=local"
	if resp.Content != want {
		t.Errorf("Expected content %q, got %q", want, resp.Content)
	}
	if resp.SessionID != "thread-9" {
		t.Errorf("Expected session thread-9, got %q", resp.SessionID)
	}

	resp, err = adapter.Send(context.Background(), Message{Content: "again"})
	if err != nil {
		t.Fatalf("second Send failed: %v", err)
	}
	if !strings.Contains(resp.Content, "resume=true") {
		t.Errorf("Expected second call to resume, got %q", resp.Content)
	}
}

// TestCommandAdapter_RunsInWorkDir verifies the working directory
func TestCommandAdapter_RunsInWorkDir(t *testing.T) {
	dir := t.TempDir()
	adapter, err := NewCommandAdapter(Config{Command: "pwd", WorkDir: dir}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: ""})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got, _ := filepath.EvalSymlinks(resp.Content)
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("Expected working directory %q, got %q", want, got)
	}
}

// TestCommandAdapter_Failure verifies a failing command returns an error
func TestCommandAdapter_Failure(t *testing.T) {
	adapter, err := NewCommandAdapter(Config{Command: "bash", Args: []string{"-c", "echo nope >&2; exit 3"}}, nil)
	if err != nil {
		t.Fatalf("NewCommandAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "x"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(resp.Error, "nope") {
		t.Errorf("Expected stderr in response error, got %q", resp.Error)
	}
}

// TestNewCommandAdapter_RequiresCommand verifies config validation
func TestNewCommandAdapter_RequiresCommand(t *testing.T) {
	if _, err := NewCommandAdapter(Config{Type: "command"}, nil); err == nil {
		t.Fatal("Expected error for missing command")
	}
}
