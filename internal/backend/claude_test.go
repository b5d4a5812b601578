package backend

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

// TestNewClaudeAdapter_GeneratesSessionID verifies that a session ID is auto-generated
// when not provided in the config.
func TestNewClaudeAdapter_GeneratesSessionID(t *testing.T) {
	cfg := Config{
		Type: "claude",
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	sessionID := adapter.SessionID()
	if sessionID == "" {
		t.Fatal("Expected non-empty session ID")
	}

	// Verify UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
	// where y is 8, 9, a, or b
	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidPattern.MatchString(sessionID) {
		t.Errorf("Session ID does not match UUID v4 format: %s", sessionID)
	}
}

// TestNewClaudeAdapter_UsesProvidedSessionID verifies that a provided session ID
// is used instead of generating a new one.
func TestNewClaudeAdapter_UsesProvidedSessionID(t *testing.T) {
	expectedID := "test-session-12345"
	cfg := Config{
		Type:      "claude",
		SessionID: expectedID,
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	if adapter.SessionID() != expectedID {
		t.Errorf("Expected session ID %s, got %s", expectedID, adapter.SessionID())
	}
}

// TestClaudeAdapter_BuildsFirstMessageCommand verifies that the first Send call
// builds args with --session-id (not --resume).
func TestClaudeAdapter_BuildsFirstMessageCommand(t *testing.T) {
	cfg := Config{
		Type:      "claude",
		SessionID: "test-uuid",
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	msg := Message{Content: "Hello"}
	args := adapter.buildArgs(msg, false) // first message (not resume)

	// Verify args structure
	expected := []string{"-p", "Hello", "--output-format", "json", "--session-id", "test-uuid"}
	if !sliceEqual(args, expected) {
		t.Errorf("Expected args %v, got %v", expected, args)
	}

	// Verify --resume is NOT present
	if containsString(args, "--resume") {
		t.Error("First message should not contain --resume flag")
	}
}

// TestClaudeAdapter_BuildsResumeCommand verifies that subsequent Send calls
// use --resume instead of --session-id.
func TestClaudeAdapter_BuildsResumeCommand(t *testing.T) {
	cfg := Config{
		Type:      "claude",
		SessionID: "test-uuid",
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	msg := Message{Content: "Hello again"}
	args := adapter.buildArgs(msg, true) // resume message

	// Verify args structure
	expected := []string{"-p", "Hello again", "--output-format", "json", "--resume", "test-uuid"}
	if !sliceEqual(args, expected) {
		t.Errorf("Expected args %v, got %v", expected, args)
	}

	// Verify --session-id is NOT present
	if containsString(args, "--session-id") {
		t.Error("Resume message should not contain --session-id flag")
	}
}

// TestClaudeAdapter_IncludesModel verifies that --model flag is included
// when model is configured.
func TestClaudeAdapter_IncludesModel(t *testing.T) {
	cfg := Config{
		Type:      "claude",
		SessionID: "test-uuid",
		Model:     "claude-opus-4",
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	msg := Message{Content: "Test"}
	args := adapter.buildArgs(msg, false)

	// Verify --model is present
	if !containsString(args, "--model") {
		t.Error("Args should contain --model flag")
	}

	// Verify model value follows --model flag
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--model" && args[i+1] != "claude-opus-4" {
			t.Errorf("Expected model 'claude-opus-4', got '%s'", args[i+1])
		}
	}
}

// TestClaudeAdapter_IncludesSystemPrompt verifies that --append-system-prompt flag
// is included when system prompt is configured.
func TestClaudeAdapter_IncludesSystemPrompt(t *testing.T) {
	cfg := Config{
		Type:         "claude",
		SessionID:    "test-uuid",
		SystemPrompt: "You are a helpful assistant",
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	msg := Message{Content: "Test"}
	args := adapter.buildArgs(msg, false)

	// Verify --append-system-prompt is present
	if !containsString(args, "--append-system-prompt") {
		t.Error("Args should contain --append-system-prompt flag")
	}

	// Verify system prompt value follows the flag
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--append-system-prompt" && args[i+1] != "You are a helpful assistant" {
			t.Errorf("Expected system prompt 'You are a helpful assistant', got '%s'", args[i+1])
		}
	}
}

// TestClaudeAdapter_ParsesJSONResponse verifies that parseClaudeResponse
// extracts content from both result shapes and surfaces is_error.
func TestClaudeAdapter_ParsesJSONResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantContent string
		wantSession string
		wantRespErr string
		wantError   bool
	}{
		{
			name:        "text result",
			input:       `{"type": "result", "session_id": "s-1", "is_error": false, "result": "Booked the 9:40 train"}`,
			wantContent: "Booked the 9:40 train",
			wantSession: "s-1",
		},
		{
			name:        "content list result",
			input:       `{"session_id": "s-2", "result": {"content": [{"type": "text", "text": "Part 1"}, {"type": "image", "data": "..."}, {"type": "text", "text": "Part 2"}]}}`,
			wantContent: "Part 1Part 2",
			wantSession: "s-2",
		},
		{
			name:        "error result",
			input:       `{"session_id": "s-3", "is_error": true, "result": "rate limited"}`,
			wantContent: "rate limited",
			wantSession: "s-3",
			wantRespErr: "rate limited",
		},
		{
			name:        "error without text",
			input:       `{"session_id": "s-4", "is_error": true}`,
			wantSession: "s-4",
			wantRespErr: "claude reported an error",
		},
		{
			name:      "invalid JSON",
			input:     `not valid json`,
			wantError: true,
		},
		{
			name:      "unexpected result shape",
			input:     `{"session_id": "s-5", "result": 42}`,
			wantError: true,
		},
		{
			name:  "missing result",
			input: `{"wrong": "structure"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := parseClaudeResponse([]byte(tt.input))

			if tt.wantError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if resp.Content != tt.wantContent {
				t.Errorf("Expected content %q, got %q", tt.wantContent, resp.Content)
			}
			if resp.SessionID != tt.wantSession {
				t.Errorf("Expected session ID %q, got %q", tt.wantSession, resp.SessionID)
			}
			if resp.Error != tt.wantRespErr {
				t.Errorf("Expected response error %q, got %q", tt.wantRespErr, resp.Error)
			}
		})
	}
}

// TestClaudeAdapter_Close verifies that Close() is a no-op and returns nil.
func TestClaudeAdapter_Close(t *testing.T) {
	cfg := Config{
		Type:      "claude",
		SessionID: "test-uuid",
	}

	adapter, err := NewClaudeAdapter(cfg, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	if err := adapter.Close(); err != nil {
		t.Errorf("Close() should return nil, got: %v", err)
	}
}

// fakeClaude writes a script that records its arguments to args.log in the
// working directory and prints a canned JSON response.
func fakeClaude(t *testing.T, response string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "claude")
	body := "#!/bin/sh\necho \"$@\" >> args.log\ncat <<'JSON'\n" + response + "\nJSON\n"
	if err := os.WriteFile(script, []byte(body), 0755); err != nil {
		t.Fatalf("writing fake claude: %v", err)
	}
	return script
}

// TestClaudeAdapter_Send_MarksAsStarted verifies that the first Send creates
// the session and the second resumes it.
func TestClaudeAdapter_Send_MarksAsStarted(t *testing.T) {
	workDir := t.TempDir()
	adapter, err := NewClaudeAdapter(Config{
		Type:      "claude",
		Command:   fakeClaude(t, `{"session_id": "thread-1", "result": "done"}`),
		SessionID: "thread-1",
		WorkDir:   workDir,
	}, NewProcessManager())
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		resp, err := adapter.Send(context.Background(), Message{Content: "hello"})
		if err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if resp.Content != "done" {
			t.Errorf("Send %d: expected content 'done', got %q", i, resp.Content)
		}
	}

	data, err := os.ReadFile(filepath.Join(workDir, "args.log"))
	if err != nil {
		t.Fatalf("reading args log: %v", err)
	}
	calls := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(calls) != 2 {
		t.Fatalf("Expected 2 invocations, got %d: %q", len(calls), calls)
	}
	if !strings.Contains(calls[0], "--session-id thread-1") {
		t.Errorf("First call should create the session, got: %s", calls[0])
	}
	if !strings.Contains(calls[1], "--resume thread-1") {
		t.Errorf("Second call should resume the session, got: %s", calls[1])
	}
}

// TestClaudeAdapter_ResumeConfig verifies that a started thread resumes on the
// first call.
func TestClaudeAdapter_ResumeConfig(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{Type: "claude", SessionID: "thread-2", Resume: true}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	args := adapter.buildArgs(Message{Content: "again"}, adapter.started)
	if !containsString(args, "--resume") || containsString(args, "--session-id") {
		t.Errorf("Expected a resume invocation, got %v", args)
	}
}

// TestClaudeAdapter_Send_ErrorResult verifies that is_error fails the call.
func TestClaudeAdapter_Send_ErrorResult(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{
		Type:    "claude",
		Command: fakeClaude(t, `{"session_id": "x", "is_error": true, "result": "quota exceeded"}`),
		WorkDir: t.TempDir(),
	}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	resp, err := adapter.Send(context.Background(), Message{Content: "hi"})
	if err == nil {
		t.Fatal("Expected error for is_error result")
	}
	if resp.Error != "quota exceeded" {
		t.Errorf("Expected response error 'quota exceeded', got %q", resp.Error)
	}
	if !adapter.started {
		t.Error("Session should count as started after the CLI answered")
	}
}

// TestClaudeAdapter_ExtraArgs verifies provider args are appended.
func TestClaudeAdapter_ExtraArgs(t *testing.T) {
	adapter, err := NewClaudeAdapter(Config{
		Type:      "claude",
		SessionID: "s",
		Args:      []string{"--permission-mode", "acceptEdits"},
	}, nil)
	if err != nil {
		t.Fatalf("NewClaudeAdapter failed: %v", err)
	}

	args := adapter.buildArgs(Message{Content: "x"}, false)
	expected := []string{"-p", "x", "--output-format", "json", "--session-id", "s", "--permission-mode", "acceptEdits"}
	if !sliceEqual(args, expected) {
		t.Errorf("Expected args %v, got %v", expected, args)
	}
}

// Helper function to check if two string slices are equal
func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Helper function to check if a string slice contains a specific string
func containsString(slice []string, str string) bool {
	for _, s := range slice {
		if s == str {
			return true
		}
	}
	return false
}
