package backend

// Message represents a message sent to the backend.
type Message struct {
	Content string
	Role    string // "user" or "system"
}

// Response represents a response from the backend.
type Response struct {
	Content   string
	SessionID string
	Error     string
}

// Config defines the configuration for a backend.
type Config struct {
	Type         string   // "claude" or "command"
	Command      string   // Binary to run; defaults to "claude" for the claude type
	Args         []string // Extra args appended to every invocation
	WorkDir      string
	SessionID    string
	Resume       bool // The session already exists; continue it instead of creating it
	Model        string
	SystemPrompt string
}
