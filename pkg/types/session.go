// Package types provides the core data types for the cowork agent server.
package types

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

// Session is the durable state of one conversation.
// Mutated only by the session engine.
type Session struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	TitleSource string        `json:"titleSource"` // "default" | "derived"
	TitleModel  string        `json:"titleModel,omitempty"`
	Status      SessionStatus `json:"status"`
	Config      SessionConfig `json:"config"`
	Messages    []*Message    `json:"messages"`
	Todos       []TodoItem    `json:"todos"`

	// LastEventSeq is the high-water mark of emitted event sequence numbers.
	LastEventSeq uint64 `json:"lastEventSeq"`

	Time SessionTime `json:"time"`
}

// SessionTime holds session timestamps in Unix milliseconds.
type SessionTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}

// SessionConfig is the per-session configuration snapshot. It is immutable
// while a turn is running; set_model applies between turns.
type SessionConfig struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	AgentModel       string `json:"agentModel,omitempty"` // model for spawned sub-agents
	WorkingDirectory string `json:"workingDirectory"`
	OutputDirectory  string `json:"outputDirectory,omitempty"`
	UploadsDirectory string `json:"uploadsDirectory,omitempty"`
	EnableMCP        bool   `json:"enableMcp"`
	SystemPrompt     string `json:"systemPrompt,omitempty"`
	MaxSteps         int    `json:"maxSteps,omitempty"`
	MaxSpawnDepth    int    `json:"maxSpawnDepth,omitempty"`

	// ProviderOptions is an opaque option bag forwarded to the provider
	// adapter. The engine never inspects its interior.
	ProviderOptions map[string]any `json:"providerOptions,omitempty"`
}

// TodoStatus is the lifecycle state of a todo item.
type TodoStatus string

const (
	TodoPending    TodoStatus = "pending"
	TodoInProgress TodoStatus = "in_progress"
	TodoCompleted  TodoStatus = "completed"
)

// TodoItem is one entry in the session todo list.
type TodoItem struct {
	Content    string     `json:"content"`
	ActiveForm string     `json:"activeForm"`
	Status     TodoStatus `json:"status"`
}

// Model describes a model a provider can serve.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Provider        string `json:"provider"`
	SupportsTools   bool   `json:"supportsTools"`
	SupportsThought bool   `json:"supportsThought"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
	Default         bool   `json:"default,omitempty"`
}
