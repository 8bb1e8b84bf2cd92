package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cowork-ai/cowork/pkg/types"
)

// Server → client event tags.
const (
	EvServerHello              = "server_hello"
	EvSessionBusy              = "session_busy"
	EvUserMessage              = "user_message"
	EvAssistantMessage         = "assistant_message"
	EvReasoning                = "reasoning"
	EvLog                      = "log"
	EvTodos                    = "todos"
	EvAsk                      = "ask"
	EvApproval                 = "approval"
	EvResetDone                = "reset_done"
	EvConfigUpdated            = "config_updated"
	EvSessionList              = "session_list"
	EvToolList                 = "tool_list"
	EvProviderCatalog          = "provider_catalog"
	EvProviderAuthMethods      = "provider_auth_methods"
	EvProviderStatus           = "provider_status"
	EvProviderAuthChallenge    = "provider_auth_challenge"
	EvProviderAuthResult       = "provider_auth_result"
	EvObservabilityStatus      = "observability_status"
	EvHarnessContext           = "harness_context"
	EvObservabilityQueryResult = "observability_query_result"
	EvHarnessSLOResult         = "harness_slo_result"
	EvError                    = "error"
)

// Error codes carried by EvError events.
const (
	CodeInvalidJSON      = "invalid_json"
	CodeUnknownType      = "unknown_type"
	CodeValidationFailed = "validation_failed"
	CodeProviderError    = "provider_error"
	CodeInternalError    = "internal_error"
	CodePathDenied       = "path_denied"
	CodeToolError        = "tool_error"
)

// Error sources carried by EvError events.
const (
	SourceProtocol = "protocol"
	SourceSession  = "session"
	SourceProvider = "provider"
	SourceTool     = "tool"
)

// Sentinel decode errors, mapped to error codes at the router.
var (
	ErrInvalidJSON = errors.New("invalid json")
	ErrUnknownType = errors.New("unknown message type")
)

// ServerEvent is the outbound envelope. The payload's fields are flattened
// next to type, sessionId and eventSeq when marshalled.
type ServerEvent struct {
	Type      string
	SessionID string
	EventSeq  uint64
	Payload   any
}

// MarshalJSON flattens Payload into the envelope object.
func (e ServerEvent) MarshalJSON() ([]byte, error) {
	obj := map[string]any{}
	if e.Payload != nil {
		raw, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("payload for %s is not an object: %w", e.Type, err)
		}
	}
	obj["type"] = e.Type
	if e.SessionID != "" {
		obj["sessionId"] = e.SessionID
	}
	obj["eventSeq"] = e.EventSeq
	return json.Marshal(obj)
}

// UnmarshalJSON decodes the envelope, leaving the payload raw.
func (e *ServerEvent) UnmarshalJSON(data []byte) error {
	var env struct {
		Type      string `json:"type"`
		SessionID string `json:"sessionId"`
		EventSeq  uint64 `json:"eventSeq"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	e.Type = env.Type
	e.SessionID = env.SessionID
	e.EventSeq = env.EventSeq
	e.Payload = json.RawMessage(data)
	return nil
}

// ServerHelloPayload greets a client after open or resume.
type ServerHelloPayload struct {
	Config             types.SessionConfig `json:"config"`
	IsResume           bool                `json:"isResume,omitempty"`
	Busy               bool                `json:"busy,omitempty"`
	HasPendingAsk      bool                `json:"hasPendingAsk,omitempty"`
	HasPendingApproval bool                `json:"hasPendingApproval,omitempty"`
}

// SessionBusyPayload reports busy-state transitions.
type SessionBusyPayload struct {
	Busy bool `json:"busy"`
}

// UserMessagePayload echoes accepted user input.
type UserMessagePayload struct {
	Text            string `json:"text"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

// AssistantMessagePayload carries final assistant text for a step.
type AssistantMessagePayload struct {
	Text string `json:"text"`
}

// ReasoningPayload carries model reasoning as it streams.
type ReasoningPayload struct {
	Kind types.ReasoningKind `json:"kind"`
	Text string              `json:"text"`
}

// LogPayload carries one structured log line. Tool entry and exit use the
// "tool> <name> <json>" / "tool< <name> <json>" envelope, which UIs parse
// back into tool-call cards.
type LogPayload struct {
	Line string `json:"line"`
}

// TodosPayload carries the full todo list after a change.
type TodosPayload struct {
	Todos []types.TodoItem `json:"todos"`
}

// AskPayload asks the client for structured input.
type AskPayload struct {
	RequestID string   `json:"requestId"`
	Question  string   `json:"question"`
	Options   []string `json:"options,omitempty"`
}

// ApprovalPayload asks the client to approve a command.
type ApprovalPayload struct {
	RequestID  string `json:"requestId"`
	Command    string `json:"command"`
	Dangerous  bool   `json:"dangerous"`
	ReasonCode string `json:"reasonCode"`
}

// ResetDonePayload confirms a reset.
type ResetDonePayload struct{}

// ConfigUpdatedPayload carries the new config snapshot after set_model.
type ConfigUpdatedPayload struct {
	Config types.SessionConfig `json:"config"`
}

// SessionSummary is one row of the session list.
type SessionSummary struct {
	SessionID    string `json:"sessionId"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	MessageCount int    `json:"messageCount"`
	UpdatedAt    int64  `json:"updatedAt"`
}

// SessionListPayload answers list_sessions.
type SessionListPayload struct {
	Sessions []SessionSummary `json:"sessions"`
}

// ToolDescriptor is one row of the tool list.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ToolListPayload answers list_tools.
type ToolListPayload struct {
	Tools []ToolDescriptor `json:"tools"`
}

// ProviderCatalogPayload lists providers and their models.
type ProviderCatalogPayload struct {
	Providers []ProviderInfo `json:"providers"`
}

// ProviderInfo describes one provider.
type ProviderInfo struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Models []types.Model `json:"models"`
}

// AuthMethod describes one way to authenticate a provider.
type AuthMethod struct {
	Provider string `json:"provider"`
	MethodID string `json:"methodId"`
	Kind     string `json:"kind"` // "api_key" | "oauth"
	Label    string `json:"label"`
}

// ProviderAuthMethodsPayload answers provider_auth_methods_get.
type ProviderAuthMethodsPayload struct {
	Methods []AuthMethod `json:"methods"`
}

// ProviderStatusPayload reports credential status per provider.
type ProviderStatusPayload struct {
	Status map[string]bool `json:"status"` // provider id -> has credentials
}

// ProviderAuthChallengePayload carries an auth flow challenge (e.g. a URL).
type ProviderAuthChallengePayload struct {
	Provider string `json:"provider"`
	MethodID string `json:"methodId"`
	URL      string `json:"url,omitempty"`
}

// ProviderAuthResultPayload reports the outcome of an auth flow.
type ProviderAuthResultPayload struct {
	Provider string `json:"provider"`
	MethodID string `json:"methodId"`
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
}

// ObservabilityStatusPayload reports diagnostic availability.
type ObservabilityStatusPayload struct {
	Enabled bool `json:"enabled"`
}

// HarnessContextPayload answers harness_context_get.
type HarnessContextPayload struct {
	Context json.RawMessage `json:"context"`
}

// ObservabilityQueryResultPayload answers observability_query.
type ObservabilityQueryResultPayload struct {
	Lines []string `json:"lines"`
}

// HarnessSLOResultPayload answers harness_slo_evaluate.
type HarnessSLOResultPayload struct {
	Results map[string]bool `json:"results"`
}

// ErrorPayload reports a typed error without closing the session.
type ErrorPayload struct {
	Code    string `json:"code"`
	Source  string `json:"source"`
	Message string `json:"message"`
}
