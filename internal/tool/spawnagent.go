package tool

import (
	"context"
	"encoding/json"
	"fmt"
)

// Sub-agent types and the tool subset each one gets.
var AgentToolSets = map[string][]string{
	"explore":  {"shell", "read", "glob", "grep"},
	"research": {"read", "webSearch", "webFetch"},
	"general": {"read", "write", "edit", "glob", "grep", "webSearch",
		"webFetch", "notebookEdit", "skill", "memory"},
}

const spawnAgentDescription = `Spawns a sub-agent with a restricted tool set and returns its final answer.

Usage:
- agentType is one of explore, research, general
- explore: read-only codebase exploration (shell restricted to safe commands)
- research: web research
- general: full file and web access, no shell`

// SpawnAgentTool runs a nested turn loop via the injected Runner.
type SpawnAgentTool struct{}

// SpawnAgentInput is the spawnAgent tool's arguments.
type SpawnAgentInput struct {
	AgentType string `json:"agentType"`
	Prompt    string `json:"prompt"`
}

// NewSpawnAgentTool creates the spawnAgent tool.
func NewSpawnAgentTool() *SpawnAgentTool { return &SpawnAgentTool{} }

func (t *SpawnAgentTool) Name() string             { return "spawnAgent" }
func (t *SpawnAgentTool) Description() string      { return spawnAgentDescription }
func (t *SpawnAgentTool) Capabilities() Capability { return CapSpawns }

func (t *SpawnAgentTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"agentType": {
				"type": "string",
				"enum": ["explore", "research", "general"],
				"description": "The kind of sub-agent to spawn"
			},
			"prompt": {
				"type": "string",
				"description": "The task for the sub-agent"
			}
		},
		"required": ["agentType", "prompt"]
	}`)
}

func (t *SpawnAgentTool) Execute(ctx context.Context, input json.RawMessage, tc *Context) (*Result, error) {
	var params SpawnAgentInput
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	if _, ok := AgentToolSets[params.AgentType]; !ok {
		return nil, fmt.Errorf("unknown agent type %q", params.AgentType)
	}
	if tc.Spawner == nil {
		return nil, fmt.Errorf("sub-agents are not available in this context")
	}

	maxDepth := tc.Config.MaxSpawnDepth
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if tc.SpawnDepth >= maxDepth {
		return nil, fmt.Errorf("sub-agent depth limit (%d) exceeded", maxDepth)
	}

	text, err := tc.Spawner.RunSubAgent(ctx, params.AgentType, params.Prompt, tc)
	if err != nil {
		return nil, fmt.Errorf("sub-agent failed: %w", err)
	}

	return &Result{
		Title:  fmt.Sprintf("Sub-agent (%s) finished", params.AgentType),
		Output: text,
		Metadata: map[string]any{
			"agentType": params.AgentType,
			"depth":     tc.SpawnDepth + 1,
		},
	}, nil
}
