package session

import (
	"fmt"
	"strings"

	"github.com/cowork-ai/cowork/internal/config"
	"github.com/cowork-ai/cowork/pkg/types"
)

const basePrompt = `You are cowork, an interactive coding agent. You help the user with
software engineering tasks using the tools available to you.

Guidelines:
- Prefer reading files before editing them.
- Keep the todo list current on multi-step work.
- Ask the user when a decision genuinely needs their input.
- Risky shell commands require user approval; explain what a command does
  when it is not obvious.`

// systemPrompt assembles the system prompt for a step: the configured
// override or the base prompt, plus environment context.
func (e *Engine) systemPrompt(cfg types.SessionConfig) string {
	prompt := cfg.SystemPrompt
	if prompt == "" {
		prompt = basePrompt
	}

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\n# Environment\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", cfg.WorkingDirectory)
	if cfg.OutputDirectory != "" {
		fmt.Fprintf(&sb, "Output directory: %s\n", cfg.OutputDirectory)
	}

	if st, ok := e.deps.Tools.Get("skill"); ok {
		if skillTool, ok := st.(interface{ ListSkills() []string }); ok {
			if skills := skillTool.ListSkills(); len(skills) > 0 {
				fmt.Fprintf(&sb, "\nAvailable skills: %s\n", strings.Join(skills, ", "))
			}
		}
	}

	return sb.String()
}

// subAgentPrompt is the system prompt for spawned sub-agents.
func subAgentPrompt(agentType string, cfg types.SessionConfig) string {
	var role string
	switch agentType {
	case "explore":
		role = "You are a read-only exploration agent. Investigate the codebase and report what you find. Do not modify anything."
	case "research":
		role = "You are a research agent. Use web search and fetch to answer the question, citing sources."
	default:
		role = "You are a focused worker agent. Complete the task and report the result."
	}
	return fmt.Sprintf("%s\n\nWorking directory: %s\nAnswer with your findings as plain text; your final message is the result returned to the caller.",
		role, cfg.WorkingDirectory)
}

// projectRoot finds the project root (parent of .agent) for a directory.
func projectRoot(dir string) string {
	return config.FindProjectRoot(dir)
}

// deriveTitle derives a session title from the first user message.
func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	if title == "" {
		title = "New session"
	}
	return title
}
