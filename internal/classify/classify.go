// Package classify maps a shell command string to an approval decision:
// run automatically, prompt the user with a risk tag, or deny outright.
// Classification is deterministic, side-effect-free, and lexical over the
// literal command text.
package classify

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Kind is the classifier verdict.
type Kind string

const (
	Auto   Kind = "auto"
	Prompt Kind = "prompt"
	Deny   Kind = "deny"
)

// Risk codes attached to prompt decisions.
const (
	RiskManualReview        = "requires_manual_review"
	RiskFilesystemMutation  = "filesystem_mutation"
	RiskNetworkAccess       = "network_access"
	RiskPrivilegeEscalation = "privilege_escalation"
	RiskProcessControl      = "process_control"
)

// Decision is the classifier output.
type Decision struct {
	Kind      Kind
	Risk      string
	Dangerous bool
}

// autoCommands are read-only inspection commands safe to run without
// approval. Conservative allow-list: anything absent prompts.
var autoCommands = map[string]bool{
	"pwd": true, "ls": true, "cat": true, "head": true, "tail": true,
	"wc": true, "which": true, "whoami": true, "date": true, "echo": true,
	"env": true, "printenv": true, "uname": true, "id": true, "file": true,
	"stat": true, "du": true, "df": true, "grep": true, "rg": true,
	"find": true, "tree": true, "basename": true, "dirname": true,
	"realpath": true, "readlink": true, "type": true, "uptime": true,
	"hostname": true, "sort": true, "uniq": true, "cut": true, "diff": true,
}

// autoGitSubcommands are the read-only git verbs.
var autoGitSubcommands = map[string]bool{
	"status": true, "log": true, "diff": true, "show": true, "branch": true,
	"remote": true, "tag": true, "blame": true, "describe": true,
	"rev-parse": true, "ls-files": true, "shortlog": true, "stash": false,
}

// mutationCommands touch the filesystem.
var mutationCommands = map[string]bool{
	"rm": true, "mv": true, "cp": true, "mkdir": true, "rmdir": true,
	"touch": true, "chmod": true, "chown": true, "ln": true, "dd": true,
	"truncate": true, "shred": true, "tee": true, "install": true,
	"mkfs": true, "mount": true, "umount": true,
}

// networkCommands reach the network.
var networkCommands = map[string]bool{
	"curl": true, "wget": true, "ssh": true, "scp": true, "rsync": true,
	"nc": true, "ncat": true, "telnet": true, "ftp": true, "sftp": true,
	"dig": true, "nslookup": true, "ping": true,
}

// escalationCommands change privilege.
var escalationCommands = map[string]bool{
	"sudo": true, "su": true, "doas": true, "pkexec": true,
}

// processCommands control other processes or the host.
var processCommands = map[string]bool{
	"kill": true, "killall": true, "pkill": true, "reboot": true,
	"shutdown": true, "halt": true, "systemctl": true, "service": true,
}

// Classifier classifies shell commands. The deny list is a configuration
// input matched against a command's first token.
type Classifier struct {
	deny map[string]bool
}

// New builds a classifier with the given deny list (may be empty).
func New(denyCommands []string) *Classifier {
	deny := make(map[string]bool, len(denyCommands))
	for _, c := range denyCommands {
		deny[strings.TrimSpace(c)] = true
	}
	return &Classifier{deny: deny}
}

// Classify classifies one shell command string. Compound commands (pipes,
// &&, ;) are split into their calls; the whole string is auto only when
// every call is auto, denied when any call is denied, and otherwise prompts
// with the highest risk across calls.
func (c *Classifier) Classify(command string) Decision {
	calls := splitCalls(command)
	if len(calls) == 0 {
		return Decision{Kind: Prompt, Risk: RiskManualReview}
	}

	worst := Decision{Kind: Auto}
	for _, call := range calls {
		d := c.classifyCall(call)
		if d.Kind == Deny {
			return d
		}
		if d.Kind == Prompt {
			if worst.Kind == Auto || riskRank(d.Risk) > riskRank(worst.Risk) {
				worst = Decision{Kind: Prompt, Risk: d.Risk, Dangerous: worst.Dangerous || d.Dangerous}
			} else {
				worst.Dangerous = worst.Dangerous || d.Dangerous
			}
		}
	}
	return worst
}

// call is one simple command extracted from the input.
type call struct {
	name string
	args []string
}

func (c *Classifier) classifyCall(cl call) Decision {
	if c.deny[cl.name] {
		return Decision{Kind: Deny}
	}

	switch {
	case escalationCommands[cl.name]:
		return Decision{Kind: Prompt, Risk: RiskPrivilegeEscalation, Dangerous: true}
	case processCommands[cl.name]:
		return Decision{Kind: Prompt, Risk: RiskProcessControl, Dangerous: isDangerous(cl)}
	case mutationCommands[cl.name]:
		return Decision{Kind: Prompt, Risk: RiskFilesystemMutation, Dangerous: isDangerous(cl)}
	case networkCommands[cl.name]:
		return Decision{Kind: Prompt, Risk: RiskNetworkAccess}
	case cl.name == "git":
		if len(cl.args) > 0 && autoGitSubcommands[firstNonFlag(cl.args)] && !hasWriteFlags(cl.args) {
			return Decision{Kind: Auto}
		}
		return Decision{Kind: Prompt, Risk: RiskManualReview}
	case autoCommands[cl.name]:
		return Decision{Kind: Auto}
	default:
		return Decision{Kind: Prompt, Risk: RiskManualReview}
	}
}

// isDangerous upgrades UI emphasis for destructive shapes.
func isDangerous(cl call) bool {
	switch cl.name {
	case "rm":
		var recursive, force bool
		for _, a := range cl.args {
			if !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--") {
				if a == "--recursive" {
					recursive = true
				}
				if a == "--force" {
					force = true
				}
				continue
			}
			if strings.ContainsAny(a, "rR") {
				recursive = true
			}
			if strings.Contains(a, "f") {
				force = true
			}
		}
		return recursive && force
	case "dd", "mkfs", "shred", "reboot", "shutdown", "halt":
		return true
	}
	return false
}

func firstNonFlag(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// hasWriteFlags catches read-looking git verbs used in write mode
// (e.g. "git branch -D", "git stash pop" never gets here, "git tag -d").
func hasWriteFlags(args []string) bool {
	for _, a := range args {
		switch a {
		case "-d", "-D", "-m", "-M", "--delete", "--force", "-f":
			return true
		}
	}
	return false
}

func riskRank(risk string) int {
	switch risk {
	case RiskPrivilegeEscalation:
		return 4
	case RiskProcessControl:
		return 3
	case RiskFilesystemMutation:
		return 2
	case RiskNetworkAccess:
		return 1
	default:
		return 0
	}
}

// splitCalls parses the command and extracts every simple call. A parse
// failure degrades to whitespace splitting of the first token, which keeps
// classification purely lexical.
func splitCalls(command string) []call {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		fields := strings.Fields(command)
		if len(fields) == 0 {
			return nil
		}
		return []call{{name: fields[0], args: fields[1:]}}
	}

	var calls []call
	syntax.Walk(file, func(node syntax.Node) bool {
		ce, ok := node.(*syntax.CallExpr)
		if !ok || len(ce.Args) == 0 {
			return true
		}
		name := wordText(ce.Args[0])
		if name == "" {
			return true
		}
		var args []string
		for _, w := range ce.Args[1:] {
			args = append(args, wordText(w))
		}
		calls = append(calls, call{name: name, args: args})
		return true
	})
	return calls
}

// wordText renders a word literally; expansions become opaque placeholders
// so a $(...)-shaped token never matches the allow-list.
func wordText(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}
