// Package identity loads a bot's personality files and derives its RoleCard and
// ToolPermissions from them. Grounded on the bootstrap-file-concatenation
// pattern in leonardcser-localagent's ContextBuilder.LoadBootstrapFiles,
// generalized from a single fixed persona to one persona directory per bot
// plus auto-generated Team styling when no persona exists yet.
package identity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// personaFiles lists the files read from a bot's persona directory, in the
// order they are concatenated into the system prompt.
var personaFiles = []string{"AGENTS.md", "SOUL.md", "IDENTITY.md", "ROLE.md", "HEARTBEAT.md"}

// RoleCard captures the structured facets of a bot's role that the
// AgentLoop and MultiBotGenerator reason about directly, rather than
// re-parsing prose every turn.
type RoleCard struct {
	Domain string
	Inputs []string
	Outputs []string
	DefinitionOfDone []string
	HardBans []string
	EscalationTriggers []string
	Metrics []string
	CanCode bool
	CanBrowse bool
	CanDelegate bool
	DisplayName string
	Voice string
	Emoji string

	// Capability flags, parsed from the persona's capabilities text and
	// mapped to tools by CapabilityFor. The AgentLoop does not consult
	// them: it gates tool calls on the bot's tool set and hard bans only.
	CanInvokeBots bool
	CanAccessWeb bool
	CanExecCommands bool
	CanSendMessages bool
	CanDoHeartbeat bool
	MaxConcurrentTasks int

	// Relationships maps another bot's name to this bot's affinity toward
	// it. It is parsed and stored only: MultiBotGenerator's cross-reference
	// lines and reply tone do not depend on it.
	Relationships map[string]Relationship
}

// Relationship is one bot's affinity toward another, parsed from
// IDENTITY.md's "## Relationships" section.
type Relationship struct {
	Affinity float64 // [0, 1]
	Description string
}

// AffinityBucket classifies a Relationship's affinity into one of three
// tone buckets.
func (r Relationship) AffinityBucket() string {
	switch {
	case r.Affinity >= 0.7:
		return "agree"
	case r.Affinity <= 0.4:
		return "challenging"
	default:
		return "neutral"
	}
}

// ViolatesHardBan reports whether actionText matches one of the bot's
// declared hard bans (case-insensitive substring match), and if so returns
// the matching ban text for the refusal message.
func (c RoleCard) ViolatesHardBan(actionText string) (bool, string) {
	lower := strings.ToLower(actionText)
	for _, ban := range c.HardBans {
		if ban == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(ban)) {
			return true, ban
		}
	}
	return false, ""
}

// CapabilityFor maps a tool name to the RoleCard capability flag that gates
// it, returning ok=false for tools with no capability gate.
func (c RoleCard) CapabilityFor(toolName string) (allowed bool, ok bool) {
	switch toolName {
	case "invoke":
		return c.CanInvokeBots, true
	case "web_search", "web_fetch":
		return c.CanAccessWeb, true
	case "exec":
		return c.CanExecCommands, true
	case "message":
		return c.CanSendMessages, true
	case "routine":
		return c.CanDoHeartbeat, true
	default:
		return false, false
	}
}

// ToolPermissions is the allow/deny/custom tool list parsed out of a bot's
// ROLE.md.
type ToolPermissions struct {
	Allowed []string
	Denied []string
	Custom []string
}

// Allows reports whether toolName is permitted under these permissions:
// denied always wins, an empty Allowed list means "everything not denied".
func (p ToolPermissions) Allows(toolName string) bool {
	for _, d := range p.Denied {
		if d == toolName {
			return false
		}
	}
	if len(p.Allowed) == 0 {
		return true
	}
	for _, a := range p.Allowed {
		if a == toolName {
			return true
		}
	}
	return false
}

// Persona is everything loaded from one bot's persona directory: the raw
// concatenated prompt text plus the structured facets parsed out of it.
type Persona struct {
	Name string
	SystemText string
	RoleCard RoleCard
	Permissions ToolPermissions
}

// Load reads a bot's persona directory. If it has no SOUL.md, the persona
// files missing from it are generated in the given team style (files
// already present are kept) before being read back. peers lists the
// bot's teammates, used to seed default Relationships when generating.
func Load(name, dir, teamStyle string, peers []string) (*Persona, error) {
	if _, err := os.Stat(filepath.Join(dir, "SOUL.md")); os.IsNotExist(err) {
		if err := generate(name, dir, teamStyle, peers); err != nil {
			return nil, fmt.Errorf("identity: generate persona for %s: %w", name, err)
		}
	}

	var b strings.Builder
	for _, filename := range personaFiles {
		data, err := os.ReadFile(filepath.Join(dir, filename))
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", filename, string(data))
	}

	roleText, _ := os.ReadFile(filepath.Join(dir, "ROLE.md"))
	identityText, _ := os.ReadFile(filepath.Join(dir, "IDENTITY.md"))
	card := parseRoleCard(string(roleText))
	card.Relationships = parseRelationships(string(identityText))
	return &Persona{
		Name: name,
		SystemText: b.String(),
		RoleCard: card,
		Permissions: parseToolPermissions(string(roleText)),
	}, nil
}

// parseRoleCard extracts the structured facets from ROLE.md's headed
// sections. Sections it doesn't recognize are ignored; an empty or
// malformed ROLE.md yields a zero-value RoleCard rather than an error,
// since the free-form prose in SystemText is still usable on its own.
func parseRoleCard(text string) RoleCard {
	sections := splitSections(text)
	card := RoleCard{
		Domain: firstLine(sections["domain"]),
		Inputs: bulletList(sections["inputs"]),
		Outputs: bulletList(sections["outputs"]),
		DefinitionOfDone: bulletList(sections["definition of done"]),
		HardBans: bulletList(sections["hard bans"]),
		EscalationTriggers: bulletList(sections["escalation triggers"]),
		Metrics: bulletList(sections["metrics"]),
		DisplayName: firstLine(sections["display name"]),
		Voice: firstLine(sections["voice"]),
	}
	caps := strings.ToLower(sections["capabilities"])
	card.CanCode = strings.Contains(caps, "code")
	card.CanBrowse = strings.Contains(caps, "browse") || strings.Contains(caps, "web")
	card.CanDelegate = strings.Contains(caps, "delegate")
	card.CanInvokeBots = card.CanDelegate || strings.Contains(caps, "invoke")
	card.CanAccessWeb = card.CanBrowse
	card.CanExecCommands = strings.Contains(caps, "exec") || strings.Contains(caps, "shell") || strings.Contains(caps, "command")
	card.CanSendMessages = !strings.Contains(caps, "no messaging") && !strings.Contains(caps, "cannot message")
	card.CanDoHeartbeat = strings.Contains(caps, "heartbeat") || strings.Contains(caps, "routine")
	card.MaxConcurrentTasks = parseIntDefault(sections["max concurrent tasks"], 3)
	return card
}

func parseIntDefault(body string, fallback int) int {
	line := firstLine(body)
	n := 0
	for _, r := range line {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}

// parseRelationships extracts a bot's affinity table from IDENTITY.md's
// "## Relationships" section. Each line has the shape
// "- <bot>: <affinity 0-1> <free-form description>"; malformed lines are
// skipped rather than erroring.
func parseRelationships(text string) map[string]Relationship {
	sections := splitSections(text)
	body := sections["relationships"]
	if body == "" {
		return nil
	}
	out := make(map[string]Relationship)
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line == "" {
			continue
		}
		name, rest, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		rest = strings.TrimSpace(rest)
		fields := strings.SplitN(rest, " ", 2)
		affinity, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		desc := ""
		if len(fields) > 1 {
			desc = strings.TrimSpace(fields[1])
		}
		out[strings.ToLower(name)] = Relationship{Affinity: affinity, Description: desc}
	}
	return out
}

func parseToolPermissions(text string) ToolPermissions {
	sections := splitSections(text)
	return ToolPermissions{
		Allowed: bulletList(sections["allowed tools"]),
		Denied: bulletList(sections["denied tools"]),
		Custom: bulletList(sections["custom tools"]),
	}
}

// splitSections breaks a markdown document into a map of lowercase heading
// text to the body beneath it, for headings at any "#" level.
func splitSections(text string) map[string]string {
	sections := make(map[string]string)
	var current string
	var body strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			if current != "" {
				sections[current] = body.String()
			}
			current = strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
			body.Reset()
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if current != "" {
		sections[current] = body.String()
	}
	return sections
}

func bulletList(body string) []string {
	var items []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}

func firstLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
