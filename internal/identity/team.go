package identity

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// teamTheme is the set of flavor words used to auto-generate a bot's
// SOUL/IDENTITY/ROLE/AGENTS files when none exist yet.
type teamTheme struct {
	title string
	voice string
	metaphor string
	emoji string
	// crossRefLines are candidate sentences MultiBotGenerator's
	// cross-reference injection picks from, "%s" standing in
	// for the other bot's name.
	crossRefLines []string
}

var teamThemes = map[string]teamTheme{
	"pirate_crew": {
		title: "first mate", voice: "salty, blunt, calls problems 'squalls'", metaphor: "a ship's crew", emoji: "🏴‍☠️",
		crossRefLines: []string{"Ask %s, they've got the chart for this.", "%s would keelhaul me if I got this wrong without checking first."},
	},
	"rock_band": {
		title: "bandmate", voice: "casual, enthusiastic, calls releases 'shows'", metaphor: "a touring band", emoji: "🎸",
		crossRefLines: []string{"%s's been riffing on this too, worth a listen.", "Check with %s before we take this on tour."},
	},
	"space_crew": {
		title: "crew officer", voice: "calm, procedural, calls incidents 'anomalies'", metaphor: "a starship crew", emoji: "🚀",
		crossRefLines: []string{"Flagging this to %s for a second reading.", "%s logged something similar last cycle."},
	},
	"executive_suite": {
		title: "director", voice: "formal, concise, calls tasks 'initiatives'", metaphor: "an executive team", emoji: "🧑‍💼",
		crossRefLines: []string{"Looping in %s on this initiative.", "%s owns the adjacent workstream here."},
	},
	"swat_team": {
		title: "operator", voice: "terse, tactical, calls tasks 'ops'", metaphor: "a tactical unit", emoji: "🎯",
		crossRefLines: []string{"%s, confirm.", "Coordinating with %s on this op."},
	},
	"feral_clowder": {
		title: "housemate", voice: "dry, independent, calls tasks 'hunts'", metaphor: "a clowder of cats", emoji: "🐈",
		crossRefLines: []string{"%s sniffed this out already, probably.", "Not my corner of the house — ask %s."},
	},
}

// defaultTheme is used when a team style is unset or unrecognized.
var defaultTheme = teamTheme{
	title: "teammate", voice: "plain and direct", metaphor: "a small team", emoji: "🙂",
	crossRefLines: []string{"Worth checking with %s on this."},
}

func themeFor(style string) teamTheme {
	if t, ok := teamThemes[style]; ok {
		return t
	}
	return defaultTheme
}

// CrossReferenceLine returns a theme-appropriate cross-reference
// sentence naming otherBot, for MultiBotGenerator's injection step. index selects among the theme's lines deterministically so callers
// control the "randomness" without this package importing math/rand.
func CrossReferenceLine(teamStyle, otherBot string, index int) string {
	theme := themeFor(teamStyle)
	if len(theme.crossRefLines) == 0 {
		return fmt.Sprintf("Worth checking with %s on this.", otherBot)
	}
	line := theme.crossRefLines[index%len(theme.crossRefLines)]
	return fmt.Sprintf(line, otherBot)
}

// EmojiFor returns the team theme's emoji, used as the MultiBotGenerator
// response block prefix.
func EmojiFor(teamStyle string) string {
	return themeFor(teamStyle).emoji
}

// generate writes SOUL.md, IDENTITY.md, ROLE.md, and AGENTS.md into dir for
// a bot named name, styled per teamStyle. peers lists the other bots in the
// same team, used to seed a default Relationships table. It is called when a
// bot's persona directory has no SOUL.md, and writes only the files that do
// not exist yet.
func generate(name, dir, teamStyle string, peers []string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	theme := themeFor(teamStyle)

	var relationships strings.Builder
	for _, peer := range peers {
		if peer == name {
			continue
		}
		fmt.Fprintf(&relationships, "- %s: 0.6 a fellow %s, generally reliable\n", peer, theme.title)
	}

	files := map[string]string{
		"SOUL.md": fmt.Sprintf(
			"# Soul\n\n%s is %s in %s. Speaks %s.\n",
			name, theme.title, theme.metaphor, theme.voice,
		),
		"IDENTITY.md": fmt.Sprintf(
			"# Identity\n\nName: %s\nRole: %s\n\n# Relationships\n\n%s",
			name, theme.title, relationships.String(),
		),
		"ROLE.md": fmt.Sprintf(
			"# Domain\n\nGeneral purpose teammate, scope not yet narrowed.\n\n"+
				"# Inputs\n\n- whatever the room sends\n\n"+
				"# Outputs\n\n- a reply in the room\n\n"+
				"# Definition of Done\n\n- the requester's question is answered or the task is handed off\n\n"+
				"# Hard Bans\n\n\n# Escalation Triggers\n\n\n# Metrics\n\n\n"+
				"# Display Name\n\n%s\n\n# Voice\n\n%s\n\n"+
				"# Capabilities\n\ndelegate, web, messaging, heartbeat\n\n"+
				"# Max Concurrent Tasks\n\n3\n",
			name, theme.voice,
		),
		"AGENTS.md": fmt.Sprintf(
			"# Agent Notes\n\n%s follows the conventions of %s: stay in character, keep replies short.\n",
			name, theme.metaphor,
		),
	}

	for filename, content := range files {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			continue // don't clobber a partially-authored persona
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}
