package identity

import (
	"strings"
	"testing"
)

func TestLoadGeneratesPersonaWhenDirectoryIsEmpty(t *testing.T) {
	dir := t.TempDir()
	persona, err := Load("scout", dir, "pirate_crew", []string{"scout", "leader"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.Contains(persona.SystemText, "scout") {
		t.Fatalf("expected generated persona text to mention the bot's name, got %q", persona.SystemText)
	}
	if persona.RoleCard.DisplayName == "" && persona.RoleCard.Voice == "" {
		t.Fatalf("expected a parsed role card from the generated ROLE.md")
	}
	if !persona.RoleCard.CanDelegate {
		t.Fatalf("expected generated persona capabilities to include delegate")
	}
}

func TestLoadIsIdempotentOnSecondCall(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load("scout", dir, "rock_band", nil); err != nil {
		t.Fatalf("Load (first): %v", err)
	}
	first, err := Load("scout", dir, "rock_band", nil)
	if err != nil {
		t.Fatalf("Load (second): %v", err)
	}
	second, err := Load("scout", dir, "rock_band", nil)
	if err != nil {
		t.Fatalf("Load (third): %v", err)
	}
	if first.SystemText != second.SystemText {
		t.Fatalf("expected persona text to be stable across repeated loads")
	}
}

func TestLoadSeedsRelationshipsFromPeers(t *testing.T) {
	dir := t.TempDir()
	persona, err := Load("scout", dir, "space_crew", []string{"scout", "leader", "archivist"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(persona.RoleCard.Relationships) != 2 {
		t.Fatalf("expected relationships for the 2 peers excluding self, got %d: %+v", len(persona.RoleCard.Relationships), persona.RoleCard.Relationships)
	}
	if _, ok := persona.RoleCard.Relationships["leader"]; !ok {
		t.Fatalf("expected a relationship entry for leader")
	}
}

func TestToolPermissionsAllowsDeniedWins(t *testing.T) {
	p := ToolPermissions{Allowed: []string{"exec", "memory"}, Denied: []string{"exec"}}
	if p.Allows("exec") {
		t.Fatalf("expected denied tool to be blocked even if also allowed")
	}
	if !p.Allows("memory") {
		t.Fatalf("expected allowed tool to pass")
	}
	if p.Allows("web_fetch") {
		t.Fatalf("expected a tool absent from a non-empty allow list to be blocked")
	}
}

func TestToolPermissionsEmptyAllowedMeansEverythingNotDenied(t *testing.T) {
	p := ToolPermissions{Denied: []string{"exec"}}
	if p.Allows("exec") {
		t.Fatalf("expected denied tool blocked")
	}
	if !p.Allows("web_fetch") {
		t.Fatalf("expected non-denied tool allowed when Allowed list is empty")
	}
}

func TestRoleCardViolatesHardBan(t *testing.T) {
	card := RoleCard{HardBans: []string{"delete production data", "bypass approval"}}
	violated, ban := card.ViolatesHardBan("please bypass approval for this deploy")
	if !violated || ban != "bypass approval" {
		t.Fatalf("expected hard ban match, got violated=%v ban=%q", violated, ban)
	}
	if v, _ := card.ViolatesHardBan("just ship it normally"); v {
		t.Fatalf("expected no hard ban match for benign text")
	}
}

func TestRelationshipAffinityBucket(t *testing.T) {
	if (Relationship{Affinity: 0.9}).AffinityBucket() != "agree" {
		t.Fatalf("expected high affinity to bucket as agree")
	}
	if (Relationship{Affinity: 0.2}).AffinityBucket() != "challenging" {
		t.Fatalf("expected low affinity to bucket as challenging")
	}
	if (Relationship{Affinity: 0.55}).AffinityBucket() != "neutral" {
		t.Fatalf("expected mid affinity to bucket as neutral")
	}
}

func TestCrossReferenceLineSubstitutesOtherBot(t *testing.T) {
	line := CrossReferenceLine("swat_team", "scout", 0)
	if !strings.Contains(line, "scout") {
		t.Fatalf("expected the other bot's name substituted in, got %q", line)
	}
}

func TestEmojiForUnknownStyleFallsBackToDefault(t *testing.T) {
	if got := EmojiFor("not-a-real-style"); got != defaultTheme.emoji {
		t.Fatalf("expected default theme emoji for an unknown style, got %q", got)
	}
}
