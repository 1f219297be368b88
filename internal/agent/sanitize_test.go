package agent

import "testing"

func TestSanitizeAssistantContentStripsThinkingTags(t *testing.T) {
	in := "<thinking>internal reasoning here</thinking>The actual answer."
	out := SanitizeAssistantContent(in)
	if out != "The actual answer." {
		t.Fatalf("expected thinking tags stripped, got %q", out)
	}
}

func TestSanitizeAssistantContentStripsGarbledToolXML(t *testing.T) {
	in := "<tool_call>some garbled call</tool_call>"
	out := SanitizeAssistantContent(in)
	if out != "" {
		t.Fatalf("expected fully garbled tool markup to collapse to empty, got %q", out)
	}
}

func TestSanitizeAssistantContentStripsMediaPaths(t *testing.T) {
	in := "Here's what I found.\nMEDIA:/tmp/screenshot.png\nLet me know if you need more."
	out := SanitizeAssistantContent(in)
	if containsLine(out, "MEDIA:") {
		t.Fatalf("expected MEDIA: line to be stripped, got %q", out)
	}
}

func TestSanitizeAssistantContentCollapsesDuplicateBlocks(t *testing.T) {
	in := "Same paragraph.\n\nSame paragraph.\n\nA different one."
	out := SanitizeAssistantContent(in)
	if count := countOccurrences(out, "Same paragraph."); count != 1 {
		t.Fatalf("expected duplicate paragraph collapsed to one occurrence, got %d in %q", count, out)
	}
}

func TestSanitizeAssistantContentLeavesPlainTextUntouched(t *testing.T) {
	in := "A perfectly normal reply with no artifacts."
	if out := SanitizeAssistantContent(in); out != in {
		t.Fatalf("expected plain text unchanged, got %q", out)
	}
}

func TestIsSilentReplyDetectsExactSentinel(t *testing.T) {
	if !IsSilentReply("NO_REPLY") {
		t.Fatalf("expected exact NO_REPLY to be detected")
	}
	if !IsSilentReply("  NO_REPLY  ") {
		t.Fatalf("expected trimmed NO_REPLY to be detected")
	}
	if IsSilentReply("NO_REPLYTHANKS") {
		t.Fatalf("expected NO_REPLY as a word-boundary prefix, not substring")
	}
	if IsSilentReply("I have no reply for you") {
		t.Fatalf("expected ordinary text not to match the sentinel")
	}
}

func containsLine(text, prefix string) bool {
	for _, line := range splitLines(text) {
		if hasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func countOccurrences(s, substr string) int {
	count := 0
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			count++
		}
	}
	return count
}
