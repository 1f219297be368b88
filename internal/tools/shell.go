package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"time"
)

// denyPatterns blocks the highest-severity shell command classes before
// they ever spawn a process. Trimmed from a prior much larger
// defense-in-depth list (internal/tools/shell.go) down to the patterns
// that matter without a sandboxing layer backing them up, since this
// gateway executes directly on the host.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\b(mkfs|diskpart|dd)\b`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`/var/run/docker\.sock`),
	regexp.MustCompile(`^\s*(env|printenv)\s*$`),
}

// ExecTool runs a shell command on the host and returns its combined
// output, bounded by a per-call timeout.
type ExecTool struct {
	WorkingDir string
	Timeout time.Duration
}

func (t *ExecTool) Name() string { return "exec" }
func (t *ExecTool) Description() string { return "Execute a shell command and return its combined output." }
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{"type": "string", "description": "The shell command to execute."},
			"working_dir": map[string]interface{}{"type": "string", "description": "Optional working directory override."},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("command denied by safety policy: matches %s", pattern.String()))
		}
	}

	cwd := t.WorkingDir
	if wd, _ := args["working_dir"].(string); wd != "" {
		cwd = wd
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = cwd
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > 20_000 {
		output = output[:20_000] + "\n…(truncated)"
	}
	if execCtx.Err() != nil {
		return ErrorResult(fmt.Sprintf("command timed out after %s", timeout))
	}
	if err != nil {
		return NewResult(fmt.Sprintf("command exited with error: %v\noutput:\n%s", err, output))
	}
	return SilentResult(output)
}
