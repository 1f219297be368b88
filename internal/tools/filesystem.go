package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolvePath resolves a user-supplied path against workspace, refusing to
// leave it when restrict is true. Grounded on a prior implementation's
// internal/tools/filesystem.go resolvePath, trimmed of sandbox/virtual-FS
// routing this gateway has no equivalent for.
func resolvePath(path, workspace string, restrict bool) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	var resolved string
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	} else {
		resolved = filepath.Clean(filepath.Join(workspace, path))
	}
	if !restrict {
		return resolved, nil
	}
	absWorkspace, err := filepath.Abs(workspace)
	if err != nil {
		return "", err
	}
	if resolved != absWorkspace && !strings.HasPrefix(resolved, absWorkspace+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace", path)
	}
	return resolved, nil
}

func isProtected(resolved, workspace string, protected []string) bool {
	for _, p := range protected {
		candidate := filepath.Clean(filepath.Join(workspace, p))
		if resolved == candidate || strings.HasPrefix(resolved, candidate+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// ReadFileTool reads a file's contents within the workspace.
type ReadFileTool struct {
	Workspace string
	Restrict bool
	Protected []string
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read the contents of a text file." }
func (t *ReadFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string", "description": "Path to the file, relative to the workspace."}},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	resolved, err := resolvePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if isProtected(resolved, t.Workspace, t.Protected) {
		return ErrorResult(fmt.Sprintf("access to %s is not permitted", path))
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	return SilentResult(string(data))
}

// WriteFileTool writes (overwriting) a file within the workspace.
type WriteFileTool struct {
	Workspace string
	Restrict bool
	Protected []string
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file, creating or overwriting it." }
func (t *WriteFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Path to the file, relative to the workspace."},
			"content": map[string]interface{}{"type": "string", "description": "Content to write."},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	resolved, err := resolvePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if isProtected(resolved, t.Workspace, t.Protected) {
		return ErrorResult(fmt.Sprintf("writing to %s is not permitted", path))
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return ErrorResult(fmt.Sprintf("failed to create directory: %v", err))
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), path))
}

// EditFileTool replaces an exact substring match within a file.
type EditFileTool struct {
	Workspace string
	Restrict bool
	Protected []string
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replace an exact, unique substring within a file with new content."
}
func (t *EditFileTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string"},
			"old_string": map[string]interface{}{"type": "string"},
			"new_string": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
}

func (t *EditFileTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	oldStr, _ := args["old_string"].(string)
	newStr, _ := args["new_string"].(string)
	resolved, err := resolvePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if isProtected(resolved, t.Workspace, t.Protected) {
		return ErrorResult(fmt.Sprintf("editing %s is not permitted", path))
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	content := string(data)
	count := strings.Count(content, oldStr)
	if count == 0 {
		return ErrorResult("old_string not found in file")
	}
	if count > 1 {
		return ErrorResult(fmt.Sprintf("old_string is not unique in file (%d matches)", count))
	}
	updated := strings.Replace(content, oldStr, newStr, 1)
	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return NewResult(fmt.Sprintf("edited %s", path))
}

// ListDirTool lists a directory's entries within the workspace.
type ListDirTool struct {
	Workspace string
	Restrict bool
	Protected []string
}

func (t *ListDirTool) Name() string { return "list_dir" }
func (t *ListDirTool) Description() string { return "List files and subdirectories of a directory." }
func (t *ListDirTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{"path": map[string]interface{}{"type": "string", "description": "Directory path, relative to the workspace. Defaults to the workspace root."}},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		path = "."
	}
	resolved, err := resolvePath(path, t.Workspace, t.Restrict)
	if err != nil {
		return ErrorResult(err.Error())
	}
	if isProtected(resolved, t.Workspace, t.Protected) {
		return ErrorResult(fmt.Sprintf("listing %s is not permitted", path))
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to list directory: %v", err))
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir() {
			b.WriteString(e.Name() + "/\n")
		} else {
			b.WriteString(e.Name() + "\n")
		}
	}
	return SilentResult(b.String())
}
