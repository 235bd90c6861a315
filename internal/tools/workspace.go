package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// secureJoin resolves rel against root, rejecting any path that escapes
// root after resolution, per §4.3's "secure-join that rejects traversal
// outside the root".
func secureJoin(root, rel string) (string, error) {
	cleaned := filepath.Join(root, rel)
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	absCleaned, err := filepath.Abs(cleaned)
	if err != nil {
		return "", err
	}
	if absCleaned != absRoot && !strings.HasPrefix(absCleaned, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes workspace root", rel)
	}
	return absCleaned, nil
}

const workspaceFileArgsSchema = `{
  "type": "object",
  "properties": {"path": {"type": "string"}},
  "required": ["path"]
}`

type readFileArgs struct {
	Path string `json:"path"`
}

// NewReadFileSpec builds the workspace tool that reads a file's contents,
// with all paths resolved relative to workspacePath through secureJoin.
func NewReadFileSpec(workspacePath string) *Spec {
	return &Spec{
		Name:        "read_file",
		Group:       GroupWorkspace,
		Description: "Read the contents of a file in the workspace.",
		ArgsSchema:  json.RawMessage(workspaceFileArgsSchema),
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args readFileArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			full, err := secureJoin(workspacePath, args.Path)
			if err != nil {
				return ErrorResult(err), nil
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: string(data)}, nil
		},
	}
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

const writeFileArgsSchema = `{
  "type": "object",
  "properties": {"path": {"type": "string"}, "content": {"type": "string"}},
  "required": ["path", "content"]
}`

// NewWriteFileSpec builds the workspace tool that atomically writes a
// file's contents: write to a temp file in the same directory, then
// rename, so a crash mid-write never leaves a partial file visible.
func NewWriteFileSpec(workspacePath string) *Spec {
	return &Spec{
		Name:        "write_file",
		Group:       GroupWorkspace,
		Description: "Write (create or overwrite) a file in the workspace.",
		ArgsSchema:  json.RawMessage(writeFileArgsSchema),
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args writeFileArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			full, err := secureJoin(workspacePath, args.Path)
			if err != nil {
				return ErrorResult(err), nil
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return ErrorResult(err), nil
			}
			tmp := full + ".tmp"
			if err := os.WriteFile(tmp, []byte(args.Content), 0o644); err != nil {
				return ErrorResult(err), nil
			}
			if err := os.Rename(tmp, full); err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: "ok"}, nil
		},
	}
}

// NewCreateDirectorySpec builds the workspace tool that creates a
// directory (and any missing parents) relative to workspacePath.
func NewCreateDirectorySpec(workspacePath string) *Spec {
	return &Spec{
		Name:        "create_directory",
		Group:       GroupWorkspace,
		Description: "Create a directory (and any missing parents) in the workspace.",
		ArgsSchema:  json.RawMessage(workspaceFileArgsSchema),
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args readFileArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			full, err := secureJoin(workspacePath, args.Path)
			if err != nil {
				return ErrorResult(err), nil
			}
			if err := os.MkdirAll(full, 0o755); err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: "ok"}, nil
		},
	}
}

// NewListFilesSpec builds the workspace tool that lists entries in a
// directory relative to workspacePath.
func NewListFilesSpec(workspacePath string) *Spec {
	return &Spec{
		Name:        "list_files",
		Group:       GroupWorkspace,
		Description: "List files and directories at a path in the workspace.",
		ArgsSchema:  json.RawMessage(workspaceFileArgsSchema),
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args readFileArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			full, err := secureJoin(workspacePath, args.Path)
			if err != nil {
				return ErrorResult(err), nil
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return ErrorResult(err), nil
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.IsDir() {
					names = append(names, e.Name()+"/")
				} else {
					names = append(names, e.Name())
				}
			}
			return Result{Output: strings.Join(names, "\n")}, nil
		},
	}
}

// NewDeleteFileSpec builds the workspace tool that removes a file.
// Destructive is set on the spec; nothing in this module enforces a
// confirmation step for it.
func NewDeleteFileSpec(workspacePath string) *Spec {
	return &Spec{
		Name:        "delete_file",
		Group:       GroupWorkspace,
		Description: "Delete a file in the workspace.",
		ArgsSchema:  json.RawMessage(workspaceFileArgsSchema),
		Destructive: true,
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args readFileArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			full, err := secureJoin(workspacePath, args.Path)
			if err != nil {
				return ErrorResult(err), nil
			}
			if err := os.Remove(full); err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: "ok"}, nil
		},
	}
}

type grepArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
}

const grepArgsSchema = `{
  "type": "object",
  "properties": {"pattern": {"type": "string"}, "path": {"type": "string"}},
  "required": ["pattern", "path"]
}`

// NewGrepSpec builds the workspace tool that searches file contents for a
// literal substring under a directory.
func NewGrepSpec(workspacePath string) *Spec {
	return &Spec{
		Name:        "grep",
		Group:       GroupWorkspace,
		Description: "Search files under a workspace path for a literal substring.",
		ArgsSchema:  json.RawMessage(grepArgsSchema),
		Handler: func(_ context.Context, raw json.RawMessage) (Result, error) {
			var args grepArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return ErrorResult(err), nil
			}
			root, err := secureJoin(workspacePath, args.Path)
			if err != nil {
				return ErrorResult(err), nil
			}
			var matches []string
			err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() {
					return nil
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return nil
				}
				for i, line := range strings.Split(string(data), "\n") {
					if strings.Contains(line, args.Pattern) {
						rel, _ := filepath.Rel(workspacePath, path)
						matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
					}
				}
				return nil
			})
			if err != nil {
				return ErrorResult(err), nil
			}
			return Result{Output: strings.Join(matches, "\n")}, nil
		},
	}
}
