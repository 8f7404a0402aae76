package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codesweep/internal/llm"
	"github.com/fyrsmithlabs/codesweep/internal/snapshot"
)

// Errors for tool execution. All of them abort only the offending call.
var (
	ErrUnknownTool    = errors.New("unknown tool")
	ErrMissingArg     = errors.New("missing tool argument")
	ErrCommandTimeout = errors.New("command timed out")
)

// Tool names in the fixed catalog.
const (
	ToolReadFile      = "read_file"
	ToolWritePatch    = "write_patch"
	ToolListDirectory = "list_directory"
	ToolRunCommand    = "run_command"
)

// Options bounds tool execution.
type Options struct {
	// CommandTimeout bounds one shell command (default: 2m).
	CommandTimeout time.Duration

	// MaxOutputSize truncates captured command output (default: 64KiB).
	MaxOutputSize int
}

// DefaultOptions returns the default bounds.
func DefaultOptions() Options {
	return Options{
		CommandTimeout: 2 * time.Minute,
		MaxOutputSize:  64 * 1024,
	}
}

// Executor runs tool calls against one repository working copy. Reads and
// listings go through the snapshot (size- and depth-bounded); patches write
// through the same confinement. The executor records the pre-patch content
// of every file it touches so an attempt can be rolled back cleanly.
type Executor struct {
	snap   *snapshot.Snapshot
	opts   Options
	logger *zap.Logger

	// originals maps patched paths to their pre-patch content; a nil entry
	// marks a file the patch created.
	originals map[string]*string
}

// New creates an executor over the given snapshot.
func New(snap *snapshot.Snapshot, opts Options, logger *zap.Logger) *Executor {
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = DefaultOptions().CommandTimeout
	}
	if opts.MaxOutputSize == 0 {
		opts.MaxOutputSize = DefaultOptions().MaxOutputSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		snap:      snap,
		opts:      opts,
		logger:    logger,
		originals: make(map[string]*string),
	}
}

// Catalog returns the fixed tool catalog offered to the model.
func Catalog() []llm.Tool {
	return []llm.Tool{
		{
			Name:        ToolReadFile,
			Description: "Read a file from the repository. Paths are relative to the repository root.",
			Parameters:  map[string]string{"path": "relative file path"},
		},
		{
			Name:        ToolWritePatch,
			Description: "Replace the full content of a file (creating it if absent). Paths are relative to the repository root.",
			Parameters:  map[string]string{"path": "relative file path", "content": "new file content"},
		},
		{
			Name:        ToolListDirectory,
			Description: "List a directory tree, bounded by depth.",
			Parameters:  map[string]string{"path": "relative directory path", "depth": "maximum depth (optional)"},
		},
		{
			Name:        ToolRunCommand,
			Description: "Run a shell command in the repository root and return its output and exit status.",
			Parameters:  map[string]string{"command": "shell command line"},
		},
	}
}

// Execute dispatches one tool call. The returned string is the tool result
// fed back to the model; the error (when non-nil) is also feedback, never a
// crash.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (string, error) {
	switch call.Name {
	case ToolReadFile:
		return e.readFile(call)
	case ToolWritePatch:
		return e.writePatch(call)
	case ToolListDirectory:
		return e.listDirectory(call)
	case ToolRunCommand:
		return e.runCommandTool(ctx, call)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}
}

func arg(call llm.ToolCall, name string) (string, error) {
	v, ok := call.Arguments[name]
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s requires %q", ErrMissingArg, call.Name, name)
	}
	return v, nil
}

func (e *Executor) readFile(call llm.ToolCall) (string, error) {
	path, err := arg(call, "path")
	if err != nil {
		return "", err
	}
	return e.snap.Read(path)
}

func (e *Executor) writePatch(call llm.ToolCall) (string, error) {
	path, err := arg(call, "path")
	if err != nil {
		return "", err
	}
	content, ok := call.Arguments["content"]
	if !ok {
		return "", fmt.Errorf("%w: %s requires %q", ErrMissingArg, call.Name, "content")
	}

	abs, err := e.snap.Resolve(path)
	if err != nil {
		return "", err
	}

	// Remember the original exactly once per attempt.
	if _, seen := e.originals[path]; !seen {
		if original, err := e.snap.Read(path); err == nil {
			e.originals[path] = &original
		} else if errors.Is(err, snapshot.ErrNotFound) {
			e.originals[path] = nil
		} else {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("failed to write patch: %w", err)
	}

	e.logger.Debug("patch written", zap.String("path", path), zap.Int("bytes", len(content)))
	return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
}

func (e *Executor) listDirectory(call llm.ToolCall) (string, error) {
	path := call.Arguments["path"]
	if path == "" {
		path = "."
	}
	depth := 0
	if d := call.Arguments["depth"]; d != "" {
		fmt.Sscanf(d, "%d", &depth)
	}

	node, err := e.snap.List(path, depth)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode listing: %w", err)
	}
	return string(data), nil
}

func (e *Executor) runCommandTool(ctx context.Context, call llm.ToolCall) (string, error) {
	command, err := arg(call, "command")
	if err != nil {
		return "", err
	}
	output, exitCode, err := e.RunCommand(ctx, command)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s\nexit status %d", output, exitCode), nil
}

// RunCommand runs one shell command in the repository root with the
// configured wall-clock timeout, returning combined output and exit code.
// It is used both by the run_command tool and by verification.
func (e *Executor) RunCommand(ctx context.Context, command string) (string, int, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = e.snap.Root()
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > e.opts.MaxOutputSize {
		output = output[:e.opts.MaxOutputSize] + "\n[output truncated]"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return output, -1, fmt.Errorf("%w: %s", ErrCommandTimeout, command)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return output, exitErr.ExitCode(), nil
		}
		return output, -1, fmt.Errorf("failed to run command: %w", err)
	}
	return output, 0, nil
}

// PatchedFiles returns the repository-relative paths this executor has
// patched, sorted ascending.
func (e *Executor) PatchedFiles() []string {
	paths := make([]string, 0, len(e.originals))
	for path := range e.originals {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// RevertPatches restores every patched file to its pre-patch content and
// forgets the patch set, leaving the working copy clean.
func (e *Executor) RevertPatches() error {
	for path, original := range e.originals {
		abs, err := e.snap.Resolve(path)
		if err != nil {
			return err
		}
		if original == nil {
			if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
			continue
		}
		if err := os.WriteFile(abs, []byte(*original), 0644); err != nil {
			return fmt.Errorf("failed to restore %s: %w", path, err)
		}
	}
	e.originals = make(map[string]*string)
	return nil
}

// CommitPatches forgets the recorded originals after a successful commit,
// so a later revert cannot clobber committed work.
func (e *Executor) CommitPatches() {
	e.originals = make(map[string]*string)
}
