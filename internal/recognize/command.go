package recognize

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"decklens/internal/config"
	"decklens/internal/services"
)

// InputPlaceholder in engine args is replaced by the variant's temp file.
const InputPlaceholder = "{input}"

const maxStderrTail = 2 << 10

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onStdout func(string)) error
}

// Command runs an external OCR binary that prints TSV on stdout.
type Command struct {
	name    string
	binary  string
	args    []string
	timeout time.Duration
	tempDir string
	exec    Executor
}

var _ Recognizer = (*Command)(nil)

// CommandOption configures a Command.
type CommandOption func(*Command)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) CommandOption {
	return func(c *Command) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithTempDir sets where variant images are staged for the engine.
func WithTempDir(dir string) CommandOption {
	return func(c *Command) { c.tempDir = dir }
}

// NewCommand builds a command recognizer from an engine section.
func NewCommand(engine config.Engine, opts ...CommandOption) (*Command, error) {
	binary := strings.TrimSpace(engine.Command)
	if binary == "" {
		return nil, services.Wrap(services.ErrConfiguration, "recognize", "command", fmt.Sprintf("engine %q has no command", engine.Name), nil)
	}
	name := strings.TrimSpace(engine.Name)
	if name == "" {
		name = filepath.Base(binary)
	}
	c := &Command{
		name:    name,
		binary:  binary,
		args:    append([]string(nil), engine.Args...),
		timeout: engine.TimeoutDuration(),
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name implements Recognizer.
func (c *Command) Name() string { return c.name }

// Recognize stages v to a temp file, runs the engine and parses its TSV.
func (c *Command) Recognize(ctx context.Context, v Variant) (Recognition, error) {
	if len(v.Data) == 0 {
		return Recognition{}, fmt.Errorf("variant %q has no image data", v.Name)
	}
	file, err := os.CreateTemp(c.tempDir, "decklens-variant-*")
	if err != nil {
		return Recognition{}, fmt.Errorf("stage variant: %w", err)
	}
	path := file.Name()
	defer os.Remove(path)
	if _, err := file.Write(v.Data); err != nil {
		file.Close()
		return Recognition{}, fmt.Errorf("write variant: %w", err)
	}
	if err := file.Close(); err != nil {
		return Recognition{}, fmt.Errorf("close variant: %w", err)
	}

	args := make([]string, len(c.args))
	replaced := false
	for i, arg := range c.args {
		if strings.Contains(arg, InputPlaceholder) {
			replaced = true
		}
		args[i] = strings.ReplaceAll(arg, InputPlaceholder, path)
	}
	if !replaced {
		args = append([]string{path}, args...)
	}

	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var rows []string
	err = c.exec.Run(runCtx, c.binary, args, func(line string) { rows = append(rows, line) })
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return Recognition{}, services.Wrap(services.ErrTimeout, "recognize", c.name, fmt.Sprintf("variant %q", v.Name), err)
		}
		return Recognition{}, fmt.Errorf("%s variant %q: %w", c.name, v.Name, err)
	}
	lines, mean := ParseTSV(rows)
	return Recognition{Engine: c.name, Variant: v.Name, Lines: lines, MeanConfidence: mean}, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onStdout func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		if onStdout != nil {
			onStdout(scanner.Text())
		}
	}
	scanErr := scanner.Err()
	if err := cmd.Wait(); err != nil {
		tail := stderr.String()
		if len(tail) > maxStderrTail {
			tail = tail[len(tail)-maxStderrTail:]
		}
		return fmt.Errorf("%s: %w: %s", binary, err, strings.TrimSpace(tail))
	}
	if scanErr != nil {
		return fmt.Errorf("read stdout: %w", scanErr)
	}
	return nil
}
