// Package procexec runs external commands described by a JSON-serializable
// spec, streaming their output line by line.
package procexec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultTimeoutS applies when a spec carries no timeout.
const DefaultTimeoutS = 3600

// Spec describes one process run. It is the payload format of process tasks
// and of job compile steps.
type Spec struct {
	Command  []string          `json:"command"`
	Dir      string            `json:"dir,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	Files    map[string][]byte `json:"files,omitempty"`
	TimeoutS int               `json:"timeout_s,omitempty"`
}

// Result is the outcome of a process that was started.
type Result struct {
	ExitCode   int    `json:"exit_code"`
	Output     string `json:"output"`
	Error      string `json:"error,omitempty"`
	DurationMS int    `json:"duration_ms"`
}

// LogFunc receives each stdout and stderr line as it is produced.
type LogFunc func(line string)

// Run executes spec. Files are written relative to spec.Dir first. A
// nonzero exit or a timeout is reported through Result; the returned error
// is reserved for failures to set the process up.
func Run(ctx context.Context, spec Spec, logf LogFunc) (Result, error) {
	if len(spec.Command) == 0 {
		return Result{}, errors.New("empty command")
	}
	if logf == nil {
		logf = func(string) {}
	}

	if spec.Dir != "" {
		if err := os.MkdirAll(spec.Dir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create work dir: %w", err)
		}
	}
	if err := writeFiles(spec.Dir, spec.Files); err != nil {
		return Result{}, err
	}

	timeoutS := spec.TimeoutS
	if timeoutS <= 0 {
		timeoutS = DefaultTimeoutS
	}
	timeout := time.Duration(timeoutS) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", spec.Command[0], err)
	}

	// logMu serializes logf between the stdout and stderr readers.
	var logMu sync.Mutex
	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Go(func() { streamLines(stdoutPipe, &logMu, &stdout, logf) })
	wg.Go(func() { streamLines(stderrPipe, &logMu, &stderr, logf) })
	wg.Wait()

	waitErr := cmd.Wait()

	res := Result{
		Output:     stdout.String() + stderr.String(),
		DurationMS: int(time.Since(start).Milliseconds()),
	}
	if waitErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			res.Error = fmt.Sprintf("timeout after %s", timeout)
		} else {
			res.Error = waitErr.Error()
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && exitErr.ExitCode() > 0 {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = 1
		}
	}
	return res, nil
}

// maxLineSize bounds one scanned output line.
const maxLineSize = 1024 * 1024

func streamLines(r io.Reader, mu *sync.Mutex, output *strings.Builder, logf LogFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		emit(scanner.Text(), mu, output, logf)
	}
	if err := scanner.Err(); err != nil {
		// Keep reading so the child never blocks on a full pipe.
		emit(fmt.Sprintf("[output truncated: %v]", err), mu, output, logf)
		io.Copy(io.Discard, r)
	}
}

func emit(line string, mu *sync.Mutex, output *strings.Builder, logf LogFunc) {
	output.WriteString(line + "\n")
	mu.Lock()
	logf(line)
	mu.Unlock()
}

func writeFiles(dir string, files map[string][]byte) error {
	for name, content := range files {
		if err := validatePath(dir, name); err != nil {
			return err
		}
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", name, err)
		}
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// validatePath checks that joining baseDir with relPath stays within baseDir.
func validatePath(baseDir, relPath string) error {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return fmt.Errorf("resolve base dir: %w", err)
	}
	cleaned := filepath.Clean(filepath.Join(absBase, relPath))
	if !strings.HasPrefix(cleaned, absBase+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes work directory", relPath)
	}
	return nil
}
