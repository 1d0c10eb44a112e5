// Package worker runs the external face embedding process.
//
// Every call spawns one process, waits for it to exit, and reads its complete stdout and
// stderr. Processes are never reused, so concurrent calls share nothing but the optional
// concurrency limit.
//
// The worker contract is
//
//	<command> <args...> generate <imagePath>                 -> JSON number array on stdout
//	<command> <args...> verify <imagePath> <embeddingJSON>   -> JSON boolean on stdout
//
// and a non-zero exit code on failure, with diagnostics on stderr.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/andresmejia3/facegate/internal/logging"
	"github.com/andresmejia3/facegate/internal/types"
	"github.com/andresmejia3/facegate/internal/utils"
	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"
)

// Mode tokens passed as the first argument after the configured args.
const (
	ModeGenerate = "generate"
	ModeVerify   = "verify"
)

const (
	DefaultTimeout   = 60 * time.Second
	defaultWaitDelay = 2 * time.Second
)

// Config describes how to launch the worker.
type Config struct {
	Command string   // executable, e.g. "python3"
	Args    []string // leading arguments, e.g. the script path
	Env     []string // extra KEY=VALUE pairs appended to the parent environment

	// Timeout bounds a single invocation. The process is killed when it expires. Zero disables
	// the client-side deadline; the caller's context still applies.
	Timeout time.Duration

	// MaxConcurrent caps simultaneous worker processes. Zero means unbounded.
	MaxConcurrent int

	// Dimension, when set, is the exact embedding length the worker must produce.
	Dimension int

	// WaitDelay is how long to wait for the output pipes to close after the process exits
	// or is killed. Defaults to 2s.
	WaitDelay time.Duration
}

// Client invokes the worker. It is safe for concurrent use.
type Client struct {
	cfg Config
	sem *semaphore.Weighted
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.Command == "" {
		return nil, errors.New("worker command is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("worker timeout must be >= 0, got %s", cfg.Timeout)
	}
	if cfg.MaxConcurrent < 0 {
		return nil, fmt.Errorf("worker max concurrency must be >= 0, got %d", cfg.MaxConcurrent)
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("embedding dimension must be >= 0, got %d", cfg.Dimension)
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}

	c := &Client{cfg: cfg}
	if cfg.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return c, nil
}

// Generate extracts an embedding from the image at imagePath.
// The file is left in place; removing it is the caller's job.
func (c *Client) Generate(ctx context.Context, imagePath string) (types.Embedding, error) {
	out, err := c.invoke(ctx, ModeGenerate, imagePath)
	if err != nil {
		return nil, err
	}
	return decodeEmbedding(out, c.cfg.Dimension)
}

// Verify reports whether the face in imagePath matches target.
func (c *Client) Verify(ctx context.Context, imagePath string, target types.Embedding) (bool, error) {
	if len(target) == 0 {
		return false, ErrEmptyEmbedding
	}
	if c.cfg.Dimension > 0 && len(target) != c.cfg.Dimension {
		return false, fmt.Errorf("target embedding has %d dimensions, want %d", len(target), c.cfg.Dimension)
	}

	arg, err := encodeEmbedding(target)
	if err != nil {
		return false, err
	}

	out, err := c.invoke(ctx, ModeVerify, imagePath, arg)
	if err != nil {
		return false, err
	}
	return decodeOutcome(out)
}

// invoke runs one spawn-wait-collect cycle and returns stdout of a successful run.
func (c *Client) invoke(ctx context.Context, mode string, args ...string) ([]byte, error) {
	start := time.Now()

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return nil, contextError(mode, err, time.Since(start), "")
		}
		defer c.sem.Release(1)
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	argv := make([]string, 0, len(c.cfg.Args)+1+len(args))
	argv = append(argv, c.cfg.Args...)
	argv = append(argv, mode)
	argv = append(argv, args...)

	cmd := utils.NewSafeCommand(ctx, c.cfg.Command, argv...)
	if len(c.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), c.cfg.Env...)
	}
	cmd.WaitDelay = c.cfg.WaitDelay

	// Run returns only after the process exited and both buffers are fully written.
	err := cmd.Run()
	elapsed := time.Since(start)

	logging.Debug().
		Str("mode", mode).
		Dur("elapsed", elapsed).
		Int("stdout_bytes", cmd.Stdout.Len()).
		Int("stderr_bytes", cmd.Stderr.Len()).
		Err(err).
		Msg("Worker invocation finished")

	if err == nil {
		return cmd.Stdout.Bytes(), nil
	}

	stderr := strings.TrimSpace(cmd.Stderr.String())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, contextError(mode, ctxErr, elapsed, stderr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ExecutionError{Op: mode, ExitCode: exitErr.ExitCode(), Stderr: stderr}
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		// Exited 0 but something kept the pipes open; stdout may be incomplete.
		return nil, fmt.Errorf("worker %s: output streams not drained: %w", mode, err)
	}
	return nil, fmt.Errorf("worker %s: failed to start: %w", mode, err)
}

func contextError(mode string, err error, elapsed time.Duration, stderr string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: mode, Elapsed: elapsed, Stderr: stderr}
	}
	return fmt.Errorf("worker %s: %w", mode, err)
}

const (
	expectedEmbedding = "a JSON array of numbers"
	expectedOutcome   = "a JSON boolean"
)

var errEmptyOutput = errors.New("empty output")

func encodeEmbedding(e types.Embedding) (string, error) {
	b, err := json.Marshal([]float64(e))
	if err != nil {
		return "", fmt.Errorf("failed to encode embedding: %w", err)
	}
	return string(b), nil
}

func decodeEmbedding(raw []byte, dim int) (types.Embedding, error) {
	fail := func(err error) (types.Embedding, error) {
		return nil, &OutputError{Op: ModeGenerate, Raw: string(raw), Expected: expectedEmbedding, Err: err}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fail(errEmptyOutput)
	}

	// Pointers so that null elements are detected instead of silently becoming 0.
	var values []*float64
	if err := json.Unmarshal(trimmed, &values); err != nil {
		return fail(err)
	}
	if len(values) == 0 {
		return fail(errors.New("no values"))
	}

	emb := make(types.Embedding, len(values))
	for i, v := range values {
		if v == nil {
			return fail(fmt.Errorf("element %d is null", i))
		}
		emb[i] = *v
	}

	if dim > 0 && len(emb) != dim {
		return fail(fmt.Errorf("got %d dimensions, want %d", len(emb), dim))
	}
	return emb, nil
}

func decodeOutcome(raw []byte) (bool, error) {
	fail := func(err error) (bool, error) {
		return false, &OutputError{Op: ModeVerify, Raw: string(raw), Expected: expectedOutcome, Err: err}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fail(errEmptyOutput)
	}

	var v *bool
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fail(err)
	}
	if v == nil {
		return fail(errors.New("null"))
	}
	return *v, nil
}
