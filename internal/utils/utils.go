package utils

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with buffers for Stdout and Stderr.
// Both streams are drained by exec's copy goroutines, and Wait only returns once they are done,
// so the buffers are complete whenever the exit status is known.
type SafeCommand struct {
	*exec.Cmd
	Stdout *bytes.Buffer
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches buffers to both output streams.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stdout: stdout, Stderr: stderr}
}

// ShowError prints a formatted error box and dumps the worker's stderr if any was captured.
func ShowError(context string, err error, workerLogs string) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 FACEGATE ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
	}

	if workerLogs != "" {
		fmt.Fprintf(os.Stderr, "\nWORKER LOGS:\n%s\n", workerLogs)
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
}

// --- 2. Upload Handling (Shared by API & CLI) ---

// SaveTempImage copies r into a uniquely named file under dir and returns its path.
// The caller owns the file and must remove it once the worker call has resolved.
func SaveTempImage(dir string, r io.Reader, ext string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	ext = strings.ToLower(ext)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, `/\`) {
		ext = ".jpg"
	}

	path := filepath.Join(dir, "face-"+uuid.NewString()+ext)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// UsernameFromPath derives an account name from an image file name ("alice.jpg" -> "alice").
func UsernameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsImageFile reports whether path has an extension the worker can decode.
func IsImageFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
		return true
	}
	return false
}
