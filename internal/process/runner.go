package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// Runner executes external extractor commands. The seam exists so tests
// can substitute canned output for poppler and ffmpeg.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run executes the command and returns stdout. Stderr rides along in the
// error message on failure.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.KindModelTimeout, name, err)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, xerrors.Wrap(xerrors.KindCancelled, name, err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, xerrors.Newf(xerrors.KindExtraction, "%s: %s", name, msg)
	}
	return stdout.Bytes(), nil
}
