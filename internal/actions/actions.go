// Package actions opens and reveals indexed files with the host OS
// handlers. Audio/video results can open at a time offset when the
// platform player supports it.
package actions

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/localdoc/docsearch/internal/xerrors"
)

// Opener launches OS file handlers.
type Opener struct {
	// goos overrides runtime.GOOS in tests.
	goos string
}

// NewOpener creates an opener for the current platform.
func NewOpener() *Opener {
	return &Opener{goos: runtime.GOOS}
}

// Open opens the file with its default application. For media files a
// start time appends a time fragment so capable players seek to it.
func (o *Opener) Open(ctx context.Context, path string, startTime *float64) error {
	target := path
	if startTime != nil {
		target = fmt.Sprintf("file://%s#t=%d", path, int(*startTime))
	}
	name, args := o.openCommand(target)
	return run(ctx, name, args)
}

// Reveal shows the file in the platform file manager.
func (o *Opener) Reveal(ctx context.Context, path string) error {
	var name string
	var args []string
	switch o.goos {
	case "darwin":
		name, args = "open", []string{"-R", path}
	case "windows":
		name, args = "explorer", []string{"/select,", path}
	default:
		// No portable "reveal" on Linux; opening the parent directory is
		// the conventional fallback.
		name, args = "xdg-open", []string{filepath.Dir(path)}
	}
	return run(ctx, name, args)
}

func (o *Opener) openCommand(target string) (string, []string) {
	switch o.goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "cmd", []string{"/c", "start", "", target}
	default:
		return "xdg-open", []string{target}
	}
}

func run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Run(); err != nil {
		return xerrors.Wrap(xerrors.KindIO, name, err)
	}
	return nil
}
