package tesspool

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	osdTimeout = 30 * time.Second

	// osdDPI is pinned on every invocation so Tesseract never falls
	// back to its "Invalid resolution 0 dpi" guess path.
	osdDPI = 300
)

// CLIEngine runs orientation-and-script detection through the
// tesseract binary (--psm 0), reading the image from stdin.
type CLIEngine struct {
	binary string
}

// NewCLIEngine resolves the tesseract binary. An empty path looks up
// "tesseract" on $PATH.
func NewCLIEngine(binary string) (*CLIEngine, error) {
	if binary == "" {
		binary = "tesseract"
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("tesseract binary not found: %w", err)
	}
	return &CLIEngine{binary: resolved}, nil
}

// DetectOrientation runs --psm 0 and parses the OSD block
func (e *CLIEngine) DetectOrientation(ctx context.Context, png []byte) (Orientation, error) {
	ctx, cancel := context.WithTimeout(ctx, osdTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.binary, "-", "stdout",
		"--psm", "0",
		"-c", fmt.Sprintf("user_defined_dpi=%d", osdDPI))
	cmd.Stdin = bytes.NewReader(png)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Orientation{}, fmt.Errorf("tesseract osd: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return parseOSD(stdout.String())
}

// Close is a no-op; each detection is a standalone process
func (e *CLIEngine) Close() error { return nil }

// parseOSD extracts the rotation and confidence from tesseract's OSD
// output, e.g.:
//
//	Page number: 0
//	Orientation in degrees: 270
//	Rotate: 90
//	Orientation confidence: 15.47
//	Script: Latin
//	Script confidence: 4.06
func parseOSD(out string) (Orientation, error) {
	var (
		o         Orientation
		gotRotate bool
	)
	for _, line := range strings.Split(out, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Rotate":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Orientation{}, fmt.Errorf("parsing osd rotation %q: %w", value, err)
			}
			o.Rotate = n
			gotRotate = true
		case "Orientation confidence":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return Orientation{}, fmt.Errorf("parsing osd confidence %q: %w", value, err)
			}
			o.Confidence = f
		}
	}
	if !gotRotate {
		return Orientation{}, fmt.Errorf("no rotation in osd output")
	}
	return o, nil
}
