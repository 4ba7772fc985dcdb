package guards

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrBinaryNotFound                = errors.New("target binary not found")
	ErrMissingInstrumentationLibrary = errors.New("guard count library not found")
	ErrInvalidGuardCount             = errors.New("invalid guard count")
)

// ParseGuardCount parses the diagnostic library's output. Zero is rejected:
// a target without guards cannot produce coverage.
func ParseGuardCount(out []byte) (int, error) {
	field := strings.TrimSpace(string(out))
	// the count is the last field printed
	if fields := strings.Fields(field); len(fields) > 0 {
		field = fields[len(fields)-1]
	}
	count, err := strconv.ParseUint(field, 10, 31)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGuardCount, field)
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: target reports zero guards", ErrInvalidGuardCount)
	}
	return int(count), nil
}

// Discover runs binary once with library preloaded and returns the number of
// coverage guards it reports.
func Discover(ctx context.Context, binary, library string, logger *zap.Logger) (int, error) {
	if _, err := os.Stat(binary); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, binary, err)
	}
	if _, err := os.Stat(library); err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMissingInstrumentationLibrary, library, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary)
	cmd.Env = append(os.Environ(), "LD_PRELOAD="+library)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logger.Error("guard count probe failed", zap.String("binary", binary), zap.String("stderr", stderr.String()), zap.Error(err))
		return 0, fmt.Errorf("%w: probe failed: %v", ErrInvalidGuardCount, err)
	}

	count, err := ParseGuardCount(stdout.Bytes())
	if err != nil {
		return 0, err
	}
	logger.Info("discovered coverage guards", zap.String("binary", binary), zap.Int("guards", count))
	return count, nil
}
