package agent

import (
	"fmt"
	"strings"

	"github.com/gliderlab/coagent/pkg/config"
)

// TruncationConfig bounds one tool output before it enters the
// conversation context.
type TruncationConfig struct {
	MaxBytes int
	MaxLines int
}

var DefaultTruncation = TruncationConfig{
	MaxBytes: config.MaxToolOutputChars,
	MaxLines: 500,
}

// TruncateToolOutput keeps the head and tail of oversized output and
// cuts the middle, so the model sees both the start of the output and
// its final state.
func TruncateToolOutput(s string, cfg TruncationConfig) string {
	if cfg.MaxBytes == 0 {
		cfg = DefaultTruncation
	}

	if cfg.MaxLines > 0 {
		lines := strings.Split(s, "\n")
		if len(lines) > cfg.MaxLines {
			half := cfg.MaxLines / 2
			dropped := len(lines) - cfg.MaxLines
			kept := append([]string{}, lines[:half]...)
			kept = append(kept, fmt.Sprintf("[... %d lines truncated ...]", dropped))
			kept = append(kept, lines[len(lines)-half:]...)
			s = strings.Join(kept, "\n")
		}
	}

	if len(s) > cfg.MaxBytes {
		half := cfg.MaxBytes / 2
		s = s[:half] + fmt.Sprintf("\n[... %d bytes truncated ...]\n", len(s)-cfg.MaxBytes) + s[len(s)-half:]
	}
	return s
}
