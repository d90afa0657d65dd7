package config

import (
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DiffSerialized returns a line diff between the last accepted document and
// a rejected candidate. Trailing whitespace is ignored so editor noise does
// not drown out the real change.
func DiffSerialized(accepted, candidate []byte) string {
	return cmp.Diff(documentLines(accepted), documentLines(candidate))
}

func documentLines(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return lines
}
