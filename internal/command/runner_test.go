package command

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTail(t *testing.T) {
	assert.Equal(t, "short", Tail("  short\n", 10))
	assert.Equal(t, "...6789", Tail("0123456789", 4))
	assert.Equal(t, "", Tail("   ", 4))
}

func TestTail_KeepsRuneBoundary(t *testing.T) {
	// "ошибка" is two bytes per rune; an odd cut lands mid-rune.
	s := strings.Repeat("ошибка ", 50)
	for n := 1; n < 40; n++ {
		tail := Tail(s, n)
		assert.True(t, utf8.ValidString(tail), "n=%d produced %q", n, tail)
		assert.LessOrEqual(t, len(tail), n+len("..."))
	}
}

func TestExec_Run(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	res, err := Exec{}.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)

	res, err = Exec{}.Run(context.Background(), "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestExec_MissingBinary(t *testing.T) {
	res, err := Exec{}.Run(context.Background(), "scribe-no-such-binary")
	require.Error(t, err)
	assert.Equal(t, -1, res.ExitCode)
}
