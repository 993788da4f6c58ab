package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	out := String()
	require.Contains(t, out, "version: "+Version)
	require.Contains(t, out, "commit: "+Commit)
	require.Contains(t, out, "go: "+runtime.Version())
}
