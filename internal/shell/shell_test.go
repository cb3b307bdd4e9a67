//go:build unix

package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExec(t *testing.T) {
	t.Parallel()

	out, err := Exec(context.Background(), "sh", "-c", "echo 192.168.1.15/24")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.15/24\n", string(out))

	_, err = Exec(context.Background(), "sh", "-c", "echo 'Error: unknown connection' >&2; exit 10")
	assert.ErrorContains(t, err, "sh: exit status 10: Error: unknown connection")
}
