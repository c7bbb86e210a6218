package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"migrate", "sweep", "check"}, names)
}

func TestRootRejectsNonPositiveTimeout(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"migrate", "--timeout", "0s"})
	cmd.SetOut(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout")
}

func TestSubcommandsTakeNoArgs(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"sweep", "extra"})
	cmd.SetOut(&bytes.Buffer{})

	assert.Error(t, cmd.Execute())
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunChecks(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	err := runChecks(context.Background(), cmd, map[string]pinger{
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
		"postgres": pingFunc(func(context.Context) error { return nil }),
	})

	require.EqualError(t, err, "1 of 2 checks failed")
	assert.Equal(t, "postgres   ok\nredis      FAIL connection refused\n", out.String())
}
