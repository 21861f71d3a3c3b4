//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/parabox-connector-go"
)

// readyCore moves to Running when started and accepts every message.
type readyCore struct {
	parabox.NopExtension

	core *parabox.Core
}

func (r *readyCore) OnStart(context.Context) {
	go r.core.UpdateState(parabox.StateRunning, "ready")
}

func (r *readyCore) OnSendMessage(context.Context, parabox.SendMessageDto) bool { return true }

func startCore(t *testing.T, opts ...parabox.Option) *parabox.Core {
	t.Helper()

	ext := &readyCore{}

	c, err := parabox.NewCore(append(opts, parabox.WithExtension(ext))...)
	require.NoError(t, err)

	ext.core = c

	require.NoError(t, c.Start(t.Context()))
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func waitState(t *testing.T, c *parabox.Core, want parabox.State) {
	t.Helper()

	require.Eventually(t, func() bool {
		state, _ := c.State()

		return state == want
	}, 5*time.Second, 10*time.Millisecond)
}

func envOrSkip(t *testing.T, name string) string {
	t.Helper()

	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}

	return v
}

func textOf(s string) parabox.Contents {
	return parabox.Contents{&parabox.PlainText{Text: s}}
}

func ptr[T any](v T) *T {
	return &v
}
