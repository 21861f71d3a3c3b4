package mcp

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/parabox-connector-go/internal/config"
	"github.com/wagiedev/parabox-connector-go/internal/controller"
	"github.com/wagiedev/parabox-connector-go/internal/core"
	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/jsoncodec"
	"github.com/wagiedev/parabox-connector-go/internal/message"
	"github.com/wagiedev/parabox-connector-go/internal/transport/pipe"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type fakeController struct {
	mu       sync.Mutex
	recalled []int64
	sent     []message.SendMessageDto
	calls    []string
	fail     envelope.ErrorCode
}

func (f *fakeController) Role() envelope.Role { return envelope.RoleController }
func (f *fakeController) Connected() bool     { return true }

func (f *fakeController) LastState() (envelope.State, string, bool) {
	return envelope.StateRunning, "fine", true
}

func (f *fakeController) result(tc envelope.TypeCode, payload envelope.Payload) (envelope.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, tc.String())

	if f.fail != 0 {
		return envelope.Failed(tc, f.fail), nil
	}

	return envelope.Succeed(tc, payload), nil
}

func (f *fakeController) GetState(context.Context) (envelope.Result, error) {
	return f.result(envelope.CommandGetState, &envelope.StatePayload{State: envelope.StateRunning, Message: "fine"})
}

func (f *fakeController) StartCore(context.Context) (envelope.Result, error) {
	return f.result(envelope.CommandStart, envelope.Empty{})
}

func (f *fakeController) StopCore(context.Context) (envelope.Result, error) {
	return f.result(envelope.CommandStop, envelope.Empty{})
}

func (f *fakeController) ForceStopCore(context.Context) (envelope.Result, error) {
	return f.result(envelope.CommandForceStop, envelope.Empty{})
}

func (f *fakeController) RefreshMessage(context.Context) (envelope.Result, error) {
	return f.result(envelope.CommandRefreshMessage, envelope.Empty{})
}

func (f *fakeController) RecallMessage(_ context.Context, id int64) (envelope.Result, error) {
	f.mu.Lock()
	f.recalled = append(f.recalled, id)
	f.mu.Unlock()

	return f.result(envelope.CommandRecallMessage, envelope.Empty{})
}

func (f *fakeController) SendMessage(_ context.Context, dto message.SendMessageDto) (envelope.Result, error) {
	f.mu.Lock()
	f.sent = append(f.sent, dto)
	f.mu.Unlock()

	return f.result(envelope.CommandSendMessage, envelope.Empty{})
}

func outcome(t *testing.T, text string) CallOutcome {
	t.Helper()

	var out CallOutcome
	require.NoError(t, jsoncodec.Unmarshal([]byte(text), &out))

	return out
}

func TestControllerServer_RegistersTools(t *testing.T) {
	s := NewControllerServer(&fakeController{}, "test")

	names := make([]string, 0, 8)
	for _, tool := range s.Tools() {
		names = append(names, tool.Name)
	}

	assert.ElementsMatch(t, []string{
		ToolStatus, ToolGetState, ToolStart, ToolStop,
		ToolForceStop, ToolRefresh, ToolRecall, ToolSend,
	}, names)
	assert.Equal(t, "parabox-controller", s.Name())
}

func TestControllerServer_Status(t *testing.T) {
	s := NewControllerServer(&fakeController{}, "test")

	result := s.CallTool(t.Context(), ToolStatus, nil)
	require.False(t, result.IsError)

	var st Status
	require.NoError(t, jsoncodec.Unmarshal([]byte(Text(result)), &st))
	assert.Equal(t, Status{Role: "controller", Connected: true, Known: true, State: "running", Message: "fine"}, st)
}

func TestControllerServer_Commands(t *testing.T) {
	fake := &fakeController{}
	s := NewControllerServer(fake, "test")

	for _, name := range []string{ToolStart, ToolStop, ToolForceStop, ToolRefresh} {
		result := s.CallTool(t.Context(), name, nil)
		require.False(t, result.IsError, name)
		assert.True(t, outcome(t, Text(result)).Success, name)
	}

	state := outcome(t, Text(s.CallTool(t.Context(), ToolGetState, nil)))
	assert.Equal(t, "running", state.State)
	assert.Equal(t, "fine", state.Message)

	assert.Len(t, fake.calls, 5)
}

func TestControllerServer_FailIsErrorResult(t *testing.T) {
	fake := &fakeController{fail: envelope.CodeRepeatedCall}
	s := NewControllerServer(fake, "test")

	result := s.CallTool(t.Context(), ToolStart, nil)
	require.True(t, result.IsError)

	out := outcome(t, Text(result))
	assert.False(t, out.Success)
	assert.Equal(t, envelope.CodeRepeatedCall.String(), out.Error)
}

func TestControllerServer_Recall(t *testing.T) {
	fake := &fakeController{}
	s := NewControllerServer(fake, "test")

	missing := s.CallTool(t.Context(), ToolRecall, nil)
	require.True(t, missing.IsError)
	assert.Empty(t, fake.recalled)

	result := s.CallTool(t.Context(), ToolRecall, map[string]any{"message_id": 42})
	require.False(t, result.IsError)
	assert.Equal(t, []int64{42}, fake.recalled)
}

func TestControllerServer_Send(t *testing.T) {
	fake := &fakeController{}
	s := NewControllerServer(fake, "test")

	require.True(t, s.CallTool(t.Context(), ToolSend, map[string]any{"target_id": 1}).IsError)

	result := s.CallTool(t.Context(), ToolSend, map[string]any{
		"text":            "hi",
		"connection_type": 3,
		"group":           true,
		"target_id":       99,
		"message_id":      5,
	})
	require.False(t, result.IsError)
	require.Len(t, fake.sent, 1)

	dto := fake.sent[0]
	assert.Equal(t, "hi", dto.Contents.ContentString())
	assert.Equal(t, message.PluginConnection{ConnectionType: 3, SendTargetType: message.SendTargetGroup, ID: 99}, dto.PluginConnection)
	require.NotNil(t, dto.MessageID)
	assert.Equal(t, int64(5), *dto.MessageID)
}

func TestControllerServer_AgainstCore(t *testing.T) {
	coreSide, ctlSide := pipe.New(0)

	c, err := core.New(&config.Options{Transport: coreSide}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(t.Context()))
	t.Cleanup(func() { _ = c.Close() })

	ctl, err := controller.New(&config.Options{Transport: ctlSide, CommandTimeout: time.Second}, envelope.RoleController)
	require.NoError(t, err)
	require.NoError(t, ctl.Start(t.Context()))
	t.Cleanup(func() { _ = ctl.Close() })

	s := NewControllerServer(ctl, "test")

	// No link yet: the core is unreachable.
	result := s.CallTool(t.Context(), ToolGetState, nil)
	require.True(t, result.IsError)
	assert.Equal(t, envelope.CodeDisconnected.String(), outcome(t, Text(result)).Error)

	ctl.Connect(ctlSide.Link())

	result = s.CallTool(t.Context(), ToolGetState, nil)
	require.False(t, result.IsError)
	assert.Equal(t, envelope.StateStopped.String(), outcome(t, Text(result)).State)

	// Sending while stopped is refused by the core.
	result = s.CallTool(t.Context(), ToolSend, map[string]any{"text": "x", "target_id": 1})
	require.True(t, result.IsError)
	assert.Equal(t, envelope.CodeDisconnected.String(), outcome(t, Text(result)).Error)
}
