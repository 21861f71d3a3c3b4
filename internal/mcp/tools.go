package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/parabox-connector-go/internal/envelope"
	"github.com/wagiedev/parabox-connector-go/internal/message"
)

// Tool names registered by NewControllerServer.
const (
	ToolStatus    = "core_status"
	ToolGetState  = "get_state"
	ToolStart     = "start_core"
	ToolStop      = "stop_core"
	ToolForceStop = "force_stop_core"
	ToolRefresh   = "refresh_messages"
	ToolRecall    = "recall_message"
	ToolSend      = "send_message"
)

// Controller is the part of a controller endpoint the tools drive.
type Controller interface {
	Role() envelope.Role
	Connected() bool
	LastState() (state envelope.State, message string, ok bool)
	GetState(ctx context.Context) (envelope.Result, error)
	StartCore(ctx context.Context) (envelope.Result, error)
	StopCore(ctx context.Context) (envelope.Result, error)
	ForceStopCore(ctx context.Context) (envelope.Result, error)
	RefreshMessage(ctx context.Context) (envelope.Result, error)
	RecallMessage(ctx context.Context, messageID int64) (envelope.Result, error)
	SendMessage(ctx context.Context, dto message.SendMessageDto) (envelope.Result, error)
}

// NewControllerServer returns a tool server driving c.
func NewControllerServer(c Controller, version string) *ToolServer {
	s := NewToolServer("parabox-"+c.Role().String(), version)

	readOnly := &mcp.ToolAnnotations{ReadOnlyHint: true}

	s.AddTool(&mcp.Tool{
		Name:        ToolStatus,
		Description: "Report the last known core state without contacting the core",
		Annotations: readOnly,
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st := Status{Role: c.Role().String(), Connected: c.Connected()}
		if state, msg, ok := c.LastState(); ok {
			st.Known = true
			st.State = state.String()
			st.Message = msg
		}

		return JSONResult(st), nil
	})

	s.AddTool(&mcp.Tool{
		Name:        ToolGetState,
		Description: "Ask the core for its current lifecycle state",
		Annotations: readOnly,
	}, commandTool(c.GetState))

	s.AddTool(&mcp.Tool{
		Name:        ToolStart,
		Description: "Start the core",
	}, commandTool(c.StartCore))

	s.AddTool(&mcp.Tool{
		Name:        ToolStop,
		Description: "Stop the core",
	}, commandTool(c.StopCore))

	s.AddTool(&mcp.Tool{
		Name:        ToolForceStop,
		Description: "Force the core into the stopped state",
	}, commandTool(c.ForceStopCore))

	s.AddTool(&mcp.Tool{
		Name:        ToolRefresh,
		Description: "Replay messages the core failed to deliver to the main host",
	}, commandTool(c.RefreshMessage))

	s.AddTool(&mcp.Tool{
		Name:        ToolRecall,
		Description: "Recall a sent message by id",
		InputSchema: SimpleSchema(map[string]string{"message_id": "int64"}),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args struct {
			MessageID *int64 `json:"message_id"`
		}

		if err := DecodeArguments(req, &args); err != nil {
			return ErrorResult(err.Error()), nil
		}

		if args.MessageID == nil {
			return ErrorResult("message_id is required"), nil
		}

		return callResult(c.RecallMessage(ctx, *args.MessageID))
	})

	s.AddTool(&mcp.Tool{
		Name:        ToolSend,
		Description: "Send a plain text message to a conversation through the core",
		InputSchema: sendMessageSchema(),
	}, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var args sendMessageArgs
		if err := DecodeArguments(req, &args); err != nil {
			return ErrorResult(err.Error()), nil
		}

		if args.Text == "" {
			return ErrorResult("text is required"), nil
		}

		return callResult(c.SendMessage(ctx, args.dto()))
	})

	return s
}

type sendMessageArgs struct {
	Text           string `json:"text"`
	ConnectionType int    `json:"connection_type"`
	Group          bool   `json:"group"`
	TargetID       int64  `json:"target_id"`
	MessageID      *int64 `json:"message_id"`
}

func (a sendMessageArgs) dto() message.SendMessageDto {
	target := message.SendTargetUser
	if a.Group {
		target = message.SendTargetGroup
	}

	return message.SendMessageDto{
		Contents:  message.Contents{&message.PlainText{Text: a.Text}},
		Timestamp: envelope.NowMillis(),
		PluginConnection: message.PluginConnection{
			ConnectionType: a.ConnectionType,
			SendTargetType: target,
			ID:             a.TargetID,
		},
		MessageID: a.MessageID,
	}
}

func sendMessageSchema() *jsonschema.Schema {
	schema := SimpleSchema(map[string]string{
		"text":            "string",
		"connection_type": "int",
		"target_id":       "int64",
	})
	schema.Properties["group"] = &jsonschema.Schema{Type: "boolean", Description: "target is a group chat"}
	schema.Properties["message_id"] = &jsonschema.Schema{Type: "integer", Description: "id used for recall"}

	return schema
}

func commandTool(fn func(context.Context) (envelope.Result, error)) mcp.ToolHandler {
	return func(ctx context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return callResult(fn(ctx))
	}
}

func callResult(r envelope.Result, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		return nil, err
	}

	result := JSONResult(outcomeOf(r))
	result.IsError = !r.OK()

	return result, nil
}
