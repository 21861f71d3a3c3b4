package mcp

import "github.com/wagiedev/parabox-connector-go/internal/envelope"

// Status is the controller's local view of its core.
type Status struct {
	Role      string `json:"role"`
	Connected bool   `json:"connected"`
	Known     bool   `json:"known"`
	State     string `json:"state,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CallOutcome reports the acknowledgement of one command.
type CallOutcome struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
}

func outcomeOf(r envelope.Result) CallOutcome {
	out := CallOutcome{Command: r.Code().String(), Success: r.OK()}

	switch v := r.(type) {
	case envelope.Success:
		if sp, ok := v.Payload.(*envelope.StatePayload); ok {
			out.State = sp.State.String()
			out.Message = sp.Message
		}
	case envelope.Fail:
		out.Error = v.ErrorCode.String()
	}

	return out
}
