package model

// Directive tells the voice provider what to do with an instruction.
type Directive string

const (
	// DirectiveStageChange continues the call in a new stage.
	DirectiveStageChange Directive = "stage_change"
	// DirectiveHangup speaks the message, then disconnects.
	DirectiveHangup Directive = "hangup"
	// DirectiveContinue answers a tool call without changing stage.
	DirectiveContinue Directive = "continue"
)

// ToolFunction describes a callable tool to the provider.
type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// ToolServer is the callback address the provider posts tool calls to.
type ToolServer struct {
	URL string `json:"url"`
}

// ToolDefinition is one tool offered to the live persona.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
	Server   ToolServer   `json:"server"`
}

// Instruction is the bundle returned to the provider for a tool invocation.
type Instruction struct {
	Directive      Directive        `json:"directive"`
	Stage          string           `json:"stage,omitempty"`
	Persona        Speaker          `json:"persona,omitempty"`
	SystemPrompt   string           `json:"system_prompt,omitempty"`
	VoiceID        string           `json:"voice_id,omitempty"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	Message        string           `json:"message"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Data           map[string]any   `json:"data,omitempty"`
}

// ToolNames lists the names of the instruction's tools in order.
func (i *Instruction) ToolNames() []string {
	names := make([]string, len(i.Tools))
	for n, t := range i.Tools {
		names[n] = t.Function.Name
	}
	return names
}
