package model

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ProviderEnvelope is the outer body of every provider server message.
type ProviderEnvelope struct {
	Message ProviderMessage `json:"message"`
}

// ProviderMessage carries tool calls and lifecycle reports.
type ProviderMessage struct {
	Type            string             `json:"type"`
	Status          string             `json:"status,omitempty"`
	EndedReason     string             `json:"endedReason,omitempty"`
	DurationSeconds float64            `json:"durationSeconds,omitempty"`
	Call            ProviderCall       `json:"call"`
	ToolCallList    []ProviderToolCall `json:"toolCallList,omitempty"`
	Artifact        *ProviderArtifact  `json:"artifact,omitempty"`
}

// ProviderCall identifies the live call.
type ProviderCall struct {
	ID string `json:"id"`
}

// ProviderToolCall is one tool invocation requested by the live persona.
type ProviderToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type,omitempty"`
	Function ProviderToolFunction `json:"function"`
}

// ProviderToolFunction names the tool and carries its arguments.
type ProviderToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeArguments returns the arguments as a map. Providers send either a JSON
// object or a JSON string containing an object.
func (f ProviderToolFunction) DecodeArguments() (map[string]any, error) {
	raw := bytes.TrimSpace(f.Arguments)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return map[string]any{}, nil
		}
		raw = []byte(s)
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// ProviderArtifact holds post-call data attached to end-of-call reports.
type ProviderArtifact struct {
	Messages     []ProviderTranscriptMessage `json:"messages,omitempty"`
	RecordingURL string                      `json:"recordingUrl,omitempty"`
}

// ProviderTranscriptMessage is a transcript turn as the provider reports it.
type ProviderTranscriptMessage struct {
	Role             string  `json:"role"`
	Message          string  `json:"message"`
	Content          string  `json:"content,omitempty"`
	Time             float64 `json:"time,omitempty"`
	SecondsFromStart float64 `json:"secondsFromStart,omitempty"`
}

// ToTranscriptMessages converts provider turns, dropping empty and tool-call entries.
func ToTranscriptMessages(in []ProviderTranscriptMessage) []TranscriptMessage {
	out := make([]TranscriptMessage, 0, len(in))
	for _, m := range in {
		text := m.Message
		if text == "" {
			text = m.Content
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		var role Role
		switch strings.ToLower(m.Role) {
		case "user", "customer":
			role = RoleUser
		case "bot", "assistant":
			role = RoleAssistant
		case "system":
			role = RoleSystem
		default:
			continue
		}
		out = append(out, TranscriptMessage{
			Role:             role,
			Text:             text,
			SecondsFromStart: m.SecondsFromStart,
		})
	}
	return out
}

// ToolCallResult answers one provider tool call.
type ToolCallResult struct {
	ToolCallID string       `json:"toolCallId"`
	Result     *Instruction `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// ToolCallResponse is the body returned for a tool-calls message.
type ToolCallResponse struct {
	Results []ToolCallResult `json:"results"`
}

// LifecycleEventType is the normalized kind of a provider lifecycle report.
type LifecycleEventType string

const (
	LifecycleEnded        LifecycleEventType = "ended"
	LifecycleCancelled    LifecycleEventType = "cancelled"
	LifecycleDisconnected LifecycleEventType = "disconnected"
)

// Lifecycle classifies a provider message as a call-end notification. The
// second return value is false for messages that do not end the call.
func (m ProviderMessage) Lifecycle() (LifecycleEventType, bool) {
	reason := strings.ToLower(m.EndedReason)
	classify := func() LifecycleEventType {
		switch {
		case strings.Contains(reason, "cancel"):
			return LifecycleCancelled
		case strings.Contains(reason, "disconnect"), strings.Contains(reason, "error"), strings.Contains(reason, "failed"):
			return LifecycleDisconnected
		default:
			return LifecycleEnded
		}
	}

	switch m.Type {
	case "end-of-call-report":
		return classify(), true
	case "hang":
		return LifecycleDisconnected, true
	case "status-update":
		switch strings.ToLower(m.Status) {
		case "ended":
			return classify(), true
		case "cancelled", "canceled":
			return LifecycleCancelled, true
		case "disconnected":
			return LifecycleDisconnected, true
		}
	}
	return "", false
}
