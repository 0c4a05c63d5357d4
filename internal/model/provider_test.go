package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeArguments(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		f := ProviderToolFunction{Arguments: json.RawMessage(`{"user_name":"Ana","topic":"energy policy"}`)}
		args, err := f.DecodeArguments()
		require.NoError(t, err)
		assert.Equal(t, "Ana", args["user_name"])
	})

	t.Run("string encoded object", func(t *testing.T) {
		f := ProviderToolFunction{Arguments: json.RawMessage(`"{\"topic\":\"housing\"}"`)}
		args, err := f.DecodeArguments()
		require.NoError(t, err)
		assert.Equal(t, "housing", args["topic"])
	})

	t.Run("empty", func(t *testing.T) {
		args, err := ProviderToolFunction{}.DecodeArguments()
		require.NoError(t, err)
		assert.Empty(t, args)
	})

	t.Run("malformed", func(t *testing.T) {
		f := ProviderToolFunction{Arguments: json.RawMessage(`"not json"`)}
		_, err := f.DecodeArguments()
		assert.Error(t, err)
	})
}

func TestToTranscriptMessages(t *testing.T) {
	in := []ProviderTranscriptMessage{
		{Role: "system", Message: "you are Lars"},
		{Role: "bot", Message: "Hello, who am I talking to?"},
		{Role: "user", Message: "  Ana  "},
		{Role: "tool_calls", Message: "handoff_to_opinion"},
		{Role: "user", Message: ""},
	}

	out := ToTranscriptMessages(in)

	require.Len(t, out, 3)
	assert.Equal(t, RoleSystem, out[0].Role)
	assert.Equal(t, RoleAssistant, out[1].Role)
	assert.Equal(t, "Ana", out[2].Text)
}

func TestLifecycle(t *testing.T) {
	cases := []struct {
		name string
		msg  ProviderMessage
		want LifecycleEventType
		ok   bool
	}{
		{"end of call report", ProviderMessage{Type: "end-of-call-report", EndedReason: "customer-ended-call"}, LifecycleEnded, true},
		{"cancelled report", ProviderMessage{Type: "end-of-call-report", EndedReason: "call-cancelled"}, LifecycleCancelled, true},
		{"status ended with error", ProviderMessage{Type: "status-update", Status: "ended", EndedReason: "pipeline-error"}, LifecycleDisconnected, true},
		{"hang", ProviderMessage{Type: "hang"}, LifecycleDisconnected, true},
		{"status in progress", ProviderMessage{Type: "status-update", Status: "in-progress"}, "", false},
		{"transcript", ProviderMessage{Type: "transcript"}, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.msg.Lifecycle()
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}
