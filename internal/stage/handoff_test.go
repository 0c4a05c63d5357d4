package stage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/capitalize-ai/persona-orchestrator/internal/memory"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

func TestMerge(t *testing.T) {
	payload := map[string]any{
		"userName":       "Ana",
		"age":            float64(34),
		"job":            "nurse",
		"topic":          "energy policy",
		"opinionSummary": "Nuclear is the bridge.",
		"questions":      []any{"Do you vote?", "do you vote", "What worries you?"},
		"preferences":    "short answers",
		"exchange_count": float64(2),
	}
	history := memory.Snapshot{
		Questions: []string{"What is your name?", "Do you vote?"},
		Topics:    []string{"energy policy"},
		Statements: map[model.Speaker][]string{
			model.SpeakerWiktoria: {"Coal has no future."},
			model.SpeakerLars:     {"Welcome!"},
		},
	}

	hc := Merge(payload, Prior{Persona: model.SpeakerLars}, history, model.SpeakerWiktoria)

	assert.Equal(t, "Ana", hc.UserName)
	assert.Equal(t, "34", hc.Age)
	assert.Equal(t, "nurse", hc.Occupation)
	assert.Equal(t, "energy policy", hc.Topic)
	assert.Equal(t, "Nuclear is the bridge.", hc.OpinionSummary)
	assert.Equal(t, []string{"Do you vote?", "What worries you?"}, hc.NewQuestions)
	assert.Equal(t, []string{"What is your name?", "Do you vote?", "What worries you?"}, hc.AskedQuestions)
	assert.Equal(t, []string{"short answers"}, hc.Preferences)
	assert.Equal(t, []string{"energy policy"}, hc.CoveredTopics)
	assert.Equal(t, []string{"Coal has no future."}, hc.AvoidStatements)
	assert.Equal(t, model.SpeakerLars, hc.PreviousPersona)
	assert.Equal(t, 4, hc.ExchangeCount)
	assert.Equal(t, PhaseMid, hc.Phase)
}

func TestMergeExchangeCountDoesNotDoubleCount(t *testing.T) {
	history := memory.Snapshot{
		Questions: []string{"What is your name?", "Do you vote?", "Where do you live?"},
		Statements: map[model.Speaker][]string{
			model.SpeakerLars: {"Welcome!", "Tell me more."},
		},
	}

	tests := []struct {
		name     string
		reported any
		want     int
		phase    Phase
	}{
		{"persona agrees with history", float64(5), 5, PhaseMid},
		{"persona saw fewer", float64(2), 5, PhaseMid},
		{"persona saw more", float64(11), 11, PhaseLate},
		{"persona silent", nil, 5, PhaseMid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := map[string]any{}
			if tt.reported != nil {
				payload["exchange_count"] = tt.reported
			}
			hc := Merge(payload, Prior{}, history, model.SpeakerWiktoria)
			assert.Equal(t, tt.want, hc.ExchangeCount)
			assert.Equal(t, tt.phase, hc.Phase)
		})
	}
}

func TestMergePriorValues(t *testing.T) {
	prior := Prior{UserName: "Ana", Topic: "housing"}

	hc := Merge(map[string]any{"topic": "generic"}, prior, memory.Snapshot{}, model.SpeakerLars)
	assert.Equal(t, "Ana", hc.UserName)
	assert.Equal(t, "housing", hc.Topic, "a placeholder never replaces a known topic")

	hc = Merge(map[string]any{"temat": "transport"}, prior, memory.Snapshot{}, model.SpeakerLars)
	assert.Equal(t, "transport", hc.Topic)

	hc = Merge(nil, Prior{}, memory.Snapshot{}, model.SpeakerLars)
	assert.False(t, hc.HasIdentity())
	assert.Equal(t, PhaseEarly, hc.Phase)
}

func TestHandoffContextCopies(t *testing.T) {
	base := Merge(map[string]any{"name": "Ana", "topic": "tax"}, Prior{}, memory.Snapshot{
		Questions: []string{"Do you vote?"},
	}, model.SpeakerLars)

	changed := base.WithTopic("tax reform").WithRepetitions([]string{"Do you vote?", "Where do you live?"}, true, "Taxes are theft.")

	assert.Equal(t, "tax", base.Topic)
	assert.False(t, base.TopicRevisited)
	assert.Equal(t, []string{"Do you vote?"}, base.AskedQuestions)
	assert.Empty(t, base.AvoidStatements)
	assert.Empty(t, base.EchoStatements)

	assert.Equal(t, "tax reform", changed.Topic)
	assert.True(t, changed.TopicRevisited)
	assert.Equal(t, []string{"Do you vote?", "Where do you live?"}, changed.AskedQuestions)
	assert.Empty(t, changed.AvoidStatements, "the next persona's own statements are untouched")
	assert.Equal(t, []string{"Taxes are theft."}, changed.EchoStatements)
}

func TestPhaseFor(t *testing.T) {
	assert.Equal(t, PhaseEarly, PhaseFor(0))
	assert.Equal(t, PhaseMid, PhaseFor(4))
	assert.Equal(t, PhaseLate, PhaseFor(10))
}
