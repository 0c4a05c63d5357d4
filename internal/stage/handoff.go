package stage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/capitalize-ai/persona-orchestrator/internal/memory"
	"github.com/capitalize-ai/persona-orchestrator/internal/model"
	"github.com/capitalize-ai/persona-orchestrator/internal/topic"
)

// Phase is a coarse position in the conversation.
type Phase string

const (
	PhaseEarly Phase = "early"
	PhaseMid   Phase = "mid"
	PhaseLate  Phase = "late"
)

const (
	midPhaseExchanges  = 4
	latePhaseExchanges = 10
)

// PhaseFor maps a running exchange count to a phase.
func PhaseFor(exchanges int) Phase {
	switch {
	case exchanges >= latePhaseExchanges:
		return PhaseLate
	case exchanges >= midPhaseExchanges:
		return PhaseMid
	default:
		return PhaseEarly
	}
}

// HandoffContext is what crosses a stage transition. Values are built fresh
// for every transition; the With methods return modified copies.
type HandoffContext struct {
	UserName        string        `json:"user_name,omitempty"`
	Age             string        `json:"age,omitempty"`
	Occupation      string        `json:"occupation,omitempty"`
	Topic           string        `json:"topic,omitempty"`
	OpinionSummary  string        `json:"opinion_summary,omitempty"`
	Insights        string        `json:"insights,omitempty"`
	ExchangeCount   int           `json:"exchange_count"`
	Phase           Phase         `json:"phase"`
	AskedQuestions  []string      `json:"asked_questions,omitempty"`
	NewQuestions    []string      `json:"new_questions,omitempty"`
	Preferences     []string      `json:"preferences,omitempty"`
	CoveredTopics   []string      `json:"covered_topics,omitempty"`
	AvoidStatements []string      `json:"avoid_statements,omitempty"`
	EchoStatements  []string      `json:"echo_statements,omitempty"`
	PreviousPersona model.Speaker `json:"previous_persona,omitempty"`
	TopicRevisited  bool          `json:"topic_revisited,omitempty"`
}

// Prior is what is already known before the payload is merged.
type Prior struct {
	UserName string
	Topic    string
	Persona  model.Speaker
}

var payloadKeys = map[string][]string{
	"user_name":       {"user_name", "userName", "name", "imie", "imię"},
	"age":             {"age", "wiek"},
	"occupation":      {"occupation", "job", "profession", "zawod", "zawód"},
	"topic":           {"topic", "subject", "temat"},
	"opinion_summary": {"opinion_summary", "opinionSummary", "opinion", "summary"},
	"insights":        {"insights", "insight", "notes"},
	"questions":       {"questions", "asked_questions", "askedQuestions", "question"},
	"preferences":     {"preferences", "preference"},
	"exchange_count":  {"exchange_count", "exchangeCount", "exchanges"},
}

// Merge builds the context for the persona about to speak from the tool
// payload, what is already known, and the conversation's memory. Payload
// values win over prior values; missing values are left empty for the
// prompt's defaults.
func Merge(payload map[string]any, prior Prior, history memory.Snapshot, next model.Speaker) HandoffContext {
	hc := HandoffContext{
		UserName:        firstNonEmpty(lookupString(payload, "user_name"), prior.UserName),
		Age:             lookupString(payload, "age"),
		Occupation:      lookupString(payload, "occupation"),
		Topic:           mergeTopic(lookupString(payload, "topic"), prior.Topic),
		OpinionSummary:  lookupString(payload, "opinion_summary"),
		Insights:        lookupString(payload, "insights"),
		NewQuestions:    dedupe(nil, lookupStrings(payload, "questions")),
		Preferences:     dedupe(nil, lookupStrings(payload, "preferences")),
		CoveredTopics:   append([]string(nil), history.Topics...),
		PreviousPersona: prior.Persona,
	}

	hc.AskedQuestions = dedupe(nil, history.Questions, hc.NewQuestions)

	recent := history.Statements[next]
	if len(recent) > maxAvoidStatements {
		recent = recent[len(recent)-maxAvoidStatements:]
	}
	hc.AvoidStatements = append([]string(nil), recent...)

	// The persona's own count and the recorded history describe the same
	// exchanges; take whichever saw more.
	exchanges := len(history.Questions)
	for _, statements := range history.Statements {
		exchanges += len(statements)
	}
	hc.ExchangeCount = max(exchanges, lookupInt(payload, "exchange_count"))
	hc.Phase = PhaseFor(hc.ExchangeCount)

	return hc
}

const maxAvoidStatements = 5

// WithTopic returns a copy with the topic replaced.
func (hc HandoffContext) WithTopic(topic string) HandoffContext {
	hc.Topic = topic
	return hc
}

// WithRepetitions returns a copy carrying the outcome of the repetition checks.
// echoed is a statement the handing-off persona already made; it is kept apart
// from AvoidStatements, which belong to the next persona.
func (hc HandoffContext) WithRepetitions(repeatedQuestions []string, topicRevisited bool, echoed string) HandoffContext {
	hc.AskedQuestions = dedupe(nil, hc.AskedQuestions, repeatedQuestions)
	hc.TopicRevisited = topicRevisited
	if echoed != "" {
		hc.EchoStatements = dedupe(nil, hc.EchoStatements, []string{echoed})
	}
	return hc
}

// HasIdentity reports whether name and topic are both known.
func (hc HandoffContext) HasIdentity() bool {
	return hc.UserName != "" && hc.Topic != ""
}

func lookup(payload map[string]any, field string) (any, bool) {
	for _, key := range payloadKeys[field] {
		if v, ok := payload[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(payload map[string]any, field string) string {
	v, ok := lookup(payload, field)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool, int, int64:
		return fmt.Sprint(val)
	}
	return ""
}

func lookupStrings(payload map[string]any, field string) []string {
	v, ok := lookup(payload, field)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}
		}
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func lookupInt(payload map[string]any, field string) int {
	v, ok := lookup(payload, field)
	if !ok {
		return 0
	}
	switch val := v.(type) {
	case float64:
		if val > 0 {
			return int(val)
		}
	case int:
		if val > 0 {
			return val
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// dedupe appends the non-empty entries of lists to dst, skipping entries
// whose normalized text is already present.
func dedupe(dst []string, lists ...[]string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[memory.Normalize(s)] = true
	}
	for _, list := range lists {
		for _, s := range list {
			s = strings.TrimSpace(s)
			key := memory.Normalize(s)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// mergeTopic prefers the payload topic unless it is a placeholder and a real
// topic is already known.
func mergeTopic(fromPayload, known string) string {
	if topic.IsPlaceholder(fromPayload) && !topic.IsPlaceholder(known) {
		return known
	}
	return firstNonEmpty(fromPayload, known)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
