package memory

import (
	"sync"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

// tracker is one conversation's slice of the working set.
type tracker struct {
	mu         sync.Mutex
	seeded     bool
	maxEntries int
	seen       map[string]struct{}
	questions  []string
	topics     []string
	statements map[model.Speaker][]string
}

func newTracker(maxEntries int) *tracker {
	return &tracker{
		maxEntries: maxEntries,
		seen:       make(map[string]struct{}),
		statements: make(map[model.Speaker][]string),
	}
}

func (t *tracker) entries(kind model.EventKind) []string {
	switch kind {
	case model.EventQuestionAsked:
		return t.questions
	case model.EventTopicCovered:
		return t.topics
	}
	return nil
}

// add appends one event, ignoring events already held.
func (t *tracker) add(e model.ContextEvent) {
	if _, dup := t.seen[e.ID]; dup {
		return
	}
	text := e.Text()
	if text == "" {
		return
	}
	t.seen[e.ID] = struct{}{}

	switch e.Kind {
	case model.EventQuestionAsked:
		t.questions = t.capped(append(t.questions, text))
	case model.EventTopicCovered:
		t.topics = t.capped(append(t.topics, text))
	case model.EventAgentStatement:
		t.statements[e.Speaker] = t.capped(append(t.statements[e.Speaker], text))
	}
}

// merge places stored history ahead of entries recorded locally before the
// seed completed.
func (t *tracker) merge(stored []model.ContextEvent) {
	local := &tracker{
		questions:  t.questions,
		topics:     t.topics,
		statements: t.statements,
	}
	t.questions, t.topics = nil, nil
	t.statements = make(map[model.Speaker][]string)

	for _, e := range stored {
		t.add(e)
	}
	t.questions = t.capped(append(t.questions, local.questions...))
	t.topics = t.capped(append(t.topics, local.topics...))
	for speaker, statements := range local.statements {
		t.statements[speaker] = t.capped(append(t.statements[speaker], statements...))
	}
}

func (t *tracker) capped(entries []string) []string {
	if t.maxEntries > 0 && len(entries) > t.maxEntries {
		return append([]string(nil), entries[len(entries)-t.maxEntries:]...)
	}
	return entries
}
