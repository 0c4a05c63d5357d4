// Package topic derives a conversation topic from transcript messages. Every
// extractor is best effort; callers treat the result as advisory.
package topic

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

// Placeholder is the sentinel topic used when nothing better is known.
const Placeholder = "generic"

const (
	minTopicRunes     = 3
	maxTopicRunes     = 100
	minUtteranceRunes = 15
)

// Strategy records how a topic was found.
type Strategy string

const (
	StrategyUserDeclaration Strategy = "user_declaration"
	StrategyPersonaNaming   Strategy = "persona_naming"
	StrategyLongUtterance   Strategy = "long_utterance"
	StrategyClassifier      Strategy = "classifier"
	StrategyPlaceholder     Strategy = "placeholder"
)

// Result is an extracted topic.
type Result struct {
	Topic    string   `json:"topic"`
	Strategy Strategy `json:"strategy"`
}

// Found reports whether the result is more than the placeholder.
func (r Result) Found() bool {
	return r.Strategy != StrategyPlaceholder
}

// Extractor derives a topic from transcript messages.
type Extractor interface {
	Extract(ctx context.Context, messages []model.TranscriptMessage) Result
}

// placeholders are topic values that mean "not known yet".
var placeholders = map[string]bool{
	"":        true,
	"generic": true,
	"unknown": true,
	"general": true,
	"ogólny":  true,
	"ogólne":  true,
	"brak":    true,
	"none":    true,
}

// IsPlaceholder reports whether topic is a known placeholder sentinel.
func IsPlaceholder(topic string) bool {
	return placeholders[strings.ToLower(strings.TrimSpace(topic))]
}

// fillers are low-information answers that never count as a topic.
var fillers = map[string]bool{
	"i don't know":    true,
	"i dont know":     true,
	"don't know":      true,
	"no idea":         true,
	"everything":      true,
	"anything":        true,
	"nothing":         true,
	"whatever":        true,
	"something":       true,
	"stuff":           true,
	"nie wiem":        true,
	"nie mam pojęcia": true,
	"wszystko":        true,
	"cokolwiek":       true,
	"nic":             true,
	"coś":             true,
}

// IsFiller reports whether text is a low-information filler answer.
func IsFiller(text string) bool {
	return fillers[strings.ToLower(strings.TrimSpace(strings.Trim(text, ".,!?;: ")))]
}

var (
	userPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bI(?:'d| would)? (?:want|like|wish) to (?:talk|discuss|speak|chat)(?: about)? (.+)`),
		regexp.MustCompile(`(?i)\bI(?:'m| am) (?:really |very )?(?:interested in|curious about|worried about|concerned about) (.+)`),
		regexp.MustCompile(`(?i)\b(?:let's|lets|let us) (?:talk|chat) about (.+)`),
		regexp.MustCompile(`(?i)\bmy (?:topic|question) is (.+)`),
		regexp.MustCompile(`(?i)\bchc(?:ę|e|iał(?:a|)bym) (?:porozmawiać|porozmawiac|rozmawiać|pogadać|mówić) o (.+)`),
		regexp.MustCompile(`(?i)\binteresuj[eą] mnie (.+)`),
		regexp.MustCompile(`(?i)\b(?:mój|moj) temat to (.+)`),
		regexp.MustCompile(`(?i)\bmartwi mnie (.+)`),
	}

	personaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:so )?(?:the|our|your) topic (?:is|will be) (.+)`),
		regexp.MustCompile(`(?i)\b(?:let's|lets|let us) (?:talk|discuss) (?:about )?(.+)`),
		regexp.MustCompile(`(?i)\byou want to (?:talk|discuss|speak)(?: about)? (.+)`),
		regexp.MustCompile(`(?i)\btemat(?:em)? (?:to|jest|będzie) (.+)`),
		regexp.MustCompile(`(?i)\bporozmawiajmy o (.+)`),
	}

	// clauseEnd cuts a captured group at the first sentence or clause boundary.
	clauseEnd = regexp.MustCompile(`[.!?;]|,\s*(?:because|but|and|bo|ale|i)\b`)
)

// PatternExtractor scans messages with language-specific regular expressions.
type PatternExtractor struct{}

// NewPatternExtractor creates a PatternExtractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

// Extract tries user declarations, then persona naming, then the first long
// non-generic user utterance, then the placeholder.
func (e *PatternExtractor) Extract(ctx context.Context, messages []model.TranscriptMessage) Result {
	if topic, ok := scan(messages, model.RoleUser, userPatterns); ok {
		return Result{Topic: topic, Strategy: StrategyUserDeclaration}
	}
	if topic, ok := scan(messages, model.RoleAssistant, personaPatterns); ok {
		return Result{Topic: topic, Strategy: StrategyPersonaNaming}
	}
	for _, msg := range messages {
		if msg.Role != model.RoleUser {
			continue
		}
		text := strings.TrimSpace(msg.Text)
		if utf8.RuneCountInString(text) < minUtteranceRunes || IsFiller(text) {
			continue
		}
		return Result{Topic: truncate(text, maxTopicRunes), Strategy: StrategyLongUtterance}
	}
	return Result{Topic: Placeholder, Strategy: StrategyPlaceholder}
}

func scan(messages []model.TranscriptMessage, role model.Role, patterns []*regexp.Regexp) (string, bool) {
	for _, msg := range messages {
		if msg.Role != role {
			continue
		}
		for _, re := range patterns {
			m := re.FindStringSubmatch(msg.Text)
			if len(m) < 2 {
				continue
			}
			if topic, ok := clean(m[1]); ok {
				return topic, true
			}
		}
	}
	return "", false
}

// clean trims a captured group and rejects fillers and out-of-bounds lengths.
func clean(raw string) (string, bool) {
	if loc := clauseEnd.FindStringIndex(raw); loc != nil {
		raw = raw[:loc[0]]
	}
	topic := strings.TrimSpace(strings.Trim(raw, " \t\"'“”„,:"))
	n := utf8.RuneCountInString(topic)
	if n < minTopicRunes || n > maxTopicRunes {
		return "", false
	}
	if IsFiller(topic) || IsPlaceholder(topic) {
		return "", false
	}
	return topic, true
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}
