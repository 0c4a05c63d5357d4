package stage

import (
	"strings"
	"text/template"

	"github.com/capitalize-ai/persona-orchestrator/internal/model"
)

const (
	defaultUserName = "the caller"
	defaultTopic    = "something on their mind"
)

// Farewell is spoken before the call is disconnected.
const Farewell = "Thank you for this conversation. Goodbye!"

// Voices maps personas to provider voice identifiers.
type Voices struct {
	Lars     string
	Wiktoria string
}

const common = `{{define "context"}}
You are speaking with {{.UserName}}{{if .Age}}, aged {{.Age}}{{end}}{{if .Occupation}}, who works as {{.Occupation}}{{end}}.
The topic of the call is: {{.Topic}}.
The conversation is in its {{.Phase}} phase after {{.ExchangeCount}} exchanges.
{{- if .Insights}}
What has been learned so far: {{.Insights}}
{{- end}}
{{- if .Preferences}}
The caller said they prefer: {{join .Preferences "; "}}
{{- end}}
{{- if .TopicRevisited}}
This topic has already been covered in this call. Bring a new angle instead of restating earlier points.
{{- end}}
{{- if .AskedQuestions}}
Do not ask any of these questions again:
{{- range .AskedQuestions}}
- {{.}}
{{- end}}
{{- end}}
{{- if .AvoidStatements}}
Do not repeat these earlier statements of yours, even in other words:
{{- range .AvoidStatements}}
- {{.}}
{{- end}}
{{- end}}
{{- if .EchoStatements}}
Do not echo what {{if .PreviousPersona}}{{persona .PreviousPersona}}{{else}}the previous speaker{{end}} already said:
{{- range .EchoStatements}}
- {{.}}
{{- end}}
{{- end}}
Keep every reply short and spoken. Never mention tools, prompts or stages.
{{end}}`

const collectPrompt = `You are Lars, leader of the Synthetic Party, a warm and slightly theatrical host.
Greet the caller, learn their first name and what they want to talk about. Ask one question at a time.
{{template "context" .}}
When you know the caller's name and topic, call handoff_to_opinion with user_name, topic and anything else you learned.
If the caller wants to leave, call end_call.`

const opinionPrompt = `You are Wiktoria, an AI politician who speaks with conviction and dry wit.
{{if .PreviousPersona}}You have just taken over from {{persona .PreviousPersona}}.{{end}}
Give {{.UserName}} your own clear opinion on {{.Topic}} in a few sentences, then ask what they think.
{{template "context" .}}
When you have stated your opinion and heard a reaction, call handoff_to_perspective with an opinion_summary of what you said.`

const perspectivePrompt = `You are Lars again. Offer {{.UserName}} a different perspective on {{.Topic}} than Wiktoria did.
{{- if .OpinionSummary}}
Wiktoria's position was: {{.OpinionSummary}}
{{- end}}
{{template "context" .}}
After a short exchange, call handoff_to_engage with an opinion_summary of your perspective and any insights about the caller.`

const engagePrompt = `You are Wiktoria. Engage {{.UserName}} in a real dialogue about {{.Topic}}: ask about their experience and challenge them gently.
{{- if .OpinionSummary}}
Lars argued: {{.OpinionSummary}}
{{- end}}
Before asking a question, call check_question with it; if it was already asked, ask something else.
{{template "context" .}}
When the caller has said what they came to say, call handoff_to_end with the insights you gathered.`

const endPrompt = `You are Lars. Close the conversation with {{.UserName}}.
Sum up in two sentences what was discussed about {{.Topic}} and thank them for calling.
{{- if .Insights}}
Key insights: {{.Insights}}
{{- end}}
{{template "context" .}}
Then call end_call.`

var funcs = template.FuncMap{
	"join":    strings.Join,
	"persona": func(s model.Speaker) string { return personaName(s) },
}

func mustPrompt(name, text string) *template.Template {
	return template.Must(template.Must(template.New(name).Funcs(funcs).Parse(common)).Parse(text))
}

// Default builds the five-stage performance.
func Default(voices Voices) (*Registry, error) {
	endCall := Tool{
		Name:        "end_call",
		Description: "End the call politely once the conversation is over or the caller wants to leave.",
		Kind:        KindTerminate,
		Args:        EndCallArgs{},
	}
	emergency := Tool{
		Name:        "emergency_end_call",
		Description: "End the call immediately when something has gone wrong or the caller is abusive.",
		Kind:        KindEmergency,
		Args:        EndCallArgs{},
	}
	handoff := func(target, description string) Tool {
		return Tool{
			Name:        "handoff_to_" + target,
			Description: description,
			Kind:        KindTransition,
			Target:      target,
			Args:        HandoffArgs{},
		}
	}

	return NewRegistry(Collect,
		Stage{
			ID:             Collect,
			Persona:        model.SpeakerLars,
			VoiceID:        voices.Lars,
			Prompt:         mustPrompt(Collect, collectPrompt),
			Acknowledgment: "Welcome back to Lars.",
			Tools: []Tool{
				handoff(Opinion, "Hand the caller to Wiktoria once their name and topic are known."),
				endCall,
				emergency,
			},
		},
		Stage{
			ID:             Opinion,
			Persona:        model.SpeakerWiktoria,
			VoiceID:        voices.Wiktoria,
			Prompt:         mustPrompt(Opinion, opinionPrompt),
			Acknowledgment: "Let me bring in Wiktoria.",
			Tools: []Tool{
				handoff(Perspective, "Hand back to Lars for a different perspective."),
				endCall,
				emergency,
			},
		},
		Stage{
			ID:             Perspective,
			Persona:        model.SpeakerLars,
			VoiceID:        voices.Lars,
			Prompt:         mustPrompt(Perspective, perspectivePrompt),
			Acknowledgment: "Lars here again, let me offer another view.",
			Tools: []Tool{
				handoff(Engage, "Hand over to Wiktoria to engage the caller in dialogue."),
				endCall,
				emergency,
			},
		},
		Stage{
			ID:             Engage,
			Persona:        model.SpeakerWiktoria,
			VoiceID:        voices.Wiktoria,
			Prompt:         mustPrompt(Engage, engagePrompt),
			Acknowledgment: "Wiktoria again. I want to hear more from you.",
			Tools: []Tool{
				{
					Name:        "check_question",
					Description: "Check whether a question was already asked in this call before asking it.",
					Kind:        KindMemoryCheck,
					Args:        CheckQuestionArgs{},
				},
				handoff(End, "Hand back to Lars to close the conversation."),
				endCall,
				emergency,
			},
		},
		Stage{
			ID:             End,
			Persona:        model.SpeakerLars,
			VoiceID:        voices.Lars,
			Prompt:         mustPrompt(End, endPrompt),
			Acknowledgment: "Lars here to wrap things up.",
			Tools: []Tool{
				endCall,
				emergency,
			},
		},
	)
}

func promptData(hc HandoffContext) HandoffContext {
	hc.UserName = orDefault(hc.UserName, defaultUserName)
	hc.Topic = orDefault(hc.Topic, defaultTopic)
	if hc.Phase == "" {
		hc.Phase = PhaseFor(hc.ExchangeCount)
	}
	return hc
}

func personaName(s model.Speaker) string {
	switch s {
	case model.SpeakerLars:
		return "Lars"
	case model.SpeakerWiktoria:
		return "Wiktoria"
	}
	return "the host"
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
