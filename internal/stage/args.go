package stage

import (
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

// HandoffArgs are the arguments of a transition tool. Personas fill in what
// they learned; every field is optional.
type HandoffArgs struct {
	UserName       string   `json:"user_name,omitempty" jsonschema:"description=The caller's first name"`
	Age            string   `json:"age,omitempty" jsonschema:"description=The caller's age if mentioned"`
	Occupation     string   `json:"occupation,omitempty" jsonschema:"description=What the caller does for a living"`
	Topic          string   `json:"topic,omitempty" jsonschema:"description=The topic the caller wants to discuss"`
	OpinionSummary string   `json:"opinion_summary,omitempty" jsonschema:"description=One or two sentences summarising the opinion you just gave"`
	Insights       string   `json:"insights,omitempty" jsonschema:"description=What you learned about the caller's view"`
	Questions      []string `json:"questions,omitempty" jsonschema:"description=Questions you asked the caller"`
	Preferences    []string `json:"preferences,omitempty" jsonschema:"description=Preferences the caller expressed"`
	ExchangeCount  int      `json:"exchange_count,omitempty" jsonschema:"description=How many exchanges you had with the caller,minimum=0"`
}

// EndCallArgs are the arguments of the termination tools.
type EndCallArgs struct {
	Reason      string `json:"reason,omitempty" jsonschema:"description=Why the call is ending"`
	LastSpeaker string `json:"last_speaker,omitempty" jsonschema:"description=Who spoke last,enum=lars,enum=wiktoria,enum=user"`
}

// CheckQuestionArgs are the arguments of the question memory check.
type CheckQuestionArgs struct {
	Question string `json:"question" jsonschema:"required,description=The question you are about to ask"`
}

var (
	reflector = &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schemas sync.Map
)

// schemaFor reflects the JSON schema of an argument struct. Tools without
// arguments get an empty object schema.
func schemaFor(args any) *jsonschema.Schema {
	if args == nil {
		return &jsonschema.Schema{Type: "object"}
	}
	t := reflect.TypeOf(args)
	if cached, ok := schemas.Load(t); ok {
		return cached.(*jsonschema.Schema)
	}
	s := reflector.Reflect(args)
	s.Version = ""
	s.ID = ""
	schemas.Store(t, s)
	return s
}
