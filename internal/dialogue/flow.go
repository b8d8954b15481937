package dialogue

import (
	"embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/teslaelectricidad/teslabot/internal/catalog"
)

//go:embed flow.yaml
var flowFS embed.FS

// DefaultKey selects the keyed response or question set used when no
// topic-specific entry exists.
const DefaultKey = "default"

// Actions a stage can request when it completes.
const (
	ActionSubmitLead = "submit_lead"
)

// Question kinds.
const (
	KindText   = "text"
	KindNumber = "number"
	KindChoice = "choice"
	KindName   = "name"
	KindPhone  = "phone"
	KindEmail  = "email"
)

// QuickReply is a suggested input. Selecting it submits Value as text.
type QuickReply struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// Response is stage text in one of three shapes: a single string, a mapping
// keyed by topic or matched value, or a list of candidates to select from.
type Response struct {
	Text       string
	Keyed      map[string]string
	Candidates []string
}

// UnmarshalYAML accepts a scalar, mapping or sequence node.
func (r *Response) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&r.Text)
	case yaml.MappingNode:
		return node.Decode(&r.Keyed)
	case yaml.SequenceNode:
		return node.Decode(&r.Candidates)
	default:
		return fmt.Errorf("line %d: response must be a string, mapping or list", node.Line)
	}
}

// IsZero reports whether the response has no content.
func (r Response) IsZero() bool {
	return r.Text == "" && len(r.Keyed) == 0 && len(r.Candidates) == 0
}

// Question is one field asked by a collection stage.
type Question struct {
	Field    string   `yaml:"field"`
	Prompt   string   `yaml:"prompt"`
	Hint     string   `yaml:"hint"`
	Kind     string   `yaml:"kind"`
	Choices  []string `yaml:"choices"`
	Optional bool     `yaml:"optional"`
}

// Stage is one node of the conversation graph.
type Stage struct {
	ID string `yaml:"id"`
	// Triggers are keywords recognized in this stage; the matched trigger is
	// the value used for keyed responses and routes.
	Triggers []string `yaml:"triggers"`
	// Aliases map additional keywords to a canonical value.
	Aliases map[string]string `yaml:"aliases"`
	// DetectTopic matches catalog services before triggers; the topic key is
	// then the matched value.
	DetectTopic bool `yaml:"detect_topic"`
	// RequireMatch re-prompts instead of advancing on unmatched input.
	RequireMatch bool `yaml:"require_match"`
	// Prompt is shown when the session enters the stage and on re-prompts.
	Prompt Response `yaml:"prompt"`
	// Acknowledge answers a trigger match without a topic; the session stays.
	Acknowledge  Response              `yaml:"acknowledge"`
	Response     Response              `yaml:"response"`
	QuickReplies []QuickReply          `yaml:"quick_replies"`
	Questions    map[string][]Question `yaml:"questions"`
	Routes       map[string]string     `yaml:"routes"`
	Next         string                `yaml:"next"`
	// Passthrough moves to Next and hands it the same input.
	Passthrough bool   `yaml:"passthrough"`
	Action      string `yaml:"action"`

	aliasOrder []string
}

// Collects reports whether the stage loops over questions before advancing.
func (s *Stage) Collects() bool {
	return len(s.Questions) > 0
}

// QuestionsFor returns the question set for topic, falling back to the
// default set.
func (s *Stage) QuestionsFor(topic string) []Question {
	if qs, ok := s.Questions[topic]; ok {
		return qs
	}
	return s.Questions[DefaultKey]
}

// Flow is the arena of stages indexed by id.
type Flow struct {
	Start    string   `yaml:"start"`
	Fallback string   `yaml:"fallback"`
	Welcome  Response `yaml:"welcome"`
	Handoff  Response `yaml:"handoff"`
	Stages   []Stage  `yaml:"stages"`

	index map[string]int
}

// Stage returns the stage with the given id.
func (f *Flow) Stage(id string) (*Stage, bool) {
	i, ok := f.index[id]
	if !ok {
		return nil, false
	}
	return &f.Stages[i], true
}

// StageIDs returns the stage ids in document order.
func (f *Flow) StageIDs() []string {
	ids := make([]string, len(f.Stages))
	for i := range f.Stages {
		ids[i] = f.Stages[i].ID
	}
	return ids
}

// LoadFlow parses the embedded conversation graph.
func LoadFlow() (*Flow, error) {
	data, err := flowFS.ReadFile("flow.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded flow: %w", err)
	}
	return ParseFlow(data)
}

// ParseFlow decodes, normalizes and validates a conversation graph.
func ParseFlow(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode flow: %w", err)
	}
	if err := f.init(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *Flow) init() error {
	if len(f.Stages) == 0 {
		return fmt.Errorf("flow has no stages")
	}

	f.index = make(map[string]int, len(f.Stages))
	for i := range f.Stages {
		id := f.Stages[i].ID
		if id == "" {
			return fmt.Errorf("stage %d has no id", i)
		}
		if _, dup := f.index[id]; dup {
			return fmt.Errorf("duplicate stage %q", id)
		}
		f.index[id] = i
	}

	if _, ok := f.index[f.Start]; !ok {
		return fmt.Errorf("start stage %q does not exist", f.Start)
	}
	if _, ok := f.index[f.Fallback]; !ok {
		return fmt.Errorf("fallback stage %q does not exist", f.Fallback)
	}

	for i := range f.Stages {
		if err := f.initStage(&f.Stages[i]); err != nil {
			return fmt.Errorf("stage %q: %w", f.Stages[i].ID, err)
		}
	}
	return nil
}

func (f *Flow) initStage(s *Stage) error {
	if s.Next == "" {
		return fmt.Errorf("missing next stage")
	}
	if _, ok := f.index[s.Next]; !ok {
		return fmt.Errorf("next stage %q does not exist", s.Next)
	}
	for value, target := range s.Routes {
		if _, ok := f.index[target]; !ok {
			return fmt.Errorf("route %q targets unknown stage %q", value, target)
		}
	}
	if s.Passthrough && s.Collects() {
		return fmt.Errorf("passthrough stage cannot collect questions")
	}

	for i, t := range s.Triggers {
		s.Triggers[i] = catalog.Normalize(t)
	}
	aliases := make(map[string]string, len(s.Aliases))
	for k, v := range s.Aliases {
		aliases[catalog.Normalize(k)] = catalog.Normalize(v)
	}
	s.Aliases = aliases
	s.aliasOrder = make([]string, 0, len(aliases))
	for k := range aliases {
		s.aliasOrder = append(s.aliasOrder, k)
	}
	// Longer phrases first so "no gracias" wins over a shorter overlap.
	sort.Slice(s.aliasOrder, func(i, j int) bool {
		a, b := s.aliasOrder[i], s.aliasOrder[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})

	for topic, qs := range s.Questions {
		if len(qs) == 0 {
			return fmt.Errorf("question set %q is empty", topic)
		}
		for i := range qs {
			if err := initQuestion(&qs[i]); err != nil {
				return fmt.Errorf("question set %q: %w", topic, err)
			}
		}
	}
	return nil
}

func initQuestion(q *Question) error {
	if q.Field == "" {
		return fmt.Errorf("question without field")
	}
	if q.Prompt == "" {
		return fmt.Errorf("question %q has no prompt", q.Field)
	}
	if q.Kind == "" {
		q.Kind = KindText
	}
	switch q.Kind {
	case KindText, KindNumber, KindName, KindPhone, KindEmail:
	case KindChoice:
		if len(q.Choices) == 0 {
			return fmt.Errorf("choice question %q has no choices", q.Field)
		}
		for i, c := range q.Choices {
			q.Choices[i] = catalog.Normalize(c)
		}
	default:
		return fmt.Errorf("question %q has unknown kind %q", q.Field, q.Kind)
	}
	return nil
}

// CheckTopics verifies that every topic-keyed question set names a catalog
// service.
func (f *Flow) CheckTopics(c *catalog.Catalog) error {
	var unknown []string
	for i := range f.Stages {
		for topic := range f.Stages[i].Questions {
			if topic != DefaultKey && !c.IsServiceKey(topic) {
				unknown = append(unknown, f.Stages[i].ID+"."+topic)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("question sets for unknown services: %s", strings.Join(unknown, ", "))
	}
	return nil
}
