// Package dialogue implements the website assistant: a finite-state
// conversation graph loaded from YAML, an engine that advances an explicitly
// passed session one input at a time, and an in-memory session store.
package dialogue

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/teslaelectricidad/teslabot/internal/catalog"
	"github.com/teslaelectricidad/teslabot/internal/clock"
	"github.com/teslaelectricidad/teslabot/internal/validation"
)

// Selection controls how a response with several candidates is chosen.
type Selection string

const (
	SelectFirst  Selection = "first"
	SelectRandom Selection = "random"
)

// Outcome classifies how the engine handled one input.
type Outcome string

const (
	OutcomeRecognized   Outcome = "recognized"
	OutcomeAcknowledged Outcome = "acknowledged"
	OutcomeReprompt     Outcome = "reprompt"
	OutcomeFallback     Outcome = "fallback"
)

const maxTextAnswer = 200

// Options configures an Engine.
type Options struct {
	Selection Selection
	// Seed makes random selection reproducible; zero picks a random seed.
	Seed         uint64
	MaxRetries   int
	EmptyMarker  string
	Location     *time.Location
	HistoryLimit int
	// Extras are template values available to every response, such as
	// whatsapp_link.
	Extras map[string]string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Selection:    SelectRandom,
		MaxRetries:   3,
		EmptyMarker:  "(no especificado)",
		Location:     time.UTC,
		HistoryLimit: 50,
	}
}

// Reply is the result of one engine step.
type Reply struct {
	Text         string
	QuickReplies []QuickReply
	Stage        string
	Topic        string
	Outcome      Outcome
	// Fallback is set when the retry limit handed the visitor to a human.
	Fallback bool
	// Action is set when the completed stage requests a side effect.
	Action string
}

// Engine advances conversations through a Flow. It is safe for concurrent
// use; sessions are not, and must be owned by one caller at a time.
type Engine struct {
	flow    *Flow
	catalog *catalog.Catalog
	opts    Options
	clock   clock.Clock
	logger  *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine creates an engine over flow and the service catalog.
func NewEngine(flow *Flow, cat *catalog.Catalog, opts Options, clk clock.Clock, logger *zap.Logger) (*Engine, error) {
	if flow == nil || cat == nil {
		return nil, fmt.Errorf("dialogue: flow and catalog are required")
	}
	if err := flow.CheckTopics(cat); err != nil {
		return nil, err
	}

	defaults := DefaultOptions()
	switch opts.Selection {
	case "":
		opts.Selection = defaults.Selection
	case SelectFirst, SelectRandom:
	default:
		return nil, fmt.Errorf("dialogue: unknown selection %q", opts.Selection)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.EmptyMarker == "" {
		opts.EmptyMarker = defaults.EmptyMarker
	}
	if opts.Location == nil {
		opts.Location = defaults.Location
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		flow:    flow,
		catalog: cat,
		opts:    opts,
		clock:   clk,
		logger:  logger,
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Flow returns the conversation graph.
func (e *Engine) Flow() *Flow {
	return e.flow
}

// NewSession creates a session at the start stage.
func (e *Engine) NewSession(id string) *Session {
	return NewSession(id, e.flow.Start, e.clock.Now())
}

// Open produces the welcome message for a freshly opened widget.
func (e *Engine) Open(s *Session) Reply {
	now := e.clock.Now()
	e.enter(s, e.flow.Start)
	start, _ := e.flow.Stage(e.flow.Start)

	text := e.render(s, e.choose(e.flow.Welcome, ""), map[string]string{
		"saludo": Salutation(now.In(e.opts.Location)),
	})
	s.record(RoleAssistant, text, now, e.opts.HistoryLimit)
	s.UpdatedAt = now

	return Reply{
		Text:         text,
		QuickReplies: start.QuickReplies,
		Stage:        s.Stage,
		Outcome:      OutcomeRecognized,
	}
}

// Advance handles one visitor input, typed or selected from quick replies,
// and moves the session along the graph.
func (e *Engine) Advance(s *Session, input string) Reply {
	now := e.clock.Now()
	if s.Fields == nil {
		s.Fields = make(map[string]string)
	}
	s.record(RoleUser, input, now, e.opts.HistoryLimit)

	from := s.Stage
	reply := e.step(s, input, false)
	reply.Stage = s.Stage
	reply.Topic = s.Topic

	s.record(RoleAssistant, reply.Text, now, e.opts.HistoryLimit)
	s.UpdatedAt = now

	e.logger.Debug("dialogue advanced",
		zap.String("session_id", s.ID),
		zap.String("from", from),
		zap.String("to", s.Stage),
		zap.String("outcome", string(reply.Outcome)),
		zap.Int("retries", s.Retries),
	)
	return reply
}

func (e *Engine) step(s *Session, input string, forwarded bool) Reply {
	stage, ok := e.flow.Stage(s.Stage)
	if !ok {
		e.logger.Warn("session in unknown stage, restarting",
			zap.String("session_id", s.ID),
			zap.String("stage", s.Stage),
		)
		e.enter(s, e.flow.Start)
		stage, _ = e.flow.Stage(e.flow.Start)
	}

	if stage.Passthrough && !forwarded {
		e.enter(s, stage.Next)
		return e.step(s, input, true)
	}
	if stage.Collects() {
		return e.collect(s, stage, input)
	}
	return e.respond(s, stage, input)
}

func (e *Engine) respond(s *Session, stage *Stage, input string) Reply {
	value, topic, matched := e.match(stage, input)
	if !matched && stage.RequireMatch {
		return e.unrecognized(s, stage)
	}

	if topic != "" {
		s.Topic = topic
		s.Fields["servicio"] = topic
	}

	if matched && topic == "" && !stage.Acknowledge.IsZero() {
		s.Retries = 0
		return Reply{
			Text:         e.render(s, e.choose(stage.Acknowledge, value)),
			QuickReplies: stage.QuickReplies,
			Outcome:      OutcomeAcknowledged,
		}
	}

	text := e.render(s, e.choose(stage.Response, value))
	next := stage.Next
	if target, ok := stage.Routes[value]; ok {
		next = target
	}
	return e.transition(s, next, text, stage.Action, OutcomeRecognized)
}

func (e *Engine) collect(s *Session, stage *Stage, input string) Reply {
	q := pendingQuestion(s, stage)
	if q == nil {
		return e.complete(s, stage)
	}

	value, ok := parseAnswer(q, input)
	if !ok {
		return e.unrecognized(s, stage)
	}
	s.Fields[q.Field] = value
	s.Retries = 0

	if next := pendingQuestion(s, stage); next != nil {
		return Reply{
			Text:         e.render(s, next.Prompt),
			QuickReplies: questionReplies(next),
			Outcome:      OutcomeRecognized,
		}
	}
	return e.complete(s, stage)
}

func (e *Engine) complete(s *Session, stage *Stage) Reply {
	text := e.render(s, e.choose(stage.Response, s.Topic))
	return e.transition(s, stage.Next, text, stage.Action, OutcomeRecognized)
}

func (e *Engine) unrecognized(s *Session, stage *Stage) Reply {
	s.Retries++
	if s.Retries >= e.opts.MaxRetries {
		e.logger.Info("retry limit reached, offering human contact",
			zap.String("session_id", s.ID),
			zap.String("stage", stage.ID),
			zap.Int("retries", s.Retries),
		)
		text := e.render(s, e.choose(e.flow.Handoff, ""))
		reply := e.transition(s, e.flow.Fallback, text, "", OutcomeFallback)
		reply.Fallback = true
		return reply
	}

	prompt, replies := e.entry(s, stage)
	if stage.Collects() {
		if q := pendingQuestion(s, stage); q != nil && q.Hint != "" {
			prompt = joinText(q.Hint, prompt)
		}
	}
	return Reply{Text: prompt, QuickReplies: replies, Outcome: OutcomeReprompt}
}

func (e *Engine) transition(s *Session, next, text, action string, outcome Outcome) Reply {
	e.enter(s, next)
	target, _ := e.flow.Stage(next)
	prompt, replies := e.entry(s, target)
	return Reply{
		Text:         joinText(text, prompt),
		QuickReplies: replies,
		Outcome:      outcome,
		Action:       action,
	}
}

func (e *Engine) enter(s *Session, id string) {
	s.Stage = id
	s.Retries = 0
	if id == e.flow.Start {
		s.resetInquiry()
	}
}

// entry returns the question and quick replies presented by a stage.
func (e *Engine) entry(s *Session, stage *Stage) (string, []QuickReply) {
	if stage.Collects() {
		q := pendingQuestion(s, stage)
		if q == nil {
			return "", nil
		}
		return e.render(s, q.Prompt), questionReplies(q)
	}
	replies := stage.QuickReplies
	if stage.Passthrough && len(replies) == 0 {
		replies = e.forwardedReplies(stage)
	}
	return e.render(s, e.choose(stage.Prompt, s.Topic)), replies
}

// forwardedReplies returns the quick replies of the stage a passthrough
// chain hands its input to.
func (e *Engine) forwardedReplies(stage *Stage) []QuickReply {
	for range e.flow.Stages {
		next, ok := e.flow.Stage(stage.Next)
		if !ok {
			return nil
		}
		if !next.Passthrough || len(next.QuickReplies) > 0 {
			if next.Collects() {
				return nil
			}
			return next.QuickReplies
		}
		stage = next
	}
	return nil
}

func (e *Engine) match(stage *Stage, input string) (value, topic string, ok bool) {
	text := catalog.Normalize(input)
	if text == "" {
		return "", "", false
	}
	if stage.DetectTopic {
		if t, found := e.catalog.DetectTopic(text); found {
			return t, t, true
		}
	}
	for _, trigger := range stage.Triggers {
		if containsPhrase(text, trigger) {
			return trigger, "", true
		}
	}
	for _, alias := range stage.aliasOrder {
		if containsPhrase(text, alias) {
			return stage.Aliases[alias], "", true
		}
	}
	return "", "", false
}

// choose resolves response content for key: keyed responses look up key and
// then the default entry, candidate lists use the configured selection.
func (e *Engine) choose(r Response, key string) string {
	switch {
	case len(r.Keyed) > 0:
		if v, ok := r.Keyed[key]; ok {
			return v
		}
		return r.Keyed[DefaultKey]
	case len(r.Candidates) > 0:
		return e.pick(r.Candidates)
	default:
		return r.Text
	}
}

func (e *Engine) pick(candidates []string) string {
	if e.opts.Selection == SelectFirst || len(candidates) == 1 {
		return candidates[0]
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return candidates[e.rng.IntN(len(candidates))]
}

func (e *Engine) render(s *Session, text string, extra ...map[string]string) string {
	if text == "" {
		return ""
	}
	sources := []map[string]string{s.Fields, e.catalog.Estimate(s.Topic, s.Fields), e.opts.Extras}
	sources = append(sources, extra...)
	return Fill(text, e.opts.EmptyMarker, sources...)
}

func pendingQuestion(s *Session, stage *Stage) *Question {
	qs := stage.QuestionsFor(s.Topic)
	for i := range qs {
		if _, answered := s.Fields[qs[i].Field]; !answered {
			return &qs[i]
		}
	}
	return nil
}

func questionReplies(q *Question) []QuickReply {
	if q.Kind != KindChoice {
		return nil
	}
	title := cases.Title(language.Spanish)
	replies := make([]QuickReply, len(q.Choices))
	for i, c := range q.Choices {
		replies[i] = QuickReply{Label: title.String(c), Value: c}
	}
	return replies
}

var numberRegex = regexp.MustCompile(`\d+`)

var skipAnswers = []string{"omitir", "ninguno", "no tengo", "no"}

// parseAnswer validates input against the question kind and returns the
// value to store.
func parseAnswer(q *Question, input string) (string, bool) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return "", false
	}

	switch q.Kind {
	case KindNumber:
		n, err := strconv.Atoi(numberRegex.FindString(raw))
		if err != nil || n <= 0 || n > catalog.MaxQuantity {
			return "", false
		}
		return strconv.Itoa(n), true

	case KindChoice:
		text := catalog.Normalize(raw)
		if n, err := strconv.Atoi(text); err == nil && n >= 1 && n <= len(q.Choices) {
			return q.Choices[n-1], true
		}
		for _, c := range q.Choices {
			if containsPhrase(text, c) {
				return c, true
			}
		}
		return "", false

	case KindName:
		if !validation.IsValidName(raw) || utf8.RuneCountInString(raw) > validation.MaxNameLength {
			return "", false
		}
		return raw, true

	case KindPhone:
		phone := strings.TrimPrefix(validation.CleanPhone(raw), "+")
		if !validation.IsValidPhone(phone) {
			return "", false
		}
		return phone, true

	case KindEmail:
		if q.Optional {
			text := catalog.Normalize(raw)
			for _, skip := range skipAnswers {
				if text == skip {
					return "", true
				}
			}
		}
		if !validation.IsValidEmail(raw) || len(raw) > validation.MaxEmailLength {
			return "", false
		}
		return raw, true

	default:
		if utf8.RuneCountInString(raw) > maxTextAnswer {
			raw = string([]rune(raw)[:maxTextAnswer])
		}
		return raw, true
	}
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], phrase)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(phrase)
		if isBoundary(text, start-1) && isBoundary(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isBoundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	b := text[i]
	return !(b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z'))
}

func joinText(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// Salutation returns the Spanish greeting for the local time of day.
func Salutation(t time.Time) string {
	switch h := t.Hour(); {
	case h < 6:
		return "Buenas noches"
	case h < 12:
		return "Buenos días"
	case h < 19:
		return "Buenas tardes"
	default:
		return "Buenas noches"
	}
}
