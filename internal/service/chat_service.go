package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teslaelectricidad/teslabot/internal/dialogue"
	"github.com/teslaelectricidad/teslabot/internal/domain"
	apperrors "github.com/teslaelectricidad/teslabot/internal/errors"
	"github.com/teslaelectricidad/teslabot/internal/metrics"
	"github.com/teslaelectricidad/teslabot/internal/validation"
)

// Session fields that map onto the contact submission itself.
var contactFields = []string{"nombre", "telefono", "email", "servicio"}

// ChatReply is one assistant turn returned to the widget.
type ChatReply struct {
	SessionID    string                `json:"session_id"`
	Text         string                `json:"text"`
	QuickReplies []dialogue.QuickReply `json:"quick_replies,omitempty"`
	Stage        string                `json:"stage"`
	Topic        string                `json:"topic,omitempty"`
	Fallback     bool                  `json:"fallback,omitempty"`
	LeadID       string                `json:"lead_id,omitempty"`
	FallbackURL  string                `json:"fallback_url,omitempty"`
}

// ChatService runs assistant conversations and submits the contact data
// they collect.
type ChatService struct {
	engine   *dialogue.Engine
	store    *dialogue.Store
	contacts *ContactService
	metrics  *metrics.Metrics
	events   *metrics.BusinessEventLogger
	logger   *zap.Logger
}

// NewChatService creates a ChatService.
func NewChatService(
	engine *dialogue.Engine,
	store *dialogue.Store,
	contacts *ContactService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ChatService {
	return &ChatService{
		engine:   engine,
		store:    store,
		contacts: contacts,
		metrics:  m,
		events:   metrics.NewBusinessEventLogger(logger),
		logger:   logger,
	}
}

// Start opens a new conversation and returns the welcome message.
func (s *ChatService) Start(ctx context.Context) (*ChatReply, error) {
	sess := s.engine.NewSession(uuid.NewString())
	reply := s.engine.Open(sess)

	if err := s.store.Create(sess); err != nil {
		return nil, apperrors.WrapWithOp(err, "chat.Start")
	}

	if s.metrics != nil {
		s.metrics.RecordChatSessionCreated()
	}
	s.updateActive()
	s.events.ChatSessionStarted(ctx, sess.ID)

	return toChatReply(sess.ID, reply), nil
}

// Send handles one visitor message or quick-reply value.
func (s *ChatService) Send(ctx context.Context, sessionID, input string) (*ChatReply, error) {
	var (
		reply   dialogue.Reply
		retries int
	)
	sess, err := s.store.Update(sessionID, func(sess *dialogue.Session) error {
		retries = sess.Retries
		reply = s.engine.Advance(sess, input)
		return nil
	})
	if err != nil {
		return nil, apperrors.WrapWithOp(err, "chat.Send")
	}

	if s.metrics != nil {
		s.metrics.RecordChatTurn(reply.Stage, string(reply.Outcome))
	}
	if reply.Fallback {
		s.events.ChatFallback(ctx, sessionID, reply.Stage, retries+1)
	}

	out := toChatReply(sessionID, reply)
	if reply.Action == dialogue.ActionSubmitLead {
		s.submitLead(ctx, sess, out)
	}
	return out, nil
}

// submitLead registers the contact collected by sess. The submission runs
// outside the store lock; the lead id is written back afterwards.
func (s *ChatService) submitLead(ctx context.Context, sess *dialogue.Session, out *ChatReply) {
	sub := SubmissionFromSession(sess)
	result, err := s.contacts.Submit(ctx, sub, domain.LeadSourceChat)
	if err != nil {
		var verrs validation.ValidationErrors
		if errors.As(err, &verrs) {
			s.logger.Warn("chat collected an invalid contact",
				zap.String("session_id", sess.ID),
				zap.Error(err),
			)
		}
		link := s.contacts.FallbackURL(sub)
		out.FallbackURL = link
		out.Text = joinLines(out.Text,
			"No pudimos registrar su solicitud en este momento. Puede escribirnos por WhatsApp: "+link)
		return
	}

	out.LeadID = result.LeadID
	if _, err := s.store.Update(sess.ID, func(live *dialogue.Session) error {
		live.LeadID = result.LeadID
		return nil
	}); err != nil {
		if apperrors.IsNotFound(err) {
			s.logger.Debug("session ended before lead id was stored",
				zap.String("session_id", sess.ID),
				zap.String("lead_id", result.LeadID),
			)
			return
		}
		s.logger.Warn("failed to store lead id on session",
			zap.String("session_id", sess.ID),
			zap.String("lead_id", result.LeadID),
			zap.Error(err),
		)
	}
}

// End discards a conversation.
func (s *ChatService) End(sessionID string) error {
	if _, err := s.store.Get(sessionID); err != nil {
		return apperrors.WrapWithOp(err, "chat.End")
	}
	s.store.Delete(sessionID)
	s.updateActive()
	return nil
}

func (s *ChatService) updateActive() {
	if s.metrics != nil {
		s.metrics.SetActiveChatSessions(s.store.Len())
	}
}

// SubmissionFromSession builds a contact submission from the fields a chat
// collected. Details other than the contact data become the message.
func SubmissionFromSession(sess *dialogue.Session) domain.ContactSubmission {
	service := sess.Field("servicio")
	if service == "" {
		service = sess.Topic
	}

	var details []string
	for _, key := range sortedKeys(sess.Fields) {
		value := strings.TrimSpace(sess.Fields[key])
		if value == "" || slices.Contains(contactFields, key) {
			continue
		}
		details = append(details, fmt.Sprintf("%s: %s", key, value))
	}

	message := "Solicitud registrada por el asistente."
	if len(details) > 0 {
		message += " " + strings.Join(details, "; ") + "."
	}
	if utf8.RuneCountInString(message) > validation.MaxMessageLength {
		message = string([]rune(message)[:validation.MaxMessageLength])
	}

	return domain.ContactSubmission{
		Name:    sess.Field("nombre"),
		Phone:   sess.Field("telefono"),
		Email:   sess.Field("email"),
		Service: service,
		Message: message,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func toChatReply(sessionID string, r dialogue.Reply) *ChatReply {
	return &ChatReply{
		SessionID:    sessionID,
		Text:         r.Text,
		QuickReplies: r.QuickReplies,
		Stage:        r.Stage,
		Topic:        r.Topic,
		Fallback:     r.Fallback,
	}
}

func joinLines(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n\n")
}
