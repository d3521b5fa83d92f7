// Package assistant runs conversation turns: it stores what visitors and the
// admin write, and decides and produces the AI reply to each visitor message.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"portfoliochat/internal/handoff"
	"portfoliochat/internal/models"
	"portfoliochat/internal/service/ai"
	"portfoliochat/internal/transcript"
	"portfoliochat/internal/worker"
)

var (
	// ErrEmptyReply means the model finished without producing any text.
	ErrEmptyReply = errors.New("assistant produced an empty reply")
	// ErrGeneration wraps any failure of the generation capability.
	ErrGeneration = errors.New("generation failed")
)

const notifyTimeout = 10 * time.Second

// Notifier pages the admin.
type Notifier interface {
	Notify(ctx context.Context, visitorName, sessionID string) bool
}

type Options struct {
	HistoryLimit      int
	Keywords          []string
	Greeting          string
	GenerationTimeout time.Duration
}

type Service struct {
	store      *transcript.Store
	streamer   ai.Streamer
	notifier   Notifier
	dispatcher *worker.Dispatcher

	historyLimit      int
	keywords          []string
	greeting          string
	generationTimeout time.Duration

	pending sync.WaitGroup
}

func NewService(store *transcript.Store, streamer ai.Streamer, notifier Notifier, dispatcher *worker.Dispatcher, opts Options) *Service {
	if streamer == nil {
		streamer = ai.Disabled{}
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = transcript.DefaultHistoryLimit
	}
	keywords := make([]string, 0, len(opts.Keywords))
	for _, k := range opts.Keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Service{
		store:             store,
		streamer:          streamer,
		notifier:          notifier,
		dispatcher:        dispatcher,
		historyLimit:      limit,
		keywords:          keywords,
		greeting:          strings.TrimSpace(opts.Greeting),
		generationTimeout: opts.GenerationTimeout,
	}
}

// Greeting is shown to a visitor whose conversation is still empty. It is
// never stored.
func (s *Service) Greeting() string {
	return s.greeting
}

// History returns the newest limit messages, oldest first. A non-positive
// limit uses the configured window.
func (s *Service) History(ctx context.Context, sessionID string, limit int) []*models.Message {
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.store.LoadHistory(ctx, sessionID, limit)
}

func (s *Service) Conversation(ctx context.Context, sessionID string) (*models.Conversation, error) {
	return s.store.GetConversationMeta(ctx, sessionID)
}

func (s *Service) RecentConversations(ctx context.Context, maxN int) ([]models.Conversation, error) {
	return s.store.ListRecentConversations(ctx, maxN)
}

// PostVisitorMessage stores a visitor message. A message that mentions one of
// the contact keywords pages the admin in the background, once per conversation.
func (s *Service) PostVisitorMessage(ctx context.Context, sessionID, content string) (*models.Message, error) {
	msg, err := s.store.AppendMessage(ctx, sessionID, models.RoleUser, content)
	if err != nil {
		return nil, err
	}
	if s.wantsContact(content) {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			s.pageOnce(ctx, sessionID)
		}()
	}
	return msg, nil
}

func (s *Service) wantsContact(content string) bool {
	lower := strings.ToLower(content)
	for _, k := range s.keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func (s *Service) pageOnce(ctx context.Context, sessionID string) {
	if s.notifier == nil {
		return
	}
	first, err := s.store.MarkContactNotified(ctx, sessionID)
	if err != nil {
		log.Printf("assistant: mark contact for %s: %v", sessionID, err)
		return
	}
	if !first {
		return
	}
	s.notifier.Notify(ctx, "", sessionID)
}

// RequestContact pages the admin on the visitor's explicit request and
// reports whether the page was delivered.
func (s *Service) RequestContact(ctx context.Context, sessionID, visitorName string) bool {
	if s.notifier == nil {
		return false
	}
	if _, err := s.store.MarkContactNotified(ctx, sessionID); err != nil {
		log.Printf("assistant: mark contact for %s: %v", sessionID, err)
	}
	return s.notifier.Notify(ctx, visitorName, sessionID)
}

// Reply answers the newest turn of the conversation when the handoff rule
// allows it. onChunk receives the reply as it is generated. When the rule
// declines, Reply returns a nil message and the decision. The reply is stored
// only once it is complete; a failed or abandoned generation stores nothing.
func (s *Service) Reply(ctx context.Context, sessionID string, onChunk func(string) error) (*models.Message, handoff.Decision, error) {
	conv, err := s.store.GetConversationMeta(ctx, sessionID)
	if err != nil && !errors.Is(err, transcript.ErrNotFound) {
		return nil, handoff.Decision{}, err
	}
	last, err := s.store.LastMessage(ctx, sessionID)
	if err != nil && !errors.Is(err, transcript.ErrNotFound) {
		return nil, handoff.Decision{}, err
	}
	decision := handoff.Decide(conv, last)
	if !decision.Respond {
		return nil, decision, nil
	}

	history := s.store.LoadHistory(ctx, sessionID, s.historyLimit)
	if len(history) == 0 {
		return nil, decision, fmt.Errorf("%w: history unavailable", ErrGeneration)
	}

	genCtx := ctx
	if s.generationTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.generationTimeout)
		defer cancel()
	}

	var (
		reply  string
		genErr error
		ran    bool
	)
	generate := func(jobCtx context.Context) {
		ran = true
		reply, genErr = ai.Collect(jobCtx, s.streamer, history, onChunk)
	}
	if s.dispatcher != nil {
		if err := s.dispatcher.Do(genCtx, sessionID, generate); err != nil {
			return nil, decision, err
		}
	} else {
		generate(genCtx)
	}
	if !ran {
		if err := genCtx.Err(); err != nil {
			return nil, decision, err
		}
		return nil, decision, worker.ErrDispatcherClosed
	}
	if genErr != nil {
		return nil, decision, fmt.Errorf("%w: %w", ErrGeneration, genErr)
	}
	if strings.TrimSpace(reply) == "" {
		return nil, decision, ErrEmptyReply
	}

	msg, err := s.store.AppendMessage(ctx, sessionID, models.RoleAssistant, reply)
	if err != nil {
		return nil, decision, err
	}
	return msg, decision, nil
}

// PostAdminMessage stores a message the admin wrote into the conversation. The
// conversation moves to HUMAN_OVERRIDE with it.
func (s *Service) PostAdminMessage(ctx context.Context, sessionID, content string) (*models.Message, error) {
	return s.store.AppendMessage(ctx, sessionID, models.RoleAdmin, content)
}

// SetAIActive sets the handoff state; it stores no message.
func (s *Service) SetAIActive(ctx context.Context, sessionID string, active bool) (handoff.State, error) {
	if err := s.store.SetAIActive(ctx, sessionID, active); err != nil {
		return "", err
	}
	return handoff.StateOf(active), nil
}

// ToggleAI flips the handoff state of an existing conversation and returns the
// new state.
func (s *Service) ToggleAI(ctx context.Context, sessionID string) (handoff.State, error) {
	conv, err := s.store.GetConversationMeta(ctx, sessionID)
	if err != nil {
		return "", err
	}
	next := handoff.StateOf(conv.AIActive).Toggle()
	if err := s.store.SetAIActive(ctx, sessionID, next.Flag()); err != nil {
		return "", err
	}
	return next, nil
}

// Wait blocks until background pages have finished.
func (s *Service) Wait() {
	s.pending.Wait()
}
