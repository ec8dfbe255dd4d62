package usecase

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mkotova/lifeline/internal/core/domain"
	"github.com/mkotova/lifeline/internal/core/ports"
)

const chatSeedAcknowledgment = "I understand. I'm ready to answer questions about this palm reading. What would you like to know?"

const chatSystemPromptTemplate = `You are an expert palm reader assistant. You have just analyzed a %s palm (%s hand) and provided this reading:

%s

The user can now ask you questions about their palm reading. Answer their questions based on:
1. The palm image you can see
2. The reading analysis you provided
3. Your knowledge of palmistry and palm reading

Be friendly, insightful, and provide detailed explanations. If asked about specific aspects not visible in the image or not covered in the reading, acknowledge this and provide general palmistry knowledge that might be relevant.`

var suggestedQuestions = []string{
	"What does my life line tell you about my future?",
	"Can you tell me more about my relationships based on my heart line?",
	"What career path is suggested by my palm?",
	"How do my fingers reveal my personality?",
	"What do the mounts on my palm indicate?",
	"Can you see any special markings or symbols?",
}

// SuggestedQuestions returns the fixed example prompts. It never depends on
// session state and performs no I/O.
func SuggestedQuestions() []string {
	out := make([]string, len(suggestedQuestions))
	copy(out, suggestedQuestions)
	return out
}

// ChatSession is a stateful multi-turn conversation anchored to one reading
// and its source image. Sessions initialize lazily: the first SendMessage
// builds the seed context if Initialize was never called.
type ChatSession struct {
	mu sync.Mutex

	reading  domain.Reading
	images   ports.ImageStore
	model    ports.ChatModel
	maxTurns int

	seed    []domain.ChatTurn
	history []domain.ChatTurn
}

func NewChatSession(reading domain.Reading, images ports.ImageStore, model ports.ChatModel, maxTurns int) *ChatSession {
	if maxTurns <= 0 {
		maxTurns = 64
	}
	return &ChatSession{
		reading:  reading,
		images:   images,
		model:    model,
		maxTurns: maxTurns,
	}
}

// Initialize loads the source image and builds the seed history: the system
// context with the full rendered reading, the image, and the canned model
// acknowledgment. Safe to call more than once.
func (s *ChatSession) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initializeLocked(ctx)
}

func (s *ChatSession) initializeLocked(ctx context.Context) error {
	if s.seed != nil {
		return nil
	}

	image, err := loadChatImage(ctx, s.images, s.reading.ImageURI)
	if err != nil {
		return err
	}

	dominance := "non-dominant"
	if s.reading.IsDominant {
		dominance = "dominant"
	}
	systemPrompt := fmt.Sprintf(chatSystemPromptTemplate, s.reading.HandSide, dominance, s.reading.RenderSummary())

	s.seed = []domain.ChatTurn{
		{Role: domain.ChatRoleUser, Text: systemPrompt, Image: &image},
		{Role: domain.ChatRoleModel, Text: chatSeedAcknowledgment},
	}
	return nil
}

// SendMessage appends the user's message to the accumulated history, asks the
// model, and records both turns. A failed model call leaves the transcript
// untouched so the caller can retry without a phantom turn.
func (s *ChatSession) SendMessage(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.initializeLocked(ctx); err != nil {
		return "", err
	}

	turns := make([]domain.ChatTurn, 0, len(s.seed)+len(s.history)+1)
	turns = append(turns, s.seed...)
	turns = append(turns, s.history...)
	turns = append(turns, domain.ChatTurn{Role: domain.ChatRoleUser, Text: message})

	reply, err := s.model.Reply(ctx, turns)
	if err != nil {
		return "", fmt.Errorf("chat reply: %w", err)
	}

	s.history = append(s.history,
		domain.ChatTurn{Role: domain.ChatRoleUser, Text: message},
		domain.ChatTurn{Role: domain.ChatRoleModel, Text: reply},
	)
	// Bound the accumulated context: drop the oldest non-seed turns. The seed
	// is never evicted.
	if max := s.maxTurns * 2; len(s.history) > max {
		s.history = append(s.history[:0:0], s.history[len(s.history)-max:]...)
	}
	return reply, nil
}

// History returns a copy of the non-seed transcript.
func (s *ChatSession) History() []domain.ChatTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ChatTurn, len(s.history))
	copy(out, s.history)
	return out
}

func loadChatImage(ctx context.Context, images ports.ImageStore, imageURI string) (domain.ImagePayload, error) {
	rc, err := images.Open(ctx, imageURI)
	if err != nil {
		return domain.ImagePayload{}, domain.WrapError(domain.ErrStorage, "open chat image", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxImageBytes))
	if err != nil {
		return domain.ImagePayload{}, domain.WrapError(domain.ErrStorage, "read chat image", err)
	}
	return domain.ImagePayload{Data: data, MIMEType: sniffImageMIME(data)}, nil
}

// ChatManager caches one live session per reading so consecutive HTTP turns
// share conversational context.
type ChatManager struct {
	mu       sync.Mutex
	sessions map[string]*ChatSession

	readings ports.ReadingRepository
	images   ports.ImageStore
	model    ports.ChatModel
	maxTurns int
}

func NewChatManager(readings ports.ReadingRepository, images ports.ImageStore, model ports.ChatModel, maxTurns int) *ChatManager {
	return &ChatManager{
		sessions: make(map[string]*ChatSession),
		readings: readings,
		images:   images,
		model:    model,
		maxTurns: maxTurns,
	}
}

// SendMessage routes a turn to the reading's session, creating it on first use.
func (m *ChatManager) SendMessage(ctx context.Context, readingID, message string) (string, error) {
	session, err := m.session(ctx, readingID)
	if err != nil {
		return "", err
	}
	return session.SendMessage(ctx, message)
}

// Evict drops a cached session, e.g. after its reading was deleted.
func (m *ChatManager) Evict(readingID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, readingID)
}

func (m *ChatManager) session(ctx context.Context, readingID string) (*ChatSession, error) {
	m.mu.Lock()
	if session, ok := m.sessions[readingID]; ok {
		m.mu.Unlock()
		return session, nil
	}
	m.mu.Unlock()

	// Load outside the lock; repository lookups may be slow.
	reading, err := m.readings.Get(ctx, readingID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[readingID]; ok {
		return session, nil
	}
	session := NewChatSession(reading, m.images, m.model, m.maxTurns)
	m.sessions[readingID] = session
	return session, nil
}
