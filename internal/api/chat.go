package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"dockwatch/internal/chatstore"
	"dockwatch/internal/llm"
	"dockwatch/internal/ratelimit"
	"dockwatch/pkg/api"
)

const (
	maxMessages     = 64
	maxMessageChars = 8000
	maxTotalChars   = 64000

	// Streamed replies are chunked into fragments of roughly this
	// many runes.
	streamChunkRunes = 48

	createSessionCapacity = 30
)

var apiKeyShape = regexp.MustCompile(`^[A-Za-z0-9._-]{20,}$`)

type ChatConfig struct {
	GeminiAPIKey      string
	OpenAIAPIKey      string
	Models            []string
	DefaultModel      string
	RateLimitEnabled  bool
	RequestsPerMinute int
}

type ChatService struct {
	store   *chatstore.Store
	limiter *ratelimit.Limiter
	cfg     ChatConfig

	// newProvider is swapped out in tests.
	newProvider func(model string) llm.Provider
}

func NewChatService(store *chatstore.Store, limiter *ratelimit.Limiter, cfg ChatConfig) *ChatService {
	return &ChatService{
		store:       store,
		limiter:     limiter,
		cfg:         cfg,
		newProvider: defaultProvider,
	}
}

func defaultProvider(model string) llm.Provider {
	if isOpenAIModel(model) {
		return llm.NewOpenAI(model)
	}
	return llm.NewGemini(model)
}

func isOpenAIModel(model string) bool {
	return strings.HasPrefix(model, "gpt")
}

func (s *ChatService) AddRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/", s.Chat)
		r.Get("/sessions", RestHandler(s.ListSessions))
		r.Post("/sessions", RestHandler(s.CreateSession))
		r.Get("/sessions/{session_id}", RestHandler(s.GetSessionMessages))
		r.Patch("/sessions/{session_id}", RestHandler(s.RenameSession))
		r.Delete("/sessions/{session_id}", RestHandler(s.DeleteSession))
		r.Get("/history", RestHandler(s.GetHistory))
		r.Delete("/history", RestHandler(s.ClearHistory))
	})
}

// chatTurn carries one validated chat request through the pipeline.
type chatTurn struct {
	provider llm.Provider
	model    string
	apiKey   string
	history  []llm.Message
	lastUser string
	session  string // empty until ensureSession
}

// prepareTurn runs everything that happens before the provider call:
// schema validation, rate limiting, and credential resolution, in that
// order. Rate-limited and misconfigured requests never reach the
// provider.
func (s *ChatService) prepareTurn(r *http.Request, req api.ChatRequest) (*chatTurn, error) {
	if len(req.Messages) == 0 {
		return nil, CodedErrorf(http.StatusBadRequest, "messages must not be empty")
	}
	if len(req.Messages) > maxMessages {
		return nil, CodedErrorf(http.StatusBadRequest, "too many messages: %d (max %d)", len(req.Messages), maxMessages)
	}
	total := 0
	for _, msg := range req.Messages {
		if msg.Role != "user" && msg.Role != "model" {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid message role %q", msg.Role)
		}
		if len(msg.Content) > maxMessageChars {
			return nil, CodedErrorf(http.StatusBadRequest, "message exceeds %d characters", maxMessageChars)
		}
		total += len(msg.Content)
	}
	if total > maxTotalChars {
		return nil, CodedErrorf(http.StatusBadRequest, "conversation exceeds %d characters", maxTotalChars)
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return nil, CodedErrorf(http.StatusBadRequest, "last message must be from the user")
	}

	if req.SessionID != "" {
		if _, err := uuid.Parse(req.SessionID); err != nil {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid session id %q", req.SessionID)
		}
	}

	model := req.Model
	if !slices.Contains(s.cfg.Models, model) {
		model = s.cfg.DefaultModel
	}

	if s.cfg.RateLimitEnabled {
		key := ratelimit.ClientKey(r)
		if !s.limiter.Allow(key, s.cfg.RequestsPerMinute, time.Minute) {
			return nil, CodedErrorf(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}

	apiKey := req.APIKey
	if apiKey == "" {
		if isOpenAIModel(model) {
			apiKey = s.cfg.OpenAIAPIKey
		} else {
			apiKey = s.cfg.GeminiAPIKey
		}
	}
	if apiKey == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "missing API key: supply one in the request or configure a server default")
	}
	if !apiKeyShape.MatchString(apiKey) {
		return nil, CodedErrorf(http.StatusBadRequest, "API key has an invalid format")
	}

	history := make([]llm.Message, 0, len(req.Messages))
	for _, msg := range req.Messages {
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	return &chatTurn{
		provider: s.newProvider(model),
		model:    model,
		apiKey:   apiKey,
		history:  history,
		lastUser: last.Content,
		session:  req.SessionID,
	}, nil
}

func (s *ChatService) generate(ctx context.Context, turn *chatTurn) (string, error) {
	reply, err := turn.provider.Generate(ctx, turn.history, turn.apiKey)
	if err != nil {
		return "", CodedError(http.StatusBadGateway, err)
	}
	return llm.Polish(reply, turn.lastUser), nil
}

// ensureSession resolves the target session, creating one when the
// request did not name any.
func (s *ChatService) ensureSession(turn *chatTurn) error {
	if turn.session != "" {
		return nil
	}
	meta, err := s.store.CreateSession("New Chat")
	if err != nil {
		return err
	}
	turn.session = meta.ID
	return nil
}

// persistTurn appends the user message and the reply as one batch, in
// that order, each with its own server-assigned timestamp.
func (s *ChatService) persistTurn(turn *chatTurn, reply string) error {
	now := time.Now().UTC()
	err := s.store.Append(turn.session, []chatstore.Message{
		{Role: "user", Content: turn.lastUser, Timestamp: now.Format(chatstore.TimeLayout)},
		{Role: "model", Content: reply, Timestamp: now.Add(time.Millisecond).Format(chatstore.TimeLayout)},
	})
	if errors.Is(err, chatstore.ErrSessionNotFound) {
		return CodedError(http.StatusNotFound, err)
	}
	return err
}

func (s *ChatService) Chat(w http.ResponseWriter, r *http.Request) {
	req, err := ParseRequest[api.ChatRequest](r)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Stream {
		RestSSEHandler(func(r *http.Request) (StreamResponse, error) {
			return s.chatStream(r, req)
		})(w, r)
		return
	}

	RestHandler(func(r *http.Request) (any, error) {
		return s.chatBuffered(r, req)
	})(w, r)
}

func (s *ChatService) chatBuffered(r *http.Request, req api.ChatRequest) (any, error) {
	turn, err := s.prepareTurn(r, req)
	if err != nil {
		return nil, err
	}

	reply, err := s.generate(r.Context(), turn)
	if err != nil {
		return nil, err
	}

	if err := s.ensureSession(turn); err != nil {
		return nil, err
	}
	if err := s.persistTurn(turn, reply); err != nil {
		return nil, err
	}

	return api.ChatResponse{Reply: reply, SessionID: turn.session}, nil
}

// chatStream produces the SSE frame sequence: the session id, the
// reply in fragments, then a completion marker. Persistence runs in a
// detached goroutine so a client that disconnects mid-stream does not
// lose the turn.
func (s *ChatService) chatStream(r *http.Request, req api.ChatRequest) (StreamResponse, error) {
	turn, err := s.prepareTurn(r, req)
	if err != nil {
		return nil, err
	}

	reply, err := s.generate(r.Context(), turn)
	if err != nil {
		return nil, err
	}

	if err := s.ensureSession(turn); err != nil {
		return nil, err
	}

	go func() {
		if err := s.persistTurn(turn, reply); err != nil {
			slog.Error("failed to persist streamed chat turn", "session", turn.session, "error", err)
		}
	}()

	ctx := r.Context()
	return func(yield func(any) bool) {
		if !yield(api.ChatStreamStart{SessionID: turn.session}) {
			return
		}
		for _, chunk := range chunkReply(reply) {
			if ctx.Err() != nil {
				return
			}
			if !yield(api.ChatStreamDelta{Delta: chunk}) {
				return
			}
		}
		yield(api.ChatStreamDone{Done: true})
	}, nil
}

// chunkReply splits a reply into rune chunks whose concatenation is
// exactly the original string.
func chunkReply(text string) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += streamChunkRunes {
		end := min(start+streamChunkRunes, len(runes))
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

func (s *ChatService) ListSessions(r *http.Request) (any, error) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		return nil, err
	}

	resp := make([]api.ChatSession, 0, len(sessions))
	for _, session := range sessions {
		resp = append(resp, api.ChatSession{
			ID:        session.ID,
			Title:     session.Title,
			CreatedAt: session.CreatedAt,
			UpdatedAt: session.UpdatedAt,
		})
	}
	return resp, nil
}

func (s *ChatService) CreateSession(r *http.Request) (any, error) {
	if s.cfg.RateLimitEnabled {
		key := "createSession:" + ratelimit.ClientKey(r)
		if !s.limiter.Allow(key, createSessionCapacity, time.Minute) {
			return nil, CodedErrorf(http.StatusTooManyRequests, "rate limit exceeded")
		}
	}

	req, err := ParseRequest[api.CreateSessionRequest](r)
	if err != nil {
		return nil, err
	}
	title := req.Title
	if title == "" {
		title = "New Chat"
	}

	meta, err := s.store.CreateSession(title)
	if err != nil {
		return nil, err
	}
	return api.ChatSession{ID: meta.ID, Title: meta.Title, CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt}, nil
}

func (s *ChatService) GetSessionMessages(r *http.Request) (any, error) {
	sessionID, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}

	return s.store.SessionMessages(sessionID.String())
}

func (s *ChatService) RenameSession(r *http.Request) (any, error) {
	sessionID, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}
	req, err := ParseRequest[api.RenameSessionRequest](r)
	if err != nil {
		return nil, err
	}
	if req.Title == "" {
		return nil, CodedErrorf(http.StatusBadRequest, "title must not be empty")
	}

	if err := s.store.Rename(sessionID.String(), req.Title); err != nil {
		if errors.Is(err, chatstore.ErrSessionNotFound) {
			return nil, CodedError(http.StatusNotFound, err)
		}
		return nil, err
	}
	return api.SuccessResponse{Success: true}, nil
}

func (s *ChatService) DeleteSession(r *http.Request) (any, error) {
	sessionID, err := URLParamUUID(r, "session_id")
	if err != nil {
		return nil, err
	}

	if err := s.store.Delete(sessionID.String()); err != nil {
		return nil, err
	}
	return api.SuccessResponse{Success: true}, nil
}

func (s *ChatService) GetHistory(r *http.Request) (any, error) {
	return s.store.History()
}

func (s *ChatService) ClearHistory(r *http.Request) (any, error) {
	if err := s.store.Clear(); err != nil {
		return nil, fmt.Errorf("failed to clear chat history: %w", err)
	}
	return api.SuccessResponse{Success: true}, nil
}
