package api

// ChatMessage is one conversation turn as sent by the UI. Role is
// "user" or "model".
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatRequest struct {
	Messages  []ChatMessage `json:"messages"`
	APIKey    string        `json:"apiKey,omitempty"`
	Model     string        `json:"model,omitempty"`
	SessionID string        `json:"sessionId,omitempty"`
	Stream    bool          `json:"stream,omitempty"`
}

type ChatResponse struct {
	Reply     string `json:"reply"`
	SessionID string `json:"sessionId"`
}

// Streaming frame types. A stream is one ChatStreamStart, then any
// number of ChatStreamDelta frames, then one ChatStreamDone.

type ChatStreamStart struct {
	SessionID string `json:"sessionId"`
}

type ChatStreamDelta struct {
	Delta string `json:"delta"`
}

type ChatStreamDone struct {
	Done bool `json:"done"`
}

type ChatSession struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CreatedAt string `json:"createdAt"`
	UpdatedAt string `json:"updatedAt"`
}

type CreateSessionRequest struct {
	Title string `json:"title,omitempty"`
}

type RenameSessionRequest struct {
	Title string `json:"title"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}
