// Package llm wraps the chat providers behind one interface. A
// provider receives the full conversation and returns a single reply;
// streaming to the browser is chunked by the handler, not the
// provider.
package llm

import "context"

// Message is one conversation turn. Role is "user" or "model",
// matching the persisted history.
type Message struct {
	Role    string
	Content string
}

type Provider interface {
	// Generate produces a reply to the conversation. The returned
	// error carries a human-readable diagnostic assembled from
	// whatever structured error fields the provider responded with.
	Generate(ctx context.Context, messages []Message, apiKey string) (string, error)
}

// systemInstruction steers every provider toward the dashboard's
// house style.
const systemInstruction = "You are an assistant embedded in a container operations dashboard. " +
	"Answer questions about Docker containers, Kubernetes pods, images, logs, and resource usage. " +
	"Be concise and operationally focused. Format answers as Markdown and put commands or " +
	"configuration in fenced code blocks."
