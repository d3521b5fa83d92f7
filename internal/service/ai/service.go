package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"portfoliochat/internal/config"
	"portfoliochat/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ErrNotConfigured means no API key is available for the selected provider.
var ErrNotConfigured = errors.New("ai provider not configured")

// Fragment is one piece of a streamed reply. A fragment with Err set is the
// last one the stream produces.
type Fragment struct {
	Text string
	Err  error
}

// Streamer produces a reply to a transcript as a finite, non-restartable
// sequence of fragments. The channel is closed when the reply ends.
type Streamer interface {
	Stream(ctx context.Context, history []*models.Message) (<-chan Fragment, error)
}

// Service streams persona replies from the configured provider.
type Service struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	persona   string
	provider  string
	modelName string
}

// NewService builds the chat model for cfg.Assistant.Provider. persona becomes
// the system message of every request.
func NewService(ctx context.Context, cfg *config.Config, persona string) (*Service, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Assistant.Provider))
	if provider == "" {
		provider = "gemini"
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}
	if strings.TrimSpace(provCfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: %s api key missing", ErrNotConfigured, provider)
	}
	chatModel, err := newChatModel(ctx, provider, provCfg)
	if err != nil {
		return nil, err
	}

	svc := &Service{
		chatModel: chatModel,
		persona:   persona,
		provider:  provider,
		modelName: provCfg.Model,
	}
	var tools []tool.BaseTool
	if lookup := NewLookupTool(cfg.Assistant.Search); lookup != nil {
		tools = append(tools, lookup)
	}
	if len(tools) > 0 {
		svc.agent, err = react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}
	log.Printf("ai: using %s model %s (tools=%d)", provider, provCfg.Model, len(tools))
	return svc, nil
}

func newChatModel(ctx context.Context, provider string, provCfg config.ProviderConfig) (model.ToolCallingChatModel, error) {
	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  provCfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 2000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return chatModel, nil
}

// Stream starts a reply to history. The newest message is the turn being answered.
func (s *Service) Stream(ctx context.Context, history []*models.Message) (<-chan Fragment, error) {
	if len(history) == 0 {
		return nil, errors.New("history cannot be empty")
	}
	ctx = WithToolSession(ctx, history[len(history)-1].SessionID)
	messages := convertMessages(s.persona, history)

	var (
		reader *schema.StreamReader[*schema.Message]
		err    error
	)
	if s.agent != nil {
		reader, err = s.agent.Stream(ctx, messages)
	} else {
		reader, err = s.chatModel.Stream(ctx, messages)
	}
	if err != nil {
		return nil, fmt.Errorf("generate ai stream failed: %w", err)
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer reader.Close()
		for {
			chunk, err := reader.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				send(ctx, out, Fragment{Err: fmt.Errorf("receive ai stream: %w", err)})
				return
			}
			if chunk == nil || chunk.Content == "" {
				continue
			}
			if !send(ctx, out, Fragment{Text: chunk.Content}) {
				return
			}
		}
	}()
	return out, nil
}

func send(ctx context.Context, out chan<- Fragment, f Fragment) bool {
	select {
	case out <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

// adminPrefix marks turns the candidate wrote personally so the model keeps
// them apart from its own replies.
const adminPrefix = "[The candidate, writing personally] "

func convertMessages(persona string, history []*models.Message) []*schema.Message {
	messages := make([]*schema.Message, 0, len(history)+1)
	if persona != "" {
		messages = append(messages, schema.SystemMessage(persona))
	}
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			messages = append(messages, schema.UserMessage(msg.Content))
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		case models.RoleAdmin:
			messages = append(messages, schema.AssistantMessage(adminPrefix+msg.Content, nil))
		}
	}
	return messages
}

// Collect drains a reply started from s, handing each fragment to onChunk, and
// returns the concatenated text. If onChunk fails the stream is cancelled and
// its error returned. A reply cut short by ctx is reported as ctx's error.
func Collect(ctx context.Context, s Streamer, history []*models.Message, onChunk func(string) error) (string, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	fragments, err := s.Stream(streamCtx, history)
	if err != nil {
		return "", err
	}
	var (
		builder strings.Builder
		cbErr   error
		fragErr error
	)
	for f := range fragments {
		if cbErr != nil || fragErr != nil {
			continue
		}
		if f.Err != nil {
			fragErr = f.Err
			continue
		}
		builder.WriteString(f.Text)
		if onChunk != nil {
			if err := onChunk(f.Text); err != nil {
				cbErr = err
				cancel()
			}
		}
	}
	switch {
	case cbErr != nil:
		return "", cbErr
	case fragErr != nil:
		return "", fragErr
	case ctx.Err() != nil:
		return "", ctx.Err()
	}
	return builder.String(), nil
}

// Disabled stands in when no provider is configured; every reply fails with
// ErrNotConfigured so chat keeps working without the assistant.
type Disabled struct{}

func (Disabled) Stream(context.Context, []*models.Message) (<-chan Fragment, error) {
	return nil, ErrNotConfigured
}
