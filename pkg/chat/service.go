package chat

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/adk/tool"
	"google.golang.org/genai"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/llm"
)

const (
	appName   = "deep-research"
	agentName = "research_followup"
	userID    = "user"
)

// Service answers follow-up questions about a finished research job.
type Service struct {
	DB    *database.PostgresDB
	Model model.LLM
	// Titler names new conversations. Nil leaves them untitled.
	Titler   llm.Provider
	Store    KnowledgeStore
	Embedder embeddings.Embedder
}

type Conversation struct {
	ID            uuid.UUID `json:"id"`
	ResearchJobID uuid.UUID `json:"research_job_id"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Message struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// StreamEvent represents a single event in the chat stream
type StreamEvent struct {
	Type    string `json:"type"` // "content", "tool_call", "tool_result", "error", "done"
	Payload any    `json:"payload"`
}

// NewService builds the follow-up agent on the Gemini API. Chat requires a
// Google-backed thinking model.
func NewService(ctx context.Context, db *database.PostgresDB, cfg *config.Config, store KnowledgeStore, embedder embeddings.Embedder) (*Service, error) {
	apiKey := cfg.ThinkingModel.APIKey
	if apiKey == "" {
		apiKey = cfg.Knowledge.APIKey
	}
	clientCfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}

	titleSettings := cfg.TaskModel
	if titleSettings.Model == "" {
		titleSettings = cfg.ThinkingModel
	}
	titler, err := llm.New(ctx, titleSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to create title model: %w", err)
	}

	modelClient, err := gemini.NewModel(ctx, cfg.ThinkingModel.Model, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create model: %w", err)
	}

	return &Service{
		DB:       db,
		Model:    modelClient,
		Titler:   titler,
		Store:    store,
		Embedder: embedder,
	}, nil
}

func (s *Service) newAgent(job *database.Job) (agent.Agent, error) {
	var toolsets []tool.Toolset
	if s.Store != nil && s.Embedder != nil {
		toolsets = append(toolsets, NewRagToolset(s.Store, s.Embedder, job.ID.String()))
	}

	return llmagent.New(llmagent.Config{
		Name:        agentName,
		Model:       s.Model,
		Description: "Answers follow-up questions about a finished research report.",
		Instruction: instruction(job),
		Toolsets:    toolsets,
	})
}

func instruction(job *database.Job) string {
	var sb strings.Builder
	sb.WriteString("You are a research assistant answering follow-up questions about the research below. ")
	sb.WriteString("Use the search_content tool to look up supporting passages before answering, and cite the source URL of every passage you rely on. ")
	sb.WriteString("If the research does not cover the question, say so.\n\n")
	fmt.Fprintf(&sb, "Research query: %s\n", job.Query)
	if job.Report != nil {
		fmt.Fprintf(&sb, "\nFinal report:\n%s\n", *job.Report)
	}
	return sb.String()
}

func (s *Service) CreateConversation(ctx context.Context, jobID uuid.UUID) (*Conversation, error) {
	id := uuid.New()
	query := `INSERT INTO conversations (id, research_job_id) VALUES ($1, $2)
		RETURNING id, research_job_id, title, created_at, updated_at`

	conv := &Conversation{}
	err := s.DB.Pool.QueryRow(ctx, query, id, jobID).Scan(&conv.ID, &conv.ResearchJobID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *Service) ListConversations(ctx context.Context, jobID uuid.UUID) ([]Conversation, error) {
	query := `SELECT id, research_job_id, title, created_at, updated_at FROM conversations
		WHERE research_job_id = $1 ORDER BY updated_at DESC`
	rows, err := s.DB.Pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.ResearchJobID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

func (s *Service) GetHistory(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	query := `SELECT id, conversation_id, role, content, created_at FROM messages WHERE conversation_id = $1 ORDER BY created_at ASC`
	rows, err := s.DB.Pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Service) conversationJob(ctx context.Context, jobID, conversationID uuid.UUID) (*database.Job, error) {
	var owner uuid.UUID
	err := s.DB.Pool.QueryRow(ctx, `SELECT research_job_id FROM conversations WHERE id = $1`, conversationID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && owner != jobID) {
		return nil, fmt.Errorf("conversation %s of research %s: %w", conversationID, jobID, database.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return s.DB.GetJob(ctx, jobID)
}

func (s *Service) SendMessage(ctx context.Context, jobID, conversationID uuid.UUID, content string) (iter.Seq2[StreamEvent, error], error) {
	job, err := s.conversationJob(ctx, jobID, conversationID)
	if err != nil {
		return nil, err
	}

	userMsgID := uuid.New()
	_, err = s.DB.Pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, 'user', $3)`,
		userMsgID, conversationID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to save user message: %w", err)
	}

	sessionSvc := session.InMemoryService()
	sessionID := conversationID.String()

	createRes, err := sessionSvc.Create(ctx, &session.CreateRequest{
		AppName:   appName,
		UserID:    userID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	storedSession := createRes.Session

	history, err := s.GetHistory(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch history: %w", err)
	}

	for _, msg := range history {
		if msg.ID == userMsgID {
			continue
		}

		role, author := "user", "user"
		if msg.Role == "model" {
			role, author = "model", agentName
		}

		evt := session.NewEvent(uuid.NewString())
		evt.Author = author
		evt.LLMResponse = model.LLMResponse{
			Content: &genai.Content{
				Role:  role,
				Parts: []*genai.Part{{Text: msg.Content}},
			},
		}
		if err := sessionSvc.AppendEvent(ctx, storedSession, evt); err != nil {
			return nil, fmt.Errorf("failed to restore history: %w", err)
		}
	}

	followup, err := s.newAgent(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          followup,
		SessionService: sessionSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	userContent := genai.NewContentFromText(content, genai.RoleUser)

	return func(yield func(StreamEvent, error) bool) {
		slog.Info("Starting agent run", "conversation_id", conversationID, "research_job_id", jobID)
		runCfg := agent.RunConfig{
			StreamingMode: agent.StreamingModeSSE,
		}

		var finalResponse strings.Builder
		streamed := false
		for event, err := range r.Run(ctx, userID, sessionID, userContent, runCfg) {
			if err != nil {
				slog.Error("Agent runner error", "error", err)
				yield(StreamEvent{Type: "error", Payload: err.Error()}, err)
				return
			}
			if event.LLMResponse.Content == nil {
				continue
			}
			partial := event.LLMResponse.Partial
			// The final event of a streamed turn repeats the partial text.
			skipText := !partial && streamed
			for _, part := range event.LLMResponse.Content.Parts {
				switch {
				case part.Text != "":
					if skipText {
						continue
					}
					finalResponse.WriteString(part.Text)
					if !yield(StreamEvent{Type: "content", Payload: part.Text}, nil) {
						return
					}
				case part.FunctionCall != nil:
					slog.Info("Agent tool call", "tool", part.FunctionCall.Name)
					if !yield(StreamEvent{Type: "tool_call", Payload: part.FunctionCall}, nil) {
						return
					}
				case part.FunctionResponse != nil:
					slog.Info("Agent tool result", "tool", part.FunctionResponse.Name)
					if !yield(StreamEvent{Type: "tool_result", Payload: part.FunctionResponse}, nil) {
						return
					}
				}
			}
			streamed = partial
		}

		slog.Info("Agent run completed", "conversation_id", conversationID)

		answer := finalResponse.String()
		_, err := s.DB.Pool.Exec(ctx,
			`INSERT INTO messages (id, conversation_id, role, content) VALUES ($1, $2, 'model', $3)`,
			uuid.New(), conversationID, answer)
		if err != nil {
			slog.Error("Failed to save model message", "error", err)
		} else {
			_, _ = s.DB.Pool.Exec(ctx, `UPDATE conversations SET updated_at = NOW() WHERE id = $1`, conversationID)
		}

		yield(StreamEvent{Type: "done", Payload: "done"}, nil)

		if len(history) <= 2 {
			go s.generateTitle(conversationID, content, answer)
		}
	}, nil
}

func (s *Service) generateTitle(convID uuid.UUID, userMsg, modelMsg string) {
	if s.Titler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	title, err := conversationTitle(ctx, s.Titler, userMsg, modelMsg)
	if err != nil {
		slog.Warn("Title generation failed", "conversation_id", convID, "error", err)
		return
	}
	if title == "" {
		return
	}
	if _, err := s.DB.Pool.Exec(ctx, `UPDATE conversations SET title = $2 WHERE id = $1`, convID, title); err != nil {
		slog.Error("Failed to update conversation title", "error", err)
	}
}
