package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/personae/internal/character"
	"github.com/MrWong99/personae/internal/engine"
	"github.com/MrWong99/personae/internal/rag"
	"github.com/MrWong99/personae/pkg/memory"
)

type listCharactersArgs struct {
	OwnerID string `json:"owner_id,omitempty" jsonschema:"Only list characters owned by this id"`
}

type characterArgs struct {
	CharacterID string `json:"character_id" jsonschema:"ID of the character"`
}

type searchMemoriesArgs struct {
	CharacterID   string   `json:"character_id" jsonschema:"ID of the character whose memories to search"`
	Query         string   `json:"query" jsonschema:"Text to search for by meaning"`
	Limit         int      `json:"limit,omitempty" jsonschema:"Maximum number of memories to return (default 5)"`
	MinSimilarity float64  `json:"min_similarity,omitempty" jsonschema:"Cosine similarity floor between 0 and 1"`
	Types         []string `json:"types,omitempty" jsonschema:"Restrict to these memory types"`
}

type storeMemoryArgs struct {
	CharacterID     string   `json:"character_id" jsonschema:"ID of the character that remembers"`
	Content         string   `json:"content" jsonschema:"What the character should remember"`
	Type            string   `json:"type" jsonschema:"Memory type: conversation, event, relationship, emotional_event or world_knowledge"`
	EmotionalWeight float64  `json:"emotional_weight,omitempty" jsonschema:"How emotionally charged the memory is, 0 to 1"`
	Importance      string   `json:"importance,omitempty" jsonschema:"low, medium or high (default medium)"`
	Location        string   `json:"location,omitempty" jsonschema:"Where it happened"`
	Topics          []string `json:"topics,omitempty" jsonschema:"Topic tags"`
}

type chatArgs struct {
	CharacterID    string `json:"character_id" jsonschema:"ID of the character to talk to"`
	Message        string `json:"message" jsonschema:"The message to send"`
	UserID         string `json:"user_id,omitempty" jsonschema:"Stable id of the speaker, keys conversation history"`
	UserName       string `json:"user_name,omitempty" jsonschema:"Display name of the speaker"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"Optional conversation id"`
}

// memoryResult is the tool-facing form of a memory. Vectors are omitted.
type memoryResult struct {
	ID              string            `json:"id"`
	Content         string            `json:"content"`
	Type            memory.Type       `json:"type"`
	Importance      memory.Importance `json:"importance"`
	EmotionalWeight float64           `json:"emotional_weight"`
	Similarity      float64           `json:"similarity,omitzero"`
	Score           float64           `json:"score,omitzero"`
	CreatedAt       string            `json:"created_at"`
}

func resultOf(rec memory.Record) memoryResult {
	return memoryResult{
		ID:              rec.ID,
		Content:         rec.Content,
		Type:            rec.Type,
		Importance:      rec.Importance,
		EmotionalWeight: rec.EmotionalWeight,
		CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "list_characters",
		Description: "List the characters available for conversation",
	}, s.listCharacters)
	mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
		Name:        "get_character",
		Description: "Get a character's full profile",
	}, s.getCharacter)

	if s.memories != nil {
		mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
			Name:        "search_memories",
			Description: "Search a character's memories by meaning, most relevant first",
		}, s.searchMemories)
		mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
			Name:        "store_memory",
			Description: "Store a new memory for a character",
		}, s.storeMemory)
	}

	if s.engine != nil {
		mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
			Name:        "character_state",
			Description: "Get a character's current mood, location and activity",
		}, s.characterState)
		mcpsdk.AddTool(s.sdk, &mcpsdk.Tool{
			Name:        "chat",
			Description: "Send a message to a character and get its in-character reply",
		}, s.chat)
	}
}

func (s *Server) listCharacters(ctx context.Context, _ *mcpsdk.CallToolRequest, args listCharactersArgs) (*mcpsdk.CallToolResult, any, error) {
	chars, err := s.chars.List(ctx, args.OwnerID)
	if err != nil {
		return nil, nil, fmt.Errorf("list_characters: %w", err)
	}
	type summary struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Archetype string `json:"archetype,omitempty"`
		Role      string `json:"role,omitempty"`
	}
	out := make([]summary, len(chars))
	for i, c := range chars {
		out[i] = summary{ID: c.ID, Name: c.Name, Archetype: c.Archetype, Role: c.Role}
	}
	return jsonResult(out)
}

func (s *Server) getCharacter(ctx context.Context, _ *mcpsdk.CallToolRequest, args characterArgs) (*mcpsdk.CallToolResult, any, error) {
	c, err := character.Lookup(ctx, s.chars, args.CharacterID)
	if err != nil {
		return nil, nil, fmt.Errorf("get_character: %w", err)
	}
	return jsonResult(c)
}

func (s *Server) searchMemories(ctx context.Context, _ *mcpsdk.CallToolRequest, args searchMemoriesArgs) (*mcpsdk.CallToolResult, any, error) {
	if _, err := character.Lookup(ctx, s.chars, args.CharacterID); err != nil {
		return nil, nil, fmt.Errorf("search_memories: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, nil, fmt.Errorf("search_memories: query must not be empty")
	}
	if args.MinSimilarity < 0 || args.MinSimilarity > 1 {
		return nil, nil, fmt.Errorf("search_memories: min_similarity must be within [0, 1]")
	}

	opts := rag.DefaultOptions()
	if args.Limit > 0 {
		opts.MaxResults = args.Limit
	}
	if args.MinSimilarity > 0 {
		opts.MinSimilarity = args.MinSimilarity
	}
	if len(args.Types) > 0 {
		opts.MemoryTypes = nil
		for _, name := range args.Types {
			t, err := memory.ParseType(name)
			if err != nil {
				return nil, nil, fmt.Errorf("search_memories: %w", err)
			}
			opts.MemoryTypes = append(opts.MemoryTypes, t)
		}
	}

	scored, err := s.memories.SearchMemories(ctx, args.CharacterID, args.Query, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("search_memories: %w", err)
	}
	out := make([]memoryResult, len(scored))
	for i, sc := range scored {
		out[i] = resultOf(sc.Record)
		out[i].Similarity, out[i].Score = sc.Similarity, sc.Score
	}
	return jsonResult(out)
}

func (s *Server) storeMemory(ctx context.Context, _ *mcpsdk.CallToolRequest, args storeMemoryArgs) (*mcpsdk.CallToolResult, any, error) {
	if _, err := character.Lookup(ctx, s.chars, args.CharacterID); err != nil {
		return nil, nil, fmt.Errorf("store_memory: %w", err)
	}
	t, err := memory.ParseType(args.Type)
	if err != nil {
		return nil, nil, fmt.Errorf("store_memory: %w", err)
	}
	imp, err := memory.ParseImportance(args.Importance)
	if err != nil {
		return nil, nil, fmt.Errorf("store_memory: %w", err)
	}
	rec, err := s.memories.StoreMemory(ctx, args.CharacterID, args.Content, t, rag.Metadata{
		EmotionalWeight: args.EmotionalWeight,
		Importance:      imp,
		Location:        args.Location,
		Topics:          args.Topics,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store_memory: %w", err)
	}
	return jsonResult(resultOf(*rec))
}

func (s *Server) characterState(ctx context.Context, _ *mcpsdk.CallToolRequest, args characterArgs) (*mcpsdk.CallToolResult, any, error) {
	if _, err := character.Lookup(ctx, s.chars, args.CharacterID); err != nil {
		return nil, nil, fmt.Errorf("character_state: %w", err)
	}
	return jsonResult(s.engine.CharacterState(args.CharacterID))
}

func (s *Server) chat(ctx context.Context, _ *mcpsdk.CallToolRequest, args chatArgs) (*mcpsdk.CallToolResult, any, error) {
	userID := args.UserID
	if userID == "" {
		userID = "mcp"
	}
	resp, err := s.engine.GenerateCharacterResponse(ctx, engine.Request{
		CharacterID:    args.CharacterID,
		Message:        args.Message,
		UserID:         userID,
		UserName:       args.UserName,
		ConversationID: args.ConversationID,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("chat: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: resp.Text}},
		IsError: resp.Fallback,
	}, nil, nil
}

func jsonResult(v any) (*mcpsdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(b)}},
	}, nil, nil
}
