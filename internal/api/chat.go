package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/personae/internal/engine"
	"github.com/MrWong99/personae/internal/observe"
)

// ChatRequest is the body of POST /characters/{id}/chat and each client
// frame on the stream socket.
type ChatRequest struct {
	Message        string `json:"message"`
	UserID         string `json:"user_id,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (c ChatRequest) engineRequest(characterID string) engine.Request {
	return engine.Request{
		CharacterID:    characterID,
		Message:        c.Message,
		UserID:         c.UserID,
		UserName:       c.UserName,
		ConversationID: c.ConversationID,
	}
}

// Stream frame types sent by the server.
const (
	FrameChunk = "chunk"
	FrameDone  = "done"
	FrameError = "error"
)

// StreamFrame is one server message on the stream socket. A turn produces
// zero or more chunk frames followed by exactly one done or error frame.
type StreamFrame struct {
	Type     string           `json:"type"`
	Text     string           `json:"text,omitempty"`
	Response *engine.Response `json:"response,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// streamWriteTimeout bounds a single frame write so a stalled client cannot
// hold a generation slot.
const streamWriteTimeout = 10 * time.Second

func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.engine.GenerateCharacterResponse(r.Context(), req.engineRequest(chi.URLParam(r, "id")))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// stream upgrades to a WebSocket and runs one streamed turn per client
// frame until the client closes the socket.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	characterID := chi.URLParam(r, "id")
	if _, ok := s.lookup(w, r); !ok {
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := observe.WithCharacter(r.Context(), characterID)
	log := observe.Logger(ctx)
	for {
		var req ChatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				log.Debug("api: stream read ended", "err", err)
			}
			return
		}

		resp, err := s.engine.GenerateCharacterResponseStream(ctx, req.engineRequest(characterID), func(chunk string) {
			_ = writeFrame(ctx, conn, StreamFrame{Type: FrameChunk, Text: chunk})
		})
		final := StreamFrame{Type: FrameDone, Response: resp}
		if err != nil {
			final = StreamFrame{Type: FrameError, Error: err.Error()}
		}
		if err := writeFrame(ctx, conn, final); err != nil {
			log.Debug("api: stream write failed", "err", err)
			return
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, f StreamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, f)
}
