package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	apperrors "github.com/Kunsh1/spin-gpt/pkg/errors"
	"github.com/Kunsh1/spin-gpt/pkg/relay"
)

// Message types sent over the chat WebSocket.
const (
	WSTypeText  = relay.EventText
	WSTypeError = relay.EventError
	WSTypeDone  = "done"
)

// WSMessage is one server-to-client message on the chat WebSocket.
type WSMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChatWebSocket runs prompt cycles for one connection, one at a time.
// The client sends {"prompt": "..."}; the server answers with text messages,
// then either a done or a single error message.
func (s *Server) handleChatWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.wsOriginPatterns(),
	})
	if err != nil {
		s.logger.Printf("websocket accept: %v", err)
		return
	}
	defer conn.CloseNow()

	metricActiveStreams.WithLabelValues("ws").Inc()
	defer metricActiveStreams.WithLabelValues("ws").Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The reader cancels ctx when the client goes away, which also stops a
	// cycle that is queued or waiting on the page.
	prompts := make(chan string)
	go func() {
		defer cancel()
		for {
			var req chatRequest
			if err := wsjson.Read(ctx, conn, &req); err != nil {
				return
			}
			select {
			case prompts <- req.Prompt:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var prompt string
		select {
		case <-ctx.Done():
			return
		case prompt = <-prompts:
		}

		if err := relay.ValidatePrompt(prompt); err != nil {
			if wsjson.Write(ctx, conn, WSMessage{Type: WSTypeError, Error: apperrors.PublicMessage(err)}) != nil {
				return
			}
			continue
		}

		err := s.streamer.Stream(ctx, prompt, func(ev relay.Event) error {
			return wsjson.Write(ctx, conn, WSMessage{Type: ev.Type, Text: ev.Text, Error: ev.Error})
		})
		switch {
		case err == nil:
			if wsjson.Write(ctx, conn, WSMessage{Type: WSTypeDone}) != nil {
				return
			}
		case apperrors.IsCode(err, apperrors.ErrCodeClientGone):
			return
		default:
			s.logger.Printf("ws stream %s: %v", requestIDFrom(r.Context()), err)
		}
	}
}

// wsOriginPatterns converts the CORS origin list to host patterns. An empty
// list leaves nhooyr's same-origin check in place.
func (s *Server) wsOriginPatterns() []string {
	var patterns []string
	for _, origin := range s.cfg.CORSOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
		}
	}
	return patterns
}
