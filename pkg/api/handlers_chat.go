package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/Kunsh1/spin-gpt/pkg/errors"
	"github.com/Kunsh1/spin-gpt/pkg/pool"
	"github.com/Kunsh1/spin-gpt/pkg/relay"
)

const maxPromptBody = 1 << 20

// heartbeatInterval spaces SSE comment lines that keep idle proxies from
// closing a stream that is queued behind another cycle.
var heartbeatInterval = 15 * time.Second

type chatRequest struct {
	Prompt string `json:"prompt"`
}

func readPrompt(w http.ResponseWriter, r *http.Request) (string, error) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("prompt"), nil
	}
	var req chatRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPromptBody))
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "decode chat request").
			WithUserMessage("invalid request body")
	}
	return req.Prompt, nil
}

// handleChat streams one prompt cycle as server-sent events. Each fragment is
// a `data: {"text": ...}` frame; a failure is a single `data: {"error": ...}`
// frame. The stream ends when the connection closes.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	prompt, err := readPrompt(w, r)
	if err == nil {
		err = relay.ValidatePrompt(prompt)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, apperrors.PublicMessage(err))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	// The server write timeout would cut long replies short.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metricActiveStreams.WithLabelValues("sse").Inc()
	defer metricActiveStreams.WithLabelValues("sse").Dec()

	sw := &sseWriter{w: w, flusher: flusher}
	stop := sw.keepAlive(heartbeatInterval)
	err = s.streamer.Stream(r.Context(), prompt, sw.Send)
	stop()
	if err != nil {
		s.logger.Printf("stream %s: %v", requestIDFrom(r.Context()), err)
	}
}

// sseWriter serializes frames from the relay and the heartbeat.
type sseWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	failed  error
}

// Send writes ev as one data frame.
func (s *sseWriter) Send(ev relay.Event) error {
	buf := pool.Frames.Get()
	defer pool.Frames.Put(buf)

	buf.WriteString("data: ")
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return err
	}
	buf.WriteByte('\n') // Encode already ended the line
	return s.write(buf.Bytes())
}

func (s *sseWriter) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return s.failed
	}
	if _, err := s.w.Write(frame); err != nil {
		s.failed = err
		return err
	}
	s.flusher.Flush()
	return nil
}

// keepAlive writes a comment line every interval until the returned stop
// func is called. stop waits for the writer goroutine to exit.
func (s *sseWriter) keepAlive(interval time.Duration) (stop func()) {
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if s.write([]byte(": keep-alive\n\n")) != nil {
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
