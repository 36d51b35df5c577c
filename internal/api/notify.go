package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/andyuninvited/c3poh-for-claudecode/internal/biz/domain"
	"github.com/andyuninvited/c3poh-for-claudecode/internal/service"
	"github.com/andyuninvited/c3poh-for-claudecode/pkg/logger"
)

// MaxBodyBytes caps a notify request body
const MaxBodyBytes = 64 << 10

// ErrInvalidJSON is returned for a JSON body that does not parse
var ErrInvalidJSON = errors.New("invalid JSON")

// Notifier forwards an alert to the chat
type Notifier interface {
	Notify(ctx context.Context, p domain.NotifyPayload) error
}

// Server is the local notify listener
type Server struct {
	notifier Notifier
	addr     string
	server   *http.Server
	log      zerolog.Logger
}

// NewServer creates a new notify server listening on addr
func NewServer(notifier Notifier, addr string) *Server {
	s := &Server{
		notifier: notifier,
		addr:     addr,
		log:      logger.Component(logger.CompNotify),
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
	return s
}

// Router returns the HTTP routes
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/notify", s.handleNotify).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})
	return r
}

// Start binds the listener and serves until Stop
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info().Str("addr", ln.Addr().String()).Msg("notify listener started")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > MaxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unreadable body"})
		return
	}

	payload, err := ParsePayload(r.Header.Get("Content-Type"), body)
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("malformed notification rejected")
		msg := "No message content found"
		if errors.Is(err, ErrInvalidJSON) {
			msg = "Invalid JSON"
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	if err := s.notifier.Notify(r.Context(), payload); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, service.ErrNoRecipients) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "c3poh"})
}

// notifyBody covers the JSON object shapes accepted on /notify
type notifyBody struct {
	Text    string                  `json:"text"`
	Message string                  `json:"message"`
	Source  string                  `json:"source"`
	Result  *domain.HeartbeatResult `json:"result"`
}

// ParsePayload extracts an alert from a request body. text/plain bodies are
// taken verbatim; JSON may be a bare string, a heartbeat
// {"source","result"} or {"message"|"text","source"}.
func ParsePayload(contentType string, body []byte) (domain.NotifyPayload, error) {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType == "text/plain" {
		return domain.NotifyPayload{Text: string(body)}, nil
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return domain.NotifyPayload{}, domain.ErrEmptyNotification
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return domain.NotifyPayload{}, ErrInvalidJSON
		}
		return domain.NotifyPayload{Text: text}, nil
	case '{':
		var nb notifyBody
		if err := json.Unmarshal(trimmed, &nb); err != nil {
			return domain.NotifyPayload{}, ErrInvalidJSON
		}
		if nb.Result != nil {
			return domain.FormatHeartbeat(*nb.Result), nil
		}
		text := nb.Message
		if text == "" {
			text = nb.Text
		}
		return domain.NotifyPayload{Text: text, Source: nb.Source}, nil
	}

	if !json.Valid(trimmed) {
		return domain.NotifyPayload{}, ErrInvalidJSON
	}
	// Valid JSON of another kind (number, array, null) carries no message.
	return domain.NotifyPayload{}, domain.ErrEmptyNotification
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
