package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mindscope/internal/pipeline"
	"github.com/MrWong99/mindscope/pkg/signal"
)

const (
	// maxDecimate bounds the ?decimate query parameter.
	maxDecimate = 100

	// writeTimeout bounds a single WebSocket frame write.
	writeTimeout = 5 * time.Second

	// maxConnectBody bounds the connect request body.
	maxConnectBody = 4 << 10
)

// Controller is the session control surface the API drives.
// *pipeline.Manager satisfies it.
type Controller interface {
	Connect(ctx context.Context, address string, port int) (*pipeline.Session, error)
	Disconnect(ctx context.Context) error
	Status() pipeline.Status
}

// Config holds the dependencies of a [Server].
type Config struct {
	Hub        *Hub
	Controller Controller

	// DefaultEndpoint is used when a connect request names no endpoint.
	DefaultEndpoint signal.Endpoint

	// ChannelNames and Labels are reported by /api/status so viewers can
	// label plots.
	ChannelNames []string
	Labels       []string
}

// Server serves the dashboard HTTP API.
type Server struct {
	cfg Config
}

// NewServer returns a Server for cfg.
func NewServer(cfg Config) *Server {
	return &Server{cfg: cfg}
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/frame", s.handleFrame)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/connect", s.handleConnect)
	mux.HandleFunc("POST /api/disconnect", s.handleDisconnect)
	mux.HandleFunc("GET /api/stream", s.handleStream)
}

// ConnectRequest is the optional body of POST /api/connect.
type ConnectRequest struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// StatusResponse is the body of GET /api/status and of successful control
// requests.
type StatusResponse struct {
	Status       pipeline.Status `json:"status"`
	ChannelNames []string        `json:"channel_names,omitempty"`
	Labels       []string        `json:"labels,omitempty"`

	// Warning reports a problem that did not prevent the request, such as
	// a teardown timeout on disconnect.
	Warning string `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		Status:       s.cfg.Controller.Status(),
		ChannelNames: s.cfg.ChannelNames,
		Labels:       s.cfg.Labels,
	}
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	n, err := decimation(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	f, ok := s.cfg.Hub.Latest()
	if !ok {
		f = pipeline.IdleFrame(time.Now(), s.cfg.Controller.Status())
	}
	writeJSON(w, http.StatusOK, Decimate(f, n))
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	req := ConnectRequest{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxConnectBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read body: " + err.Error()})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "decode body: " + err.Error()})
			return
		}
	}
	if req.Address == "" {
		req.Address = s.cfg.DefaultEndpoint.Address
	}
	if req.Port == 0 {
		req.Port = s.cfg.DefaultEndpoint.Port
	}

	if _, err := s.cfg.Controller.Connect(r.Context(), req.Address, req.Port); err != nil {
		slog.Warn("connect request failed", "address", req.Address, "port", req.Port, "err", err)
		writeJSON(w, connectStatus(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	// A viewer closing the tab mid-request must not cut the teardown short.
	ctx := context.WithoutCancel(r.Context())
	var warning string
	if err := s.cfg.Controller.Disconnect(ctx); err != nil {
		if !errors.Is(err, pipeline.ErrTeardownTimeout) {
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
		// The session is detached regardless; only its producers lingered.
		warning = err.Error()
	}
	st := s.status()
	st.Warning = warning
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	n, err := decimation(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Viewers send nothing; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	frames, cancel := s.cfg.Hub.Subscribe()
	defer cancel()
	slog.Debug("stream viewer connected", "remote", r.RemoteAddr, "decimate", n)

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case f := <-frames:
			data, err := json.Marshal(Decimate(f, n))
			if err != nil {
				slog.Error("encode frame", "err", err)
				conn.Close(websocket.StatusInternalError, "encode frame")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			wcancel()
			if err != nil {
				slog.Debug("stream viewer gone", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}

// decimation parses the ?decimate query parameter. Absent means 1.
func decimation(r *http.Request) (int, error) {
	v := r.URL.Query().Get("decimate")
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxDecimate {
		return 0, fmt.Errorf("decimate must be an integer in [1, %d], got %q", maxDecimate, v)
	}
	return n, nil
}

func connectStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, signal.ErrInvalidEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrProducerUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "err", err)
	}
}
