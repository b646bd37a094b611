// Package api serves the local control API: actuator listing, moves and a
// websocket feed of confirmed moves.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MikeHennessy/suntrack/internal/domain"
	"github.com/MikeHennessy/suntrack/internal/ports"
	"github.com/MikeHennessy/suntrack/pkg/log"
)

const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 15 * time.Second
	shutdownTimeout = 5 * time.Second
	wsWriteTimeout  = 5 * time.Second
	maxBodyBytes    = 1 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server is the HTTP control surface.
type Server struct {
	mover     ports.Mover
	positions ports.PositionReader
	feed      ports.MoveFeed
	actuators domain.ActuatorSet
	logger    log.Logger
	router    *mux.Router
}

// New builds the router. mover is normally the dispatcher, which is also
// the feed.
func New(mover ports.Mover, positions ports.PositionReader, feed ports.MoveFeed, actuators []domain.Actuator, logger log.Logger) *Server {
	s := &Server{
		mover:     mover,
		positions: positions,
		feed:      feed,
		actuators: domain.NewActuatorSet(actuators),
		logger:    log.OrNoop(logger),
	}
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/actuators", s.listActuators).Methods(http.MethodGet)
	api.HandleFunc("/actuators/{id:[0-9]+}", s.getActuator).Methods(http.MethodGet)
	api.HandleFunc("/actuators/{id:[0-9]+}/move", s.move).Methods(http.MethodPost)
	api.HandleFunc("/ws", s.socket).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve accepts connections on l until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(l) }()
	s.logger.Info("control api listening", log.String("addr", l.Addr().String()))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown control api: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, l)
}

type actuatorView struct {
	ID         domain.ActuatorID `json:"id"`
	Channel    int               `json:"channel"`
	MinMM      float64           `json:"min_mm"`
	MaxMM      float64           `json:"max_mm"`
	PositionMM float64           `json:"position_mm"`
}

type moveRequest struct {
	DeltaMM *float64 `json:"delta_mm"`
}

type moveView struct {
	ID         domain.ActuatorID `json:"id"`
	DeltaMM    float64           `json:"delta_mm"`
	PositionMM float64           `json:"position_mm"`
	Polls      int               `json:"polls"`
	ElapsedMS  float64           `json:"elapsed_ms"`
}

type errorView struct {
	Error string `json:"error"`
	State string `json:"state,omitempty"`
	// Move is set when the controller moved but bookkeeping failed.
	Move *moveView `json:"move,omitempty"`
}

// FeedMessage is one websocket message.
type FeedMessage struct {
	Event     string           `json:"event"`
	Move      *moveView        `json:"move,omitempty"`
	Positions domain.Positions `json:"positions"`
}

func (s *Server) view(a domain.Actuator) actuatorView {
	pos, _ := s.positions.CurrentPosition(a.ID)
	return actuatorView{ID: a.ID, Channel: a.Channel, MinMM: a.Range.Min, MaxMM: a.Range.Max, PositionMM: pos}
}

func newMoveView(res domain.MoveResult) *moveView {
	return &moveView{
		ID:         res.Command.Actuator,
		DeltaMM:    res.Command.DeltaMM,
		PositionMM: res.PositionMM,
		Polls:      res.Polls,
		ElapsedMS:  float64(res.Elapsed) / float64(time.Millisecond),
	}
}

func (s *Server) listActuators(w http.ResponseWriter, r *http.Request) {
	out := make([]actuatorView, 0, len(s.actuators))
	for _, id := range s.actuators.IDs() {
		out = append(out, s.view(s.actuators[id]))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (domain.Actuator, bool) {
	raw := mux.Vars(r)["id"]
	n, err := strconv.ParseUint(raw, 10, 8)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorView{Error: fmt.Sprintf("actuator %s: %v", raw, domain.ErrUnknownActuator)})
		return domain.Actuator{}, false
	}
	a, ok := s.actuators[domain.ActuatorID(n)]
	if !ok {
		s.writeJSON(w, http.StatusNotFound, errorView{Error: fmt.Sprintf("actuator %d: %v", n, domain.ErrUnknownActuator)})
		return domain.Actuator{}, false
	}
	return a, true
}

func (s *Server) getActuator(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, s.view(a))
}

func (s *Server) move(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookup(w, r)
	if !ok {
		return
	}

	var req moveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorView{Error: fmt.Sprintf("decode body: %v", err)})
		return
	}
	if req.DeltaMM == nil {
		s.writeJSON(w, http.StatusBadRequest, errorView{Error: "delta_mm is required"})
		return
	}

	res, err := s.mover.Move(r.Context(), a.ID, *req.DeltaMM)
	if err != nil {
		ev := errorView{Error: err.Error()}
		var me *domain.MoveError
		if errors.As(err, &me) {
			ev.State = me.State.String()
		}
		if errors.Is(err, domain.ErrLedgerIO) {
			ev.Move = newMoveView(res)
		}
		s.writeJSON(w, StatusFor(err), ev)
		return
	}
	s.writeJSON(w, http.StatusOK, newMoveView(res))
}

// StatusFor maps a move error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrAckTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrMuxFailure), errors.Is(err, domain.ErrBusWrite):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) socket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", log.Err(err))
		return
	}
	defer conn.Close()

	results, unsubscribe := s.feed.Subscribe()
	defer unsubscribe()

	// The feed is one-way; reading only notices the client going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(msg FeedMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", log.Err(err))
			return false
		}
		return true
	}

	if !send(FeedMessage{Event: "snapshot", Positions: s.positions.Snapshot()}) {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			if !send(FeedMessage{Event: "move", Move: newMoveView(res), Positions: s.positions.Snapshot()}) {
				return
			}
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", log.Err(err))
	}
}
