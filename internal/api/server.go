package api

import (
	"context"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"quantix/internal/engine"
	"quantix/internal/portfolio"
)

const shutdownTimeout = 5 * time.Second

// StatusSource publishes the latest engine status. *engine.Engine is one.
type StatusSource interface {
	Status() engine.Status
}

// Config sets the listen address and CORS origins.
type Config struct {
	Addr           string
	AllowedOrigins []string
}

// Server is a read-only HTTP view of a run. Handlers only read the published
// status, so they never race with the engine goroutine.
type Server struct {
	src     StatusSource
	cfg     Config
	router  *mux.Router
	started time.Time
}

func NewServer(src StatusSource, cfg Config) *Server {
	s := &Server{
		src:     src,
		cfg:     cfg,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

// routes live on the root router: a method mismatch under a PathPrefix
// subrouter surfaces as 404 instead of 405
func (s *Server) setupRoutes() {
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusMethodNotAllowed, errorResponse{Error: "read-only endpoint"})
	})
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/portfolio", s.handlePortfolio).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/positions/{symbol}", s.handlePosition).Methods(http.MethodGet)
}

// Handler wraps the router with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logs.Infof("status api listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "serve status api")
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutdown status api")
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

type portfolioResponse struct {
	portfolio.Snapshot
	Marks      map[string]decimal.Decimal `json:"marks"`
	Equity     decimal.Decimal            `json:"equity"`
	Unrealized decimal.Decimal            `json:"unrealized"`
	AsOf       time.Time                  `json:"asOf"`
}

type positionResponse struct {
	portfolio.Position
	Mark       decimal.NullDecimal `json:"mark"`
	Unrealized decimal.NullDecimal `json:"unrealized"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.src.Status()
	resp := healthResponse{
		Status: "ok",
		State:  st.State.String(),
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
		Error:  st.Err,
	}
	code := http.StatusOK
	if st.State == engine.StateHalted {
		resp.Status = "halted"
		code = http.StatusServiceUnavailable
	}
	respond(w, code, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, s.src.Status())
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	st := s.src.Status()
	respond(w, http.StatusOK, portfolioResponse{
		Snapshot:   st.Portfolio,
		Marks:      st.Marks,
		Equity:     st.Portfolio.Equity(st.Marks),
		Unrealized: st.Portfolio.Unrealized(st.Marks),
		AsOf:       st.Now,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	st := s.src.Status()
	pos, ok := st.Portfolio.Position(symbol)
	if !ok {
		respond(w, http.StatusNotFound, errorResponse{Error: "no position in " + symbol})
		return
	}
	resp := positionResponse{Position: pos}
	if mark, ok := st.Marks[symbol]; ok {
		resp.Mark = decimal.NewNullDecimal(mark)
		resp.Unrealized = decimal.NewNullDecimal(mark.Sub(pos.AvgPrice).Mul(pos.Quantity))
	}
	respond(w, http.StatusOK, resp)
}

func respond(w http.ResponseWriter, code int, v any) {
	data, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		logs.Errorf("encode api response, err: %+v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
