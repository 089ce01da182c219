package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"stockwatch/internal/pricelog"
	"stockwatch/internal/watch"
)

// Watcher 관심 종목 서비스 (watch.Service)
type Watcher interface {
	Codes() []string
	Stocks(ctx context.Context, codes []string) (*watch.BatchResult, error)
	Stock(ctx context.Context, code string) (*watch.StockDetail, error)
	LogPrices(ctx context.Context) (*watch.LogRun, error)
	FetchToday(ctx context.Context, code string) (*pricelog.BackfillResult, error)
	LogEntries(ctx context.Context, code string) ([]pricelog.Entry, error)
	SaveLog(ctx context.Context, code, date string, sum pricelog.Summary) ([]pricelog.Entry, error)
	DeleteLog(ctx context.Context, code, date string) (bool, error)
}

// Server represents the web server
type Server struct {
	watch      Watcher
	cronSecret string
	timeout    time.Duration
	srv        *http.Server
}

// NewServer creates a new web server
func NewServer(w Watcher, cronSecret string) *Server {
	return &Server{
		watch:      w,
		cronSecret: cronSecret,
		timeout:    60 * time.Second,
	}
}

// Router builds the route table
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stocks", s.handleStocks).Methods(http.MethodGet)
	api.HandleFunc("/stock/{code}", s.handleStock).Methods(http.MethodGet)
	api.HandleFunc("/logs/fetch-today-prices", s.handleFetchToday).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/logs/{code}", s.handleGetLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/{code}", s.handleSaveLog).Methods(http.MethodPost)
	api.HandleFunc("/logs/{code}", s.handleDeleteLog).Methods(http.MethodDelete)
	api.HandleFunc("/cron/log-prices", s.handleLogPrices).Methods(http.MethodGet)

	// 서브라우터는 루트의 핸들러를 물려받지 않음
	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	r.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed

	return corsMiddleware(logMiddleware(r))
}

// Start starts the web server on the specified port
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("[WEB] listening on http://localhost:%d", port)
	log.Printf("[WEB] press Ctrl+C to stop")

	return s.srv.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware allows the dashboard and external cron callers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Cron-Secret")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[WEB] %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}
