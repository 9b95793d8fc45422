package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tonimelisma/tonies-go/internal/apperr"
	"github.com/tonimelisma/tonies-go/internal/tonies"
)

const (
	maxRequestBody  = 1 << 20
	shutdownTimeout = 10 * time.Second
	readHeaderLimit = 10 * time.Second
)

// Cloud is what the server needs from the cloud client.
type Cloud interface {
	ListHouseholds(ctx context.Context, acct tonies.Account) ([]tonies.Household, error)
	ListDevices(ctx context.Context, acct tonies.Account, householdID string) ([]tonies.Device, error)
	SyncAudio(ctx context.Context, acct tonies.Account, householdID, deviceID string, audio io.Reader, title string) tonies.SyncResult
}

// Fetcher opens a track's source URL.
type Fetcher interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Server implements the adapter routes for one cloud account.
type Server struct {
	router *mux.Router
	cloud  Cloud
	acct   tonies.Account
	fetch  Fetcher
	logger *slog.Logger
}

// NewServer creates a Server syncing as acct.
func NewServer(cloud Cloud, acct tonies.Account, fetch Fetcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: mux.NewRouter(),
		cloud:  cloud,
		acct:   acct,
		fetch:  fetch,
		logger: logger,
	}

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	s.router.HandleFunc("/sync", s.sync).Methods(http.MethodPost)

	return s
}

// ServeHTTP routes a request.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: readHeaderLimit,
	}

	errc := make(chan error, 1)

	go func() {
		s.logger.Info("adapter listening", slog.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("adapter: serving: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("adapter: shutting down: %w", err)
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("adapter: serving: %w", err)
	}

	return nil
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest

	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, failure("invalid request", err.Error(), 0))
		return
	}

	if err := req.validate(); err != nil {
		respondJSON(w, http.StatusBadRequest, failure("invalid request", err.Error(), 0))
		return
	}

	ctx := r.Context()

	householdID, err := s.locate(ctx, req.CreativeTonieExternalID)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, apperr.ErrNotFound) {
			status = http.StatusNotFound
		}

		respondJSON(w, status, failure("device lookup failed", err.Error(), 0))

		return
	}

	processed := 0

	for _, t := range req.Tracks {
		result := s.syncTrack(ctx, householdID, req.CreativeTonieExternalID, t)
		if !result.Success {
			respondJSON(w, http.StatusBadGateway, failure(result.Message, result.ErrorDetails, processed))
			return
		}

		processed++
	}

	s.logger.Info("adapter sync finished",
		slog.String("device_id", req.CreativeTonieExternalID),
		slog.Int("tracks", processed),
	)

	respondJSON(w, http.StatusOK, SyncResponse{
		Success:         true,
		Message:         fmt.Sprintf("synced %d track(s)", processed),
		TracksProcessed: processed,
	})
}

func (s *Server) syncTrack(ctx context.Context, householdID, deviceID string, t Track) tonies.SyncResult {
	body, err := s.fetch.Download(ctx, t.SourceURL)
	if err != nil {
		return tonies.SyncResult{
			Message:      "fetching track failed",
			ErrorDetails: fmt.Sprintf("fetch %s: %v", t.Title, err),
		}
	}
	defer body.Close()

	return s.cloud.SyncAudio(ctx, s.acct, householdID, deviceID, body, t.Title)
}

// locate finds the household holding deviceID.
func (s *Server) locate(ctx context.Context, deviceID string) (string, error) {
	households, err := s.cloud.ListHouseholds(ctx, s.acct)
	if err != nil {
		return "", err
	}

	for _, h := range households {
		devices, err := s.cloud.ListDevices(ctx, s.acct, h.ID)
		if err != nil {
			return "", err
		}

		for _, d := range devices {
			if d.ID == deviceID {
				return h.ID, nil
			}
		}
	}

	return "", fmt.Errorf("adapter: creative tonie %s: %w", deviceID, apperr.ErrNotFound)
}

func failure(message, details string, processed int) SyncResponse {
	if message == "" {
		message = "sync failed"
	}

	return SyncResponse{Message: message, ErrorDetails: details, TracksProcessed: processed}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck // client gone
}
