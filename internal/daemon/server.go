package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/janekbaraniewski/reqwatch/internal/config"
	"github.com/janekbaraniewski/reqwatch/internal/core"
	"github.com/janekbaraniewski/reqwatch/internal/identity"
	"github.com/janekbaraniewski/reqwatch/internal/predict"
	"github.com/janekbaraniewski/reqwatch/internal/refresh"
	"github.com/janekbaraniewski/reqwatch/internal/session"
	"github.com/janekbaraniewski/reqwatch/internal/store"
	"github.com/janekbaraniewski/reqwatch/internal/usage"
	"github.com/janekbaraniewski/reqwatch/internal/version"
)

// SessionControl is the slice of the session manager the daemon surface
// needs on top of what the refresh orchestrator already uses.
type SessionControl interface {
	refresh.Session
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	Close() error
}

type Service struct {
	cfg    Config
	sess   SessionControl
	orch   *refresh.Orchestrator
	store  *store.Store
	holder *config.Holder

	logMu     sync.Mutex
	lastLogAt map[string]time.Time
}

func NewService(cfg Config, sess SessionControl, orch *refresh.Orchestrator, st *store.Store, holder *config.Holder) *Service {
	return &Service{
		cfg:       cfg,
		sess:      sess,
		orch:      orch,
		store:     st,
		holder:    holder,
		lastLogAt: map[string]time.Time{},
	}
}

// RunServer wires the whole tracker together and blocks until a signal
// arrives: config holder, sqlite store, session manager, identity
// resolver, usage fetcher, prediction engine, refresh orchestrator and
// the unix socket API on top.
func RunServer(cfg Config) error {
	if !cfg.Verbose {
		log.SetOutput(io.Discard)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := startService(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	<-ctx.Done()
	svc.infof("daemon_stop", "reason=signal")
	return nil
}

func startService(ctx context.Context, cfg Config) (*Service, error) {
	if strings.TrimSpace(cfg.SocketPath) == "" {
		defaultSocketPath, err := DefaultSocketPath()
		if err != nil {
			return nil, err
		}
		cfg.SocketPath = defaultSocketPath
	}
	if strings.TrimSpace(cfg.ConfigPath) == "" {
		cfg.ConfigPath = config.ConfigPath()
	}

	holder, err := config.NewHolder(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load tracker config: %w", err)
	}
	appCfg := holder.Get()

	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = strings.TrimSpace(appCfg.Data.DBPath)
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		defaultDBPath, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		cfg.DBPath = defaultDBPath
	}

	st, err := store.OpenStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open usage store: %w", err)
	}

	sess, err := session.NewManager(appCfg.Browser, nil)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("create session manager: %w", err)
	}

	resolver := identity.NewResolver(identity.DefaultStrategies(&sessionPage{sess: sess}, sess.Client())...)
	fetcher := usage.NewFetcher(sess.Client())
	engine := predict.New(appCfg.Tracker.CostPerRequestUSD, appCfg.Tracker.Entitlement)

	orch := refresh.New(sess, resolver, fetcher, engine, st, core.RefreshConfig{
		IntervalSeconds:      appCfg.Tracker.RefreshIntervalSeconds,
		PredictionPeriodDays: appCfg.Tracker.PredictionPeriodDays,
	})

	svc := NewService(cfg, sess, orch, st, holder)

	holder.OnChange(func(next config.Config) {
		svc.infof("config_reloaded", "interval=%d period_days=%d", next.Tracker.RefreshIntervalSeconds, next.Tracker.PredictionPeriodDays)
		orch.SetInterval(next.Tracker.RefreshIntervalSeconds)
		orch.SetPeriodDays(next.Tracker.PredictionPeriodDays)
	})
	if err := holder.WatchFile(); err != nil {
		svc.warnf("config_watch_failed", "error=%v", err)
	}

	orch.Subscribe(func(ev refresh.Event) {
		switch ev.Name {
		case refresh.EventAuthStateChanged:
			svc.infof("auth_state", "state=%s", ev.State)
		case refresh.EventUsageData:
			if ev.Result != nil && !ev.Result.Success && svc.shouldLog("usage_data_error", 10*time.Second) {
				svc.warnf("usage_data_error", "error=%q", ev.Result.Error)
			}
		}
	})

	svc.infof(
		"daemon_start",
		"socket=%s db=%s config=%s interval=%ds period_days=%d",
		cfg.SocketPath,
		cfg.DBPath,
		cfg.ConfigPath,
		appCfg.Tracker.RefreshIntervalSeconds,
		appCfg.Tracker.PredictionPeriodDays,
	)

	if err := svc.startSocketServer(ctx); err != nil {
		_ = sess.Close()
		_ = st.Close()
		return nil, err
	}

	if src := strings.TrimSpace(appCfg.Browser.CookieSource); src != "" {
		if n := sess.BootstrapFromBrowser(ctx, src); n > 0 {
			svc.infof("cookie_bootstrap", "source=%s imported=%d", src, n)
		}
	}

	go func() {
		if err := orch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			svc.warnf("orchestrator_stopped", "error=%v", err)
		}
	}()
	go svc.runRetentionLoop(ctx)

	return svc, nil
}

func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	if s.holder != nil {
		s.holder.Stop()
	}
	if s.sess != nil {
		_ = s.sess.Close()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// sessionPage exposes the session's live browsing context to the
// identity strategies. Resolution fails cleanly while no browser is up.
type sessionPage struct {
	sess *session.Manager
}

func (p *sessionPage) Location(ctx context.Context) (string, error) {
	bctx := p.sess.Context()
	if bctx == nil {
		return "", fmt.Errorf("no browsing context")
	}
	return bctx.Location(ctx)
}

func (p *sessionPage) HTML(ctx context.Context) (string, error) {
	bctx := p.sess.Context()
	if bctx == nil {
		return "", fmt.Errorf("no browsing context")
	}
	return bctx.HTML(ctx)
}

func (p *sessionPage) Evaluate(ctx context.Context, expr string, out any) error {
	bctx := p.sess.Context()
	if bctx == nil {
		return fmt.Errorf("no browsing context")
	}
	return bctx.Evaluate(ctx, expr, out)
}

var _ identity.PageSurface = (*sessionPage)(nil)

// --- Logging ---

func (s *Service) infof(event, format string, args ...any) {
	if s == nil || !s.cfg.Verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=info event=%s", event)
		return
	}
	log.Printf("daemon level=info event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) warnf(event, format string, args ...any) {
	if s == nil || !s.cfg.Verbose {
		return
	}
	if strings.TrimSpace(format) == "" {
		log.Printf("daemon level=warn event=%s", event)
		return
	}
	log.Printf("daemon level=warn event=%s "+format, append([]any{event}, args...)...)
}

func (s *Service) shouldLog(key string, interval time.Duration) bool {
	if s == nil {
		return false
	}
	s.logMu.Lock()
	defer s.logMu.Unlock()
	now := time.Now()
	if interval > 0 {
		if last, ok := s.lastLogAt[key]; ok && now.Sub(last) < interval {
			return false
		}
	}
	s.lastLogAt[key] = now
	return true
}

// --- Retention loop ---

func (s *Service) runRetentionLoop(ctx context.Context) {
	s.pruneOldData(ctx)
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.infof("retention_loop_stop", "reason=context_done")
			return
		case <-ticker.C:
			s.pruneOldData(ctx)
		}
	}
}

func (s *Service) pruneOldData(ctx context.Context) {
	if s == nil || s.store == nil {
		return
	}
	retentionDays := 90
	if s.holder != nil {
		if d := s.holder.Get().Data.RetentionDays; d > 0 {
			retentionDays = d
		}
	}

	pruneCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := s.store.PruneOldDays(pruneCtx, retentionDays)
	if err != nil {
		if s.shouldLog("retention_prune_error", 30*time.Second) {
			s.warnf("retention_prune_error", "error=%v", err)
		}
		return
	}
	if removed > 0 {
		s.infof("retention_prune", "removed=%d retention_days=%d", removed, retentionDays)
	}
}

// --- HTTP server ---

func (s *Service) startSocketServer(ctx context.Context) error {
	if strings.TrimSpace(s.cfg.SocketPath) == "" {
		return fmt.Errorf("tracker daemon socket path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create tracker daemon socket dir: %w", err)
	}
	if err := EnsureSocketPathAvailable(s.cfg.SocketPath); err != nil {
		return err
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen tracker daemon socket: %w", err)
	}
	_ = os.Chmod(s.cfg.SocketPath, 0o660)
	s.infof("socket_listening", "path=%s", s.cfg.SocketPath)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/usage", s.handleUsage)
	mux.HandleFunc("/v1/refresh", s.handleRefresh)
	mux.HandleFunc("/v1/login", s.handleLogin)
	mux.HandleFunc("/v1/logout", s.handleLogout)

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       20 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.infof("socket_shutdown", "reason=context_done")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = listener.Close()
		_ = os.Remove(s.cfg.SocketPath)
	}()
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.warnf("socket_server_error", "error=%v", err)
		}
	}()

	return nil
}

func EnsureSocketPathAvailable(socketPath string) error {
	socketPath = strings.TrimSpace(socketPath)
	if socketPath == "" {
		return fmt.Errorf("socket path is empty")
	}

	info, err := os.Stat(socketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat socket path %s: %w", socketPath, err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("socket path %s already exists and is not a socket", socketPath)
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 450*time.Millisecond)
	defer cancel()
	dialer := net.Dialer{Timeout: 450 * time.Millisecond}
	conn, dialErr := dialer.DialContext(dialCtx, "unix", socketPath)
	if dialErr == nil {
		_ = conn.Close()
		return fmt.Errorf("tracker daemon already running on socket %s", socketPath)
	}

	if err := os.Remove(socketPath); err != nil {
		return fmt.Errorf("remove stale daemon socket %s: %w", socketPath, err)
	}
	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		DaemonVersion: strings.TrimSpace(version.Version),
		APIVersion:    APIVersion,
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	out := StatusResponse{
		SessionState: string(s.sess.State()),
	}
	if s.holder != nil {
		cfg := s.holder.Get()
		out.IntervalSeconds = cfg.Tracker.RefreshIntervalSeconds
		out.PeriodDays = cfg.Tracker.PredictionPeriodDays
	}
	if snap := s.orch.Snapshot(); snap != nil {
		out.HasData = true
		out.LastFetchedAt = snap.FetchedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleUsage(w http.ResponseWriter, _ *http.Request) {
	snap := s.orch.Snapshot()
	if snap == nil {
		writeJSON(w, http.StatusOK, core.UsageResult{Error: "no usage data yet"})
		return
	}
	writeJSON(w, http.StatusOK, core.UsageResult{
		Success:    true,
		Summary:    &snap.Summary,
		History:    &snap.History,
		Prediction: &snap.Prediction,
	})
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.sess.State() != core.SessionAuthenticated {
		writeJSON(w, http.StatusOK, RefreshResponse{Triggered: false, Reason: "not_authenticated"})
		return
	}
	go s.orch.Refresh(context.Background())
	writeJSON(w, http.StatusOK, RefreshResponse{Triggered: true})
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	loginCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancel()
		if err := s.sess.Login(loginCtx); err != nil {
			s.warnf("login_failed", "error=%v", err)
		}
	}()
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, Message: "login window opened"})
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.sess.Logout(r.Context()); err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ActionResponse{OK: true, Message: "session cleared"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
