package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/api"
	"github.com/mailsweep/mailsweep/internal/bulk"
	"github.com/mailsweep/mailsweep/internal/events"
	"github.com/mailsweep/mailsweep/internal/gmail"
	"github.com/mailsweep/mailsweep/internal/keepalive"
	"github.com/mailsweep/mailsweep/internal/oauth"
	"github.com/mailsweep/mailsweep/internal/queue"
	"github.com/mailsweep/mailsweep/internal/scheduler"
	"github.com/mailsweep/mailsweep/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run mailsweep as a daemon with an HTTP API and scheduled analyses",
	Long: `Run mailsweep as a long-running daemon. The daemon runs in the
foreground and provides:
  - HTTP API server on the configured port (default: 8080)
  - Scheduled mailbox analyses from config.toml
  - A persistent job queue that clients enqueue work into

Configure schedules in config.toml:
  [[schedules]]
  account = "you@gmail.com"
  schedule = "0 2 * * *"   # 2am daily (cron format)
  query = "category:promotions"
  enabled = true

Cron format: minute hour day-of-month month day-of-week
  Examples:
    0 2 * * *     = 2:00 AM daily
    */15 * * * *  = Every 15 minutes
    0 0 * * 0     = Midnight on Sundays
    0 8,18 * * *  = 8 AM and 6 PM daily

Use Ctrl+C to stop the daemon gracefully.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Validate security posture before doing any work
	if err := cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	if cfg.OAuth.ClientSecrets == "" {
		return errOAuthNotConfigured()
	}

	account, err := activeAccount()
	if err != nil {
		return err
	}

	// Open database
	s, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer s.Close()

	// Create OAuth manager and the credential gate for the account
	oauthMgr, err := oauth.NewManager(cfg.OAuth.ClientSecrets, cfg.TokensDir(), logger)
	if err != nil {
		return wrapOAuthError(fmt.Errorf("create oauth manager: %w", err))
	}
	if !oauthMgr.HasToken(account) {
		return fmt.Errorf("account %s is not authorized (run 'mailsweep authorize %s' first)", account, account)
	}
	gate, err := oauthMgr.Gate(account)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	// Gmail client and the bulk engine behind the job queue
	client := gmail.NewClient(gate,
		gmail.WithLogger(logger),
		gmail.WithRateLimiter(gmail.NewRateLimiter(float64(cfg.Gmail.RateLimitQPS))),
	)
	defer client.Close()

	engine := bulk.NewEngine(client, s,
		bulk.WithLogger(logger),
		bulk.WithAccount(account),
	)
	reg := queue.NewRegistry()
	engine.Register(reg)

	q := queue.New(reg,
		queue.WithGate(gate),
		queue.WithActionLog(s),
		queue.WithAccount(account),
		queue.WithKeeper(keepalive.New(logger)),
		queue.WithLogger(logger),
	)
	q.Start()
	defer q.Close()

	// Create and configure the scheduler
	sched := scheduler.New(q).WithLogger(logger)
	count, errs := sched.AddFromConfig(cfg, account)
	for _, err := range errs {
		logger.Error("failed to add schedule", "error", err)
	}
	if count == 0 {
		logger.Info("no scheduled analyses configured, running API-only")
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sched.Start()

	// Resume the queue automatically once a re-run of 'mailsweep
	// authorize' drops a fresh token
	go watchAuth(ctx, q, gate)

	// Create and start API server
	apiServer := api.NewServer(cfg, q, s, sched, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	fmt.Printf("mailsweep daemon started\n")
	fmt.Printf("  Account:    %s\n", account)
	fmt.Printf("  API server: http://%s\n", net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)))
	fmt.Printf("  Schedules:  %d\n", count)
	fmt.Printf("  Database:   %s\n", cfg.DatabasePath())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop.")
	fmt.Println()

	// Print schedule info
	for _, status := range sched.Status() {
		fmt.Printf("  %s: next analysis at %s\n", status.Account, status.NextRun.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Println()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
		fmt.Printf("\nReceived %s, shutting down...\n", sig)
	case err := <-serverErr:
		logger.Error("API server error", "error", err)
		fmt.Printf("\nAPI server error: %v\n", err)
	case <-ctx.Done():
		logger.Info("context cancelled")
	}

	// Graceful shutdown
	fmt.Println("Shutting down API server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}

	fmt.Println("Stopping scheduler...")
	schedCtx := sched.Stop()
	select {
	case <-schedCtx.Done():
	case <-time.After(30 * time.Second):
		fmt.Println("Scheduler stop timed out after 30 seconds.")
	}

	// Close cancels the running job at its next batch boundary.
	fmt.Println("Stopping job queue...")
	q.Close()

	fmt.Println("Shutdown complete.")
	return nil
}

// watchAuth resumes the queue after an authorization pause. When the
// queue raises auth-required, the user is expected to run 'mailsweep
// authorize' in another terminal; this loop notices the fresh token by
// retrying the gate and unblocks the queue without a daemon restart.
func watchAuth(ctx context.Context, q *queue.Queue, gate *oauth.Gate) {
	updates, cancel := q.Bus().Subscribe()
	defer cancel()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	pending := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if ev.Kind == events.AuthRequired {
				pending = true
				logger.Warn("gmail authorization expired; run 'mailsweep authorize' to resume the queue")
			}
		case <-ticker.C:
			if !pending {
				continue
			}
			if err := gate.EnsureFresh(ctx); err == nil {
				pending = false
				logger.Info("authorization restored, resuming queue")
				q.NotifyAuthorized()
			}
		}
	}
}
