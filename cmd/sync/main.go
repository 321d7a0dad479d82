// Command sync runs a single order sync from the command line and issues
// operator tokens for the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/application/ordersync"
	"github.com/konozy/ordersync/internal/bootstrap"
	"github.com/konozy/ordersync/internal/domain/execution"
	"github.com/konozy/ordersync/internal/infrastructure/auth"
	"github.com/konozy/ordersync/internal/infrastructure/cache"
	"github.com/konozy/ordersync/internal/infrastructure/config"
	"github.com/konozy/ordersync/internal/infrastructure/scheduler"
	"github.com/konozy/ordersync/internal/interfaces/http/dto"
)

var version = "dev"

// errLockHeld signals that another instance is already syncing
var errLockHeld = errors.New("another sync run holds the lock")

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "token":
		err = tokenCommand(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	start := fs.String("start", "", "Window start, RFC3339 (default: end minus -lookback)")
	end := fs.String("end", "", "Window end, RFC3339 (default: now)")
	lookback := fs.Duration("lookback", 0, "Window length when -start is omitted (default: scheduler.lookback)")
	statuses := fs.String("statuses", "", "Comma separated order statuses (default: sync.statuses)")
	noLock := fs.Bool("no-lock", false, "Run even when another instance holds the sync lock")
	orderID := fs.String("order", "", "Sync only this order id, with its settled fees; window flags are ignored")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if *statuses != "" {
		cfg.Sync.Statuses = strings.Split(*statuses, ",")
	}
	if *lookback <= 0 {
		*lookback = cfg.Scheduler.Lookback
	}
	var windowStart, windowEnd time.Time
	if *orderID == "" {
		if windowStart, windowEnd, err = parseWindow(*start, *end, *lookback, time.Now()); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, version)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	var record *execution.Record
	if *orderID != "" {
		record, err = app.Orchestrator.SyncOrder(ctx, *orderID)
	} else {
		record, err = runLocked(ctx, app, ordersync.Request{
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			Statuses:    app.Statuses,
		}, !*noLock)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dto.NewExecutionResponse(record)); err != nil {
		return err
	}
	if record.Status != execution.StatusCompleted {
		return fmt.Errorf("sync finished with status %s", record.Status)
	}
	return nil
}

func runLocked(ctx context.Context, app *bootstrap.App, req ordersync.Request, lock bool) (*execution.Record, error) {
	if !lock {
		return app.Runner.Run(ctx, req)
	}

	lease, ok, err := app.RunLock.Acquire(ctx, scheduler.RunLockKey, app.Config.Sync.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !ok {
		return nil, errLockHeld
	}
	defer func() {
		if err := app.RunLock.Release(context.WithoutCancel(ctx), lease); err != nil {
			app.Logger.Warn("Failed to release sync run lock", zap.Error(err))
		}
	}()
	stopRenewal := cache.KeepAlive(ctx, app.RunLock, lease, app.Config.Sync.LockTTL, func(err error) {
		app.Logger.Warn("Failed to extend sync run lock", zap.Error(err))
	})
	defer stopRenewal()
	return app.Runner.Run(ctx, req)
}

// parseWindow resolves the run window from flags; both bounds come out in UTC
func parseWindow(start, end string, lookback time.Duration, now time.Time) (time.Time, time.Time, error) {
	windowEnd := now.UTC()
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -end: %w", err)
		}
		windowEnd = t.UTC()
	}

	windowStart := windowEnd.Add(-lookback)
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -start: %w", err)
		}
		windowStart = t.UTC()
	}

	if err := execution.ValidateWindow(windowStart, windowEnd); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return windowStart, windowEnd, nil
}

// ---------------------------------------------------------------------------
// token
// ---------------------------------------------------------------------------

func tokenCommand(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	subject := fs.String("subject", "", "Operator the token is issued to (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "Token lifetime")
	scopes := fs.String("scopes", auth.ScopeSyncTrigger+","+auth.ScopeSyncRead, "Comma separated scopes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	token, err := issueToken(cfg.JWT, *subject, *ttl, *scopes)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func issueToken(cfg config.JWTConfig, subject string, ttl time.Duration, scopes string) (string, error) {
	tokens, err := auth.NewTokenService(cfg)
	if err != nil {
		return "", err
	}
	var list []string
	for _, s := range strings.Split(scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}
	return tokens.Issue(subject, ttl, list...)
}

func printUsage() {
	fmt.Println(`Konozy order sync

Usage:
  sync run [flags]      Run one sync and print the execution summary as JSON
  sync token [flags]    Issue an operator token for the HTTP API

run flags:
  -start string         Window start, RFC3339 (default: end minus lookback)
  -end string           Window end, RFC3339 (default: now)
  -lookback duration    Window length when -start is omitted
  -statuses string      Comma separated order statuses
  -no-lock              Ignore the shared sync lock
  -order string         Sync one order id with its settled fees

token flags:
  -subject string       Operator name (required)
  -ttl duration         Token lifetime (default 24h)
  -scopes string        Comma separated scopes (default sync:trigger,sync:read)

The exit status is 1 when the run fails or completes with errors.`)
}
