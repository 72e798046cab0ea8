// Command indexer is the synchronization engine's entry point: it wires the
// store, fetcher, ingest writer, genesis bootstrap, sync driver, live feed
// and scheduler together behind three cobra subcommands, mirroring
// cmd/synnergy's command-tree shape (grounded there) adapted to this
// binary's three concrete operations.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lamden-indexer/internal/config"
	"lamden-indexer/internal/fetch"
	"lamden-indexer/internal/genesis"
	"lamden-indexer/internal/ingest"
	"lamden-indexer/internal/livefeed"
	"lamden-indexer/internal/notify"
	"lamden-indexer/internal/scheduler"
	"lamden-indexer/internal/status"
	"lamden-indexer/internal/store"
	"lamden-indexer/internal/sync"
)

// engine bundles every wired component a subcommand might need.
type engine struct {
	cfg       *config.Config
	log       *logrus.Entry
	store     *store.Store
	cursors   *config.Cursors
	notifier  notify.Notifier
	fetcher   *fetch.Fetcher
	writer    *ingest.Writer
	bootstrap *genesis.Bootstrap
	driver    *sync.Driver
}

func buildEngine(env string) (*engine, error) {
	cfg, err := config.Load(env)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logrus.New()
	if level, lvlErr := logrus.ParseLevel(cfg.Logging.Level); lvlErr == nil {
		log.SetLevel(level)
	}
	root := log.WithField("service", "indexer")

	db, err := store.Open(cfg.Store.DSN, root)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	cursors := config.NewCursors(db)

	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.TelegramToken != "" {
		notifier = notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, root)
	}

	fetcher := fetch.New(db, cfg.Sync.RetrieveFrom, cfg.Sync.GenesisDir, notifier, root)
	writer := ingest.New(db, cfg.Sync.BlockDir, cfg.Sync.SaveBlocksFile, root)
	bootstrap := genesis.New(db, genesis.OSFileSystem{}, cfg.Sync.GenesisDir, root)
	driver := sync.New(cursors, fetcher, writer, bootstrap, notifier, root)

	return &engine{
		cfg: cfg, log: root, store: db, cursors: cursors, notifier: notifier,
		fetcher: fetcher, writer: writer, bootstrap: bootstrap, driver: driver,
	}, nil
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		e.log.WithError(err).Warn("error closing store")
	}
}

// serveStatus runs the internal health/metrics listener until ctx is
// cancelled, logging (not fatally) if the listener fails to start.
func serveStatus(ctx context.Context, addr string, handler http.Handler, log *logrus.Entry) {
	if addr == "" {
		return
	}
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Warn("status server stopped")
	}
}

func rootContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func main() {
	var env string

	root := &cobra.Command{Use: "indexer"}
	root.PersistentFlags().StringVar(&env, "env", "", "environment overlay config (config/<env>.yaml)")

	root.AddCommand(serveCmd(&env))
	root.AddCommand(syncOnceCmd(&env))
	root.AddCommand(bootstrapCmd(&env))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveCmd runs the live feed and the scheduled sync driver together until
// the process is signalled to stop (spec.md §1's "continuous operation").
func serveCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the live feed and scheduled sync driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(*env)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := rootContext()

			if err := e.driver.EnsureGenesis(ctx); err != nil {
				e.log.WithError(err).Error("genesis bootstrap failed")
				e.notifier.Send(fmt.Sprintf("genesis bootstrap failed: %v", err))
				return err
			}

			feed := livefeed.New(e.cfg, e.cursors, e.writer, e.notifier, e.log)
			go feed.Run(ctx)

			sched := scheduler.New(e.cfg.Sync.JobIntervalSync, e.driver.Tick, e.log)

			statusSrv := status.New(e.cursors, e.log)
			go serveStatus(ctx, e.cfg.Status.ListenAddr, statusSrv, e.log)

			return sched.Start(ctx)
		},
	}
}

// syncOnceCmd runs a single sync tick and exits; useful for cron-driven
// deployments that don't want an in-process scheduler.
func syncOnceCmd(env *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-once",
		Short: "run a single Idle->Syncing->Walking->Idle pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(*env)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := rootContext()
			if err := e.driver.EnsureGenesis(ctx); err != nil {
				return fmt.Errorf("genesis bootstrap: %w", err)
			}
			return e.driver.Tick(ctx)
		},
	}
}

// bootstrapCmd forces the genesis load, bypassing the genesis_processed
// guard when --force is given (grounded on original_source/cli.py's
// explicit "reprocess genesis" operator command).
func bootstrapCmd(env *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "load the genesis block and its state changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildEngine(*env)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := rootContext()
			if force {
				return e.bootstrap.Run(ctx)
			}
			return e.driver.EnsureGenesis(ctx)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reprocess genesis even if already marked done")
	return cmd
}
