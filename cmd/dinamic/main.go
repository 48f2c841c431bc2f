// ABOUTME: Entry point for the dinamic deployment engine.
// ABOUTME: Wires config, store, deployer and plugin manager behind CLI commands and the admin server.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/2389/dinamic/internal/admin"
	"github.com/2389/dinamic/internal/config"
	"github.com/2389/dinamic/internal/deploy"
	"github.com/2389/dinamic/internal/plugin"
	"github.com/2389/dinamic/internal/store"
	"github.com/2389/dinamic/internal/watch"
)

var (
	port         string
	dbPath       string
	clean        bool
	historyLimit int
	serveWatch   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dinamic",
		Short: "dinamic - plugin overlay deployment engine",
		Long: `dinamic synthesizes the Dinamic tree from the core sources and the enabled plugins.

For every overlay folder (Assets, Controller, Data, Lib, Model, Table, View,
Error, Worker, XMLView) the highest-precedence plugin wins, PHP classes are
emitted as thin overlays in the Dinamic namespace, and XML views are merged
with plugin extensions. The page registry is rebuilt from the deployed
controllers after each run.

Quick Start:
  dinamic plugins list          # Show installed plugins
  dinamic plugins enable Shop   # Enable a plugin and redeploy
  dinamic deploy                # Rebuild the Dinamic tree
  dinamic serve                 # Start the admin API on port 9010`,
	}
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: DINAMIC_DB_PATH or the XDG data dir)")

	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Rebuild the Dinamic tree from the core and enabled plugins",
		Long: `Rebuild the Dinamic tree, run plugin lifecycle hooks and refresh the page registry.

With --history, print the most recent deployment runs instead of deploying.

Environment Variables:
  DINAMIC_ROOT          Installation root (default: .)
  DINAMIC_CORE_DIR      Core sources (default: $DINAMIC_ROOT/Core)
  DINAMIC_PLUGINS_DIR   Plugin sources (default: $DINAMIC_ROOT/Plugins)
  DINAMIC_OUTPUT_DIR    Output tree (default: $DINAMIC_ROOT/Dinamic)
  DINAMIC_IGNORE        Comma-separated glob patterns to skip, e.g. "Assets/**/*.map"`,
		RunE: runDeploy,
	}
	deployCmd.Flags().BoolVar(&clean, "clean", true, "Remove the output folders before linking")
	deployCmd.Flags().IntVar(&historyLimit, "history", 0, "Show the last N deployment runs instead of deploying")

	pluginsCmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect and manage plugins",
	}
	pluginsCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List installed plugins with their state and compatibility",
			RunE:  runPluginsList,
		},
		&cobra.Command{
			Use:   "enable <name>",
			Short: "Enable a plugin and redeploy",
			Args:  cobra.ExactArgs(1),
			RunE:  pluginAction((*plugin.Manager).Enable, "enabled"),
		},
		&cobra.Command{
			Use:   "disable <name>",
			Short: "Disable a plugin and redeploy",
			Args:  cobra.ExactArgs(1),
			RunE:  pluginAction((*plugin.Manager).Disable, "disabled"),
		},
		&cobra.Command{
			Use:   "update <name>",
			Short: "Re-run a plugin's update hook and redeploy",
			Args:  cobra.ExactArgs(1),
			RunE:  pluginAction((*plugin.Manager).Update, "updated"),
		},
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Delete a disabled plugin from disk",
			Args:  cobra.ExactArgs(1),
			RunE:  runPluginsRemove,
		},
	)

	pagesCmd := &cobra.Command{
		Use:   "pages [prefix]",
		Short: "List the page registry, optionally only names starting with prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPages,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the admin HTTP server",
		Long: `Start the admin API.

Endpoints:
  GET  /healthz
  GET  /admin/plugins
  POST /admin/plugins/{name}/enable|disable|update
  POST /admin/deploy?clean=true
  GET  /admin/pages
  GET  /admin/deploys?limit=20

Environment Variables:
  DINAMIC_PORT   Server port (default: 9010)`,
		RunE: runServe,
	}
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (default: DINAMIC_PORT or 9010)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Redeploy when core or plugin sources change")

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Redeploy whenever core or plugin sources change",
		RunE:  runWatch,
	}

	rootCmd.AddCommand(deployCmd, pluginsCmd, pagesCmd, serveCmd, watchCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired components shared by all commands.
type app struct {
	cfg      *config.Config
	store    *store.Store
	deployer *deploy.Deployer
	plugins  *plugin.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		if cfg.DBPath, err = config.ValidateDBPath(dbPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newApp(cfg)
}

func newApp(cfg *config.Config) (*app, error) {
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	settings, err := s.Settings()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	d := deploy.New(deploy.Config{
		CoreDir:          cfg.CoreDir,
		PluginsDir:       cfg.PluginsDir,
		OutputDir:        cfg.OutputDir,
		Namespace:        cfg.Namespace,
		HomepageFallback: cfg.HomepageFallback,
		Ignore:           cfg.Ignore,
	}, s, settings, s)

	m := plugin.NewManager(plugin.Options{
		PluginsDir:  cfg.PluginsDir,
		CoreVersion: cfg.CoreVersion,
		PHPVersion:  cfg.PHPVersion,
		Extensions:  cfg.PHPExtensions,
	}, s, func(plugins []string, clean bool) error {
		_, err := d.Run(plugins, clean)
		return err
	}, nil)

	return &app{cfg: cfg, store: s, deployer: d, plugins: m}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func runDeploy(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if historyLimit > 0 {
		runs, err := a.store.ListDeployRuns(historyLimit)
		if err != nil {
			return fmt.Errorf("failed to list deploy runs: %w", err)
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %s  %-8s clean=%v plugins=[%s]", r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.ID, r.State, r.Clean, strings.Join(r.Plugins, ","))
			if r.Error != "" {
				line += fmt.Sprintf("  stage=%q error=%q", r.Stage, r.Error)
			}
			fmt.Println(line)
		}
		return nil
	}

	return a.plugins.Deploy(cmd.Context(), clean)
}

func runPluginsList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	plugins, err := a.plugins.List()
	if err != nil {
		return err
	}
	if len(plugins) == 0 {
		fmt.Printf("No plugins found in %s\n", a.cfg.PluginsDir)
		return nil
	}
	for _, p := range plugins {
		status := "disabled"
		if p.Enabled {
			status = fmt.Sprintf("enabled #%d", p.Order)
		}
		line := fmt.Sprintf("%-24s %-8g %-12s", p.Name, p.Version, status)
		switch {
		case p.LoadErr != nil:
			line += "  manifest error: " + p.LoadErr.Error()
		case !p.Compatible:
			line += "  incompatible: " + p.CompatibilityReason
		}
		fmt.Println(line)
	}
	return nil
}

func pluginAction(action func(*plugin.Manager, context.Context, string) error, done string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := action(a.plugins, cmd.Context(), args[0]); err != nil {
			return err
		}
		log.Printf("Plugin %s %s", args[0], done)
		return nil
	}
}

func runPluginsRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.plugins.Remove(args[0]); err != nil {
		return err
	}
	log.Printf("Plugin %s removed", args[0])
	return nil
}

func runPages(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var pages []*store.Page
	if len(args) > 0 {
		pages, err = a.store.SearchPages(args[0])
	} else {
		pages, err = a.store.ListPages()
	}
	if err != nil {
		return fmt.Errorf("failed to list pages: %w", err)
	}
	for _, p := range pages {
		hidden := ""
		if !p.ShowOnMenu {
			hidden = " (hidden)"
		}
		fmt.Printf("%-32s %-12s %-16s %4d  %s%s\n", p.Name, p.Menu, p.Submenu, p.OrderNum, p.Title, hidden)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if port == "" {
		port = a.cfg.Port
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveWatch {
		w, err := newWatcher(a)
		if err != nil {
			return err
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Printf("Warning: watcher stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: ":" + port, Handler: newServer(a)}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Printf("dinamic admin listening on %s", srv.Addr)
	log.Printf("Database: %s", a.cfg.DBPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func newServer(a *app) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	})

	admin.NewHandlers(a.plugins, a.store).RegisterRoutes(r)
	return r
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	w, err := newWatcher(a)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return w.Run(ctx)
}

func newWatcher(a *app) (*watch.Watcher, error) {
	return watch.New(watch.Config{
		Roots:   []string{a.cfg.CoreDir, a.cfg.PluginsDir},
		Exclude: []string{a.cfg.OutputDir},
	}, func(ctx context.Context) error {
		return a.plugins.Deploy(ctx, true)
	})
}
