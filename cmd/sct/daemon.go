package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anil-g11h/StupidCaloriesTracker/internal/config"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/connectivity"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/daemon"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/dashboard"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/remote"
	"github.com/anil-g11h/StupidCaloriesTracker/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync continuously in the foreground",
	Long: `Run the sync engine until interrupted.

The daemon will:
  1. Queue local records left unsynced by an earlier crash
  2. Sync on startup, then every sync.interval
  3. Probe the remote and sync again as soon as it is reachable
  4. Import *.jsonl files dropped into import.dir, when set
  5. Serve the dashboard, when dashboard.enabled or --dashboard is set

Edits to the config file take effect without a restart for sync.interval.
SIGHUP reopens the log file.`,
	Run: func(cmd *cobra.Command, args []string) {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		if cmd.Flags().Changed("import-dir") {
			dir, _ := cmd.Flags().GetString("import-dir")
			if err := loader.Set("import.dir", dir); err != nil {
				fatal("%v", err)
			}
			cfg = loader.Config()
		}

		e := openEngine()
		defer e.Close()
		logger := logs.Logger("daemon")

		var prober daemon.Prober
		if pinger, ok := e.remote.(remote.Pinger); ok {
			monitor, err := connectivity.NewMonitor(pinger, e.svc, &connectivity.Config{
				Interval: cfg.Connectivity.ProbeInterval,
				Timeout:  cfg.Connectivity.ProbeTimeout,
				Logger:   logs.Logger("net"),
			})
			if err != nil {
				fatal("creating connectivity monitor: %v", err)
			}
			prober = monitor
		}

		if withDashboard || cfg.Dashboard.Enabled {
			server := startDashboard(e, cfg.Dashboard.Port)
			defer server.Stop()
		}

		loader.Watch(func(c *config.Config) {
			logger.Printf("Config reloaded, sync interval %s", c.Sync.Interval)
			e.svc.SetInterval(c.Sync.Interval)
		}, func(err error) {
			logger.Printf("WARNING: ignoring config change: %v", err)
		})

		d, err := daemon.New(e.svc, e.db, prober, &daemon.Config{
			ImportDir:        cfg.Import.Dir,
			DebounceInterval: cfg.Import.Debounce,
			Logger:           logger,
		})
		if err != nil {
			fatal("creating daemon: %v", err)
		}

		ctx, cancel := signalContext()
		defer cancel()

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					if err := logs.Rotate(); err != nil {
						logger.Printf("WARNING: log rotation failed: %v", err)
					}
				case <-ctx.Done():
					return
				}
			}
		}()

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		ui.KV(os.Stdout, [][2]string{
			{"Database", e.db.Path()},
			{"Remote", cfg.Remote.Kind},
			{"Interval", cfg.Sync.Interval.String()},
			{"Import dir", orDash(cfg.Import.Dir)},
		})
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Daemon stopped with error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Daemon stopped")
	},
}

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Serve the live dashboard and admin API without the sync loop",
	Long: `Start the dashboard server for the local database.

Endpoints:
  GET    /ws                   live cycle and status messages
  GET    /api/status           cursor, last sync time and queue counts
  POST   /api/sync             run one cycle now
  GET    /api/queue            queue summary (?min_attempts=N)
  DELETE /api/queue            drop every queued change
  DELETE /api/queue/failed     drop failed changes (?min_attempts=N)
  DELETE /api/cursor           reset the cursor
  POST   /api/requeue          run the recovery scan

Example usage:
  sct dashboard                   # Start on dashboard.port (default 8080)
  sct dashboard --port 9000       # Start on custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		port := cfg.Dashboard.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}

		e := openEngine()
		defer e.Close()

		server := startDashboard(e, port)

		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signalContext()
		defer cancel()
		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			os.Exit(1)
		}
	},
}

// startDashboard serves the dashboard for e and subscribes it to cycle events.
func startDashboard(e *engine, port int) *dashboard.Server {
	logger := logs.Logger("dashboard")
	server := dashboard.NewServer(&dashboard.Config{
		Port:   port,
		Logger: logger,
	})
	e.svc.Subscribe(dashboard.NewHandler(server, e.svc, logger))

	if err := server.Start(); err != nil {
		fatal("failed to start dashboard: %v", err)
	}

	addr := server.GetAddr()
	fmt.Printf("Dashboard server started on http://%s\n", addr)
	fmt.Printf("WebSocket endpoint: ws://%s/ws\n", addr)
	return server
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "Serve the dashboard alongside the daemon")
	daemonCmd.Flags().String("import-dir", "", "Directory watched for *.jsonl imports (overrides import.dir)")

	dashboardCmd.Flags().IntP("port", "p", 8080, "Port to listen on")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dashboardCmd)
}
