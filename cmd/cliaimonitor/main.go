package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentforge/coordinator/internal/agent"
	"github.com/agentforge/coordinator/internal/alerting"
	"github.com/agentforge/coordinator/internal/api"
	"github.com/agentforge/coordinator/internal/assignment"
	"github.com/agentforge/coordinator/internal/clock"
	ctxassembler "github.com/agentforge/coordinator/internal/context"
	"github.com/agentforge/coordinator/internal/config"
	"github.com/agentforge/coordinator/internal/eventlog"
	"github.com/agentforge/coordinator/internal/instance"
	"github.com/agentforge/coordinator/internal/monitor"
	"github.com/agentforge/coordinator/internal/orchestrator"
	"github.com/agentforge/coordinator/internal/storage"
	"github.com/agentforge/coordinator/internal/tasks"
	"github.com/agentforge/coordinator/internal/transport"
)

// ANSI color codes for terminal output.
const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Substrate configuration file")
	rosterPath := flag.String("roster", "configs/roster.yaml", "Agent roster file for the default project")
	projectID := flag.String("project", "default", "Project id to bootstrap")
	port := flag.Int("port", 8089, "Monitoring dashboard HTTP port")
	status := flag.Bool("status", false, "Show status of running instance")
	stop := flag.Bool("stop", false, "Stop running instance gracefully")
	forceStop := flag.Bool("force-stop", false, "Force kill running instance")
	flag.Parse()

	basePath, err := getBasePath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to determine base path: %v\n", err)
		os.Exit(1)
	}

	if !filepath.IsAbs(*configPath) {
		*configPath = filepath.Join(basePath, *configPath)
	}
	if !filepath.IsAbs(*rosterPath) {
		*rosterPath = filepath.Join(basePath, *rosterPath)
	}

	pidFilePath := filepath.Join(basePath, "data", "coordinator.pid")
	instanceMgr := instance.NewManager(pidFilePath, "", *port)

	if *status {
		showInstanceStatus(instanceMgr, *port)
		os.Exit(0)
	}
	if *stop || *forceStop {
		stopInstance(instanceMgr, *forceStop)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Backends.MonitorAddr != "" {
		if p, scanErr := parsePort(cfg.Backends.MonitorAddr); scanErr == nil && !portFlagSet() {
			*port = p
		}
	}

	existing, err := instanceMgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to check for existing instance: %v\n", err)
		os.Exit(1)
	}
	if existing != nil && existing.IsRunning {
		fmt.Fprintf(os.Stderr, "A coordinator instance is already running (pid %d, port %d)\n", existing.PID, existing.Port)
		os.Exit(1)
	}

	dataDir := filepath.Join(basePath, cfg.DataRoot)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create data directory: %v\n", err)
		os.Exit(1)
	}

	db, err := storage.Open(filepath.Join(dataDir, "coordinator.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	taskStore := tasks.NewStore(db.DB)
	log := eventlog.NewLog(db.DB)
	contextStore := ctxassembler.NewStore(db.DB)
	if err := storage.InitAll(taskStore, log, contextStore); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize stores: %v\n", err)
		os.Exit(1)
	}

	reg, err := agent.LoadRoster(*rosterPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load agent roster, starting with an empty one: %v\n", err)
		reg = agent.NewRegistry()
	}

	fmt.Print(colorGreen)
	printBanner()
	fmt.Print(colorReset)

	assign := assignment.NewEngine(reg)
	notifier := alerting.NewDesktopNotifier("agentforge-coordinator", fmt.Sprintf("http://localhost:%d", *port))

	var registry *orchestrator.Registry
	mon := monitor.NewServer(func(id string) (monitor.Sources, bool) {
		p, ok := registry.Get(id)
		if !ok {
			return monitor.Sources{}, false
		}
		return p.Sources(), true
	})

	deps := orchestrator.Deps{Clock: clock.NewReal(), Alerts: notifier, Monitor: mon}
	registry = orchestrator.NewRegistry(taskStore, log, contextStore, deps)

	proj := orchestrator.NewProject(*projectID, reg, taskStore, log, contextStore, assign, deps)
	registry.Register(proj)

	facade := api.NewWithRegistry(registry)

	var dispatcher *transport.Dispatcher
	if cfg.Backends.NATSURL != "" {
		natsClient, err := transport.NewClient(cfg.Backends.NATSURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: NATS unavailable, facade commands stay in-process only: %v\n", err)
		} else {
			defer natsClient.Close()
			dispatcher = transport.NewDispatcher(natsClient, facade)
			if err := dispatcher.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to start facade dispatcher: %v\n", err)
				dispatcher = nil
			} else {
				defer dispatcher.Stop()
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proj.RunSweeps(ctx)
	go mon.Run(ctx.Done())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: mon.Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpSrv.ListenAndServe()
	}()

	if err := instanceMgr.WritePIDFile(os.Getpid(), *port, basePath); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write PID file: %v\n", err)
	}
	fmt.Printf("  Dashboard ready at http://localhost:%d\n", *port)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		}
	case <-shutdown:
		fmt.Println("Shutting down (signal received)...")
	case <-mon.ShutdownRequested():
		fmt.Println("Shutting down (API request)...")
	}

	cancel()
	instanceMgr.RemovePIDFile()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
	}
	fmt.Println("Goodbye!")
}

func portFlagSet() bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "port" {
			set = true
		}
	})
	return set
}

func parsePort(addr string) (int, error) {
	var p int
	_, err := fmt.Sscanf(addr, ":%d", &p)
	return p, err
}

func getBasePath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return os.Getwd()
	}
	dir := filepath.Dir(exe)
	if filepath.Base(dir) == "exe" || filepath.Base(filepath.Dir(dir)) == "go-build" {
		return os.Getwd()
	}
	if filepath.Base(dir) == "bin" {
		return filepath.Dir(dir), nil
	}
	return dir, nil
}

func showInstanceStatus(mgr *instance.InstanceManager, port int) {
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	if info == nil {
		fmt.Println("No coordinator instance is currently running")
		return
	}
	fmt.Printf("Instance:    RUNNING\n  PID:       %d\n  Port:      %d\n  Started:   %s (%s ago)\n  Dashboard: http://localhost:%d\n",
		info.PID, info.Port, info.StartTime.Format("2006-01-02 15:04:05"), time.Since(info.StartTime).Round(time.Second), info.Port)
}

func stopInstance(mgr *instance.InstanceManager, force bool) {
	info, err := mgr.CheckExistingInstance()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if info == nil {
		fmt.Println("No coordinator instance is currently running")
		return
	}
	if force {
		if err := instance.KillProcess(info.PID); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to kill process: %v\n", err)
			os.Exit(1)
		}
		time.Sleep(time.Second)
		mgr.RemovePIDFile()
		fmt.Println("Instance terminated")
		return
	}
	if err := instance.SendShutdownRequest(info.Port); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send shutdown request: %v\n", err)
		os.Exit(1)
	}
	if instance.WaitForPortToBeAvailable(info.Port, 5*time.Second) {
		fmt.Println("Instance stopped successfully")
	} else {
		fmt.Println("Warning: instance may still be running")
	}
}

func printBanner() {
	fmt.Println()
	fmt.Println("  Agent Coordination Substrate")
	fmt.Println("  ----------------------------")
	fmt.Println()
}
