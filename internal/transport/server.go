package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// DevServerConfig configures an embedded NATS server for local
// development or single-host deployments where a standalone NATS
// process isn't available.
type DevServerConfig struct {
	Port      int    // 0 picks the default NATS port
	JetStream bool   // enable JetStream persistence
	DataDir   string // required when JetStream is enabled
}

// DevServer wraps an embedded *server.Server, matching the teacher's
// internal/nats.EmbeddedServer.
type DevServer struct {
	srv     *server.Server
	cfg     DevServerConfig
	mu      sync.RWMutex
	running bool
}

// NewDevServer validates cfg and builds a DevServer. Start must be
// called before it accepts connections.
func NewDevServer(cfg DevServerConfig) (*DevServer, error) {
	if cfg.Port == 0 {
		cfg.Port = 4222
	}
	if cfg.JetStream && cfg.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required when JetStream is enabled")
	}
	return &DevServer{cfg: cfg}, nil
}

// Start launches the embedded server in the background and blocks
// until it is ready for connections.
func (d *DevServer) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("dev server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       d.cfg.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if d.cfg.JetStream {
		opts.JetStream = true
		opts.StoreDir = d.cfg.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create NATS server: %w", err)
	}
	d.srv = ns

	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("dev server not ready for connections")
	}

	d.running = true
	return nil
}

// Shutdown stops the embedded server and waits for it to fully drain.
func (d *DevServer) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running || d.srv == nil {
		return
	}
	d.srv.Shutdown()
	d.srv.WaitForShutdown()
	d.running = false
	d.srv = nil
}

// URL is the connection string agents should dial. Once the server
// has started, this reflects the actual bound port even if Port was
// -1 (let the OS choose).
func (d *DevServer) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.srv != nil {
		return d.srv.ClientURL()
	}
	return fmt.Sprintf("nats://127.0.0.1:%d", d.cfg.Port)
}

// IsRunning reports whether the embedded server is currently serving.
func (d *DevServer) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}
