// Command kote runs a kote messaging peer as a standalone daemon: one
// local destination, its contacts, and the sender/receiver/pinger tasks
// that keep them in sync, grounded on the teacher's runCLIPeer path in
// main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/l-n-s/kote-go/internal/config"
	"github.com/l-n-s/kote-go/internal/engine"
	"github.com/l-n-s/kote-go/internal/monitor"
	"github.com/l-n-s/kote-go/internal/protocol"
)

var log = logging.Logger("kote/cmd")

var (
	dataDirFlag = flag.String("datadir", "", "peer data directory (default: platform config dir, or $KOTE_DATADIR)")
	showVersion = flag.Bool("version", false, "show version")
)

var appVersion = "dev"

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("kote v%s\n", appVersion)
		return
	}

	dataDir := *dataDirFlag
	if dataDir == "" {
		dataDir = config.Default().DataDir
	}
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		log.Fatalw("invalid data directory", "err", err)
	}

	cfgPath := filepath.Join(absDir, "kote.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalw("failed to load config", "path", cfgPath, "err", err)
	}
	cfg.DataDir = absDir
	logging.SetLogLevelRegex("kote/.*", cfg.Logging.Level)

	printBanner(absDir, cfgPath, cfg, created)

	var mon *monitor.Server
	if cfg.Monitor.Addr != "" {
		mon = monitor.New(cfg.Monitor.Addr)
		mon.Start()
		defer mon.Stop()
		log.Infow("monitor feed listening", "addr", cfg.Monitor.Addr)
	}

	hooks := &daemonHooks{monitor: mon}

	eng := engine.New(engine.Config{
		DataDir:            absDir,
		GatewayAddr:        cfg.Gateway.Address,
		SessionNamePrefix:  cfg.Session.NamePrefix,
		IgnoreUnauthorized: cfg.Session.IgnoreUnauthorized,
		StatsDBPath:        filepath.Join(absDir, cfg.Stats.DBPath),
	}, hooks)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down gracefully...")
		cancel()
	}()

	if err := eng.Start(ctx); err != nil {
		log.Fatalw("engine failed to start", "err", err)
	}

	<-ctx.Done()
	eng.Stop()
}

func printBanner(dataDir, cfgPath string, cfg config.Config, created bool) {
	fmt.Println("kote peer")
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Printf("Config file:    %s\n", cfgPath)
	if created {
		fmt.Println("(wrote a fresh default config)")
	}
	fmt.Printf("Gateway:        %s\n", cfg.Gateway.Address)
	if cfg.Monitor.Addr != "" {
		fmt.Printf("Monitor feed:   ws://%s/events\n", cfg.Monitor.Addr)
	}
	fmt.Println()
}

// daemonHooks logs engine events and forwards them to the optional local
// monitor feed (delivery stats are recorded by the engine itself, not
// here); it otherwise behaves like
// engine.NoopHooks for events that have nowhere to go without a UI
// attached (spec.md §1 Non-goals: no bundled client in this mode).
type daemonHooks struct {
	engine.NoopHooks
	monitor *monitor.Server
}

func (h *daemonHooks) OnPrivateMessage(m protocol.Message) {
	log.Infow("private message", "from", m.Destination, "name", m.Name)
	h.publish("private_message", m)
}

func (h *daemonHooks) OnPublicMessage(m protocol.Message) {
	log.Infow("public message", "from", m.Destination, "name", m.Name)
	h.publish("public_message", m)
}

func (h *daemonHooks) OnAuthorization(m protocol.Message) {
	log.Infow("authorization", "from", m.Destination, "content", m.Content)
	h.publish("authorization", m)
}

func (h *daemonHooks) OnUnauthorized(m protocol.Message) {
	log.Warnw("unauthorized", "from", m.Destination, "name", m.Name)
	h.publish("unauthorized", m)
}

func (h *daemonHooks) OnContactOnline(name string) {
	log.Infow("contact online", "name", name)
	if h.monitor != nil {
		h.monitor.Publish(monitor.Event{Type: "contact_online", Name: name})
	}
}

func (h *daemonHooks) OnContactOffline(name string) {
	log.Infow("contact offline", "name", name)
	if h.monitor != nil {
		h.monitor.Publish(monitor.Event{Type: "contact_offline", Name: name})
	}
}

func (h *daemonHooks) publish(eventType string, m protocol.Message) {
	if h.monitor != nil {
		h.monitor.Publish(monitor.Event{
			Type:    eventType,
			Address: m.Destination,
			Name:    m.Name,
			Content: m.Content,
		})
	}
}
