// Command nzgo loads a profile configuration, starts the connection-pool,
// health-check, metrics, and status-API stack, and optionally performs a
// one-shot connect-and-probe against a named profile before exiting.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nzconn/nzgo/internal/api"
	"github.com/nzconn/nzgo/internal/client"
	"github.com/nzconn/nzgo/internal/config"
	"github.com/nzconn/nzgo/internal/handshake"
	"github.com/nzconn/nzgo/internal/health"
	"github.com/nzconn/nzgo/internal/metrics"
	"github.com/nzconn/nzgo/internal/pool"
	"github.com/nzconn/nzgo/internal/router"
)

func main() {
	configPath := flag.String("config", "configs/nzgo.yaml", "path to profile configuration file")
	probe := flag.String("probe", "", "connect and probe a single named profile, then exit")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("nzgo starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (%d profiles)", *configPath, len(cfg.Profiles))

	if *probe != "" {
		runProbe(cfg, *probe)
		return
	}

	m := metrics.New()
	r := router.New(cfg)
	pm := pool.NewManager(cfg.Defaults)
	hc := health.NewChecker(r, m, cfg.Defaults)

	pm.SetOnPoolExhausted(func(profile string) {
		m.PoolExhausted(profile)
	})

	pm.SetOnHandshakeComplete(func(profile string, protocol2 int, authMethod string, d time.Duration, err error) {
		m.HandshakeCompleted(profile, handshakeResultLabel(err), d)
		if err == nil {
			m.ProtocolNegotiated(profile, protocol2)
			m.AuthMethodUsed(profile, authMethod)
		}
	})

	pm.StartStatsLoop(5*time.Second, func(s pool.Stats) {
		m.UpdatePoolStats(s.Profile, s.Active, s.Idle, s.Total, s.Waiting)
	})

	hc.Start()

	apiServer := api.NewServer(r, pm, hc, m, cfg.API)
	if err := apiServer.Start(cfg.API.Port); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration...")
		r.Reload(newCfg)
		pm.UpdateDefaults(newCfg.Defaults)
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("nzgo ready - API:%d, %d profiles", cfg.API.Port, len(cfg.Profiles))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()
	pm.Close()

	log.Printf("nzgo stopped")
}

// runProbe performs a single connect-and-handshake against the named
// profile and reports the negotiated session, then exits. Useful for
// verifying a profile's connectivity without standing up the full stack.
func runProbe(cfg *config.Config, profile string) {
	p, ok := cfg.Profiles[profile]
	if !ok {
		log.Fatalf("unknown profile %q", profile)
	}

	securityLevel, err := p.ResolveSecurityLevel()
	if err != nil {
		log.Fatalf("profile %q: %v", profile, err)
	}

	dialTimeout := p.EffectiveDialTimeout(cfg.Defaults)
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout+5*time.Second)
	defer cancel()

	conn, err := client.Connect(ctx, client.Config{
		Host:          p.Host,
		Port:          p.Port,
		Database:      p.Database,
		User:          p.Username,
		Password:      p.Password,
		Options:       p.Options,
		SecurityLevel: securityLevel,
		TLS:           p.BuildTLSConfig(),
		AppName:       p.AppName,
		DialTimeout:   dialTimeout,
		ReadTimeout:   p.EffectiveReadTimeout(cfg.Defaults),
	})
	if err != nil {
		log.Fatalf("probe %q failed: %v", profile, err)
	}
	defer conn.Close()

	result := conn.Result()
	log.Printf("probe %q ok: protocol=%d.%d auth=%s backend_pid=%d",
		profile, result.Protocol1, result.Protocol2, result.AuthMethod, result.BackendPID)

	if err := conn.Ping(ctx); err != nil {
		log.Fatalf("probe %q: ping failed: %v", profile, err)
	}
	log.Printf("probe %q: ping ok", profile)
}

// handshakeResultLabel turns a dial error into the metrics "result" label:
// "ok" on success, or the handshake.Kind name when the failure originated in
// the handshake driver, so dashboards can break failures down by kind
// instead of a single opaque "error" bucket.
func handshakeResultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var herr *handshake.Error
	if errors.As(err, &herr) {
		return herr.Kind.String()
	}
	return "unknown"
}
