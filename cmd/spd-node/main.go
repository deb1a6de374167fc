package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-ims-packets/internal/metrics"
	"github.com/kstaniek/go-ims-packets/internal/node"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/server"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("spd-node %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	h := initHub(cfg, l)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	busCleanup, err := startBus(ctx, cfg, h, l, &wg)
	if err != nil {
		l.Error("bus_init_error", "error", err)
		cancel()
		wg.Wait()
		busCleanup()
		return
	}

	api := node.NewAPI(nil, node.WithHub(h), node.WithVersion(nodeVersion(version)))
	n := node.New(node.WithCycle(cfg.cycle), node.WithLogger(l))
	ports, portsCleanup, err := initPorts(ctx, cfg, api, l)
	if err != nil {
		l.Error("port_init_error", "error", err)
		cancel()
		wg.Wait()
		busCleanup()
		return
	}
	for _, p := range ports {
		if err := n.AddPort(p); err != nil {
			l.Error("port_add_error", "error", err)
		}
	}
	wg.Add(1)
	go func() { defer wg.Done(); _ = n.Run(ctx) }()
	if hasAsync(ports) {
		wg.Add(1)
		go func() { defer wg.Done(); runAsync(ctx, n, cfg.cycle) }()
	}

	var srv *server.Server
	if cfg.listenAddr != "" {
		srv = server.NewServer(
			server.WithPortTable(n),
			server.WithPortFactory(tcpPortFactory(cfg, api)),
			server.WithLogger(l),
			server.WithMaxClients(cfg.maxClients),
			server.WithReadDeadline(cfg.clientReadTO),
		)
		srv.SetListenAddr(cfg.listenAddr)
		go func() {
			if err := srv.Serve(ctx); err != nil {
				l.Error("tcp_server_error", "error", err)
				cancel()
			}
		}()
		go advertise(ctx, cfg, srv, l)
	}

	// Ready when the listener (if any) is bound and the context is live.
	metrics.SetReadinessFunc(func() bool {
		if srv != nil {
			select {
			case <-srv.Ready():
			default:
				return false
			}
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
	}
	cancel()
	if srv != nil {
		sdCtx, sdCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := srv.Shutdown(sdCtx); err != nil {
			l.Warn("tcp_shutdown_error", "error", err)
		}
		sdCancel()
	}
	wg.Wait()
	portsCleanup()
	busCleanup()
}

// tcpPortFactory makes every TCP connection a responder port using the
// default wire settings.
func tcpPortFactory(cfg *appConfig, api *node.API) server.PortFactory {
	ps := cfg.withDefaults(portSpec{Kind: "tcp", Role: "responder"})
	return func(name string, src transport.Source, dst transport.Sink) (*port.Port, error) {
		ps.Name = name
		return newPort(cfg.sizing, ps, src, dst, api)
	}
}

func hasAsync(ports []*port.Port) bool {
	for _, p := range ports {
		if p.IsAsync() {
			return true
		}
	}
	return false
}

// runAsync services async ports on their own goroutine at the node cycle.
func runAsync(ctx context.Context, n *node.Node, cycle time.Duration) {
	t := time.NewTicker(cycle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.ServiceAsyncPorts()
		}
	}
}

// advertise starts mDNS once the listener is bound.
func advertise(ctx context.Context, cfg *appConfig, srv *server.Server, l *slog.Logger) {
	if !cfg.mdnsEnable {
		return
	}
	select {
	case <-srv.Ready():
	case <-ctx.Done():
		return
	}
	var portNum int
	if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
		portNum, _ = strconv.Atoi(p)
	}
	cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
		return
	}
	l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
	go func() { <-ctx.Done(); cleanupMDNS() }()
}
