// Command airliftd runs one Airlift broadcast node: it loads a declarative
// TOML configuration, wires the producers and flows it describes, and
// serves the HTTP/WebSocket control plane until interrupted.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/davdef/airlift-node-sub001/internal/compose"
	"github.com/davdef/airlift-node-sub001/internal/config"
	"github.com/davdef/airlift-node-sub001/internal/httpapi"
	"github.com/davdef/airlift-node-sub001/internal/node"
	"github.com/davdef/airlift-node-sub001/internal/peaks"
	"github.com/davdef/airlift-node-sub001/internal/recorder"
	"github.com/davdef/airlift-node-sub001/internal/registry"
	"github.com/davdef/airlift-node-sub001/internal/wsapi"
)

func main() {
	addr := flag.String("addr", ":8090", "HTTP/WebSocket control-plane listen address")
	configPath := flag.String("config", "airlift.toml", "path to the node's TOML configuration")
	historyRetention := flag.Duration("history-retention", peaks.DefaultRetention, "maximum age of retained peak samples (0 uses the 7-day default)")
	historyMaxSamples := flag.Int("history-max-samples", 0, "maximum retained peak samples per flow (0 uses the default)")
	watch := flag.Bool("watch", true, "hot-reload the configuration file on change")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	issues := cfg.Validate()
	for _, iss := range issues {
		slog.Warn("config issue", "key", iss.Key, "message", iss.Message)
	}

	reg := registry.New()
	history := peaks.New(*historyRetention, *historyMaxSamples)
	n := node.New(reg, history)
	n.SetConfigurationIssues(toNodeIssues(issues))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := compose.Apply(ctx, cfg, reg, n); err != nil {
		log.Fatalf("[compose] %v", err)
	}

	if *watch {
		w, err := config.WatchFile(*configPath, func(newCfg config.Config, newIssues []config.Issue) {
			slog.Info("config changed, restarting node", "path", *configPath)
			n.SetConfigurationIssues(toNodeIssues(newIssues))
			n.Stop()
			n.Reset()
			if err := compose.Apply(ctx, newCfg, reg, n); err != nil {
				slog.Error("reload: rebuild node", "err", err)
				return
			}
			if err := n.Start(ctx); err != nil {
				slog.Error("reload: restart node", "err", err)
			}
		})
		if err != nil {
			log.Fatalf("[config] watch: %v", err)
		}
		defer w.Close()
	}

	if err := n.Start(ctx); err != nil {
		log.Fatalf("[node] %v", err)
	}

	rec := recorder.NewManager(reg, history)

	srv := httpapi.New(n, rec)
	wsapi.NewHandler(n, rec).Register(srv.Echo())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	if err := srv.Run(ctx, *addr); err != nil {
		log.Fatalf("[httpapi] %v", err)
	}

	n.Stop()
}

func toNodeIssues(issues []config.Issue) []node.ConfigurationIssue {
	out := make([]node.ConfigurationIssue, 0, len(issues))
	for _, iss := range issues {
		out = append(out, node.ConfigurationIssue{Key: iss.Key, Message: iss.Message})
	}
	return out
}
