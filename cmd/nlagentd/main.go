// Command nlagentd mediates between the kernel routing table and FPM/NLM/
// PRPD routing peers, propagating routing events between enabled roles
// according to a configured subscription graph.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nlagent/nlagentd/internal/agent"
	"github.com/nlagent/nlagentd/internal/config"
	"github.com/nlagent/nlagentd/internal/fpm"
	"github.com/nlagent/nlagentd/internal/knlm"
	"github.com/nlagent/nlagentd/internal/nlm"
	"github.com/nlagent/nlagentd/internal/policy"
	"github.com/nlagent/nlagentd/internal/prpd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newDaemonCommand() *cobra.Command {
	opts := newDaemonOptions()

	cmd := &cobra.Command{
		Use:           "nlagentd",
		Short:         "routing-information relay between kernel netlink, FPM, NLM and PRPD peers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(opts)
		},
	}

	flags := pflag.NewFlagSet("nlagentd", pflag.ContinueOnError)
	opts.installFlags(flags)
	cmd.Flags().AddFlagSet(flags)

	return cmd
}

func runDaemon(opts *daemonOptions) error {
	if opts.version {
		fmt.Printf("nlagentd version %d\n", nlaVersion)
		return nil
	}

	log, err := newLogger(opts)
	if err != nil {
		return fmt.Errorf("opening trace file: %w", err)
	}

	cfg, faults, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	for _, f := range faults {
		log.WithField("module", f.Module).Warn(f.Detail)
	}
	if !anyEnabled(cfg) {
		return fmt.Errorf("no module could be enabled from %s", opts.configFile)
	}

	reg := prometheus.NewRegistry()
	metrics := agent.NewMetrics(reg)
	a := agent.New(cfg, policy.New(cfg), log.WithField("component", "dispatcher"), metrics)

	registerRoles(a, cfg)

	go serveMetrics(reg, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("nlagentd starting")

	a.Bootstrap()
	a.Run(ctx)
	log.Info("nlagentd shutting down")
	return nil
}

func anyEnabled(cfg *config.Config) bool {
	for m := config.KNLM; m < config.ModuleAll; m++ {
		if cfg.Modules[m].Enabled {
			return true
		}
	}
	return false
}

func registerRoles(a *agent.Agent, cfg *config.Config) {
	if cfg.Modules[config.KNLM].Enabled {
		a.Register(knlm.New(a, ""))
	}
	if cfg.Modules[config.FPMServer].Enabled {
		mc := cfg.Modules[config.FPMServer]
		a.Register(fpm.NewServer(a, mc.Addr, mc.Port))
	}
	if cfg.Modules[config.FPMClient].Enabled {
		mc := cfg.Modules[config.FPMClient]
		a.Register(fpm.NewClient(a, mc.Addr, mc.Port))
	}
	if cfg.Modules[config.NLMServer].Enabled {
		mc := cfg.Modules[config.NLMServer]
		a.Register(nlm.NewServer(a, mc.Addr, mc.Port))
	}
	if cfg.Modules[config.NLMClient].Enabled {
		mc := cfg.Modules[config.NLMClient]
		a.Register(nlm.NewClient(a, mc.Addr, mc.Port))
	}
	if cfg.Modules[config.PRPDClient].Enabled {
		mc := cfg.Modules[config.PRPDClient]
		a.Register(prpd.New(a, mc.Addr, mc.Port))
	}
}

func serveMetrics(reg *prometheus.Registry, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe("127.0.0.1:9090", mux); err != nil {
		log.WithError(err).Warn("metrics listener exited")
	}
}

func main() {
	if err := newDaemonCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
