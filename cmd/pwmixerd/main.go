// Command pwmixerd runs the per-application audio mixer daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"

	"github.com/sootmix/pwmixer"
	"github.com/sootmix/pwmixer/internal/config"
	"github.com/sootmix/pwmixer/internal/metrics"
	"github.com/sootmix/pwmixer/ipc"
	"github.com/sootmix/pwmixer/plugins"
	"github.com/sootmix/pwmixer/pwclient"
	"github.com/sootmix/pwmixer/pwclient/exec"
)

var version = "dev"

// settleDuration is how long the controller must run uninterrupted
// before the reconnect backoff resets to its first step.
const settleDuration = 30 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "pwmixerd",
		Short: "Per-application audio mixer daemon for PipeWire",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to pwmixerd.yaml")

	root.AddCommand(runCmd(&configPath), dumpConfigCmd(&configPath), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd(configPath *string) *cobra.Command {
	var outputDevice string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the mixer daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = zerolog.InfoLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

			reg := prometheus.NewRegistry()
			metrics.Register(reg)
			if cfg.MetricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
				go func() {
					if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Warn().Err(err).Msg("metrics server stopped")
					}
				}()
				defer metricsSrv.Close()
			}

			if path, ok := plugins.FindRNNoise(cfg.LADSPAPath); ok {
				log.Info().Str("path", path).Msg("found RNNoise LADSPA plugin")
			} else {
				log.Warn().Msg("RNNoise LADSPA plugin not found, noise suppression unavailable")
			}

			tool := exec.New(log)
			ctrl := pwclient.NewControllerWithQueueLen(log, tool, tool, tool, tool, cfg.CommandQueueLen)

			svc := pwmixer.NewService(pwmixer.ServiceConfig{
				Logger:       log,
				Controller:   ctrl,
				BufferFrames: cfg.BufferFrames,
				ConfigPath:   cfg.ConfigDir + "/mixer.yaml",
				RulesPath:    cfg.ConfigDir + "/routing_rules.yaml",
				LADSPAPath:   cfg.LADSPAPath,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if outputDevice != "" {
				_ = svc.SetMasterOutput(ctx, outputDevice)
			}

			facade, err := ipc.NewEmbedded(log, svc, cfg.IPCPort)
			if err != nil {
				return fmt.Errorf("start ipc facade: %w", err)
			}
			defer facade.Close()
			svc.SetNotifier(facade)

			if err := svc.Start(ctx); err != nil {
				return fmt.Errorf("start service: %w", err)
			}
			go facade.RunMeterLoop(ctx, 100*time.Millisecond)

			log.Info().Msg("pwmixerd started")
			reconnector := pwmixer.NewReconnector()
			reconnector.Run(ctx, settleDuration, ctrl.Run)
			return nil
		},
	}
	cmd.Flags().StringVar(&outputDevice, "output-device", "", "default master output device")
	return cmd
}

func dumpConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dump-config",
		Short: "Print the resolved configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
