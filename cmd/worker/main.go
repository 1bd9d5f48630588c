// Package main implements the worldtree-oasis worker CLI: the
// confidential-compute process that bridges the genetic-similarity
// analysis engine to the on-chain request contract.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/config"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/contract"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/hostclient"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/processor"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/telemetry"
	"github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/tips"
)

var rootCmd = &cobra.Command{
	Use:   "worldtree-oasis-worker",
	Short: "TEE worker bridging the analysis-request contract to the SNP similarity engine",
	Long: `worldtree-oasis-worker polls the analysis-request contract for
pending ids, fetches each pair's raw SNP datasets through the
host-runtime's privileged socket, runs the IBS/PCA similarity engine
inside the enclave, and submits a signed terminal result.

Configuration is read entirely from the environment; see the
CONTRACT_ADDRESS / HOST_SOCKET_PATH / POLL_INTERVAL_SECONDS family of
variables. The commands take no configuration flags.`,
}

func main() {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(versionCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the worker until a shutdown signal is received",
		RunE:  runWorker,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("worldtree-oasis-worker 0.1.0")
		},
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	logger := telemetry.NewRootLogger(telemetry.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	metrics := telemetry.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	host := hostclient.New(hostclient.Config{
		SocketPath:   cfg.HostSocketPath,
		CallMethod:   cfg.HostMethodCall,
		SubmitMethod: cfg.HostMethodSubmit,
	}, telemetry.Component(logger, "hostclient"))
	defer host.Close()

	probeHostReachability(ctx, host, logger)

	view := contract.New(cfg.ContractAddress, host, cfg.SubmitGasLimit)

	// Only the no-op tips generator ships with this worker; setting
	// ENABLE_LLM_TIPS=true logs a warning and keeps the no-op generator.
	var tipsGen tips.Generator = tips.NullGenerator{}
	if cfg.EnableLLMTips {
		logger.Warn().Msg("ENABLE_LLM_TIPS is set but no LLM tips generator is configured; falling back to the static catalogue")
	}

	proc := processor.New(processor.Config{
		PollInterval:  cfg.PollInterval,
		MaxParallel:   cfg.MaxParallel,
		PerIDDeadline: cfg.RequestDeadline,
		Retry: processor.RetryConfig{
			MaxAttempts:       cfg.RetryMax,
			InitialBackoff:    cfg.RetryBackoffBase,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
	}, view, logger, metrics, tipsGen)

	go func() {
		if err := telemetry.ServeMetrics(ctx, cfg.MetricsAddr); err != nil {
			logger.Warn().Err(err).Msg("metrics listener stopped")
		}
	}()

	logger.Info().
		Str("contract", cfg.ContractAddress.Hex()).
		Str("host_socket", cfg.HostSocketPath).
		Dur("poll_interval", cfg.PollInterval).
		Int64("max_parallel", cfg.MaxParallel).
		Msg("worker starting")

	proc.Start(ctx)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()
	proc.Stop(cfg.ShutdownGracePeriod)
	logger.Info().Msg("worker stopped")
	return nil
}

// probeHostReachability sanity-checks that the host-runtime socket is
// reachable at start-up. A failure is logged and retried with backoff
// in the background; the worker never exits because of it, since the
// host runtime may come up after the worker does.
func probeHostReachability(ctx context.Context, host *hostclient.Client, logger zerolog.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := host.Call(probeCtx, zeroAddressHex, "0x"); err != nil {
		logger.Warn().Err(err).Msg("host runtime not reachable at startup; will retry on first poll tick")
	}
}

const zeroAddressHex = "0x0000000000000000000000000000000000000000"
