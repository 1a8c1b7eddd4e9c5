package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cryptobuks/truebit-os/agent"
	"github.com/cryptobuks/truebit-os/config"
	"github.com/cryptobuks/truebit-os/contract"
	"github.com/cryptobuks/truebit-os/execution"
	"github.com/cryptobuks/truebit-os/logging"
	"github.com/cryptobuks/truebit-os/metrics"
	"github.com/cryptobuks/truebit-os/monitor"
	"github.com/cryptobuks/truebit-os/solver"
	"github.com/cryptobuks/truebit-os/storage"
	"github.com/cryptobuks/truebit-os/supervisor"
	"github.com/cryptobuks/truebit-os/verifier"
)

func newRunCommand(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run solver and verifier agents",
		Long: `Run starts one agent per configured role for every configured key.
The first SIGINT or SIGTERM lets every agent finish its open tasks. A second
one stops immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, map[string]string{
				"roles":           "agent.roles",
				"recovery-blocks": "agent.recovery_blocks",
				"force-challenge": "agent.force_challenge",
				"throttle":        "agent.throttle",
				"rpc-url":         "ethereum.rpc_url",
			})
			if err != nil {
				return err
			}
			log, closer := logging.New(cfg.Logging, cmd.OutOrStdout())
			defer closer.Close()
			return run(cmd.Context(), cfg, log)
		},
	}
	cmd.Flags().StringSlice("roles", nil, "roles to run for every key (solver, verifier)")
	cmd.Flags().Uint64("recovery-blocks", 0, "replay this many past blocks and recover open tasks")
	cmd.Flags().Bool("force-challenge", false, "challenge every solution (test networks only)")
	cmd.Flags().Int("throttle", 0, "maximum tasks a verifier services at once")
	cmd.Flags().String("rpc-url", "", "ethereum RPC endpoint")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	client, err := contract.Dial(ctx, cfg.Ethereum.RPCURL, cfg.Ethereum.IncentiveLayer, cfg.Ethereum.DisputeLayer)
	if err != nil {
		return err
	}
	defer client.Close()

	mon := monitor.New(client, monitor.Config{
		PollInterval:   cfg.Monitor.PollInterval,
		BatchSize:      cfg.Monitor.BatchSize,
		RecoveryBlocks: cfg.Agent.RecoveryBlocks,
	}, logging.Component(log, "monitor"))
	sup := supervisor.New(mon, log)

	agents, err := buildAgents(cfg, client, m, log)
	if err != nil {
		return err
	}
	for _, a := range agents {
		sup.Add(a)
	}

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go sup.HandleSignals(ctx, signals, cancel)

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stopServer := context.WithCancel(gctx)
	g.Go(func() error { return metrics.NewServer(cfg.Metrics.ListenAddress, reg).Run(srvCtx) })
	g.Go(func() error {
		defer stopServer()
		return sup.Run(gctx)
	})
	if cfg.Metrics.ListenAddress != "" {
		log.Info().Str("address", cfg.Metrics.ListenAddress).Msg("Serving metrics")
	}
	return g.Wait()
}

// agentWorkDir is the directory an agent stages task files in. Agents never
// share one, so a solver and a verifier on the same task do not collide.
func agentWorkDir(base, role string, account common.Address) string {
	return filepath.Join(base, fmt.Sprintf("%s-%s", role, account.Hex()))
}

// buildAgents binds every key for every role. Each role gets its own binding
// so that transaction metrics carry the role label.
func buildAgents(cfg *config.Config, client *contract.Client, m *metrics.Metrics, log zerolog.Logger) ([]agent.Agent, error) {
	bundles := storage.NewLocalBundles(cfg.Execution.BundleDir)
	var uploader storage.Uploader
	if cfg.Storage.IPFSAPI != "" {
		uploader = storage.NewIPFS(cfg.Storage.IPFSAPI, cfg.Storage.Timeout, logging.Component(log, "storage"))
	}

	gas := cfg.Ethereum.Gas()
	var agents []agent.Agent
	for i, key := range cfg.Ethereum.PrivateKeys {
		for _, role := range cfg.Agent.Roles {
			acct, err := client.Bind(key, gas, func(method string, err error) { m.Transaction(role, method, err) })
			if err != nil {
				return nil, fmt.Errorf("private key %d: %w", i, err)
			}
			provider := execution.NewInterpreter(
				cfg.Execution.Interpreter,
				agentWorkDir(cfg.Execution.WorkDir, role, acct.Address),
				bundles,
				logging.Component(log, "execution"),
				execution.WithCacheSize(cfg.Execution.CacheSize),
			)
			opts := agent.Options{
				Account:      acct.Address,
				Recovering:   cfg.Agent.RecoveryBlocks > 0,
				WaitTime:     cfg.Agent.WaitTime,
				TickInterval: cfg.Agent.TickInterval,
				Metrics:      m,
				Log:          log,
			}
			switch role {
			case agent.RoleSolver:
				agents = append(agents, solver.New(opts, solver.Deps{
					Incentive: acct.Incentive,
					Dispute:   acct.Dispute,
					Provider:  provider,
					Uploader:  uploader,
				}))
			case agent.RoleVerifier:
				agents = append(agents, verifier.New(opts, verifier.Config{
					Throttle:       cfg.Agent.Throttle,
					Stake:          cfg.Agent.Stake(),
					ForceChallenge: cfg.Agent.ForceChallenge,
				}, verifier.Deps{
					Incentive: acct.Incentive,
					Dispute:   acct.Dispute,
					Provider:  provider,
				}))
			default:
				return nil, fmt.Errorf("unknown role %q", role)
			}
		}
	}
	return agents, nil
}
