// Command miping-sampler draws a language-verified sample of social media
// users per region: stream, expand, verify and condense
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"miping/internal/core/version"
	"miping/internal/modkit"
	"miping/internal/platform/clock"
	"miping/internal/platform/config"
	perr "miping/internal/platform/errors"
	"miping/internal/platform/logger"
	"miping/internal/platform/metrics"
	"miping/internal/platform/store"
	samplermod "miping/internal/services/sampler/module"
	"miping/internal/services/sampler/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

// global flags shared by every command
type globalFlags struct {
	config      string
	envFiles    []string
	regions     []string
	dataDir     string
	pgURL       string
	natsURL     string
	metricsAddr string
	seed        uint64
	runID       string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

// execute runs the command line and maps the outcome to an exit code
func execute(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return exitOK
	case perr.IsCanceled(err):
		logger.Get().Warn().Msg("interrupted")
		return exitFailure
	case perr.IsCode(err, perr.ErrorCodeConfig):
		ev := logger.Get().Error().Err(err)
		if e, ok := perr.As(err); ok && e.Field() != "" {
			ev = ev.Str("field", e.Field())
		}
		ev.Msg("configuration error")
		return exitConfig
	default:
		logger.Get().Error().Err(err).Str("code", perr.CodeOf(err).String()).Msg("sampler failed")
		return exitFailure
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "miping-sampler",
		Short: "Sample language-verified social media users per region",
		Long: `miping-sampler collects authors from a region's location stream, expands
them through their followers, verifies each candidate's language mix and
location, and condenses the verified posts into one profile per user.

Every step reads its input from the previous step's checkpoint when run on
its own. Checkpoints are headerless CSV files under the data directory.

Examples:
  miping-sampler run --write
  miping-sampler stream --region ireland --write --ids-only
  miping-sampler verify --config regions.yml --write
  miping-sampler run --from verify --write --pg-url postgres://localhost/miping`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if _, err := config.LoadDotEnv(g.envFiles...); err != nil {
				return err
			}
			logger.Init(logger.FromEnv())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.config, "config", "", "regions file (default $SAMPLER_REGIONS_FILE or config.yml)")
	pf.StringSliceVar(&g.envFiles, "env-file", nil, "env files to load before reading configuration (default .env)")
	pf.StringArrayVar(&g.regions, "region", nil, "region to process by name, repeatable (default all)")
	pf.StringVar(&g.dataDir, "data-dir", "", "checkpoint directory (default $SAMPLER_DATA_DIR or data)")
	pf.StringVar(&g.pgURL, "pg-url", "", "export verified corpora to this postgres database (default $PG_URL)")
	pf.StringVar(&g.natsURL, "nats-url", "", "publish progress events to this NATS server (default $NATS_URL)")
	pf.StringVar(&g.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	pf.Uint64Var(&g.seed, "seed", 0, "seed sampling and shuffling for a reproducible run (default random)")
	pf.StringVar(&g.runID, "run-id", "", "run identifier stamped on logs, events and exports (default a new uuid)")

	for _, st := range service.Steps {
		root.AddCommand(newStepCmd(g, st))
	}
	root.AddCommand(newRunCmd(g), newVersionCmd())
	return root
}

var stepShort = map[service.StepName]string{
	service.StepStream:   "Collect posts from each region's location stream",
	service.StepExpand:   "Resolve stream authors and expand them through their followers",
	service.StepVerify:   "Verify language and location of both pools and assemble the corpus",
	service.StepCondense: "Join each verified user's posts into one profile",
}

func newStepCmd(g *globalFlags, step service.StepName) *cobra.Command {
	f := &stepFlags{}
	cmd := &cobra.Command{
		Use:   string(step),
		Short: stepShort[step],
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := singleStep(step, *f)
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), g, plan)
		},
	}
	addStepFlags(cmd, f, true)
	return cmd
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &stepFlags{}
	var from string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every step in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			plan, err := fullRun(from, *f)
			if err != nil {
				return err
			}
			return runPlan(cmd.Context(), g, plan)
		},
	}
	addStepFlags(cmd, f, false)
	cmd.Flags().StringVar(&from, "from", "", "first step to run; its input is read from the previous checkpoint")
	return cmd
}

func addStepFlags(cmd *cobra.Command, f *stepFlags, withRead bool) {
	if withRead {
		cmd.Flags().BoolVar(&f.read, "read", false, "load this step's output from its checkpoint instead of computing it")
	}
	cmd.Flags().BoolVar(&f.write, "write", false, "write computed output to checkpoints")
	cmd.Flags().BoolVar(&f.idsOnly, "ids-only", false, "write ids only; reads rehydrate them through the API")
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.Info())
			return err
		},
	}
}

// runPlan wires the stores and the sampler module for one invocation, then runs plan
func runPlan(ctx context.Context, g *globalFlags, plan service.Plan) error {
	log := logger.Get()
	cfg := config.New()
	runID := g.runID
	if runID == "" {
		runID = uuid.NewString()
	} else if _, err := uuid.Parse(runID); err != nil {
		return perr.WithField(perr.Wrap(err, perr.ErrorCodeConfig, "run id must be a uuid"), "run-id")
	}

	stCfg := store.FromConfig(cfg, "miping-sampler")
	if g.pgURL != "" {
		stCfg.PG.Enabled, stCfg.PG.URL = true, g.pgURL
	}
	st, err := store.Open(ctx, stCfg, store.WithLogger(*log))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	met := metrics.New()
	mctx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if g.metricsAddr != "" {
		srv := metrics.NewServer(g.metricsAddr, met)
		go func() {
			if err := srv.Run(mctx); err != nil {
				log.Error().Err(err).Str("addr", g.metricsAddr).Msg("metrics server stopped")
			}
		}()
	}

	deps := modkit.Deps{
		Log:     *log,
		Cfg:     cfg,
		Metrics: met,
		Clock:   clock.Real{},
	}
	if st.Enabled() {
		deps.PG = st.PG
	}
	m, err := samplermod.Register(deps, samplermod.Run{
		ID:         runID,
		ConfigPath: g.config,
		DataDir:    g.dataDir,
		NATSURL:    g.natsURL,
		Seed:       g.seed,
	})
	if err != nil {
		return err
	}
	defer m.Close()

	_, err = m.Run(ctx, g.regions, plan)
	return err
}
