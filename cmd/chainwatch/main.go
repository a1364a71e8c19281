package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/chainwatch/internal/autoemitter"
	"github.com/goran-ethernal/chainwatch/internal/blocktracker"
	"github.com/goran-ethernal/chainwatch/internal/buffer"
	internalcommon "github.com/goran-ethernal/chainwatch/internal/common"
	internalconfig "github.com/goran-ethernal/chainwatch/internal/config"
	"github.com/goran-ethernal/chainwatch/internal/confirmator"
	"github.com/goran-ethernal/chainwatch/internal/db"
	internalemitter "github.com/goran-ethernal/chainwatch/internal/emitter"
	"github.com/goran-ethernal/chainwatch/internal/logger"
	"github.com/goran-ethernal/chainwatch/internal/metrics"
	"github.com/goran-ethernal/chainwatch/internal/migrations"
	"github.com/goran-ethernal/chainwatch/internal/producer"
	"github.com/goran-ethernal/chainwatch/internal/rpcsource"
	"github.com/goran-ethernal/chainwatch/pkg/chain"
	pkgconfig "github.com/goran-ethernal/chainwatch/pkg/config"
	"github.com/goran-ethernal/chainwatch/pkg/dispatch"
	"github.com/goran-ethernal/chainwatch/pkg/emitter"
	"github.com/spf13/cobra"
)

const (
	version = "0.1.0"
	banner  = `
╔═══════════════════════════════════════════╗
║            chainwatch v%s              ║
║   Confirmation-aware contract log relay   ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "chainwatch",
	Short:   "chainwatch - reorg-aware contract log relay",
	Long:    `chainwatch watches one or more contracts for log events, buffers them until they clear a configurable confirmation depth, and reconciles the buffer against block reorganizations.`,
	Version: version,
	RunE:    runWatch,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the emitters configured in the config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := internalconfig.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if len(cfg.Emitters) == 0 {
			fmt.Println("(no emitters configured)")
			return nil
		}

		fmt.Println("Configured emitters:")
		for _, e := range cfg.Emitters {
			fmt.Printf("  - %s (contract %s, confirmations=%d)\n", e.Name, e.ContractAddress, e.Confirmations)
		}
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	rootCmd.AddCommand(listCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := internalconfig.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\n\nShutting down gracefully...")
		cancel()
	}()

	log := logger.NewComponentLoggerFromConfig(internalcommon.ComponentEmitter, cfg.Logging)

	log.Info("connecting to chain RPC endpoint...")
	source, err := rpcsource.New(ctx, cfg.RPC.Endpoint, cfg.RPC.Retry, logger.GetDefaultLogger())
	if err != nil {
		return fmt.Errorf("failed to create rpc source: %w", err)
	}
	defer source.Close()
	log.Infof("connected to %s", cfg.RPC.Endpoint)

	var metricsServer *metrics.Server
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(ctx); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", cfg.Metrics.ListenAddress, cfg.Metrics.Path)
	}

	log.Info("running database migrations...")
	if err := migrations.RunMigrations(cfg.DB.Path); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	conn, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer conn.Close()

	var dbMaintenance db.Maintenance = &db.NoOpMaintenance{}
	if cfg.Maintenance != nil && cfg.Maintenance.Enabled {
		dbMaintenance = db.NewMaintenanceCoordinator(
			cfg.DB.Path,
			conn,
			cfg.Maintenance,
			logger.NewComponentLoggerFromConfig(internalcommon.ComponentMaintenance, cfg.Logging),
		)
		if err := dbMaintenance.Start(ctx); err != nil {
			return fmt.Errorf("failed to start maintenance coordinator: %w", err)
		}
		defer func() {
			if err := dbMaintenance.Stop(); err != nil {
				log.Warnf("failed to stop maintenance coordinator: %v", err)
			}
		}()
	}

	if len(cfg.Emitters) == 0 {
		log.Warn("no emitters configured, exiting")
		return nil
	}

	prod := producer.NewPollingProducer(source, cfg.Emitters[0].PollingInterval.Duration, logger.NewComponentLoggerFromConfig(internalcommon.ComponentProducer, cfg.Logging))
	if err := prod.Start(ctx); err != nil {
		return fmt.Errorf("failed to start block producer: %w", err)
	}
	defer prod.Stop()

	autoEmitters := make([]*autoemitter.AutoEventsEmitter, 0, len(cfg.Emitters))
	for i, emCfg := range cfg.Emitters {
		auto, err := buildAutoEmitter(emCfg, source, conn, dbMaintenance, prod, cfg.Logging)
		if err != nil {
			return fmt.Errorf("emitters[%d] (%s): %w", i, emCfg.Name, err)
		}

		auto.Dispatcher().Subscribe(dispatch.TopicError, func(ctx context.Context, payload any) error {
			notice := payload.(dispatch.ErrorNotice)
			log.Warnf("[%s] error: %v", notice.Component, notice.Err)
			return nil
		})

		if err := auto.Start(ctx); err != nil {
			return fmt.Errorf("emitters[%d] (%s): failed to start: %w", i, emCfg.Name, err)
		}

		log.Infof("emitter %q watching %s started", emCfg.Name, emCfg.ContractAddress)
		autoEmitters = append(autoEmitters, auto)
	}

	log.Info("chainwatch running, press Ctrl+C to stop")
	<-ctx.Done()

	for _, auto := range autoEmitters {
		if err := auto.Stop(); err != nil {
			log.Warnf("failed to stop emitter: %v", err)
		}
	}

	log.Info("chainwatch stopped")
	return nil
}

func buildAutoEmitter(
	emCfg pkgconfig.EmitterConfig,
	source chain.LogSource,
	conn *sql.DB,
	maint db.Maintenance,
	prod producer.Producer,
	logCfg *pkgconfig.LoggingConfig,
) (*autoemitter.AutoEventsEmitter, error) {
	contract := common.HexToAddress(emCfg.ContractAddress)

	topics, err := decodeTopics(emCfg.Topics)
	if err != nil {
		return nil, fmt.Errorf("invalid topics: %w", err)
	}

	startingBlock, err := decodeStartingBlock(emCfg.StartingBlock)
	if err != nil {
		return nil, fmt.Errorf("invalid starting_block: %w", err)
	}

	cfg := emitter.Config{
		ContractAddress:  contract,
		Topics:           topics,
		EventSignatures:  emCfg.EventSignatures,
		Events:           emCfg.Events,
		BatchSize:        emCfg.BatchSize,
		Confirmations:    emCfg.Confirmations,
		StartingBlock:    startingBlock,
		SerialListeners:  emCfg.SerialListeners,
		SerialProcessing: emCfg.SerialProcessing,
	}

	store := blocktracker.NewSQLiteStore(conn, emCfg.Name, maint, logger.NewComponentLoggerFromConfig(internalcommon.ComponentBlockTracker, logCfg))
	repo := buffer.NewSQLiteRepository(conn, maint, logger.NewComponentLoggerFromConfig(internalcommon.ComponentBuffer, logCfg))

	core, err := internalemitter.New(emCfg.Name, cfg, source, store, repo, logger.NewComponentLoggerFromConfig(internalcommon.ComponentEmitter, logCfg))
	if err != nil {
		return nil, err
	}

	var confirmer *confirmator.Confirmator
	if cfg.Confirmations > 0 {
		confirmer = confirmator.New(emCfg.Name, contract, source, store, repo, core.Dispatcher(), logger.NewComponentLoggerFromConfig(internalcommon.ComponentConfirmator, logCfg))
	}

	autoCfg := emitter.AutoConfig{
		Config:            cfg,
		AutoStart:         emCfg.AutoStart,
		PollingIntervalMS: uint64(emCfg.PollingInterval.Duration.Milliseconds()),
	}

	return autoemitter.New(emCfg.Name, autoCfg, core, confirmer, prod, logger.NewComponentLoggerFromConfig(internalcommon.ComponentAutoEmitter, logCfg)), nil
}

func decodeTopics(raw [][]string) ([][]common.Hash, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([][]common.Hash, len(raw))
	for i, group := range raw {
		hashes := make([]common.Hash, len(group))
		for j, h := range group {
			if len(h) != 66 {
				return nil, fmt.Errorf("topics[%d][%d]: %q is not a 32-byte hex hash", i, j, h)
			}
			hashes[j] = common.HexToHash(h)
		}
		out[i] = hashes
	}
	return out, nil
}

func decodeStartingBlock(raw string) (emitter.StartingBlock, error) {
	switch raw {
	case "", "genesis":
		return emitter.Genesis(), nil
	case "latest":
		return emitter.Latest(), nil
	default:
		n, err := internalcommon.ParseUint64orHex(&raw)
		if err != nil {
			return emitter.StartingBlock{}, err
		}
		return emitter.AtBlock(n), nil
	}
}
