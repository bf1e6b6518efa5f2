package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ollbud/quotebot/pkg/config"
	ctxpkg "github.com/ollbud/quotebot/pkg/context"
	"github.com/ollbud/quotebot/pkg/leads"
	"github.com/ollbud/quotebot/pkg/logging"
	"github.com/ollbud/quotebot/pkg/orchestrator"
	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/quota"
	"github.com/ollbud/quotebot/pkg/ratecatalog"
	"github.com/ollbud/quotebot/pkg/toolreg"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg     config.Config
	logger  *zap.SugaredLogger
	catalog *ratecatalog.Catalog
	leads   *leads.Store
	quota   quota.Store
}

// loadConfig applies flags on top of file and environment settings.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	if flags.Changed("verbose") {
		cfg.Verbose, _ = flags.GetBool("verbose")
	}
	if flags.Changed("provider") {
		cfg.Provider, _ = flags.GetString("provider")
	}
	if flags.Changed("model") {
		cfg.Model, _ = flags.GetString("model")
	}
	return cfg, cfg.Validate()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logger.Debugw("configuration loaded",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"catalog", cfg.CatalogPath,
		"quick_reply", cfg.QuickReply,
		"quota", cfg.Quota.Driver,
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		catalog: ratecatalog.New(cfg.CatalogPath,
			ratecatalog.WithMinScore(cfg.CatalogMinScore),
			ratecatalog.WithLogger(logger.Named("catalog")),
		),
	}, nil
}

// openLeads opens the lead log when one is configured.
func (a *app) openLeads() error {
	if a.cfg.Leads.Path == "" {
		return nil
	}
	s, err := leads.Open(a.cfg.Leads.Path)
	if err != nil {
		return err
	}
	a.leads = s
	return nil
}

func (a *app) openQuota() error {
	s, err := quota.NewStore(quota.Driver(a.cfg.Quota.Driver),
		quota.WithDailyMax(a.cfg.Quota.DailyMax),
		quota.WithPath(a.cfg.Quota.Path),
		quota.WithRedisAddr(a.cfg.Quota.RedisAddr),
		quota.WithLogger(a.logger.Named("quota")),
	)
	if err != nil {
		return fmt.Errorf("quota store: %w", err)
	}
	a.quota = s
	return nil
}

func (a *app) orchestrator() (*orchestrator.Orchestrator, error) {
	p, err := provider.NewFromConfig(a.cfg.ProviderConfig())
	if err != nil {
		return nil, err
	}

	reg := toolreg.NewRegistry(a.catalog, toolreg.WithLogger(a.logger.Named("tools")))
	builder := ctxpkg.NewBuilder(ctxpkg.Config{PromptFile: a.cfg.PromptPath}, reg, a.logger.Named("context"))

	opts := []orchestrator.Option{orchestrator.WithLogger(a.logger.Named("orchestrator"))}
	if a.leads != nil {
		opts = append(opts, orchestrator.WithLeadRecorder(a.leads))
	}

	return orchestrator.New(p, reg, builder, orchestrator.Config{
		Model:       a.cfg.Model,
		Temperature: a.cfg.Temperature,
		MaxTokens:   a.cfg.MaxTokens,
		Timeout:     a.cfg.Timeout,
		QuickReply:  a.cfg.QuickReply,
	}, opts...), nil
}

func (a *app) close() {
	if a.leads != nil {
		if err := a.leads.Close(); err != nil {
			a.logger.Warnw("closing lead log", "error", err)
		}
	}
	if a.quota != nil {
		if err := a.quota.Close(); err != nil {
			a.logger.Warnw("closing quota store", "error", err)
		}
	}
	_ = a.logger.Sync()
}
