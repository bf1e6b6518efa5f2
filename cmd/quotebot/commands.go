package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ollbud/quotebot/pkg/compose"
	"github.com/ollbud/quotebot/pkg/leads"
	"github.com/ollbud/quotebot/pkg/pricing"
	"github.com/ollbud/quotebot/pkg/provider"
	"github.com/ollbud/quotebot/pkg/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
				a.cfg.Addr = addr
			}
			if err := a.openLeads(); err != nil {
				return err
			}
			if err := a.openQuota(); err != nil {
				return err
			}
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}

			opts := []server.Option{server.WithLogger(a.logger.Named("http"))}
			if a.quota != nil {
				opts = append(opts, server.WithQuota(a.quota))
			}
			if a.leads != nil {
				opts = append(opts, server.WithLeads(a.leads))
			}
			srv := server.New(orch, a.catalog, opts...)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx, a.cfg.Addr)
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	return cmd
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "chat <message>",
		Short:   "Ask the assistant once and print the reply",
		Example: `quotebot chat "Ile kosztuje remont mieszkania 45 m2 w bloku?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.openLeads(); err != nil {
				return err
			}
			orch, err := a.orchestrator()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			resp := orch.SubmitChat(ctx, []provider.Message{
				{Role: provider.RoleUser, Content: strings.Join(args, " ")},
			})
			a.logger.Debugw("chat outcome", "outcome", resp.Outcome)
			fmt.Fprintln(cmd.OutOrStdout(), resp.Reply)
			return nil
		},
	}
}

func estimateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Price a renovation without the assistant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			area, _ := flags.GetFloat64("area")
			name, _ := flags.GetString("standard")
			asJSON, _ := flags.GetBool("json")

			if !pricing.ValidArea(area) {
				return fmt.Errorf("area must be between 0 and %g m²", pricing.MaxAreaM2)
			}
			st, ok := pricing.ParseStandard(name)
			if !ok {
				return fmt.Errorf("unknown standard %q (want one of %v)", name, pricing.Standards)
			}
			est := pricing.Estimate(area, st)
			if asJSON {
				return printJSON(cmd, est)
			}
			content, _ := compose.ExportText(est, time.Now())
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	}
	cmd.Flags().Float64("area", 0, "floor area in m²")
	cmd.Flags().String("standard", string(pricing.StandardBlock), "building standard")
	cmd.Flags().Bool("json", false, "print the raw estimate as JSON")
	_ = cmd.MarkFlagRequired("area")
	return cmd
}

func rateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rate <query>",
		Short:   "Search the KNR rate catalog",
		Example: `quotebot rate "tynki wewnętrzne" --quantity 30`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			flags := cmd.Flags()
			top, _ := flags.GetInt("top")
			var quantity *float64
			if flags.Changed("quantity") {
				q, _ := flags.GetFloat64("quantity")
				if q < 0 {
					return errors.New("quantity must not be negative")
				}
				quantity = &q
			}

			query := strings.Join(args, " ")
			matches, err := a.catalog.Find(cmd.Context(), query, top, quantity)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"query": query, "matches": matches})
		},
	}
	cmd.Flags().Float64("quantity", 0, "quantity in catalog units")
	cmd.Flags().Int("top", 5, "maximum number of matches")
	return cmd
}

func leadsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leads",
		Short: "List the most recent recorded estimates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.openLeads(); err != nil {
				return err
			}
			if a.leads == nil {
				return errors.New("lead log is disabled (set leads.path)")
			}
			limit, _ := cmd.Flags().GetInt("limit")
			recent, err := a.leads.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if recent == nil {
				recent = []leads.Lead{}
			}
			return printJSON(cmd, recent)
		},
	}
	cmd.Flags().Int("limit", 20, "maximum number of leads, newest first")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
