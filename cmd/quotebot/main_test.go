package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ollbud/quotebot/pkg/leads"
	"github.com/ollbud/quotebot/pkg/pricing"
)

func TestEstimateCmd_JSON(t *testing.T) {
	cmd := estimateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--area", "45", "--standard", "kamienica", "--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got pricing.EstimateResult
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", out.String(), err)
	}
	if want := pricing.Estimate(45, pricing.StandardTenement); got != want {
		t.Errorf("estimate = %+v, want %+v", got, want)
	}
}

func TestEstimateCmd_Text(t *testing.T) {
	cmd := estimateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--area", "45"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.String(), "Standard: blok") {
		t.Errorf("output = %s", out.String())
	}
}

func TestEstimateCmd_UnknownStandard(t *testing.T) {
	cmd := estimateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--area", "45", "--standard", "palace"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown standard")
	}
}

// flagCmd returns a command carrying the root's persistent flags, parsed
// from args.
func flagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "x", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().String("config", "", "")
	cmd.Flags().Bool("verbose", false, "")
	cmd.Flags().String("provider", "", "")
	cmd.Flags().String("model", "", "")
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatal(err)
	}
	return cmd
}

func TestEstimateCmd_AreaOutOfRange(t *testing.T) {
	for _, area := range []string{"1e15", "-3"} {
		cmd := estimateCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"--area", area})
		if err := cmd.Execute(); err == nil {
			t.Errorf("area %s: expected error, printed %q", area, out.String())
		}
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	t.Setenv("QUOTEBOT_PROVIDER", "")
	t.Setenv("QUOTEBOT_MODEL", "from-env")

	cmd := flagCmd(t, "--provider", "anthropic", "--model", "from-flag")

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Provider != "anthropic" || cfg.Model != "from-flag" {
		t.Errorf("cfg = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.Verbose {
		t.Error("verbose should stay off")
	}
}

func TestLoadConfig_ProviderFlagSelectsVendorKey(t *testing.T) {
	for _, k := range []string{"QUOTEBOT_PROVIDER", "QUOTEBOT_API_KEY", "QUOTEBOT_BASE_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("OPENAI_API_KEY", "sk-openai-secret")
	t.Setenv("OPENAI_BASE_URL", "https://api.openai.com/v1/")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-real")

	cfg, err := loadConfig(flagCmd(t, "--provider", "anthropic"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	pc := cfg.ProviderConfig()
	if pc.Name != "anthropic" || pc.APIKey != "sk-ant-real" {
		t.Errorf("provider config = %s/%s, want anthropic/sk-ant-real", pc.Name, pc.APIKey)
	}
	if pc.BaseURL != "" {
		t.Errorf("base url = %q, want empty", pc.BaseURL)
	}
}

func TestLeadsCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.db")
	t.Setenv("QUOTEBOT_LEADS_PATH", path)

	store, err := leads.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, area := range []float64{30, 45} {
		if err := store.RecordEstimate(ctx, "c1", pricing.Estimate(area, pricing.StandardBlock)); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	cmd := leadsCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--limit", "1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got []leads.Lead
	if err := json.Unmarshal(out.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal %q: %v", out.String(), err)
	}
	if len(got) != 1 || got[0].ClientID != "c1" || got[0].AreaM2 != 45 {
		t.Errorf("leads = %+v, want the newest estimate only", got)
	}
}
