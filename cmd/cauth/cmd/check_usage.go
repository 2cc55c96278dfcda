package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agent-island/cauth/internal/cauth/credential"
	"github.com/agent-island/cauth/internal/cauth/usage"
)

var (
	checkUsageAccount string
	checkUsageJSON    bool
)

var checkUsageCmd = &cobra.Command{
	Use:   "check-usage",
	Short: "Report Claude, Codex, Gemini, and z.ai usage windows and recommend the freshest one",
	Args:  cobra.NoArgs,
	RunE:  runCheckUsage,
}

func init() {
	rootCmd.AddCommand(checkUsageCmd)
	checkUsageCmd.Flags().StringVar(&checkUsageAccount, "account", "", "check a specific stored Claude account instead of the active credential")
	checkUsageCmd.Flags().BoolVar(&checkUsageJSON, "json", false, "print the result as JSON instead of text")
}

// checkUsageOutput mirrors original_source/main.rs's CheckUsageOutput,
// camelCase on the wire for `cauth check-usage --json`.
type checkUsageOutput struct {
	Claude                usage.Info  `json:"claude"`
	Codex                 *usage.Info `json:"codex,omitempty"`
	Gemini                *usage.Info `json:"gemini,omitempty"`
	Zai                   *usage.Info `json:"zai,omitempty"`
	Recommendation        *string     `json:"recommendation,omitempty"`
	RecommendationReason  string      `json:"recommendationReason"`
}

func runCheckUsage(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	claude := fetchClaudeCheckUsage(ctx, a, checkUsageAccount)

	var codex, gemini, zai *usage.Info
	if info, ok := a.codexUsage.Fetch(ctx); ok {
		codex = &info
	}
	if info, ok := a.geminiUsage.Fetch(ctx); ok {
		gemini = &info
	}
	if info, ok := a.zaiUsage.Fetch(ctx); ok {
		zai = &info
	}

	recommendation, reason := computeCheckUsageRecommendation(claude, codex, gemini, zai)
	output := checkUsageOutput{
		Claude:               claude,
		Codex:                codex,
		Gemini:               gemini,
		Zai:                  zai,
		Recommendation:       recommendation,
		RecommendationReason: reason,
	}

	if checkUsageJSON {
		data, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal check-usage output: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	printCheckUsageText(cmd, output)
	return nil
}

func printCheckUsageText(cmd *cobra.Command, output checkUsageOutput) {
	out := cmd.OutOrStdout()
	printCheckUsageProviderText(out, output.Claude)
	if output.Codex != nil {
		printCheckUsageProviderText(out, *output.Codex)
	}
	if output.Gemini != nil {
		printCheckUsageProviderText(out, *output.Gemini)
	}
	if output.Zai != nil {
		printCheckUsageProviderText(out, *output.Zai)
	}
	if output.Recommendation != nil {
		fmt.Fprintf(out, "recommendation: %s (%s)\n", *output.Recommendation, output.RecommendationReason)
	} else {
		fmt.Fprintf(out, "recommendation: %s\n", output.RecommendationReason)
	}
}

func printCheckUsageProviderText(out io.Writer, info usage.Info) {
	if !info.Available {
		fmt.Fprintf(out, "%s: not installed\n", info.Name)
		return
	}
	if info.Error {
		fmt.Fprintf(out, "%s: error\n", info.Name)
		return
	}
	five := "--"
	if info.FiveHourPercent != nil {
		five = fmt.Sprintf("%d%%", int(*info.FiveHourPercent))
	}
	seven := "--"
	if info.SevenDayPercent != nil {
		seven = fmt.Sprintf("%d%%", int(*info.SevenDayPercent))
	}
	plan := "-"
	if info.Plan != nil {
		plan = *info.Plan
	}
	model := "-"
	if info.Model != nil {
		model = *info.Model
	}
	fmt.Fprintf(out, "%s: 5h %s 7d %s plan=%s model=%s\n", info.Name, five, seven, plan, model)
}

// fetchClaudeCheckUsage mirrors original_source/main.rs's
// fetch_claude_check_usage: with --account it refreshes that one stored
// account in isolation (never touching the active credential); without
// it, it always refreshes the active credential and syncs it back on
// success, falling back to the unrefreshed bytes on failure.
func fetchClaudeCheckUsage(ctx context.Context, a *app, accountID string) usage.Info {
	var data []byte
	if accountID != "" {
		refreshed, err := a.orchestrator.RefreshAccount(ctx, accountID)
		if err != nil {
			return usage.ErrorResult("Claude")
		}
		data = refreshed
	} else {
		current, ok, err := a.activeSync.LoadCurrent(ctx)
		if err != nil || !ok {
			return usage.ErrorResult("Claude")
		}
		data = refreshClaudeCredentialsAlways(ctx, a, current)
	}

	cred := credential.Parse(data)
	plan, hasPlan := cred.Plan()

	info := usage.Info{Name: "Claude", Available: true}
	if hasPlan {
		info.Plan = &plan
	}

	token, ok := cred.AccessToken()
	if !ok {
		info.Error = true
		return info
	}

	summary, ok := a.claudeUsage.Summary(ctx, token)
	if !ok {
		info.Error = true
		return info
	}

	if summary.FiveHour.Percent != nil {
		pct := float64(*summary.FiveHour.Percent)
		info.FiveHourPercent = &pct
	}
	if summary.FiveHour.ResetAt != nil {
		reset := summary.FiveHour.ResetAt.Format(time.RFC3339)
		info.FiveHourReset = &reset
	}
	if summary.SevenDay.Percent != nil {
		pct := float64(*summary.SevenDay.Percent)
		info.SevenDayPercent = &pct
	}
	if summary.SevenDay.ResetAt != nil {
		reset := summary.SevenDay.ResetAt.Format(time.RFC3339)
		info.SevenDayReset = &reset
	}
	return info
}

// refreshClaudeCredentialsAlways always exchanges the refresh token,
// syncing the result back to the active credential file/keychain on
// success. Any failure (missing refresh token, transport error) falls
// back to returning data unchanged.
func refreshClaudeCredentialsAlways(ctx context.Context, a *app, data []byte) []byte {
	cred := credential.Parse(data)
	refreshToken, ok := cred.RefreshToken()
	if !ok {
		return data
	}
	scope := strings.Join(cred.Scopes(), " ")
	if scope == "" {
		scope = credential.DefaultScope
	}
	resp, err := a.oauth.Refresh(ctx, refreshToken, scope)
	if err != nil {
		return data
	}
	refreshed := cred.ApplyRefresh(resp.AccessToken, resp.RefreshToken, float64(resp.ExpiresIn), resp.Scope)
	_ = a.activeSync.SyncActive(ctx, refreshed)
	return refreshed
}

// computeCheckUsageRecommendation picks the provider with the lowest
// 5-hour usage percent among those with known, non-error data, mirroring
// original_source/main.rs's compute_check_usage_recommendation.
func computeCheckUsageRecommendation(claude usage.Info, codex, gemini, zai *usage.Info) (*string, string) {
	type candidate struct {
		name    string
		percent float64
	}
	var candidates []candidate

	if !claude.Error && claude.FiveHourPercent != nil {
		candidates = append(candidates, candidate{"claude", *claude.FiveHourPercent})
	}
	for _, info := range []*usage.Info{codex, gemini, zai} {
		if info == nil || !info.Available || info.Error || info.FiveHourPercent == nil {
			continue
		}
		name := strings.ToLower(info.Name)
		candidates = append(candidates, candidate{name, *info.FiveHourPercent})
	}

	if len(candidates) == 0 {
		return nil, "No usage data available"
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].percent < candidates[j].percent })
	best := candidates[0]
	name := best.name
	return &name, fmt.Sprintf("Lowest usage (%d%% used)", int(best.percent))
}
