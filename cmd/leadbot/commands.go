package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/leadbot/internal/api"
	"github.com/kalambet/leadbot/internal/config"
	"github.com/kalambet/leadbot/internal/ollama"
	"github.com/kalambet/leadbot/internal/proxy"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/subscriber"
	"github.com/kalambet/leadbot/internal/supervisor"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, connection and queue status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			// Still show partial status even if config fails.
			printError("config error: %v", err)
			return nil
		}
		client := &apiClient{
			baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
			token:      cfg.Server.APIToken,
			httpClient: &http.Client{Timeout: 2 * time.Second},
		}
		showStatus(cmd.Context(), client)
		printStatus("Providers", "%s", strings.Join(cfg.EnabledProviders(), " → "))
		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

func showStatus(ctx context.Context, c *apiClient) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		printStatus("Server", "stopped")
		return
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		return
	}
	printStatus("Server", "running at %s", c.baseURL)
	if c.token == "" {
		return
	}

	if resp, err := c.get(ctx, "/connections"); err == nil {
		var conns map[string]supervisor.Status
		if decodeJSON(resp, &conns) == nil {
			names := make([]string, 0, len(conns))
			for name := range conns {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				st := conns[name]
				line := string(st.State)
				if st.State != supervisor.StateConnected {
					line = colorize(colorYellow, line)
				}
				if st.LastError != "" {
					line += " (" + st.LastError + ")"
				}
				printStatus("Telegram "+name, "%s", line)
			}
		}
	}

	if resp, err := c.get(ctx, "/queue/stats"); err == nil {
		var st storage.QueueStats
		if decodeJSON(resp, &st) == nil {
			printStatus("Queue", "%d pending, %d processing, %d completed, %d failed",
				st.Pending, st.Processing, st.Completed, st.Failed)
		}
	}
}

// --- queue ---

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the ingestion queue",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/queue/stats")
		if err != nil {
			return err
		}
		var st storage.QueueStats
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatus("Pending", "%d", st.Pending)
		printStatus("Processing", "%d", st.Processing)
		printStatus("Completed", "%d", st.Completed)
		printStatus("Failed", "%d", st.Failed)
		if !st.OldestPending.IsZero() {
			printStatus("Oldest pending", "%s ago", time.Since(st.OldestPending).Round(time.Second))
		}
		return nil
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show pipeline counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/metrics")
		if err != nil {
			return err
		}
		var counters map[string]int64
		if err := decodeJSON(resp, &counters); err != nil {
			return err
		}
		printCounters(counters)
		return nil
	},
}

func printCounters(counters map[string]int64) {
	if len(counters) == 0 {
		fmt.Fprintln(stdout, "No counters recorded yet.")
		return
	}
	names := make([]string, 0, len(counters))
	for name := range counters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		printStatus(name, "%d", counters[name])
	}
}

func init() {
	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(metricsCmd)
}

// --- reviews ---

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List and decide leads held for manual review",
}

type reviewItem struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	Lead      struct {
		Category string `json:"category"`
		Region   string `json:"region"`
		Text     string `json:"text"`
	} `json:"lead"`
}

var reviewsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listReviews(cmd.Context(), client, status, limit)
	},
}

func listReviews(ctx context.Context, c *apiClient, status string, limit int) error {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	q.Set("limit", fmt.Sprint(limit))

	resp, err := c.get(ctx, "/reviews?"+q.Encode())
	if err != nil {
		return err
	}
	var items []reviewItem
	if err := decodeJSON(resp, &items); err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "No reviews found.")
		return nil
	}
	for _, it := range items {
		text := []rune(strings.ReplaceAll(it.Lead.Text, "\n", " "))
		if len(text) > 80 {
			text = append(text[:80], []rune("...")...)
		}
		fmt.Fprintf(stdout, "%s  %-8s  %s  %s/%s  %s\n",
			colorize(colorCyan, it.ID),
			it.Status,
			it.CreatedAt.Local().Format("2006-01-02 15:04"),
			it.Lead.Category,
			it.Lead.Region,
			string(text),
		)
	}
	return nil
}

var reviewsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a held lead and deliver it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		sent, err := approveReview(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		printSuccess("Approved %s, delivered to %d subscriber(s)", args[0], len(sent))
		return nil
	},
}

func approveReview(ctx context.Context, c *apiClient, id string) ([]int64, error) {
	resp, err := c.post(ctx, "/reviews/"+url.PathEscape(id)+"/approve", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		DeliveredTo []int64 `json:"delivered_to"`
	}
	if err := decodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.DeliveredTo, nil
}

var reviewsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a held lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/reviews/"+url.PathEscape(args[0])+"/reject", nil)
		if err != nil {
			return err
		}
		var out map[string]string
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Rejected %s", args[0])
		return nil
	},
}

func init() {
	reviewsListCmd.Flags().String("status", storage.ReviewPending, "filter by status (pending, approved, rejected; empty for all)")
	reviewsListCmd.Flags().Int("limit", 20, "maximum number of reviews to list")
	reviewsCmd.AddCommand(reviewsListCmd)
	reviewsCmd.AddCommand(reviewsApproveCmd)
	reviewsCmd.AddCommand(reviewsRejectCmd)
}

// --- classify ---

var classifyCmd = &cobra.Command{
	Use:   "classify <text>",
	Short: "Dry-run classification of a message without delivering it",
	Long: `Dry-run classification of a message without delivering it.

Examples:
  leadbot classify "Ищу трансфер из аэропорта Пхукета в Патонг"
  leadbot classify --categories transfer,excursion --json "Нужен гид на завтра"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cats, _ := cmd.Flags().GetString("categories")
		asJSON, _ := cmd.Flags().GetBool("json")

		req := api.ClassifyRequest{Text: strings.Join(args, " ")}
		for _, c := range strings.Split(cats, ",") {
			if c = strings.TrimSpace(c); c != "" {
				req.Categories = append(req.Categories, c)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		out, err := classifyText(cmd.Context(), client, req)
		if err != nil {
			return err
		}
		if asJSON {
			return printJSON(out)
		}
		printClassification(out)
		return nil
	},
}

func classifyText(ctx context.Context, c *apiClient, req api.ClassifyRequest) (api.ClassifyResponse, error) {
	var out api.ClassifyResponse
	resp, err := c.post(ctx, "/classify", req)
	if err != nil {
		return out, err
	}
	err = decodeJSON(resp, &out)
	return out, err
}

func printClassification(out api.ClassifyResponse) {
	r := out.Result
	verdict := colorize(colorRed, "rejected")
	switch {
	case r.Accepted:
		verdict = colorize(colorGreen, "accepted")
	case r.Borderline:
		verdict = colorize(colorYellow, "borderline")
	}
	printStatus("Verdict", "%s (confidence %.2f)", verdict, r.Confidence)
	if r.Category != "" {
		cat := r.Category
		if r.Subcategory != "" {
			cat += " / " + r.Subcategory
		}
		printStatus("Category", "%s", cat)
	}
	if r.Region != "" {
		printStatus("Region", "%s", r.Region)
	}
	if r.Explanation != "" {
		printStatus("Reason", "%s", r.Explanation)
	}
	if out.Hint != "" {
		printStatus("Keyword hint", "%s", out.Hint)
	}
	if len(out.Regions) > 0 {
		printStatus("Places", "%s", strings.Join(out.Regions, ", "))
	}
	if out.Advertisement {
		printStatus("Heuristics", "%s", colorize(colorYellow, "looks like an advertisement"))
	}
	if out.Negative {
		printStatus("Heuristics", "%s", colorize(colorYellow, "contains a negative phrase"))
	}
	for _, a := range out.Attempts {
		line := fmt.Sprintf("%dms", a.ElapsedMS)
		switch {
		case a.Skipped:
			line = "skipped"
		case a.Error != "":
			line += " " + colorize(colorRed, a.Error)
		}
		printStatus("  "+a.Provider, "%s", line)
	}
	if out.TimedOut {
		printWarning("classification budget ran out")
	}
}

func init() {
	classifyCmd.Flags().String("categories", "", "comma-separated categories (default: the loaded catalog)")
	classifyCmd.Flags().Bool("json", false, "print the raw response")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys and their environment variables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			marker := ""
			if k.Secret {
				marker = colorize(colorYellow, " (secret)")
			}
			fmt.Fprintf(stdout, "  %-34s %s%s\n", k.Key, k.EnvVar, marker)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configKeysCmd)
}

// --- migrate ---

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres subscriber schema",
}

func postgresDSN() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.Subscribers.PostgresDSN == "" {
		return "", errors.New("no Postgres DSN configured; set LEADBOT_POSTGRES_DSN")
	}
	return cfg.Subscribers.PostgresDSN, nil
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := postgresDSN()
		if err != nil {
			return err
		}
		printStep("Applying migrations...")
		if err := subscriber.MigrateUp(dsn); err != nil {
			return err
		}
		printSuccess("Schema is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This drops the subscriber tables. Use --confirm to proceed.")
			return nil
		}
		dsn, err := postgresDSN()
		if err != nil {
			return err
		}
		if err := subscriber.MigrateDown(dsn); err != nil {
			return err
		}
		printSuccess("Migrations rolled back")
		return nil
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		dsn, err := postgresDSN()
		if err != nil {
			return err
		}
		v, dirty, err := subscriber.MigrationVersion(dsn)
		if err != nil {
			return err
		}
		if dirty {
			printStatus("Schema version", "%d %s", v, colorize(colorRed, "(dirty)"))
			return nil
		}
		printStatus("Schema version", "%d", v)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().Bool("confirm", false, "confirm rollback")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateVersionCmd)
}

// --- providers ---

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show the classification provider chain",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		showProviders(ctx, cfg)
		return nil
	},
}

// showProviders prints the chain and checks that each hosted model is
// offered by its API, like the Ollama probe does for the local server.
func showProviders(ctx context.Context, cfg config.Config) {
	chain := cfg.EnabledProviders()
	if len(chain) == 0 {
		printWarning("No provider is configured")
		return
	}
	missing := checkHostedModels(ctx, cfg)
	for i, name := range chain {
		model := providerModel(cfg, name)
		note := ""
		if err, checked := missing[name]; checked {
			switch {
			case err == nil:
				note = colorize(colorGreen, "available")
			case errors.Is(err, errModelMissing):
				note = colorize(colorRed, "not offered")
			default:
				note = colorize(colorYellow, "unchecked: "+err.Error())
			}
		}
		printStatus(fmt.Sprintf("%d", i+1), "%s (%s) %s", name, model, note)
	}
	if cfg.Providers.Ollama.Enabled {
		if ollama.New(cfg.Providers.Ollama.BaseURL).IsRunning(ctx) {
			printStatus("Ollama", "running at %s", cfg.Providers.Ollama.BaseURL)
		} else {
			printStatus("Ollama", "%s", colorize(colorYellow, "not running"))
		}
	}
}

var errModelMissing = errors.New("model not offered")

// checkHostedModels lists models once per hosted API and maps each enabled
// provider name to nil, errModelMissing or the listing error.
func checkHostedModels(ctx context.Context, cfg config.Config) map[string]error {
	p := cfg.Providers
	apis := []struct {
		pc    config.ProviderConfig
		names []string
	}{
		{p.OpenRouter, []string{"openrouter", "deepseek", "glm", "oss"}},
		{p.OpenAI, []string{"openai"}},
	}
	enabled := make(map[string]bool)
	for _, name := range cfg.EnabledProviders() {
		enabled[name] = true
	}

	out := make(map[string]error)
	for _, a := range apis {
		var names, models []string
		for _, n := range a.names {
			if enabled[n] {
				names = append(names, n)
				models = append(models, providerModel(cfg, n))
			}
		}
		if len(names) == 0 {
			continue
		}
		missing, err := proxy.NewClientWithBaseURL(a.pc.APIKey, a.pc.BaseURL).MissingModels(ctx, models...)
		for i, n := range names {
			switch {
			case err != nil:
				out[n] = err
			case slices.Contains(missing, models[i]):
				out[n] = errModelMissing
			default:
				out[n] = nil
			}
		}
	}
	return out
}

func providerModel(cfg config.Config, name string) string {
	p := cfg.Providers
	switch name {
	case "openrouter":
		return p.OpenRouter.Model
	case "deepseek":
		return p.DeepSeek.Model
	case "glm":
		return p.GLM.Model
	case "oss":
		return p.OSS.Model
	case "openai":
		return p.OpenAI.Model
	case "ollama":
		return p.Ollama.Model
	}
	return ""
}
