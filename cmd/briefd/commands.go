package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/briefd/internal/bundle"
	"github.com/kalambet/briefd/internal/config"
	"github.com/kalambet/briefd/internal/scheduler"
)

// --- shared bundle flags ---

func addBundleFlags(cmd *cobra.Command) {
	cmd.Flags().String("id", "", "bundle id")
	cmd.Flags().String("title", "", "report title")
	cmd.Flags().String("instruction", "", "what the report should contain")
	cmd.Flags().StringSlice("url", nil, "source URL (repeatable)")
	cmd.Flags().Bool("web-search", false, "augment sources with web search results")
	cmd.Flags().String("telegram-chat", "", "deliver to this Telegram chat id or @channel")
	cmd.Flags().String("telegram-bot-token", "", "bot token for this bundle (defaults to the configured bot)")
	cmd.Flags().Bool("kakao", false, "deliver to the connected Kakao account")
}

func requestFromFlags(cmd *cobra.Command) (bundle.Request, error) {
	id, _ := cmd.Flags().GetString("id")
	title, _ := cmd.Flags().GetString("title")
	instruction, _ := cmd.Flags().GetString("instruction")
	urls, _ := cmd.Flags().GetStringSlice("url")
	webSearch, _ := cmd.Flags().GetBool("web-search")
	chatID, _ := cmd.Flags().GetString("telegram-chat")
	botToken, _ := cmd.Flags().GetString("telegram-bot-token")
	kakao, _ := cmd.Flags().GetBool("kakao")

	req := bundle.Request{
		ID:          id,
		Title:       title,
		Instruction: instruction,
		URLs:        urls,
		WebSearch:   webSearch,
	}
	if chatID != "" {
		req.Channels.Telegram = bundle.TelegramChannel{Enabled: true, ChatID: chatID, BotToken: botToken}
	}
	req.Channels.Kakao.Enabled = kakao

	if err := req.Validate(); err != nil {
		return bundle.Request{}, err
	}
	return req, nil
}

// --- run ---

type runResponse struct {
	BundleID string `json:"bundleId"`
	bundle.Result
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a research bundle once",
	Long: `Run a research bundle once and print the report.

Examples:
  briefd run --title "Go news" --instruction "Summarize this week's Go releases" --web-search
  briefd run --title "Rates" --instruction "Summarize" --url https://example.com/rates --telegram-chat @rates`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := requestFromFlags(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		printStep("Running %q...", req.Title)

		if stream, _ := cmd.Flags().GetBool("stream"); stream {
			res, err := streamRun(cmd.Context(), client, req, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return printRunResult(res, false)
		}

		resp, err := client.post(cmd.Context(), "/bundles/execute", req)
		if err != nil {
			return err
		}
		var res runResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		return printRunResult(res, true)
	},
}

// streamRun executes req with the synthesis written to w as the model
// produces it, and returns the final result event.
func streamRun(ctx context.Context, client *apiClient, req bundle.Request, w io.Writer) (runResponse, error) {
	resp, err := client.post(ctx, "/bundles/execute?stream=true", req)
	if err != nil {
		return runResponse{}, err
	}

	var res *runResponse
	wrote := false
	err = readEvents(resp, func(data []byte) error {
		var ev struct {
			Token  string       `json:"token"`
			Result *runResponse `json:"result"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decoding stream event: %w", err)
		}
		if ev.Token != "" {
			fmt.Fprint(w, ev.Token)
			wrote = true
		}
		if ev.Result != nil {
			res = ev.Result
		}
		return nil
	})
	if wrote {
		fmt.Fprintln(w)
	}
	if err != nil {
		return runResponse{}, err
	}
	if res == nil {
		return runResponse{}, fmt.Errorf("stream ended without a result")
	}
	return *res, nil
}

func printRunResult(res runResponse, showText bool) error {
	if showText && res.Text != "" {
		fmt.Println(res.Text)
	}
	for _, d := range res.Deliveries {
		switch {
		case d.Skipped:
			printStatus(d.Channel, "skipped")
		case d.Sent:
			printStatus(d.Channel, "sent %d/%d", d.SentCount, d.TotalChunks)
		default:
			printStatus(d.Channel, "failed after %d/%d: %s", d.SentCount, d.TotalChunks, d.Error)
		}
	}
	if !res.Success {
		return fmt.Errorf("bundle %s %s: %s", res.BundleID, res.Status, res.Error)
	}
	printSuccess("Bundle %s %s", res.BundleID, res.Status)
	return nil
}

func init() {
	addBundleFlags(runCmd)
	runCmd.Flags().Bool("stream", false, "print the report as the model writes it")
}

// --- cancel ---

var cancelCmd = &cobra.Command{
	Use:   "cancel <bundle-id>",
	Short: "Cancel an in-flight bundle run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/bundles/"+url.PathEscape(args[0])+"/cancel", nil)
		if err != nil {
			return err
		}
		var result struct {
			Cancelled bool `json:"cancelled"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if !result.Cancelled {
			printWarning("No run pending for %s", args[0])
			return nil
		}
		printSuccess("Cancelled %s", args[0])
		return nil
	},
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage recurring bundles",
}

type scheduleBody struct {
	bundle.Request
	TimingPolicy bundle.Schedule `json:"timingPolicy"`
}

type scheduleEntry struct {
	ID     string           `json:"id"`
	Status scheduler.Status `json:"status"`
}

var scheduleStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Schedule a bundle, or every bundle in a file",
	Long: `Schedule a bundle. Give exactly one of --every, --daily-at, or
--every-n-days together with --at. The bundle runs once immediately.

Examples:
  briefd schedule start --id news --title "News" --instruction "Top stories" --url https://news.example.com --daily-at 07:30 --kakao
  briefd schedule start --file bundles.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")

		var bodies []scheduleBody
		if file != "" {
			defs, err := bundle.LoadFile(file)
			if err != nil {
				return err
			}
			for _, d := range defs {
				bodies = append(bodies, scheduleBody{Request: d.Request, TimingPolicy: d.Schedule})
			}
		} else {
			body, err := scheduleFromFlags(cmd)
			if err != nil {
				return err
			}
			bodies = append(bodies, body)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		for _, b := range bodies {
			entry, err := startSchedule(cmd.Context(), client, b)
			if err != nil {
				return fmt.Errorf("scheduling %s: %w", b.ID, err)
			}
			printSuccess("Scheduled %s (%s)", entry.ID, entry.Status.Policy)
		}
		return nil
	},
}

func scheduleFromFlags(cmd *cobra.Command) (scheduleBody, error) {
	req, err := requestFromFlags(cmd)
	if err != nil {
		return scheduleBody{}, err
	}
	if req.ID == "" {
		return scheduleBody{}, fmt.Errorf("--id is required")
	}
	every, _ := cmd.Flags().GetInt("every")
	dailyAt, _ := cmd.Flags().GetString("daily-at")
	everyNDays, _ := cmd.Flags().GetInt("every-n-days")
	at, _ := cmd.Flags().GetString("at")

	sched := bundle.Schedule{IntervalMinutes: every, DailyAt: dailyAt, EveryNDays: everyNDays, At: at}
	if _, err := scheduler.PolicyFor(sched); err != nil {
		return scheduleBody{}, err
	}
	return scheduleBody{Request: req, TimingPolicy: sched}, nil
}

func startSchedule(ctx context.Context, c *apiClient, body scheduleBody) (scheduleEntry, error) {
	resp, err := c.post(ctx, "/schedules", body)
	if err != nil {
		return scheduleEntry{}, err
	}
	var entry scheduleEntry
	if err := decodeJSON(resp, &entry); err != nil {
		return scheduleEntry{}, err
	}
	return entry, nil
}

func listSchedules(ctx context.Context, c *apiClient) (map[string]scheduler.Status, error) {
	resp, err := c.get(ctx, "/schedules")
	if err != nil {
		return nil, err
	}
	var statuses map[string]scheduler.Status
	if err := decodeJSON(resp, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled bundles",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		statuses, err := listSchedules(cmd.Context(), client)
		if err != nil {
			return err
		}
		if len(statuses) == 0 {
			fmt.Println("No schedules.")
			return nil
		}

		ids := make([]string, 0, len(statuses))
		for id := range statuses {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Println(formatScheduleLine(id, statuses[id]))
		}
		return nil
	},
}

func formatScheduleLine(id string, st scheduler.Status) string {
	state := "idle"
	if st.IsRunning {
		state = colorize(colorYellow, "running")
	}
	next := "-"
	if st.NextRunAt != nil {
		next = st.NextRunAt.Local().Format(time.DateTime)
	}
	last := "-"
	if st.LastStatus != "" {
		last = string(st.LastStatus)
	}
	return fmt.Sprintf("%s  %-24s  %-7s  runs=%d  last=%s  next=%s",
		colorize(colorCyan, id), st.Policy, state, st.ExecutionCount, last, next)
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one schedule, including its last result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/schedules/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var entry scheduleEntry
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		return printJSON(entry)
	},
}

var scheduleStopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a scheduled bundle",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/schedules/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Stopped %s", args[0])
		return nil
	},
}

var scheduleStopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every scheduled bundle",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/schedules")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("All schedules stopped")
		return nil
	},
}

func init() {
	addBundleFlags(scheduleStartCmd)
	scheduleStartCmd.Flags().Int("every", 0, "run every N minutes")
	scheduleStartCmd.Flags().String("daily-at", "", "run daily at HH:MM")
	scheduleStartCmd.Flags().Int("every-n-days", 0, "run every N days at --at")
	scheduleStartCmd.Flags().String("at", "", "HH:MM for --every-n-days")
	scheduleStartCmd.Flags().String("file", "", "YAML bundles file to schedule instead of flags")

	scheduleCmd.AddCommand(scheduleStartCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleShowCmd)
	scheduleCmd.AddCommand(scheduleStopCmd)
	scheduleCmd.AddCommand(scheduleStopAllCmd)
}

// --- kakao ---

var kakaoCmd = &cobra.Command{
	Use:   "kakao",
	Short: "Manage the KakaoTalk channel",
}

type kakaoStatus struct {
	Configured bool `json:"configured"`
	Connected  bool `json:"connected"`
}

func printKakaoStatus(st kakaoStatus) {
	printStatus("REST API key", "%s", configuredLabel(st.Configured))
	if st.Connected {
		printStatus("Account", "connected")
	} else {
		printStatus("Account", "not connected")
	}
}

var kakaoTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Store Kakao OAuth tokens",
	Long: `Store the access and refresh tokens obtained from Kakao's OAuth flow.
The access token is refreshed automatically when it expires.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		access, _ := cmd.Flags().GetString("access-token")
		refresh, _ := cmd.Flags().GetString("refresh-token")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")
		if access == "" {
			return fmt.Errorf("--access-token is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]any{
			"accessToken":  access,
			"refreshToken": refresh,
			"expiresIn":    int(expiresIn.Seconds()),
		}
		resp, err := client.put(cmd.Context(), "/channels/kakao/token", body)
		if err != nil {
			return err
		}
		var st kakaoStatus
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printSuccess("Kakao token stored")
		printKakaoStatus(st)
		return nil
	},
}

var kakaoStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Kakao connection status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/channels/kakao/status")
		if err != nil {
			return err
		}
		var st kakaoStatus
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printKakaoStatus(st)
		return nil
	},
}

var kakaoTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to the connected Kakao account",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/channels/kakao/test", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Kakao test message sent")
		return nil
	},
}

func init() {
	kakaoTokenCmd.Flags().String("access-token", "", "OAuth access token")
	kakaoTokenCmd.Flags().String("refresh-token", "", "OAuth refresh token")
	kakaoTokenCmd.Flags().Duration("expires-in", 6*time.Hour, "access token lifetime")

	kakaoCmd.AddCommand(kakaoTokenCmd)
	kakaoCmd.AddCommand(kakaoStatusCmd)
	kakaoCmd.AddCommand(kakaoTestCmd)
}

// --- telegram ---

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Check the Telegram channel",
}

var telegramStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a default bot token is configured",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/channels/telegram/status")
		if err != nil {
			return err
		}
		var st struct {
			Configured bool `json:"configured"`
		}
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatus("Bot token", "%s", configuredLabel(st.Configured))
		return nil
	},
}

var telegramTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Send a test message to a Telegram chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		chatID, _ := cmd.Flags().GetString("chat")
		botToken, _ := cmd.Flags().GetString("bot-token")
		if chatID == "" {
			return fmt.Errorf("--chat is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]string{"chatId": chatID}
		if botToken != "" {
			body["botToken"] = botToken
		}
		resp, err := client.post(cmd.Context(), "/channels/telegram/test", body)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Telegram test message sent to %s", chatID)
		return nil
	},
}

func init() {
	telegramTestCmd.Flags().String("chat", "", "chat id or @channel")
	telegramTestCmd.Flags().String("bot-token", "", "bot token (defaults to the configured bot)")

	telegramCmd.AddCommand(telegramStatusCmd)
	telegramCmd.AddCommand(telegramTestCmd)
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

		printStatus("Config file", "%s", config.ConfigFilePath())
		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
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

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so its default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
