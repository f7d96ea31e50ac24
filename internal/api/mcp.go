package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/briefd/internal/bundle"
)

// NewMCPServer creates an MCP server exposing bundle runs and schedules as
// tools. It shares deps.Runs with the REST API so either side can cancel a
// run started by the other.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	if deps.Runs == nil {
		deps.Runs = bundle.NewRuns()
	}

	s := server.NewMCPServer(
		"briefd",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("briefd runs research bundles: it fetches sources, optionally searches the web, synthesizes a report with a local model and delivers it to Telegram or Kakao."),
		server.WithRecovery(),
	)

	bundleArgs := []mcp.ToolOption{
		mcp.WithString("title", mcp.Description("Report title, used as the message header"), mcp.Required()),
		mcp.WithString("instruction", mcp.Description("What the report should contain"), mcp.Required()),
		mcp.WithArray("urls", mcp.Description("Source URLs to fetch")),
		mcp.WithBoolean("web_search", mcp.Description("Augment sources with web search results")),
		mcp.WithString("telegram_chat_id", mcp.Description("Deliver to this Telegram chat id or @channel")),
		mcp.WithBoolean("kakao", mcp.Description("Deliver to the connected Kakao account")),
	}

	s.AddTool(
		mcp.NewTool("run_bundle", append([]mcp.ToolOption{
			mcp.WithDescription("Run a research bundle once and return the generated report and delivery results."),
			mcp.WithString("bundle_id", mcp.Description("Bundle id; a newer run with the same id cancels this one")),
		}, bundleArgs...)...),
		mcpRunBundle(deps),
	)

	s.AddTool(
		mcp.NewTool("schedule_bundle", append([]mcp.ToolOption{
			mcp.WithDescription("Schedule a research bundle to run repeatedly. Set exactly one of interval_minutes, daily_at, or every_n_days with at. Runs once immediately."),
			mcp.WithString("bundle_id", mcp.Description("Schedule id; an existing schedule with this id is replaced"), mcp.Required()),
			mcp.WithNumber("interval_minutes", mcp.Description("Run every N minutes")),
			mcp.WithString("daily_at", mcp.Description("Run every day at HH:MM")),
			mcp.WithNumber("every_n_days", mcp.Description("Run every N days at the time given in at")),
			mcp.WithString("at", mcp.Description("HH:MM for every_n_days")),
		}, bundleArgs...)...),
		mcpScheduleBundle(deps),
	)

	s.AddTool(
		mcp.NewTool("stop_schedule",
			mcp.WithDescription("Stop a scheduled bundle, or all of them."),
			mcp.WithString("bundle_id", mcp.Description("Schedule id to stop")),
			mcp.WithBoolean("all", mcp.Description("Stop every schedule")),
		),
		mcpStopSchedule(deps),
	)

	s.AddTool(
		mcp.NewTool("schedule_status",
			mcp.WithDescription("Report the state of one schedule, or all schedules when bundle_id is omitted."),
			mcp.WithString("bundle_id", mcp.Description("Schedule id")),
		),
		mcpScheduleStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("cancel_run",
			mcp.WithDescription("Cancel an in-flight run started with run_bundle or the REST API."),
			mcp.WithString("bundle_id", mcp.Description("Bundle id of the run"), mcp.Required()),
		),
		mcpCancelRun(deps),
	)

	return s
}

// requestFromArgs builds a bundle request from the shared tool arguments.
func requestFromArgs(req mcp.CallToolRequest) (bundle.Request, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return bundle.Request{}, fmt.Errorf("title is required")
	}
	instruction, err := req.RequireString("instruction")
	if err != nil {
		return bundle.Request{}, fmt.Errorf("instruction is required")
	}

	r := bundle.Request{
		ID:          req.GetString("bundle_id", ""),
		Title:       title,
		Instruction: instruction,
		URLs:        req.GetStringSlice("urls", nil),
		WebSearch:   req.GetBool("web_search", false),
	}
	if chatID := req.GetString("telegram_chat_id", ""); chatID != "" {
		r.Channels.Telegram = bundle.TelegramChannel{Enabled: true, ChatID: chatID}
	}
	r.Channels.Kakao.Enabled = req.GetBool("kakao", false)

	if err := r.Validate(); err != nil {
		return bundle.Request{}, err
	}
	return r, nil
}

func mcpRunBundle(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		r, err := requestFromArgs(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}

		runCtx, done := deps.Runs.Begin(ctx, r.ID)
		defer done()

		res := deps.Executor.Execute(runCtx, r)
		b, err := json.Marshal(executeResponse{BundleID: r.ID, Result: res})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		if !res.Success {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(b)}},
				IsError: true,
			}, nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpScheduleBundle(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if _, err := req.RequireString("bundle_id"); err != nil {
			return mcpError("bundle_id is required"), nil
		}
		r, err := requestFromArgs(req)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		sched := bundle.Schedule{
			IntervalMinutes: req.GetInt("interval_minutes", 0),
			DailyAt:         req.GetString("daily_at", ""),
			EveryNDays:      req.GetInt("every_n_days", 0),
			At:              req.GetString("at", ""),
		}

		st, err := startSchedule(deps.Scheduler, r, sched)
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Scheduled %s (%s)", r.ID, st.Policy)), nil
	}
}

func mcpStopSchedule(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if req.GetBool("all", false) {
			n := len(deps.Scheduler.Statuses())
			deps.Scheduler.StopAll()
			return mcpText(fmt.Sprintf("Stopped %d schedules", n)), nil
		}
		id := req.GetString("bundle_id", "")
		if id == "" {
			return mcpError("bundle_id or all is required"), nil
		}
		deps.Scheduler.Stop(id)
		return mcpText(fmt.Sprintf("Stopped %s", id)), nil
	}
}

func mcpScheduleStatus(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if id := req.GetString("bundle_id", ""); id != "" {
			st, ok := deps.Scheduler.Status(id)
			if !ok {
				return mcpError(fmt.Sprintf("schedule %q not found", id)), nil
			}
			b, err := json.Marshal(scheduleResponse{ID: id, Status: st})
			if err != nil {
				return mcpError(fmt.Sprintf("failed to marshal status: %v", err)), nil
			}
			return mcpText(string(b)), nil
		}

		all := deps.Scheduler.Statuses()
		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out := make([]scheduleResponse, len(ids))
		for i, id := range ids {
			out[i] = scheduleResponse{ID: id, Status: all[id]}
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal statuses: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpCancelRun(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("bundle_id")
		if err != nil {
			return mcpError("bundle_id is required"), nil
		}
		if !deps.Runs.Cancel(id) {
			return mcpText(fmt.Sprintf("No run pending for %s", id)), nil
		}
		return mcpText(fmt.Sprintf("Cancelled %s", id)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
