package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/briefd/internal/bundle"
	"github.com/kalambet/briefd/internal/scheduler"
)

// --- helpers ---

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestNewMCPServer_RegistersTools(t *testing.T) {
	s := NewMCPServer(newTestDeps(), "test")
	if s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_RunBundle(t *testing.T) {
	deps := newTestDeps()
	var got bundle.Request
	deps.Executor = &mockRunner{fn: func(_ context.Context, req bundle.Request) bundle.Result {
		got = req
		return bundle.Result{Success: true, Text: "digest", Status: bundle.StatusSucceeded}
	}}
	handler := mcpRunBundle(deps)

	req := makeCallToolRequest("run_bundle", map[string]interface{}{
		"bundle_id":        "b1",
		"title":            "Tech",
		"instruction":      "summarize",
		"urls":             []interface{}{"https://a.example", "https://b.example"},
		"telegram_chat_id": "@tech",
		"kakao":            true,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var resp struct {
		BundleID string `json:"bundleId"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("parsing result: %v", err)
	}
	if resp.BundleID != "b1" || resp.Text != "digest" {
		t.Errorf("result = %+v", resp)
	}
	if len(got.URLs) != 2 || !got.Channels.Kakao.Enabled || got.Channels.Telegram.ChatID != "@tech" || !got.Channels.Telegram.Enabled {
		t.Errorf("request = %+v", got)
	}
}

func TestMCPTool_RunBundle_Failure(t *testing.T) {
	deps := newTestDeps()
	deps.Executor = &mockRunner{fn: func(context.Context, bundle.Request) bundle.Result {
		return bundle.Result{Error: "no content", Status: bundle.StatusNoContent}
	}}
	handler := mcpRunBundle(deps)

	result, err := handler(context.Background(), makeCallToolRequest("run_bundle", map[string]interface{}{
		"title": "t", "instruction": "i", "web_search": true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected IsError for failed run")
	}
	if !strings.Contains(toolText(t, result), "no_content") {
		t.Errorf("text = %s", toolText(t, result))
	}
}

func TestMCPTool_RunBundle_MissingArgs(t *testing.T) {
	handler := mcpRunBundle(newTestDeps())

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"no title", map[string]interface{}{"instruction": "i", "web_search": true}, "title"},
		{"no instruction", map[string]interface{}{"title": "t", "web_search": true}, "instruction"},
		{"no sources", map[string]interface{}{"title": "t", "instruction": "i"}, "url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("run_bundle", tt.args))
			if err != nil {
				t.Fatal(err)
			}
			if !result.IsError {
				t.Fatal("expected tool error")
			}
			if !strings.Contains(toolText(t, result), tt.want) {
				t.Errorf("text = %q, want it to contain %q", toolText(t, result), tt.want)
			}
		})
	}
}

func TestMCPTool_ScheduleBundle(t *testing.T) {
	deps := newTestDeps()
	sched := deps.Scheduler.(*mockSchedules)
	handler := mcpScheduleBundle(deps)

	result, err := handler(context.Background(), makeCallToolRequest("schedule_bundle", map[string]interface{}{
		"bundle_id":    "digest",
		"title":        "Digest",
		"instruction":  "weekly digest",
		"web_search":   true,
		"every_n_days": float64(3),
		"at":           "08:00",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if !strings.Contains(toolText(t, result), "every 3 days at 08:00") {
		t.Errorf("text = %s", toolText(t, result))
	}
	want := scheduler.EveryNDaysAt(3, scheduler.TimeOfDay{Hour: 8})
	if sched.tasks["digest"].Policy != want {
		t.Errorf("policy = %+v, want %+v", sched.tasks["digest"].Policy, want)
	}
}

func TestMCPTool_ScheduleBundle_Invalid(t *testing.T) {
	handler := mcpScheduleBundle(newTestDeps())

	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"no id", map[string]interface{}{"title": "t", "instruction": "i", "web_search": true, "interval_minutes": float64(5)}},
		{"no policy", map[string]interface{}{"bundle_id": "x", "title": "t", "instruction": "i", "web_search": true}},
		{"two policies", map[string]interface{}{"bundle_id": "x", "title": "t", "instruction": "i", "web_search": true, "interval_minutes": float64(5), "daily_at": "07:00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := handler(context.Background(), makeCallToolRequest("schedule_bundle", tt.args))
			if err != nil {
				t.Fatal(err)
			}
			if !result.IsError {
				t.Errorf("expected tool error, got %s", toolText(t, result))
			}
		})
	}
}

func TestMCPTool_StopSchedule(t *testing.T) {
	deps := newTestDeps()
	sched := deps.Scheduler.(*mockSchedules)
	_ = sched.Start("a", scheduler.TaskConfig{Policy: scheduler.Interval(5)})
	_ = sched.Start("b", scheduler.TaskConfig{Policy: scheduler.Interval(5)})
	handler := mcpStopSchedule(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("stop_schedule", map[string]interface{}{"bundle_id": "a"}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if _, ok := sched.Status("a"); ok {
		t.Error("a still scheduled")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("stop_schedule", map[string]interface{}{"all": true}))
	if toolText(t, result) != "Stopped 1 schedules" {
		t.Errorf("text = %q", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("stop_schedule", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error without bundle_id or all")
	}
}

func TestMCPTool_ScheduleStatus(t *testing.T) {
	deps := newTestDeps()
	sched := deps.Scheduler.(*mockSchedules)
	_ = sched.Start("b", scheduler.TaskConfig{Request: bundle.Request{Title: "B"}, Policy: scheduler.Interval(5)})
	_ = sched.Start("a", scheduler.TaskConfig{Request: bundle.Request{Title: "A"}, Policy: scheduler.Interval(10)})
	handler := mcpScheduleStatus(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("schedule_status", map[string]interface{}{}))
	var all []scheduleResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "b" {
		t.Errorf("statuses = %+v, want sorted a, b", all)
	}

	result, _ = handler(context.Background(), makeCallToolRequest("schedule_status", map[string]interface{}{"bundle_id": "a"}))
	if !strings.Contains(toolText(t, result), "every 10 min") {
		t.Errorf("text = %s", toolText(t, result))
	}

	result, _ = handler(context.Background(), makeCallToolRequest("schedule_status", map[string]interface{}{"bundle_id": "ghost"}))
	if !result.IsError {
		t.Error("expected error for unknown id")
	}
}

func TestMCPTool_CancelRun(t *testing.T) {
	deps := newTestDeps()
	ctx, done := deps.Runs.Begin(context.Background(), "b1")
	defer done()
	handler := mcpCancelRun(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("cancel_run", map[string]interface{}{"bundle_id": "b1"}))
	if toolText(t, result) != "Cancelled b1" {
		t.Errorf("text = %q", toolText(t, result))
	}
	if ctx.Err() == nil {
		t.Error("run context not cancelled")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("cancel_run", map[string]interface{}{"bundle_id": "b1"}))
	if !strings.HasPrefix(toolText(t, result), "No run pending") {
		t.Errorf("text = %q", toolText(t, result))
	}
}
