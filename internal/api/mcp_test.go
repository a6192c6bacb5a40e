package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/leadbot/internal/classify"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/supervisor"
)

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

func callTool(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), req mcp.CallToolRequest) *mcp.CallToolResult {
	t.Helper()
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return result
}

func TestMCPEndpoint_RequiresAuth(t *testing.T) {
	deps, _ := newTestDeps(t)
	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	rr := serve(t, NewHandler(deps), authReq(http.MethodPost, "/mcp", body, ""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestMCPTool_QueueStats(t *testing.T) {
	deps, store := newTestDeps(t)
	q := store.Queue(storage.QueueOptions{})
	if _, err := q.Enqueue(context.Background(), storage.Event{ID: 1, ChatID: -100, Text: "x"}, 0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	result := callTool(t, mcpQueueStats(deps), makeCallToolRequest("queue_stats", nil))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var st storage.QueueStats
	if err := json.Unmarshal([]byte(toolText(t, result)), &st); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if st.Pending != 1 {
		t.Errorf("pending = %d, want 1", st.Pending)
	}
}

func TestMCPTool_QueueStats_NotConfigured(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Queue = nil
	result := callTool(t, mcpQueueStats(deps), makeCallToolRequest("queue_stats", nil))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPTool_PipelineMetrics_Prefix(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Metrics.Inc("outcome_SENT")
	deps.Metrics.Add("outcome_DROP_AD", 2)
	deps.Metrics.Inc("dedup_text")

	tests := []struct {
		name      string
		prefix    any
		wantNames []string
	}{
		{"all", nil, []string{"dedup_text", "outcome_DROP_AD", "outcome_SENT"}},
		{"outcomes", "outcome_", []string{"outcome_DROP_AD", "outcome_SENT"}},
		{"none", "provider_", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]interface{}{}
			if tt.prefix != nil {
				args["prefix"] = tt.prefix
			}
			result := callTool(t, mcpPipelineMetrics(deps), makeCallToolRequest("pipeline_metrics", args))
			var got []struct {
				Name  string `json:"name"`
				Value int64  `json:"value"`
			}
			if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
				t.Fatalf("decoding: %v", err)
			}
			if len(got) != len(tt.wantNames) {
				t.Fatalf("got %d counters, want %d: %+v", len(got), len(tt.wantNames), got)
			}
			for i, n := range tt.wantNames {
				if got[i].Name != n {
					t.Errorf("counter[%d] = %s, want %s", i, got[i].Name, n)
				}
			}
		})
	}
}

func TestMCPTool_ClassifyText(t *testing.T) {
	deps, _ := newTestDeps(t)
	cls := &mockClassifier{result: classify.Result{Relevant: true, Category: "экскурсии", Confidence: 0.8}}
	deps.Classifier = cls

	result := callTool(t, mcpClassifyText(deps), makeCallToolRequest("classify_text", map[string]interface{}{
		"text": "Ищу гида на завтра",
		"hint": "экскурсии",
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var resp ClassifyResponse
	if err := json.Unmarshal([]byte(toolText(t, result)), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Result.Category != "экскурсии" {
		t.Errorf("category = %q", resp.Result.Category)
	}
	if len(cls.got) != 1 || cls.got[0].Hint != "экскурсии" {
		t.Errorf("classifier requests = %+v", cls.got)
	}
}

func TestMCPTool_ClassifyText_MissingText(t *testing.T) {
	deps, _ := newTestDeps(t)
	result := callTool(t, mcpClassifyText(deps), makeCallToolRequest("classify_text", map[string]interface{}{}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(toolText(t, result), "text is required") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPTool_ListReviews(t *testing.T) {
	deps, store := newTestDeps(t)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		rv := storage.Review{
			ID:        string(rune('a' + i)),
			LeadJSON:  `{"category":"трансфер"}`,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.SaveReview(ctx, rv); err != nil {
			t.Fatalf("SaveReview: %v", err)
		}
	}

	result := callTool(t, mcpListReviews(deps), makeCallToolRequest("list_reviews", map[string]interface{}{
		"status": "pending",
		"limit":  2,
	}))
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	var got []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(got) != 2 || got[0].ID != "c" || got[1].ID != "b" {
		t.Errorf("reviews = %+v", got)
	}
}

func TestMCPTool_ListReviews_BadStatus(t *testing.T) {
	deps, _ := newTestDeps(t)
	result := callTool(t, mcpListReviews(deps), makeCallToolRequest("list_reviews", map[string]interface{}{
		"status": "lost",
	}))
	if !result.IsError {
		t.Fatal("expected error result")
	}
}

func TestMCPResource_Connections(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Connections = staticConnections{
		"sender": {Name: "sender", Role: "sender", State: supervisor.StateConnected},
	}
	contents, err := mcpResourceConnections(deps)(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "leadbot://connections"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if !strings.Contains(tc.Text, `"connected"`) {
		t.Errorf("text = %s", tc.Text)
	}
}
