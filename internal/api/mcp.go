package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server exposing leadbot's operator tools.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"leadbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("leadbot: inspect the lead ingestion queue, pipeline counters and held reviews, and dry-run the classifier."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("queue_stats",
			mcp.WithDescription("Count ingestion queue items by status and report the oldest pending item."),
		),
		mcpQueueStats(deps),
	)

	s.AddTool(
		mcp.NewTool("pipeline_metrics",
			mcp.WithDescription("Return pipeline counters, optionally only those starting with a prefix."),
			mcp.WithString("prefix", mcp.Description("Counter name prefix, e.g. outcome_ or provider_")),
		),
		mcpPipelineMetrics(deps),
	)

	s.AddTool(
		mcp.NewTool("classify_text",
			mcp.WithDescription("Classify a message without enqueueing or delivering it."),
			mcp.WithString("text", mcp.Description("Message text"), mcp.Required()),
			mcp.WithString("hint", mcp.Description("Optional category hint")),
		),
		mcpClassifyText(deps),
	)

	s.AddTool(
		mcp.NewTool("list_reviews",
			mcp.WithDescription("List leads held for manual review."),
			mcp.WithString("status", mcp.Description("pending, approved or rejected; empty for all")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of reviews (default 10)")),
		),
		mcpListReviews(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"leadbot://connections",
			"Connections",
			mcp.WithResourceDescription("Supervised connection states as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceConnections(deps),
	)

	return s
}

// NewMCPHandler serves the MCP server over streamable HTTP.
func NewMCPHandler(deps Deps) http.Handler {
	return server.NewStreamableHTTPServer(NewMCPServer(deps), server.WithStateLess(true))
}

func mcpQueueStats(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Queue == nil {
			return mcpError("queue not configured"), nil
		}
		st, err := deps.Queue.Stats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read queue stats: %v", err)), nil
		}
		return mcpJSON(st)
	}
}

func mcpPipelineMetrics(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		prefix := req.GetString("prefix", "")

		snap := deps.Metrics.Snapshot()
		names := make([]string, 0, len(snap))
		for name := range snap {
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		sort.Strings(names)

		type counter struct {
			Name  string `json:"name"`
			Value int64  `json:"value"`
		}
		out := make([]counter, len(names))
		for i, n := range names {
			out[i] = counter{Name: n, Value: snap[n]}
		}
		return mcpJSON(out)
	}
}

func mcpClassifyText(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Classifier == nil {
			return mcpError("no classifier configured"), nil
		}
		text, err := req.RequireString("text")
		if err != nil || text == "" {
			return mcpError("text is required"), nil
		}
		return mcpJSON(dryRun(ctx, deps, ClassifyRequest{
			Text: text,
			Hint: req.GetString("hint", ""),
		}))
	}
}

func mcpListReviews(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if deps.Reviews == nil {
			return mcpError("reviews not configured"), nil
		}
		status := req.GetString("status", "")
		if !validReviewStatus(status) {
			return mcpError(fmt.Sprintf("unknown status %q", status)), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			limit = 100
		}

		reviews, err := deps.Reviews.ListReviews(ctx, status, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list reviews: %v", err)), nil
		}
		return mcpJSON(toReviewViews(reviews))
	}
}

func mcpResourceConnections(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		var status any = map[string]any{}
		if deps.Connections != nil {
			status = deps.Connections.Status()
		}
		b, err := json.Marshal(status)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal connections: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
		IsError: true,
	}
}
