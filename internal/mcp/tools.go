package mcp

import (
	"context"
	"fmt"
	"net/url"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gateway-fm/openbook-loadgen/pkg/types"
)

type readinessCheck struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error"`
}

// RegisterTools registers all load generator tools on the MCP server.
func RegisterTools(s *server.MCPServer, client *Client) {
	registerStatus(s, client)
	registerHealth(s, client)
	registerHistory(s, client)
	registerRunDetail(s, client)
	registerDeleteRun(s, client)
}

func registerStatus(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("obload_status",
		gomcp.WithDescription("Get the live status of the current or last OpenBook load run: phase, transaction counts, makers/takers/markets/orders created, confirmation and settle latency."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var st types.LiveStatus
		if err := client.Get(ctx, "/v1/status", &st); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Load generator unreachable: %v\n\nIs it running? Try: obload serve", err)), nil
		}
		return gomcp.NewToolResultText(formatStatus(st)), nil
	})
}

func registerHealth(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("obload_health",
		gomcp.WithDescription("Quick health check for the load generator and its Solana RPC node."),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		var resp struct {
			Ready  bool             `json:"ready"`
			Checks []readinessCheck `json:"checks"`
		}
		if err := client.Get(ctx, "/ready", &resp); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Load generator unhealthy: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHealth(resp.Ready, resp.Checks)), nil
	})
}

func registerHistory(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("obload_history",
		gomcp.WithDescription("List recorded runs, newest first, with counts and balance verification outcome (paginated)."),
		gomcp.WithNumber("limit",
			gomcp.Description("Max results to return (default: 10, max: 100)"),
		),
		gomcp.WithNumber("offset",
			gomcp.Description("Results offset for pagination (default: 0)"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		offset := req.GetInt("offset", 0)

		var list types.RunList
		if err := client.Get(ctx, fmt.Sprintf("/v1/runs?limit=%d&offset=%d", limit, offset), &list); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("History failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatHistory(list)), nil
	})
}

func registerRunDetail(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("obload_run_detail",
		gomcp.WithDescription("Get one run by ID: counts, per-check balance verification, settle latency and the markets it created."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		var detail types.RunDetail
		if err := client.Get(ctx, "/v1/runs/"+url.PathEscape(id), &detail); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Run detail failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(formatRunDetail(detail)), nil
	})
}

func registerDeleteRun(s *server.MCPServer, client *Client) {
	tool := gomcp.NewTool("obload_delete_run",
		gomcp.WithDescription("Delete a recorded run and its markets. This is a MUTATING operation."),
		gomcp.WithString("id",
			gomcp.Required(),
			gomcp.Description("Run ID to delete"),
		),
	)
	s.AddTool(tool, func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return gomcp.NewToolResultError("id is required"), nil
		}
		if err := client.Delete(ctx, "/v1/runs/"+url.PathEscape(id)); err != nil {
			return gomcp.NewToolResultError(fmt.Sprintf("Delete failed: %v", err)), nil
		}
		return gomcp.NewToolResultText(joinLines(
			section("Run Deleted"),
			kv("ID", id),
		)), nil
	})
}
