package sniper

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snipebot/kit"
)

// NewMCPServer returns an MCP server exposing the bot's tools.
func (b *Bot) NewMCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    serviceName,
		Version: "1.0.0",
	}, nil)
	b.RegisterMCP(srv)
	return srv
}

// RegisterMCP registers the sniper tools on srv.
func (b *Bot) RegisterMCP(srv *mcp.Server) {
	b.registerStatusTool(srv)
	b.registerStartTool(srv)
	b.registerStopTool(srv)
	b.registerSetBuyTool(srv)
	b.registerBalanceTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func (b *Bot) registerStatusTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sniper_status",
		Description: "Report whether the sniper runs, its buy size, pending queue, running workers and cached balance.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterTool(srv, tool, func(context.Context, kit.NoArgs) (any, error) {
		return b.Status(), nil
	})
}

func (b *Bot) registerStartTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sniper_start",
		Description: "Start scanning for new listings and buying them.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterTool(srv, tool, func(ctx context.Context, _ kit.NoArgs) (any, error) {
		if err := b.Start(ctx); err != nil {
			return nil, err
		}
		return map[string]bool{"running": true}, nil
	})
}

func (b *Bot) registerStopTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sniper_stop",
		Description: "Stop scanning and buying. Running workers finish selling.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	kit.RegisterTool(srv, tool, func(context.Context, kit.NoArgs) (any, error) {
		b.Stop()
		return map[string]bool{"running": false}, nil
	})
}

func (b *Bot) registerSetBuyTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sniper_set_buy",
		Description: "Set the buy size: a fixed amount, or a percentage of the balance such as \"25%\". The amount wins when both are given.",
		InputSchema: inputSchema(map[string]any{
			"amount":  map[string]any{"type": "string", "description": "Fixed amount per buy"},
			"percent": map[string]any{"type": "string", "description": "Share of the balance per buy, e.g. 25%"},
		}, nil),
	}
	kit.RegisterTool(srv, tool, func(_ context.Context, req BuyConfig) (any, error) {
		if err := b.SetBuy(req); err != nil {
			return nil, err
		}
		return b.BuyConfig(), nil
	})
}

type balanceReq struct {
	Refresh bool `json:"refresh"`
}

func (b *Bot) registerBalanceTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "sniper_balance",
		Description: "Return the account balance and holdings, optionally refreshed from the venue.",
		InputSchema: inputSchema(map[string]any{
			"refresh": map[string]any{"type": "boolean", "description": "Query the venue instead of the cache"},
		}, nil),
	}
	kit.RegisterTool(srv, tool, func(ctx context.Context, req balanceReq) (any, error) {
		return b.Balance(ctx, req.Refresh)
	})
}
