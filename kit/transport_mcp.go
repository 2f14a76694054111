package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/snipebot/idgen"
)

// Handler serves one tool call with its arguments decoded into Req.
type Handler[Req any] func(ctx context.Context, req Req) (any, error)

// NoArgs is the request type of tools without parameters.
type NoArgs struct{}

// RegisterTool adds tool to srv. Missing or null arguments decode to the zero
// Req. The response is returned as JSON text. Decode and handler failures
// become tool errors so the calling model sees the message.
func RegisterTool[Req any](srv *mcp.Server, tool *mcp.Tool, h Handler[Req]) {
	srv.AddTool(tool, func(ctx context.Context, call *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req Req
		if args := bytes.TrimSpace(call.Params.Arguments); len(args) > 0 && !bytes.Equal(args, []byte("null")) {
			if err := json.Unmarshal(args, &req); err != nil {
				return toolError(fmt.Errorf("%s: arguments: %w", tool.Name, err)), nil
			}
		}

		ctx = WithRequestID(WithTransport(ctx, "mcp"), idgen.New())
		resp, err := h(ctx, req)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return toolError(fmt.Errorf("%s: encode: %w", tool.Name, err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}
