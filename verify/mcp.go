package verify

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/verifily/vigil/fingerprint"
	"github.com/verifily/vigil/kit"
)

// Service bundles the cache and client into the tool surface exposed
// over MCP: fingerprint lookup, full resolution, and counters.
type Service struct {
	Cache    *Cache
	Client   *Client
	Platform string
}

// RegisterMCP registers vigil verification tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCheck(srv)
	s.registerResolve(srv)
	s.registerStats(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *Service) registerCheck(srv *mcp.Server) {
	type req struct {
		Fingerprint string `json:"fingerprint"`
	}

	tool := &mcp.Tool{
		Name:        "vigil_check",
		Description: "Look up a content fingerprint against the verification authority (local cache first).",
		InputSchema: inputSchema(map[string]any{
			"fingerprint": map[string]any{"type": "string", "description": "SHA-256 hex content fingerprint"},
		}, []string{"fingerprint"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		fp := fingerprint.Identity(p.Fingerprint)
		if rec, ok := s.Cache.Get(fp); ok {
			return rec, nil
		}
		rec, err := s.Client.Check(ctx, fp)
		if err != nil {
			return nil, err
		}
		s.Cache.Put(fp, rec, SourceCheck)
		return rec, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerResolve(srv *mcp.Server) {
	type req struct {
		Content   string `json:"content"`
		Permalink string `json:"post_url"`
	}

	tool := &mcp.Tool{
		Name:        "vigil_resolve",
		Description: "Resolve raw content to a verification record: fingerprint, check, create if unknown.",
		InputSchema: inputSchema(map[string]any{
			"content":  map[string]any{"type": "string", "description": "Raw content text"},
			"post_url": map[string]any{"type": "string", "description": "Optional permalink"},
		}, []string{"content"}),
	}

	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*req)
		fp := fingerprint.Hash(p.Content)
		rec, _, err := s.Cache.Resolve(ctx, fp, CreateRequest{
			Content:   p.Content,
			Platform:  s.Platform,
			Permalink: p.Permalink,
		})
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerStats(srv *mcp.Server) {
	type req struct{}

	tool := &mcp.Tool{
		Name:        "vigil_stats",
		Description: "Verification cache counters: size, hits, checks, creates, failures.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		return s.Cache.Stats(), nil
	}

	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var p req
		if len(r.Params.Arguments) > 0 {
			if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
				return nil, err
			}
		}
		return &kit.MCPDecodeResult{Request: &p}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
