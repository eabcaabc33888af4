// Package mcp exposes the harness over the Model Context Protocol so
// internal tooling can inspect captured credentials and flow traces
// programmatically.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	harness "github.com/digitalerp/oauth-harness"
)

// WithHarness creates a harness server, registers its HTTP endpoints on
// mux, attaches inspection tools to the MCP server, and returns an HTTP
// handler that validates operator sessions before delegating to MCP.
//
// Usage:
//
//	mux := http.NewServeMux()
//	mcpServer := mcp.NewServer(&mcp.Implementation{
//	    Name:    "oauth-harness",
//	    Version: "1.0.0",
//	}, nil)
//
//	hs, handler, err := mcpharness.WithHarness(mux, cfg, store, mcpServer)
//
//	mux.Handle("/mcp", handler)
//	http.ListenAndServe(":8080", mux)
func WithHarness(mux *http.ServeMux, cfg *harness.Config, store harness.CredentialStore, mcpServer *mcp.Server) (*harness.Server, http.Handler, error) {
	hs, err := harness.NewServer(cfg, store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create harness server: %w", err)
	}

	hs.RegisterHandlers(mux)
	RegisterTools(mcpServer, hs)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	wrappedHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			http.Error(w, "Missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}

		user, err := hs.ValidateSessionCached(r.Context(), authHeader[7:])
		if err != nil {
			http.Error(w, fmt.Sprintf("Authentication failed: %v", err), http.StatusUnauthorized)
			return
		}

		r = r.WithContext(harness.WithUser(r.Context(), user))
		mcpHandler.ServeHTTP(w, r)
	})

	return hs, wrappedHandler, nil
}

// listCredentialsParams has no fields; the owner comes from the session
type listCredentialsParams struct{}

type flowTraceParams struct {
	// FlowID filters to one flow instance; empty returns all flows.
	FlowID string `json:"flow_id,omitempty"`
}

type bridgeMessagesParams struct{}

// RegisterTools attaches the harness inspection tools to an MCP server
func RegisterTools(mcpServer *mcp.Server, hs *harness.Server) {
	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_credentials",
		Description: "Lists the captured provider credential bundles owned by the authenticated operator",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *listCredentialsParams) (*mcp.CallToolResult, any, error) {
		user, ok := harness.GetUserFromContext(ctx)
		if !ok {
			return nil, nil, fmt.Errorf("authentication required")
		}

		records, err := hs.Store().List(ctx, user.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to list credentials: %w", err)
		}
		return textResult(records)
	})

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "get_flow_trace",
		Description: "Returns the status and trace log of callback flows seen by this harness",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *flowTraceParams) (*mcp.CallToolResult, any, error) {
		snapshots := hs.FlowSnapshots()
		if params != nil && params.FlowID != "" {
			for _, snap := range snapshots {
				if snap.ID == params.FlowID {
					return textResult(snap)
				}
			}
			return nil, nil, fmt.Errorf("no flow with id %s", params.FlowID)
		}
		return textResult(snapshots)
	})

	mcp.AddTool(mcpServer, &mcp.Tool{
		Name:        "list_bridge_messages",
		Description: "Lists cross-window messages captured during popup-based signup flows",
	}, func(ctx context.Context, req *mcp.CallToolRequest, params *bridgeMessagesParams) (*mcp.CallToolResult, any, error) {
		return textResult(hs.Bridge().Events())
	})
}

// textResult marshals v as indented JSON into a text tool result
func textResult(v interface{}) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(data)},
		},
	}, nil, nil
}
