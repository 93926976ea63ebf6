// Package mcpintrospect exposes a read-only Model Context Protocol surface
// for operators debugging a running adapter instance: inspecting a cached
// commit record and resolving a manifest without invoking the AI jury.
// This is not part of the oracle-facing contract; it is
// an operational side door, mounted at /mcp alongside the oracle endpoint.
package mcpintrospect

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/verdikta/arbiter-adapter/internal/commitreveal"
	"github.com/verdikta/arbiter-adapter/internal/manifest"
	"github.com/verdikta/arbiter-adapter/internal/workdir"
)

// Server wraps an mcp-go server exposing the adapter's introspection tools.
type Server struct {
	mcpServer   *mcpserver.MCPServer
	cache       *commitreveal.Cache
	resolver    *manifest.Resolver
	workDirRoot string
	logger      *slog.Logger
}

// New constructs the MCP introspection server. cache and resolver are the
// same instances the HTTP dispatcher uses; tools here only ever read from
// them (resolve_manifest runs the resolver's fetch/extract/validate path
// in a scratch working directory but never calls the AI client or the
// publisher).
func New(cache *commitreveal.Cache, resolver *manifest.Resolver, workDirRoot string, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cache: cache, resolver: resolver, workDirRoot: workDirRoot, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"verdikta-arbiter-adapter",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(
			"Read-only introspection for a running Verdikta arbiter adapter instance. "+
				"inspect_commit looks up a cached commit-reveal record by fingerprint; "+
				"resolve_manifest resolves a CID list into its combined prompt without "+
				"invoking the AI jury. Neither tool mutates adapter state or makes an "+
				"on-chain-visible commitment.",
		),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport mounting.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("inspect_commit",
			mcplib.WithDescription(`Look up a commit-reveal cache entry by its fingerprint.

WHEN TO USE: after a mode-1 (commit) request, to confirm what an oracle
instance actually committed to before its mode-2 (reveal) arrives, or to
diagnose a "reveal cache miss" warning in the logs.

fingerprint_hex is the 64-character lowercase hex encoding of the 32-byte
fingerprint (same derivation as commitreveal.Fingerprint: requestID,
primary CID, sorted bCIDs, class ID).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("fingerprint_hex",
				mcplib.Description("64-character lowercase hex-encoded fingerprint"),
				mcplib.Required(),
			),
		),
		s.handleInspectCommit,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("resolve_manifest",
			mcplib.WithDescription(`Resolve a CID list into its combined manifest without invoking the
AI jury or publishing a justification.

WHEN TO USE: to check that a primary CID and its bCIDs fetch, extract,
and compose correctly before routing real oracle traffic at them —
surfaces the same ManifestInvalid/ArchiveCorrupt/CIDNotFound errors the
dispatcher would, with the resolved prompt and outcome list on success.

cid_list is a comma-separated list of CIDs; the first is the primary,
the rest are bCIDs, same convention as the oracle request's "cid" field.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("cid_list",
				mcplib.Description("Comma-separated CID list, primary first"),
				mcplib.Required(),
			),
		),
		s.handleResolveManifest,
	)
}

func (s *Server) handleInspectCommit(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("fingerprint_hex", "")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return errorResult("fingerprint_hex must be a 64-character hex string"), nil
	}
	var fp [32]byte
	copy(fp[:], decoded)

	rec, ok := s.cache.Get(fp)
	if !ok {
		return &mcplib.CallToolResult{
			Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: `{"found":false}`}},
		}, nil
	}

	out, _ := json.MarshalIndent(map[string]any{
		"found":             true,
		"commit_hash":       hex.EncodeToString(rec.CommitHash[:]),
		"justification_cid": rec.JustificationCID,
		"timestamp_ns":      rec.TimestampNs,
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(out)}},
	}, nil
}

func (s *Server) handleResolveManifest(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("cid_list", "")
	cids := splitCIDs(raw)
	if len(cids) == 0 {
		return errorResult("cid_list is required"), nil
	}

	wd, err := workdir.New(s.workDirRoot)
	if err != nil {
		return errorResult(fmt.Sprintf("create scratch working directory: %v", err)), nil
	}
	defer func() { _ = wd.Close() }()

	parsed, err := s.resolver.Resolve(ctx, wd.Path, cids)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	out, _ := json.MarshalIndent(map[string]any{
		"prompt":     parsed.Prompt,
		"outcomes":   parsed.Outcomes,
		"models":     parsed.Models,
		"iterations": parsed.Iterations,
		"additional": len(parsed.Additional),
		"support":    len(parsed.Support),
		"references": parsed.References,
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: string(out)}},
	}, nil
}

func splitCIDs(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.TextContent{Type: "text", Text: msg}},
		IsError: true,
	}
}
