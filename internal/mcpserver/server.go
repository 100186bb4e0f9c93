// Package mcpserver exposes a finished analysis to MCP clients over stdio:
// node previews, node listings and reverse import lookups.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/phobologic/importgraph/internal/graph"
	"github.com/phobologic/importgraph/internal/logging"
	"github.com/phobologic/importgraph/internal/preview"
	"github.com/phobologic/importgraph/internal/snippet"
)

// SnippetsURI is the resource holding the exported snippet map.
const SnippetsURI = "importgraph://snippets"

type PreviewArgs struct {
	ID   string `json:"id" jsonschema:"the node identity, for example pkg/a.py::Class::method"`
	Kind string `json:"kind,omitempty" jsonschema:"optional node kind (file, module, function or class); looked up in the graph when omitted"`
}

type ListNodesArgs struct {
	Kind             string `json:"kind,omitempty" jsonschema:"only list nodes of this kind"`
	UnreferencedOnly bool   `json:"unreferenced_only,omitempty" jsonschema:"only list files with no outgoing edges"`
}

type ImportersArgs struct {
	Module string `json:"module" jsonschema:"the flat import identifier, for example os.path"`
}

// Server wraps an MCP server bound to one graph.
type Server struct {
	graph    *graph.Graph
	snippets snippet.Map
	resolver *preview.Resolver
	mcp      *mcp.Server
	logger   *slog.Logger
}

// New registers every tool and resource.
func New(g *graph.Graph, snippets snippet.Map, resolver *preview.Resolver, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		graph:    g,
		snippets: snippets,
		resolver: resolver,
		mcp:      mcp.NewServer(&mcp.Implementation{Name: "importgraph", Version: version}, nil),
		logger:   logger,
	}
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves over stdin/stdout until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server starting", "nodes", s.graph.NodeCount())
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "preview",
		Description: "Returns the preview text of a node: declaration source, file content, or a message for modules",
	}, s.handlePreview)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_nodes",
		Description: "Lists graph nodes with their kind and unreferenced flag",
	}, s.handleListNodes)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "importers",
		Description: "Lists the files that import a module identifier",
	}, s.handleImporters)
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         SnippetsURI,
		Name:        "Snippets",
		Description: "Declaration identity to source text",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		var buf bytes.Buffer
		if err := s.snippets.Export(&buf); err != nil {
			return nil, err
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{URI: SnippetsURI, MIMEType: "application/json", Text: buf.String()}},
		}, nil
	})
}

func (s *Server) handlePreview(ctx context.Context, _ *mcp.CallToolRequest, args PreviewArgs) (*mcp.CallToolResult, any, error) {
	if args.ID == "" {
		return errorResult("id is required"), nil, nil
	}
	var kind graph.Kind
	if args.Kind != "" {
		k, err := graph.ParseKind(args.Kind)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		kind = k
	} else {
		n, ok := s.graph.Node(args.ID)
		if !ok {
			return errorResult(fmt.Sprintf("%q: %v", args.ID, graph.ErrNodeNotFound)), nil, nil
		}
		kind = n.Kind
	}

	res := s.resolver.Resolve(ctx, args.ID, kind)
	out := textResult(res.Text)
	out.IsError = res.Status == preview.StatusContentError
	return out, nil, nil
}

type nodeEntry struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Unreferenced bool   `json:"unreferenced,omitempty"`
}

func (s *Server) handleListNodes(_ context.Context, _ *mcp.CallToolRequest, args ListNodesArgs) (*mcp.CallToolResult, any, error) {
	nodes := s.graph.Nodes()
	if args.Kind != "" {
		k, err := graph.ParseKind(args.Kind)
		if err != nil {
			return errorResult(err.Error()), nil, nil
		}
		nodes = s.graph.NodesOfKind(k)
	}

	entries := []nodeEntry{}
	for _, n := range nodes {
		if args.UnreferencedOnly && !n.Unreferenced {
			continue
		}
		entries = append(entries, nodeEntry{ID: n.ID, Kind: n.Kind.String(), Unreferenced: n.Unreferenced})
	}
	return jsonResult(entries)
}

func (s *Server) handleImporters(_ context.Context, _ *mcp.CallToolRequest, args ImportersArgs) (*mcp.CallToolResult, any, error) {
	n, ok := s.graph.Node(args.Module)
	if !ok || n.Kind != graph.Module {
		return errorResult(fmt.Sprintf("%q is not a module node", args.Module)), nil, nil
	}
	files := []string{}
	for _, e := range s.graph.InEdges(args.Module) {
		if e.Kind == graph.Reference {
			files = append(files, e.Source)
		}
	}
	return jsonResult(files)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(text string) *mcp.CallToolResult {
	r := textResult(text)
	r.IsError = true
	return r
}

func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return textResult(string(data)), nil, nil
}
