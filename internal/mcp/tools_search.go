package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Regex pattern or search query matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Filter results to a category: assistant, thread, run or search"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolSearchMatch struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
}

type toolSearchOutput struct {
	Query      string            `json:"query"`
	Results    []toolSearchMatch `json:"results"`
	Count      int               `json:"count"`
	TotalTools int               `json:"total_tools"`
}

func (s *Server) registerSearchTools() {
	addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword",
		Category:    CategorySearch,
		Keywords:    []string{"discover", "find", "help"},
	}, func(_ context.Context, _ *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, errors.New("query is required")
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		var results []*SearchResult
		if args.Category != "" {
			results = s.toolRegistry.SearchByCategory(args.Query, ToolCategory(args.Category))
		} else {
			results = s.toolRegistry.Search(args.Query)
		}
		if len(results) > limit {
			results = results[:limit]
		}

		out := toolSearchOutput{
			Query:      args.Query,
			Results:    make([]toolSearchMatch, 0, len(results)),
			TotalTools: s.toolRegistry.Count(),
		}
		names := make([]string, 0, len(results))
		for _, r := range results {
			out.Results = append(out.Results, toolSearchMatch{
				Name:        r.Tool.Name,
				Description: r.Tool.Description,
				Category:    string(r.Tool.Category),
				Score:       r.Score,
			})
			names = append(names, r.Tool.Name)
		}
		out.Count = len(out.Results)
		if out.Count == 0 {
			return text("No tools match %q", args.Query), out, nil
		}
		return text("Matching tools: %s", strings.Join(names, ", ")), out, nil
	})
}
