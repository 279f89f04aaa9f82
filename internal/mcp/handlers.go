package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aegis-cms/dbal"
)

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, *Error) {
	var ip InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &ip); err != nil {
			return nil, invalidParams("Invalid initialize parameters", err)
		}
	}

	s.initialized = true
	s.log.Infow("client initialized", "client", ip.ClientInfo.Name, "version", ip.ClientInfo.Version)

	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools:     &Capability{},
			Resources: &Capability{},
		},
		ServerInfo: Peer{Name: ServerName, Version: ServerVersion},
	}, nil
}

var tableProperty = Property{Type: "string", Description: "Table name"}

func (s *Server) handleListTools() (*ListToolsResult, *Error) {
	return &ListToolsResult{
		Tools: []Tool{
			{
				Name:        "query",
				Description: fmt.Sprintf("Execute a read-only SQL query against the %s database", s.db.Type()),
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"sql": {Type: "string", Description: "A single read statement"},
					},
					Required: []string{"sql"},
				},
			},
			{
				Name:        "select",
				Description: "Select rows from a table with equality filters",
				InputSchema: InputSchema{
					Type: "object",
					Properties: map[string]Property{
						"table": tableProperty,
						"where": {Type: "object", Description: "Column to value; an array value matches any of its items"},
						"order": {Type: "string", Description: `Order clause, e.g. "created_at DESC, name ASC"`},
						"limit": {Type: "integer", Description: "Maximum number of rows"},
					},
					Required: []string{"table"},
				},
			},
			{
				Name:        "columns",
				Description: "Describe the columns of a table",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: map[string]Property{"table": tableProperty},
					Required:   []string{"table"},
				},
			},
			{
				Name:        "table_exists",
				Description: "Report whether a table exists",
				InputSchema: InputSchema{
					Type:       "object",
					Properties: map[string]Property{"table": tableProperty},
					Required:   []string{"table"},
				},
			},
		},
	}, nil
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, *Error) {
	var call CallToolParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, invalidParams("Invalid parameters", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	switch call.Name {
	case "query":
		return s.callQuery(ctx, call.Arguments)
	case "select":
		return s.callSelect(ctx, call.Arguments)
	case "columns":
		return s.callColumns(ctx, call.Arguments)
	case "table_exists":
		return s.callTableExists(ctx, call.Arguments)
	default:
		return nil, &Error{Code: MethodNotFound, Message: fmt.Sprintf("Unknown tool: %s", call.Name)}
	}
}

func stringArg(args map[string]any, name string) (string, *Error) {
	v, ok := args[name].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", invalidParams(fmt.Sprintf("Missing or invalid '%s' parameter", name), nil)
	}
	return v, nil
}

func (s *Server) callQuery(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	query, rpcErr := stringArg(args, "sql")
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := ValidateReadOnly(s.db.Type(), query); err != nil {
		s.log.Warnw("query rejected", "error", err)
		return errorResult("Query rejected", err), nil
	}

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return errorResult("Query error", err), nil
	}
	return s.rowsResult(rows), nil
}

func (s *Server) callSelect(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	table, rpcErr := stringArg(args, "table")
	if rpcErr != nil {
		return nil, rpcErr
	}

	var where dbal.Where
	if raw, ok := args["where"]; ok && raw != nil {
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, invalidParams("'where' must be an object", nil)
		}
		where = dbal.Where(m)
	}

	opts := dbal.Options{Limit: s.opts.MaxRows + 1}
	if order, ok := args["order"].(string); ok {
		opts.Order = order
	}
	if limit, ok := args["limit"].(float64); ok && limit > 0 && int(limit) <= s.opts.MaxRows {
		opts.Limit = int(limit)
	}

	rows, err := s.db.Select(ctx, table, where, opts)
	if err != nil {
		return errorResult("Select error", err), nil
	}
	return s.rowsResult(rows), nil
}

func (s *Server) callColumns(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	table, rpcErr := stringArg(args, "table")
	if rpcErr != nil {
		return nil, rpcErr
	}

	cols, err := s.db.Columns(ctx, table)
	if err != nil {
		return errorResult("Failed to describe table", err), nil
	}
	return jsonResult(cols), nil
}

func (s *Server) callTableExists(ctx context.Context, args map[string]any) (*CallToolResult, *Error) {
	table, rpcErr := stringArg(args, "table")
	if rpcErr != nil {
		return nil, rpcErr
	}

	ok, err := s.db.TableExists(ctx, table)
	if err != nil {
		return errorResult("Failed to check table", err), nil
	}
	return jsonResult(map[string]any{"table": table, "exists": ok}), nil
}

// rowsResult renders rows as JSON, cut at MaxRows with a trailing warning row.
func (s *Server) rowsResult(rows []dbal.Row) *CallToolResult {
	if len(rows) > s.opts.MaxRows {
		rows = append(rows[:s.opts.MaxRows:s.opts.MaxRows],
			dbal.Row{"_warning": fmt.Sprintf("Result truncated at %d rows", s.opts.MaxRows)})
	}
	return jsonResult(rows)
}

func jsonResult(v any) *CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("Failed to marshal results", err)
	}
	return textResult(string(data))
}

func (s *Server) schemaURI(table string) string {
	return fmt.Sprintf("%s://%s/schema", s.db.Type(), table)
}

func (s *Server) handleListResources(ctx context.Context) (*ListResourcesResult, *Error) {
	lister, ok := s.db.(dbal.TableLister)
	if !ok {
		return &ListResourcesResult{Resources: []Resource{}}, nil
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tables, err := lister.Tables(ctx)
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to list tables: %v", err)}
	}

	resources := make([]Resource, 0, len(tables))
	for _, t := range tables {
		resources = append(resources, Resource{
			URI:      s.schemaURI(t),
			Name:     fmt.Sprintf("Schema for table '%s'", t),
			MimeType: mimeJSON,
		})
	}
	return &ListResourcesResult{Resources: resources}, nil
}

func (s *Server) handleReadResource(ctx context.Context, params json.RawMessage) (*ReadResourceResult, *Error) {
	var read ReadResourceParams
	if err := json.Unmarshal(params, &read); err != nil {
		return nil, invalidParams("Invalid parameters", err)
	}

	prefix := s.db.Type() + "://"
	rest, ok := strings.CutPrefix(read.URI, prefix)
	table, suffix, _ := strings.Cut(rest, "/")
	if !ok || table == "" || suffix != "schema" {
		return nil, invalidParams(fmt.Sprintf("Invalid resource URI: expected %s<table>/schema", prefix), nil)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cols, err := s.db.Columns(ctx, table)
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to get schema: %v", err)}
	}

	data, err := json.MarshalIndent(cols, "", "  ")
	if err != nil {
		return nil, &Error{Code: InternalError, Message: fmt.Sprintf("Failed to marshal schema: %v", err)}
	}

	return &ReadResourceResult{
		Contents: []ResourceContent{{URI: read.URI, MimeType: mimeJSON, Text: string(data)}},
	}, nil
}
