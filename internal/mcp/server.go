// Package mcp serves a dbal.Database to MCP clients as read-only tools and
// table schema resources over JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-cms/dbal"
)

const (
	DefaultMaxRows      = 500
	DefaultQueryTimeout = 30 * time.Second
)

// Options bounds what a single tool call may return or cost.
type Options struct {
	MaxRows      int
	QueryTimeout time.Duration
}

// Server handles MCP protocol messages for one database.
type Server struct {
	db          dbal.Database
	log         *zap.SugaredLogger
	opts        Options
	initialized bool
}

// NewServer returns a server over a connected db.
func NewServer(db dbal.Database, log *zap.SugaredLogger, opts Options) *Server {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxRows
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server{db: db, log: log, opts: opts}
}

// Serve reads newline-delimited requests from in and writes responses to
// out until in is exhausted or ctx is cancelled.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)
	enc := json.NewEncoder(out)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read input: %w", err)
		}

		if msg := strings.TrimSpace(line); msg != "" {
			if resp := s.handleMessage(ctx, []byte(msg)); resp != nil {
				if encErr := enc.Encode(resp); encErr != nil {
					s.log.Errorw("failed to write response", "error", encErr)
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return &Response{
			JSONRPC: jsonRPCVersion,
			Error:   &Error{Code: ParseError, Message: "Parse error", Data: err.Error()},
		}
	}

	if req.JSONRPC != jsonRPCVersion {
		return &Response{
			JSONRPC: jsonRPCVersion,
			ID:      req.ID,
			Error:   &Error{Code: InvalidRequest, Message: "Invalid JSON-RPC version"},
		}
	}

	return s.handleRequest(ctx, &req)
}

func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	var (
		result any
		rpcErr *Error
	)

	s.log.Debugw("request received", "method", req.Method)

	switch req.Method {
	case "initialize":
		result, rpcErr = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		return nil
	case "tools/list":
		result, rpcErr = s.handleListTools()
	case "tools/call":
		result, rpcErr = s.handleCallTool(ctx, req.Params)
	case "resources/list":
		result, rpcErr = s.handleListResources(ctx)
	case "resources/read":
		result, rpcErr = s.handleReadResource(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		rpcErr = &Error{Code: MethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}

	if rpcErr != nil {
		s.log.Warnw("request failed", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		result = nil
	}

	return &Response{
		JSONRPC: jsonRPCVersion,
		ID:      req.ID,
		Result:  result,
		Error:   rpcErr,
	}
}

func (s *Server) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.QueryTimeout)
}
