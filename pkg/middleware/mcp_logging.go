package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-analyst/pkg/logging"
)

// MCPRequestLogger returns middleware that logs MCP tool calls: the tool,
// the conversation it targets and whether it failed. SQL is truncated and
// sanitized; parameter values are never logged. Pass nil logger to
// disable logging.
func MCPRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(r.Body)
			if err != nil {
				logger.Error("Failed to read MCP request body", zap.Error(err))
				http.Error(w, "failed to read request body", http.StatusBadRequest)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			var rpcReq jsonRPCRequest
			if err := json.Unmarshal(bodyBytes, &rpcReq); err != nil {
				logger.Debug("Failed to parse MCP request JSON", zap.Error(err))
			}
			if rpcReq.Method != "tools/call" {
				next.ServeHTTP(w, r)
				return
			}

			tool := rpcReq.Params.Name
			logger.Debug("MCP tool call", requestFields(rpcReq)...)

			recorder := &mcpResponseRecorder{ResponseWriter: w, body: &bytes.Buffer{}}
			start := time.Now()
			next.ServeHTTP(recorder, r)
			duration := time.Since(start)

			var rpcResp jsonRPCResponse
			if err := json.Unmarshal(recorder.body.Bytes(), &rpcResp); err != nil {
				logger.Debug("Failed to parse MCP response JSON", zap.Error(err))
				return
			}

			switch {
			case rpcResp.Error != nil:
				logger.Warn("MCP tool call failed",
					zap.String("tool", tool),
					zap.Int("error_code", rpcResp.Error.Code),
					zap.String("error_message", logging.SanitizeConnectionString(rpcResp.Error.Message)),
					zap.Duration("duration", duration))
			case rpcResp.Result.IsError:
				logger.Debug("MCP tool returned error result",
					zap.String("tool", tool),
					zap.Duration("duration", duration))
			default:
				logger.Debug("MCP tool call succeeded",
					zap.String("tool", tool),
					zap.Duration("duration", duration))
			}
		})
	}
}

func requestFields(req jsonRPCRequest) []zap.Field {
	args := req.Params.Arguments
	fields := []zap.Field{zap.String("tool", req.Params.Name)}
	for _, key := range []string{"workspace", "conversation_id", "datasource_id"} {
		if v, ok := args[key].(string); ok && v != "" {
			fields = append(fields, zap.String(key, v))
		}
	}
	if sql, ok := args["sql"].(string); ok {
		fields = append(fields, zap.String("sql", logging.SanitizeQuery(sql)))
	}
	if params, ok := args["parameters"].(map[string]any); ok && len(params) > 0 {
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		slices.Sort(names)
		fields = append(fields, zap.String("parameter_names", strings.Join(names, ",")))
	}
	if ids, ok := args["datasource_ids"].([]any); ok {
		fields = append(fields, zap.Int("datasource_count", len(ids)))
	}
	return fields
}

type jsonRPCRequest struct {
	Method string `json:"method"`
	Params struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"params"`
}

type jsonRPCResponse struct {
	Result struct {
		IsError bool `json:"isError"`
	} `json:"result"`
	Error *jsonRPCError `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// mcpResponseRecorder copies the response body while writing it through.
type mcpResponseRecorder struct {
	http.ResponseWriter
	body *bytes.Buffer
}

func (r *mcpResponseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
