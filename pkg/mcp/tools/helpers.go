package tools

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return ""
	}
	val, _ := args[key].(string)
	return val
}

// getOptionalFloat extracts an optional number argument from the request.
func getOptionalFloat(req mcp.CallToolRequest, key string) (float64, bool) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return 0, false
	}
	val, ok := args[key].(float64)
	return val, ok
}

// getOptionalObject extracts an optional object argument from the request.
func getOptionalObject(req mcp.CallToolRequest, key string) map[string]any {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil
	}
	val, _ := args[key].(map[string]any)
	return val
}

// getStringSlice extracts an array-of-strings argument. The second result
// is false when the argument is absent; non-string items are an error.
func getStringSlice(req mcp.CallToolRequest, key string) ([]string, bool, error) {
	args, ok := req.Params.Arguments.(map[string]any)
	if !ok {
		return nil, false, nil
	}
	raw, present := args[key]
	if !present || raw == nil {
		return nil, false, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, true, fmt.Errorf("%s must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, true, fmt.Errorf("%s must be an array of strings", key)
		}
		out = append(out, trimString(s))
	}
	return out, true, nil
}

// resolveWorkspace maps a workspace argument onto a directory below root.
// Relative names are joined with root; nothing may escape it.
func resolveWorkspace(root, name string) (string, error) {
	name = trimString(name)
	if name == "" {
		return "", fmt.Errorf("workspace is required")
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root: %w", err)
	}

	dir := filepath.Clean(name)
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(rootAbs, dir)
	}
	rel, err := filepath.Rel(rootAbs, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("workspace %q is outside the workspace root", name)
	}
	return dir, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
