package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-analyst/pkg/models"
	"github.com/ekaya-inc/ekaya-analyst/pkg/services"
)

type initializeDatasourcesResult struct {
	Results   []models.InitializationResult `json:"results"`
	Succeeded int                           `json:"succeeded"`
	Failed    int                           `json:"failed"`
}

func registerInitializeDatasourcesTool(s *server.MCPServer, deps *AnalystToolDeps) {
	tool := mcp.NewTool(
		"initialize_datasources",
		mcp.WithDescription(
			"Make datasources queryable in the conversation's analytical database. "+
				"File datasources become views; external databases are attached read-only. "+
				"Safe to call again: datasources already present are left untouched.",
		),
		workspaceArg(),
		conversationArg(),
		mcp.WithArray(
			"datasource_ids",
			mcp.Required(),
			mcp.Description("IDs of the datasources to initialize"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithArray(
			"checked_datasource_ids",
			mcp.Description("Optional: only datasources also listed here are initialized"),
			mcp.Items(map[string]any{"type": "string"}),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspace, conversationID, errResult := deps.conversation(req)
		if errResult != nil {
			return errResult, nil
		}

		ids, present, err := getStringSlice(req, "datasource_ids")
		if err != nil {
			return NewErrorResult("invalid_arguments", err.Error()), nil
		}
		if !present {
			return NewErrorResult("invalid_arguments", "datasource_ids is required"), nil
		}
		checked, _, err := getStringSlice(req, "checked_datasource_ids")
		if err != nil {
			return NewErrorResult("invalid_arguments", err.Error()), nil
		}

		results, err := deps.Initializer.InitializeDatasources(ctx, services.InitializeRequest{
			ConversationID:       conversationID,
			Workspace:            workspace,
			DatasourceIDs:        ids,
			CheckedDatasourceIDs: checked,
		})
		if err != nil {
			return deps.toolError("initialize_datasources", err)
		}

		out := initializeDatasourcesResult{Results: results}
		for _, r := range results {
			if r.Success {
				out.Succeeded++
			} else {
				out.Failed++
			}
		}
		return jsonResult(out)
	})
}

func registerListAvailableSheetsTool(s *server.MCPServer, deps *AnalystToolDeps) {
	tool := mcp.NewTool(
		"list_available_sheets",
		mcp.WithDescription(
			"List the tables and views that can be queried in the conversation's analytical database, "+
				"including tables of attached databases with their fully qualified path.",
		),
		workspaceArg(),
		conversationArg(),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspace, conversationID, errResult := deps.conversation(req)
		if errResult != nil {
			return errResult, nil
		}

		res, err := deps.Listing.ListAvailableSheets(ctx, services.ListRequest{
			ConversationID: conversationID,
			Workspace:      workspace,
		})
		if err != nil {
			return deps.toolError("list_available_sheets", err)
		}
		return jsonResult(res)
	})
}

type extractSchemaResult struct {
	DatasourceID    string           `json:"datasource_id"`
	Alias           string           `json:"alias"`
	AlreadyAttached bool             `json:"already_attached"`
	Tables          []extractedTable `json:"tables"`
}

type extractedTable struct {
	Path    string                `json:"path"`
	Columns []models.SchemaColumn `json:"columns,omitempty"`
}

func registerExtractDatasourceSchemaTool(s *server.MCPServer, deps *AnalystToolDeps) {
	tool := mcp.NewTool(
		"extract_datasource_schema",
		mcp.WithDescription(
			"Read the tables and columns of an attached external database and add them to the "+
				"workspace business context. Attaches the datasource first when needed.",
		),
		workspaceArg(),
		conversationArg(),
		mcp.WithString(
			"datasource_id",
			mcp.Required(),
			mcp.Description("ID of a database datasource (postgres, mysql, sqlite or duckdb)"),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workspace, conversationID, errResult := deps.conversation(req)
		if errResult != nil {
			return errResult, nil
		}
		datasourceID, err := req.RequireString("datasource_id")
		if err != nil || trimString(datasourceID) == "" {
			return NewErrorResult("invalid_arguments", "datasource_id is required"), nil
		}

		res, err := deps.SchemaExtraction.ExtractDatasourceSchema(ctx, services.ExtractSchemaRequest{
			ConversationID: conversationID,
			Workspace:      workspace,
			DatasourceID:   trimString(datasourceID),
		})
		if err != nil {
			return deps.toolError("extract_datasource_schema", err)
		}

		out := extractSchemaResult{
			DatasourceID:    trimString(datasourceID),
			Alias:           res.Alias,
			AlreadyAttached: res.Skipped,
			Tables:          make([]extractedTable, 0, len(res.Tables)),
		}
		if res.Schema != nil {
			for _, t := range res.Schema.Tables {
				out.Tables = append(out.Tables, extractedTable{Path: res.Schema.RelationPath(t), Columns: t.Columns})
			}
		} else {
			for _, t := range res.Tables {
				out.Tables = append(out.Tables, extractedTable{Path: res.Alias + "." + t.Schema + "." + t.Name})
			}
		}
		return jsonResult(out)
	})
}
