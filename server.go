package supportrag

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/common/logger"
	"github.com/alibaba/higress/plugins/golang-filter/mcp-server/servers/supportrag/schema"
)

// NewMCPServer exposes svc as MCP tools.
func NewMCPServer(svc Service) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"supportrag",
		Version,
		server.WithToolCapabilities(false),
		server.WithInstructions("This is a customer support assistant that answers questions from a knowledge base and remembers each user's conversation"),
	)

	mcpServer.AddTool(
		mcp.NewToolWithRawSchema("query", "Answer a customer support message using the knowledge base, the user's conversation history and optional account data", GetQuerySchema()),
		HandleQuery(svc),
	)
	mcpServer.AddTool(
		mcp.NewToolWithRawSchema("get_last_conversation", "Return the last conversation reference stored for a user", GetLastConversationSchema()),
		HandleGetLastConversation(svc),
	)
	mcpServer.AddTool(
		mcp.NewToolWithRawSchema("set_last_conversation", "Store the last conversation reference of a user with an optional time to live", SetLastConversationSchema()),
		HandleSetLastConversation(svc),
	)
	return mcpServer
}

// ServeStdio serves the tools over stdin/stdout until the input closes.
func ServeStdio(svc Service) error {
	return server.ServeStdio(NewMCPServer(svc))
}

func GetQuerySchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string", "description": "The user's message"},
    "user_id": {"type": "string", "description": "Stable user identifier, enables conversation memory"},
    "message_id": {"type": "string", "description": "Client message identifier used to drop redelivered messages"},
    "language": {"type": "string", "description": "Reply language as an ISO 639-1 code"},
    "top_k": {"type": "integer", "description": "Number of knowledge base passages to retrieve", "minimum": 1},
    "enable_api_query": {"type": "boolean", "description": "Also fetch account data from the configured API"}
  },
  "required": ["query"]
}`)
}

func GetLastConversationSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "description": "User identifier"}
  },
  "required": ["user_id"]
}`)
}

func SetLastConversationSchema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "user_id": {"type": "string", "description": "User identifier"},
    "value": {"type": "string", "description": "Conversation reference to store"},
    "ttl_seconds": {"type": "integer", "description": "Time to live, defaults to one day", "minimum": 0}
  },
  "required": ["user_id", "value"]
}`)
}

func HandleQuery(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		q := schema.Query{
			Text: text,
			Options: schema.Options{
				UserID:         request.GetString("user_id", ""),
				MessageID:      request.GetString("message_id", ""),
				Language:       request.GetString("language", ""),
				TopK:           request.GetInt("top_k", 0),
				EnableAPIQuery: request.GetBool("enable_api_query", false),
			},
		}
		resp, err := svc.Query(ctx, q)
		if err != nil {
			logger.Warnf("mcp: query failed: %v", err)
			return mcp.NewToolResultError(err.Error()), nil
		}
		if resp == nil {
			return mcp.NewToolResultText(`{"duplicate":true}`), nil
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func HandleGetLastConversation(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := request.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, found := svc.LastConversation(userID)
		data, err := json.Marshal(lastConversation{UserID: userID, Value: value, Found: found})
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func HandleSetLastConversation(svc Service) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, err := request.RequireString("user_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		value, err := request.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ttl := time.Duration(request.GetInt("ttl_seconds", 0)) * time.Second
		svc.SetLastConversation(userID, value, ttl)
		return mcp.NewToolResultText("ok"), nil
	}
}

type lastConversation struct {
	UserID string `json:"userId"`
	Value  string `json:"value,omitempty"`
	Found  bool   `json:"found"`
}
