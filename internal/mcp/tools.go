package mcp

func ptr(f float64) *float64 { return &f }

var categoryEnum = []string{"preference", "fact", "decision", "entity", "other"}

// ToolDefinitions returns the MCP tool definitions for the memory server.
func ToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name: "memory_recall",
			Description: "Search long-term memory with hybrid vector and keyword retrieval. " +
				"Use before answering questions about past decisions, preferences or facts.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"query":    {Type: "string", Description: "Natural language search query"},
					"limit":    {Type: "number", Description: "Maximum results to return", Default: 5, Minimum: ptr(1), Maximum: ptr(20)},
					"scope":    {Type: "string", Description: "Restrict to one scope, e.g. global or project:api"},
					"category": {Type: "string", Description: "Restrict to one category", Enum: categoryEnum},
				},
				Required: []string{"query"},
			},
		},
		{
			Name: "memory_store",
			Description: "Save information to long-term memory. Write one standalone sentence per memory. " +
				"Content inside <private> tags is never stored.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"text":       {Type: "string", Description: "The information to remember"},
					"category":   {Type: "string", Description: "Kind of knowledge", Enum: categoryEnum, Default: "other"},
					"scope":      {Type: "string", Description: "Target scope, defaults to the configured default scope"},
					"importance": {Type: "number", Description: "Importance 0.0-1.0", Default: 0.7, Minimum: ptr(0), Maximum: ptr(1)},
				},
				Required: []string{"text"},
			},
		},
		{
			Name: "memory_forget",
			Description: "Delete a memory by id or id prefix. With a query instead, deletes the single " +
				"confident match or lists candidates to choose from.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"memoryId": {Type: "string", Description: "Full id or a prefix of at least 8 characters"},
					"query":    {Type: "string", Description: "Search for the memory to delete"},
					"scope":    {Type: "string", Description: "Restrict the query search to one scope"},
				},
			},
		},
		{
			Name:        "memory_update",
			Description: "Correct an existing memory in place. Changing the text re-embeds it; the id and timestamp are kept.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"memoryId":   {Type: "string", Description: "Full id or a prefix of at least 8 characters"},
					"text":       {Type: "string", Description: "Replacement text"},
					"category":   {Type: "string", Description: "New category", Enum: categoryEnum},
					"importance": {Type: "number", Description: "New importance 0.0-1.0", Minimum: ptr(0), Maximum: ptr(1)},
				},
				Required: []string{"memoryId"},
			},
		},
		{
			Name:        "memory_list",
			Description: "List recent memories, newest first.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"scope":    {Type: "string", Description: "Restrict to one scope"},
					"category": {Type: "string", Description: "Restrict to one category", Enum: categoryEnum},
					"limit":    {Type: "number", Description: "Page size", Default: 10, Minimum: ptr(1), Maximum: ptr(50)},
					"offset":   {Type: "number", Description: "Entries to skip", Default: 0, Minimum: ptr(0)},
				},
			},
		},
		{
			Name:        "memory_stats",
			Description: "Count memories by scope and category.",
			InputSchema: InputSchema{
				Type: "object",
				Properties: map[string]Property{
					"scope": {Type: "string", Description: "Restrict to one scope"},
				},
			},
		},
	}
}
