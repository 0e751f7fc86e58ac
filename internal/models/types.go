package models

// SourceHit records how one retrieval stage scored a result.
type SourceHit struct {
	Score float64 `json:"score"`
	Rank  int     `json:"rank,omitempty"`
}

// Sources tells which stages contributed to a result.
type Sources struct {
	Vector   *SourceHit `json:"vector,omitempty"`
	BM25     *SourceHit `json:"bm25,omitempty"`
	Fused    *SourceHit `json:"fused,omitempty"`
	Reranked *SourceHit `json:"reranked,omitempty"`
}

// SearchResult is a single scored entry.
type SearchResult struct {
	Entry   Entry   `json:"entry"`
	Score   float64 `json:"score"`
	Sources Sources `json:"sources"`
}

// Stats is returned from GET /memories/stats.
type Stats struct {
	TotalCount     int              `json:"totalCount"`
	ScopeCounts    map[string]int   `json:"scopeCounts"`
	CategoryCounts map[Category]int `json:"categoryCounts"`
}

// EntryPatch holds the mutable fields of an entry. Nil fields are left as is.
type EntryPatch struct {
	Text       *string   `json:"text,omitempty"`
	Vector     []float32 `json:"-"`
	Category   *Category `json:"category,omitempty"`
	Importance *float64  `json:"importance,omitempty"`
	Metadata   *string   `json:"metadata,omitempty"`
}

// StoreRequest is the payload for POST /memories.
type StoreRequest struct {
	AgentID    string   `json:"-"` // Set from X-Agent-ID header, not JSON body
	Text       string   `json:"text"`
	Category   Category `json:"category"`
	Scope      string   `json:"scope"`
	Importance *float64 `json:"importance,omitempty"`
	Metadata   string   `json:"metadata,omitempty"`
}

// StoreResponse is returned from POST /memories.
type StoreResponse struct {
	ID                string  `json:"id,omitempty"`
	Scope             string  `json:"scope,omitempty"`
	Deduplicated      bool    `json:"deduplicated"`
	NearDuplicateID   string  `json:"nearDuplicateId,omitempty"`
	NearDupSimilarity float64 `json:"nearDupSimilarity,omitempty"`
	Skipped           bool    `json:"skipped,omitempty"`
	SkipReason        string  `json:"skipReason,omitempty"`
}

// SearchRequest is the payload for POST /memories/search.
type SearchRequest struct {
	AgentID  string   `json:"-"`
	Query    string   `json:"query"`
	Limit    int      `json:"limit"`
	Scope    string   `json:"scope,omitempty"`
	Category Category `json:"category,omitempty"`
	Rerank   string   `json:"rerank,omitempty"`
}

// SearchResponse is returned from POST /memories/search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Meta    SearchMeta     `json:"meta"`
}

type SearchMeta struct {
	TotalResults int  `json:"totalResults"`
	SearchTimeMs int  `json:"searchTimeMs"`
	FTS          bool `json:"fts"`
}

// ListRequest holds parsed query params for GET /memories.
type ListRequest struct {
	AgentID  string
	Scope    string
	Category Category
	Limit    int
	Offset   int
}

// ListResponse is returned from GET /memories.
type ListResponse struct {
	Memories []Entry `json:"memories"`
	Limit    int     `json:"limit"`
	Offset   int     `json:"offset"`
}

// BulkDeleteRequest is the payload for POST /memories/bulk-delete.
type BulkDeleteRequest struct {
	AgentID string   `json:"-"`
	Scopes  []string `json:"scopes"`
	Before  int64    `json:"before"`
}

// BulkDeleteResponse is returned from POST /memories/bulk-delete.
type BulkDeleteResponse struct {
	Deleted int `json:"deleted"`
}

// ExportDocument is the portable dump format used by export and import.
type ExportDocument struct {
	Version    int     `json:"version"`
	ExportedAt int64   `json:"exportedAt"`
	Count      int     `json:"count"`
	Memories   []Entry `json:"memories"`
}

// ExportVersion is the current ExportDocument version.
const ExportVersion = 1

// ImportRequest is the payload for POST /memories/import.
type ImportRequest struct {
	AgentID  string  `json:"-"`
	Scope    string  `json:"scope,omitempty"`
	DryRun   bool    `json:"dryRun"`
	Memories []Entry `json:"memories"`
}

// ImportResponse is returned from POST /memories/import.
type ImportResponse struct {
	Imported   int  `json:"imported"`
	Skipped    int  `json:"skipped"`
	Reembedded int  `json:"reembedded"`
	Failed     int  `json:"failed"`
	DryRun     bool `json:"dryRun"`
}

// ReembedResponse reports a re-embedding pass.
type ReembedResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string       `json:"status"`
	Embedding   ServiceCheck `json:"embedding"`
	Retrieval   ServiceCheck `json:"retrieval"`
	DB          ServiceCheck `json:"db"`
	MemoryCount int          `json:"memoryCount"`
}

type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
