package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iammorganparry/clive/apps/ltm/internal/models"
	"github.com/iammorganparry/clive/apps/ltm/internal/noise"
	"github.com/iammorganparry/clive/apps/ltm/internal/retriever"
	"github.com/iammorganparry/clive/apps/ltm/internal/scopes"
	"github.com/iammorganparry/clive/apps/ltm/internal/store"
)

// ErrNotFound is returned when an id or prefix matches nothing visible.
var ErrNotFound = errors.New("memory not found")

const (
	exportPageSize  = 500
	reembedPageSize = 50

	skipPrivate = "content_private"
	skipNoise   = "noise"
)

// Embedder encodes stored texts.
type Embedder interface {
	EmbedPassage(ctx context.Context, text string) ([]float32, error)
	EmbedBatchPassage(ctx context.Context, texts []string) ([][]float32, error)
}

// Service is the main facade for all memory operations. Every call is made
// on behalf of an agent whose scope access bounds what it can see.
type Service struct {
	memories  *store.MemoryStore
	embedder  Embedder
	retriever *retriever.Retriever
	scopes    *scopes.Manager
	dedup     *Deduplicator
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(
	memories *store.MemoryStore,
	embedder Embedder,
	r *retriever.Retriever,
	scopeManager *scopes.Manager,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		memories:  memories,
		embedder:  embedder,
		retriever: r,
		scopes:    scopeManager,
		dedup:     NewDeduplicator(memories),
		logger:    logger,
		now:       time.Now,
	}
}

// Retriever exposes the retrieval pipeline for configuration and probes.
func (s *Service) Retriever() *retriever.Retriever {
	return s.retriever
}

func (s *Service) HasFtsSupport() bool {
	return s.memories.HasFtsSupport()
}

// readFilter returns the scope filter for a read. A requested scope narrows
// the agent's access to that one scope.
func (s *Service) readFilter(agentID, scope string) ([]string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return s.scopes.GetAccessibleScopes(agentID), nil
	}
	if err := s.scopes.Validate(scope); err != nil {
		return nil, err
	}
	if !s.scopes.IsAccessible(scope, agentID) {
		return nil, &store.AccessDeniedError{Scope: scope}
	}
	return []string{scope}, nil
}

func validCategory(c models.Category) error {
	if c != "" && !c.IsValid() {
		return &store.ValidationError{Field: "category", Message: fmt.Sprintf("unknown category %q", c)}
	}
	return nil
}

// Store cleans the text, resolves the scope, embeds and deduplicates before
// persisting. Private-only and noisy texts are skipped, not rejected.
func (s *Service) Store(ctx context.Context, req *models.StoreRequest) (*models.StoreResponse, error) {
	if noise.OnlyPrivate(req.Text) {
		return &models.StoreResponse{Skipped: true, SkipReason: skipPrivate}, nil
	}
	text := strings.TrimSpace(noise.StripPrivate(req.Text))
	if noise.IsNoise(text, noise.DefaultOptions()) {
		return &models.StoreResponse{Skipped: true, SkipReason: skipNoise}, nil
	}
	if err := validCategory(req.Category); err != nil {
		return nil, err
	}

	scope, err := s.scopes.Resolve(req.Scope, req.AgentID)
	if err != nil {
		return nil, err
	}

	vec, err := s.embedder.EmbedPassage(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}

	dedup, err := s.dedup.Check(ctx, vec, scope)
	if err != nil {
		s.logger.Warn("dedup check failed", "error", err)
		dedup = &DedupResult{}
	}
	if dedup.DuplicateID != "" {
		return &models.StoreResponse{ID: dedup.DuplicateID, Scope: scope, Deduplicated: true}, nil
	}

	importance := models.DefaultImportance
	if req.Importance != nil {
		importance = *req.Importance
	}
	entry, err := s.memories.Store(ctx, models.Entry{
		Text:       text,
		Vector:     vec,
		Category:   req.Category,
		Scope:      scope,
		Importance: importance,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("store memory: %w", err)
	}
	s.logger.Debug("memory stored", "id", entry.ID, "scope", scope, "category", entry.Category)

	return &models.StoreResponse{
		ID:                entry.ID,
		Scope:             scope,
		NearDuplicateID:   dedup.NearDuplicateID,
		NearDupSimilarity: dedup.NearDupSimilarity,
	}, nil
}

// Recall runs the retrieval pipeline inside the agent's scopes.
func (s *Service) Recall(ctx context.Context, req *models.SearchRequest) (*models.SearchResponse, error) {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, &store.ValidationError{Field: "query", Message: "must not be empty"}
	}
	if err := validCategory(req.Category); err != nil {
		return nil, err
	}
	filter, err := s.readFilter(req.AgentID, req.Scope)
	if err != nil {
		return nil, err
	}

	params := retriever.Params{
		Query:       req.Query,
		Limit:       req.Limit,
		ScopeFilter: filter,
		Category:    req.Category,
	}
	if req.Rerank != "" {
		mode := retriever.RerankMode(req.Rerank)
		if !mode.IsValid() {
			return nil, &store.ValidationError{Field: "rerank", Message: fmt.Sprintf("unknown strategy %q", req.Rerank)}
		}
		params.Rerank = &mode
	}

	results, err := s.retriever.Retrieve(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	return &models.SearchResponse{
		Results: results,
		Meta: models.SearchMeta{
			TotalResults: len(results),
			SearchTimeMs: int(time.Since(start).Milliseconds()),
			FTS:          s.memories.HasFtsSupport(),
		},
	}, nil
}

// Get resolves an id or prefix within the agent's scopes.
func (s *Service) Get(ctx context.Context, agentID, idOrPrefix string) (*models.Entry, error) {
	e, err := s.memories.Get(ctx, idOrPrefix, s.scopes.GetAccessibleScopes(agentID))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	stripped := e.Stripped()
	return &stripped, nil
}

// Forget deletes one entry by id or prefix.
func (s *Service) Forget(ctx context.Context, agentID, idOrPrefix string) error {
	ok, err := s.memories.Delete(ctx, idOrPrefix, s.scopes.GetAccessibleScopes(agentID))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// Update patches an entry, re-embedding when the text changes.
func (s *Service) Update(ctx context.Context, agentID, idOrPrefix string, patch models.EntryPatch) (*models.Entry, error) {
	if patch.Category != nil {
		if err := validCategory(*patch.Category); err != nil {
			return nil, err
		}
	}
	if patch.Text != nil {
		text := strings.TrimSpace(noise.StripPrivate(*patch.Text))
		if text == "" {
			return nil, &store.ValidationError{Field: "text", Message: "must not be empty after removing private content"}
		}
		vec, err := s.embedder.EmbedPassage(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		patch.Text = &text
		patch.Vector = vec
	}

	e, err := s.memories.Update(ctx, idOrPrefix, patch, s.scopes.GetAccessibleScopes(agentID))
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	stripped := e.Stripped()
	return &stripped, nil
}

// List pages through entries newest first.
func (s *Service) List(ctx context.Context, req *models.ListRequest) (*models.ListResponse, error) {
	if err := validCategory(req.Category); err != nil {
		return nil, err
	}
	filter, err := s.readFilter(req.AgentID, req.Scope)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset := max(req.Offset, 0)

	entries, err := s.memories.List(ctx, filter, req.Category, limit, offset)
	if err != nil {
		return nil, err
	}
	return &models.ListResponse{Memories: entries, Limit: limit, Offset: offset}, nil
}

func (s *Service) Stats(ctx context.Context, agentID, scope string) (*models.Stats, error) {
	filter, err := s.readFilter(agentID, scope)
	if err != nil {
		return nil, err
	}
	return s.memories.Stats(ctx, filter)
}

// BulkDelete removes entries by scope and age. Without explicit scopes the
// agent's accessible scopes are used.
func (s *Service) BulkDelete(ctx context.Context, req *models.BulkDeleteRequest) (*models.BulkDeleteResponse, error) {
	filter := s.scopes.GetAccessibleScopes(req.AgentID)
	if len(req.Scopes) > 0 {
		filter = make([]string, 0, len(req.Scopes))
		for _, sc := range req.Scopes {
			if err := s.scopes.Validate(sc); err != nil {
				return nil, err
			}
			if !s.scopes.IsAccessible(sc, req.AgentID) {
				return nil, &store.AccessDeniedError{Scope: sc}
			}
			filter = append(filter, sc)
		}
	}

	n, err := s.memories.BulkDelete(ctx, filter, req.Before)
	if err != nil {
		return nil, err
	}
	s.logger.Info("bulk delete", "agent", req.AgentID, "scopes", filter, "before", req.Before, "deleted", n)
	return &models.BulkDeleteResponse{Deleted: n}, nil
}

// each calls fn for every visible entry page, newest first.
func (s *Service) each(ctx context.Context, filter []string, pageSize int, fn func([]models.Entry) error) error {
	for offset := 0; ; offset += pageSize {
		page, err := s.memories.List(ctx, filter, "", pageSize, offset)
		if err != nil {
			return err
		}
		if len(page) > 0 {
			if err := fn(page); err != nil {
				return err
			}
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

// Export dumps visible entries without vectors.
func (s *Service) Export(ctx context.Context, agentID, scope string) (*models.ExportDocument, error) {
	filter, err := s.readFilter(agentID, scope)
	if err != nil {
		return nil, err
	}
	doc := &models.ExportDocument{
		Version:    models.ExportVersion,
		ExportedAt: s.now().UnixMilli(),
		Memories:   []models.Entry{},
	}
	err = s.each(ctx, filter, exportPageSize, func(page []models.Entry) error {
		doc.Memories = append(doc.Memories, page...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	doc.Count = len(doc.Memories)
	return doc, nil
}

// Import restores exported entries keeping their ids. Existing ids are
// skipped and entries without a usable vector are re-embedded. A dry run
// reports the same counts without writing.
func (s *Service) Import(ctx context.Context, req *models.ImportRequest) (*models.ImportResponse, error) {
	resp := &models.ImportResponse{DryRun: req.DryRun}

	override := ""
	if strings.TrimSpace(req.Scope) != "" {
		scope, err := s.scopes.Resolve(req.Scope, req.AgentID)
		if err != nil {
			return nil, err
		}
		override = scope
	}

	var pending []models.Entry
	var needVector []int
	for _, e := range req.Memories {
		e.Text = strings.TrimSpace(e.Text)
		if strings.TrimSpace(e.ID) == "" || e.Text == "" {
			resp.Failed++
			continue
		}
		exists, err := s.memories.HasID(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("import: %w", err)
		}
		if exists {
			resp.Skipped++
			continue
		}

		switch {
		case override != "":
			e.Scope = override
		case e.Scope == "":
			e.Scope = s.scopes.DefaultScope(req.AgentID)
		case !s.scopes.IsAccessible(e.Scope, req.AgentID):
			resp.Failed++
			continue
		}

		if len(e.Vector) != s.memories.Dimensions() {
			e.Vector = nil
			needVector = append(needVector, len(pending))
		}
		pending = append(pending, e)
	}

	if req.DryRun {
		resp.Imported = len(pending)
		resp.Reembedded = len(needVector)
		return resp, nil
	}

	if len(needVector) > 0 {
		texts := make([]string, len(needVector))
		for i, idx := range needVector {
			texts[i] = pending[idx].Text
		}
		vecs, err := s.embedder.EmbedBatchPassage(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("import: embed: %w", err)
		}
		for i, idx := range needVector {
			pending[idx].Vector = vecs[i]
		}
		resp.Reembedded = len(needVector)
	}

	for _, e := range pending {
		if _, err := s.memories.ImportEntry(ctx, e); err != nil {
			s.logger.Warn("import entry failed", "id", e.ID, "error", err)
			resp.Failed++
			continue
		}
		resp.Imported++
	}
	s.logger.Info("import complete", "imported", resp.Imported, "skipped", resp.Skipped, "failed", resp.Failed)
	return resp, nil
}

// Reembed re-encodes every visible entry with the current embedder.
func (s *Service) Reembed(ctx context.Context, agentID, scope string) (*models.ReembedResponse, error) {
	filter, err := s.readFilter(agentID, scope)
	if err != nil {
		return nil, err
	}

	var all []models.Entry
	if err := s.each(ctx, filter, exportPageSize, func(page []models.Entry) error {
		all = append(all, page...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("reembed: %w", err)
	}

	resp := &models.ReembedResponse{}
	for start := 0; start < len(all); start += reembedPageSize {
		chunk := all[start:min(start+reembedPageSize, len(all))]
		texts := make([]string, len(chunk))
		for i, e := range chunk {
			texts[i] = e.Text
		}
		vecs, err := s.embedder.EmbedBatchPassage(ctx, texts)
		if err != nil {
			return resp, fmt.Errorf("reembed: embed: %w", err)
		}
		for i, e := range chunk {
			if _, err := s.memories.Update(ctx, e.ID, models.EntryPatch{Vector: vecs[i]}, filter); err != nil {
				s.logger.Warn("reembed entry failed", "id", e.ID, "error", err)
				resp.Failed++
				continue
			}
			resp.Processed++
		}
	}
	return resp, nil
}
