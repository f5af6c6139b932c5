// Package knowledge is the per-agent append-only record of pipeline
// artifacts, stored as embedded documents in Qdrant and queryable by
// task id.
package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ospreylabs/conduct/internal/embedding"
	"github.com/ospreylabs/conduct/internal/vectorstore"
	"go.uber.org/zap"
)

// Entry is one knowledge record: a document plus metadata.
type Entry struct {
	ID       string
	Document string
	Metadata map[string]string // carries "type", "task_id" and free-form extras
	StoredAt time.Time
}

// Store writes and reads per-agent knowledge.
type Store struct {
	embedder embedding.Provider
	qdrant   *vectorstore.Client
	logger   *zap.Logger
}

// NewStore creates a knowledge store over Qdrant.
func NewStore(embedder embedding.Provider, qdrant *vectorstore.Client, logger *zap.Logger) *Store {
	return &Store{embedder: embedder, qdrant: qdrant, logger: logger}
}

var collectionRe = regexp.MustCompile(`[^a-z0-9_]+`)

// collectionFor maps an agent name to its Qdrant collection.
func collectionFor(agent string) string {
	name := collectionRe.ReplaceAllString(strings.ToLower(agent), "_")
	return "knowledge_" + strings.Trim(name, "_")
}

// Add embeds and stores a document under the agent's collection. An
// embedding failure degrades to a zero vector so the artifact still
// lands; losing pipeline output is worse than losing similarity search
// for one record.
func (s *Store) Add(ctx context.Context, agent string, entry Entry) error {
	dim := uint64(s.embedder.Dimension())
	if dim == 0 {
		dim = 1024
	}
	coll := collectionFor(agent)
	if err := s.qdrant.EnsureCollection(ctx, coll, dim); err != nil {
		return fmt.Errorf("ensure collection %s: %w", coll, err)
	}

	var vector []float32
	vectors, err := s.embedder.Embed(ctx, []string{entry.Document})
	if err != nil || len(vectors) == 0 {
		s.logger.Warn("embedding failed, storing with zero vector",
			zap.String("agent", agent), zap.Error(err))
		vector = make([]float32, dim)
	} else {
		vector = vectors[0]
	}

	payload := make(map[string]string, len(entry.Metadata)+2)
	for k, v := range entry.Metadata {
		payload[k] = v
	}
	payload["document"] = entry.Document
	payload["stored_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	if err := s.qdrant.Upsert(ctx, coll, id, vector, payload); err != nil {
		return fmt.Errorf("upsert knowledge for %s: %w", agent, err)
	}
	return nil
}

// Query returns up to limit entries for the agent and task, newest
// first.
func (s *Store) Query(ctx context.Context, agent, taskID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	// Scroll order is not insertion order, so fetch a larger page and
	// truncate only after sorting by stored_at. A re-executed task can
	// have several records of the same type; the limit must keep the
	// newest ones, not whichever the scroll returns first.
	page := uint32(limit) * 4
	if page < 256 {
		page = 256
	}
	points, err := s.qdrant.ScrollByField(ctx, collectionFor(agent), "task_id", taskID, page)
	if err != nil {
		return nil, fmt.Errorf("query knowledge for %s: %w", agent, err)
	}

	entries := make([]Entry, 0, len(points))
	for _, p := range points {
		e := Entry{
			ID:       p.ID,
			Document: p.Payload["document"],
			Metadata: make(map[string]string),
		}
		for k, v := range p.Payload {
			switch k {
			case "document":
			case "stored_at":
				if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
					e.StoredAt = t
				}
			default:
				e.Metadata[k] = v
			}
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StoredAt.After(entries[j].StoredAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
