package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/wangdangel/augmentorium/internal/chunker"
)

// QdrantConfig contains settings for the remote vector store backend.
type QdrantConfig struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
}

// QdrantStore implements Store against a Qdrant collection. One collection
// per project, named from the configured prefix and the project name.
type QdrantStore struct {
	config QdrantConfig
	client *qdrant.Client
}

// OpenQdrant connects to Qdrant and ensures the project collection exists.
func OpenQdrant(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}

	// Expected format: http://localhost:6333 or https://host:6333; the SDK
	// speaks gRPC on port 6334 regardless of the REST port given
	url := config.URL
	useTLS := false
	if strings.HasPrefix(url, "https://") {
		url = strings.TrimPrefix(url, "https://")
		useTLS = true
	} else {
		url = strings.TrimPrefix(url, "http://")
	}
	host := url
	if idx := strings.LastIndex(url, ":"); idx >= 0 {
		host = url[:idx]
	}

	qcfg := &qdrant.Config{
		Host:   host,
		Port:   6334,
		UseTLS: useTLS,
	}
	if config.APIKey != "" {
		qcfg.APIKey = config.APIKey
	}

	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	store := &QdrantStore{config: config, client: client}
	if err := store.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.config.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
		OptimizersConfig: &qdrant.OptimizersConfigDiff{
			IndexingThreshold: qdrant.PtrOf(uint64(100)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Close closes the client connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// UpsertMany writes chunks and vectors as points keyed by chunk id.
func (s *QdrantStore) UpsertMany(ctx context.Context, chunks []EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, ec := range chunks {
		payload := map[string]*qdrant.Value{
			"chunk_id":   qdrant.NewValueString(ec.Chunk.ID),
			"rel_path":   qdrant.NewValueString(ec.Chunk.RelPath),
			"language":   qdrant.NewValueString(ec.Chunk.Language),
			"kind":       qdrant.NewValueString(ec.Chunk.Kind),
			"name":       qdrant.NewValueString(ec.Chunk.Name),
			"start_line": qdrant.NewValueString(strconv.Itoa(ec.Chunk.StartLine)),
			"end_line":   qdrant.NewValueString(strconv.Itoa(ec.Chunk.EndLine)),
			"parent_id":  qdrant.NewValueString(ec.Chunk.ParentID),
			"text":       qdrant.NewValueString(ec.Chunk.Text),
			"model_id":   qdrant.NewValueString(ec.ModelID),
		}
		for key, val := range ec.Chunk.Metadata {
			payload["meta_"+key] = qdrant.NewValueString(val)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointUUID(ec.Chunk.ID)),
			Vectors: qdrant.NewVectors(ec.Vector...),
			Payload: payload,
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.config.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// DeleteMany removes points by chunk id.
func (s *QdrantStore) DeleteMany(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	ids := make([]*qdrant.PointId, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		ids = append(ids, qdrant.NewID(pointUUID(id)))
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points: %w", err)
	}
	return nil
}

// DeleteByPath removes every point attributed to a file via a payload filter.
func (s *QdrantStore) DeleteByPath(ctx context.Context, relPath string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.config.Collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: &qdrant.Filter{
					Must: []*qdrant.Condition{matchCondition("rel_path", relPath)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete points for %s: %w", relPath, err)
	}
	return nil
}

// ListByPath scrolls the collection for chunk ids attributed to a file.
func (s *QdrantStore) ListByPath(ctx context.Context, relPath string) ([]string, error) {
	points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: s.config.Collection,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{matchCondition("rel_path", relPath)},
		},
		Limit:       qdrant.PtrOf(uint32(1024)),
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scroll points: %w", err)
	}

	ids := make([]string, 0, len(points))
	for _, point := range points {
		if v, ok := point.Payload["chunk_id"]; ok {
			ids = append(ids, v.GetStringValue())
		}
	}
	return ids, nil
}

// KNN queries the collection, translating the metadata filter to payload
// conditions.
func (s *QdrantStore) KNN(ctx context.Context, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}

	var conditions []*qdrant.Condition
	if filter != nil {
		if filter.Language != "" {
			conditions = append(conditions, matchCondition("language", filter.Language))
		}
		if filter.Kind != "" {
			conditions = append(conditions, matchCondition("kind", filter.Kind))
		}
		if filter.Name != "" {
			conditions = append(conditions, matchCondition("name", filter.Name))
		}
		if filter.PathPrefix != "" {
			conditions = append(conditions, &qdrant.Condition{
				ConditionOneOf: &qdrant.Condition_Field{
					Field: &qdrant.FieldCondition{
						Key: "rel_path",
						Match: &qdrant.Match{
							MatchValue: &qdrant.Match_Text{Text: filter.PathPrefix},
						},
					},
				},
			})
		}
	}

	query := &qdrant.QueryPoints{
		CollectionName: s.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(conditions) > 0 {
		query.Filter = &qdrant.Filter{Must: conditions}
	}

	points, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, point := range points {
		ch := chunkFromPayload(point.Payload)
		// The text match also accepts the prefix in mid-path; keep true prefixes only
		if filter != nil && filter.PathPrefix != "" && !strings.HasPrefix(ch.RelPath, filter.PathPrefix) {
			continue
		}
		hits = append(hits, Hit{Chunk: ch, Score: float64(point.Score)})
	}
	return hits, nil
}

// Count returns the number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	info, err := s.client.GetCollectionInfo(ctx, s.config.Collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info: %w", err)
	}
	if info == nil {
		return 0, nil
	}
	return int(info.GetPointsCount()), nil
}

// DeleteCollection drops the entire collection. Used by project
// reinitialization.
func (s *QdrantStore) DeleteCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.config.Collection); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", s.config.Collection, err)
	}
	return nil
}

func matchCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func chunkFromPayload(payload map[string]*qdrant.Value) chunker.Chunk {
	get := func(key string) string {
		if v, ok := payload[key]; ok {
			return v.GetStringValue()
		}
		return ""
	}
	ch := chunker.Chunk{
		ID:       get("chunk_id"),
		RelPath:  get("rel_path"),
		Language: get("language"),
		Kind:     get("kind"),
		Name:     get("name"),
		ParentID: get("parent_id"),
		Text:     get("text"),
	}
	ch.StartLine, _ = strconv.Atoi(get("start_line"))
	ch.EndLine, _ = strconv.Atoi(get("end_line"))
	for key, val := range payload {
		if strings.HasPrefix(key, "meta_") {
			if ch.Metadata == nil {
				ch.Metadata = make(map[string]string)
			}
			ch.Metadata[strings.TrimPrefix(key, "meta_")] = val.GetStringValue()
		}
	}
	return ch
}

// pointUUID derives a UUID-shaped point id from the 32-hex-char chunk id,
// since Qdrant point ids must be integers or UUIDs.
func pointUUID(chunkID string) string {
	id := chunkID
	for len(id) < 32 {
		id += "0"
	}
	return fmt.Sprintf("%s-%s-%s-%s-%s", id[0:8], id[8:12], id[12:16], id[16:20], id[20:32])
}
