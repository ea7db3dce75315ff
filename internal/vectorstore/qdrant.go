// Package vectorstore is a multi-context facade over a qdrant index. Each
// context owns one collection named "context_<name>"; searches run against
// one collection or merge across all of them.
package vectorstore

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	collectionPrefix = "context_"
	scrollPageSize   = 256
)

// Record is one chunk written to or read from a collection.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata map[string]interface{}
}

// Hit is one ranked search result. Distance is cosine distance, so
// relevance = 1 - Distance.
type Hit struct {
	ID       string
	Distance float64
	Text     string
	Metadata map[string]interface{}
}

// Store is the qdrant-backed vector store.
type Store struct {
	points      pb.PointsClient
	collections pb.CollectionsClient
	conn        *grpc.ClientConn
	vectorSize  uint64
	logger      *log.Logger

	closeOnce sync.Once
}

// New connects to qdrant at url (host:port, scheme prefixes are stripped)
// and prepares a store whose collections hold vectors of the given size.
func New(url string, vectorSize int, logger *log.Logger) (*Store, error) {
	if vectorSize < 1 {
		return nil, fmt.Errorf("vector size must be positive, got %d", vectorSize)
	}
	url = strings.TrimPrefix(url, "http://")
	url = strings.TrimPrefix(url, "https://")

	conn, err := grpc.NewClient(url, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect to qdrant at %s: %w", url, err)
	}

	return &Store{
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		conn:        conn,
		vectorSize:  uint64(vectorSize),
		logger:      logger,
	}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *Store) logf(format string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// CollectionName maps a context name to its collection.
func CollectionName(contextName string) string {
	return collectionPrefix + contextName
}

// contextFromCollection is the inverse strip; it returns "" for collections
// this store does not own.
func contextFromCollection(collection string) string {
	if !strings.HasPrefix(collection, collectionPrefix) {
		return ""
	}
	return strings.TrimPrefix(collection, collectionPrefix)
}

// Ping verifies the qdrant connection.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant unreachable: %w", err)
	}
	return nil
}

// EnsureCollection creates the context's collection with cosine distance if
// it does not exist. Idempotent.
func (s *Store) EnsureCollection(ctx context.Context, contextName string) error {
	existing, err := s.ListContexts(ctx)
	if err != nil {
		return err
	}
	for _, name := range existing {
		if name == contextName {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: CollectionName(contextName),
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.vectorSize,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection for context %q: %w", contextName, err)
	}
	s.logf("vectorstore: created collection %s", CollectionName(contextName))
	return nil
}

// DeleteCollection removes a context's collection and all its vectors.
func (s *Store) DeleteCollection(ctx context.Context, contextName string) error {
	_, err := s.collections.Delete(ctx, &pb.DeleteCollection{
		CollectionName: CollectionName(contextName),
	})
	if err != nil {
		return fmt.Errorf("delete collection for context %q: %w", contextName, err)
	}
	s.logf("vectorstore: deleted collection %s", CollectionName(contextName))
	return nil
}

// ListContexts enumerates context names derived from collection names.
func (s *Store) ListContexts(ctx context.Context) ([]string, error) {
	resp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	var contexts []string
	for _, col := range resp.Collections {
		if name := contextFromCollection(col.Name); name != "" {
			contexts = append(contexts, name)
		}
	}
	sort.Strings(contexts)
	return contexts, nil
}

// Add upserts records into a context's collection in one batch. Qdrant
// point ids must be UUIDs, so the logical record id is hashed into a
// deterministic UUID and kept in the payload as chunk_id.
func (s *Store) Add(ctx context.Context, contextName string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	wait := true
	points := make([]*pb.PointStruct, 0, len(records))
	for _, record := range records {
		if uint64(len(record.Vector)) != s.vectorSize {
			return fmt.Errorf("record %s: vector has dimension %d, want %d", record.ID, len(record.Vector), s.vectorSize)
		}
		payload := payloadFromMetadata(record.Metadata)
		payload["chunk_id"] = stringValue(record.ID)
		payload["chunk_text"] = stringValue(record.Text)

		points = append(points, &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: pointUUID(record.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: record.Vector},
				},
			},
			Payload: payload,
		})
	}

	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: CollectionName(contextName),
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into context %q: %w", len(points), contextName, err)
	}
	return nil
}

// Search queries one context when contextName is non-empty, otherwise merges
// results across every existing context.
func (s *Store) Search(ctx context.Context, vector []float32, k int, where map[string]string, contextName string) ([]Hit, error) {
	if contextName != "" {
		return s.searchCollection(ctx, vector, k, where, contextName)
	}

	contexts, err := s.ListContexts(ctx)
	if err != nil {
		return nil, err
	}
	if len(contexts) == 0 {
		return nil, nil
	}

	perContext := make([][]Hit, 0, len(contexts))
	for _, name := range contexts {
		hits, err := s.searchCollection(ctx, vector, k, where, name)
		if err != nil {
			// A broken context must not fail the whole query.
			s.logf("vectorstore: search in context %q failed: %v", name, err)
			continue
		}
		perContext = append(perContext, hits)
	}
	return mergeHits(perContext, k), nil
}

// mergeHits flattens per-context rankings into one ascending-distance list
// truncated to k. Ties keep their per-context order.
func mergeHits(perContext [][]Hit, k int) []Hit {
	var merged []Hit
	for _, hits := range perContext {
		merged = append(merged, hits...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Distance < merged[j].Distance })
	if k >= 0 && len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func (s *Store) searchCollection(ctx context.Context, vector []float32, k int, where map[string]string, contextName string) ([]Hit, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: CollectionName(contextName),
		Vector:         vector,
		Filter:         filterFromWhere(where),
		Limit:          uint64(k),
		WithPayload: &pb.WithPayloadSelector{
			SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search context %q: %w", contextName, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, point := range resp.Result {
		text, metadata := metadataFromPayload(point.Payload)
		hits = append(hits, Hit{
			ID: chunkIDFromPayload(point.Payload),
			// Cosine score is similarity; callers work in distances.
			Distance: 1 - float64(point.Score),
			Text:     text,
			Metadata: metadata,
		})
	}
	return hits, nil
}

// GetAll dumps every record of one context, or of all contexts when
// contextName is empty. Vectors are not returned; this path exists for
// registry recovery on startup.
func (s *Store) GetAll(ctx context.Context, contextName string) ([]Record, error) {
	contexts := []string{contextName}
	if contextName == "" {
		var err error
		contexts, err = s.ListContexts(ctx)
		if err != nil {
			return nil, err
		}
	}

	var out []Record
	for _, name := range contexts {
		records, err := s.scrollCollection(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

func (s *Store) scrollCollection(ctx context.Context, contextName string) ([]Record, error) {
	var out []Record
	limit := uint32(scrollPageSize)
	var offset *pb.PointId
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: CollectionName(contextName),
			Limit:          &limit,
			Offset:         offset,
			WithPayload: &pb.WithPayloadSelector{
				SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("scroll context %q: %w", contextName, err)
		}
		for _, point := range resp.Result {
			text, metadata := metadataFromPayload(point.Payload)
			out = append(out, Record{
				ID:       chunkIDFromPayload(point.Payload),
				Text:     text,
				Metadata: metadata,
			})
		}
		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			return out, nil
		}
		offset = resp.NextPageOffset
	}
}

// DeleteByDocument removes every point of a document from a context's
// collection.
func (s *Store) DeleteByDocument(ctx context.Context, contextName, documentID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: CollectionName(contextName),
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: filterFromWhere(map[string]string{"document_id": documentID}),
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("delete document %s from context %q: %w", documentID, contextName, err)
	}
	return nil
}

// Reset drops every context collection. Destructive.
func (s *Store) Reset(ctx context.Context) error {
	contexts, err := s.ListContexts(ctx)
	if err != nil {
		return err
	}
	for _, name := range contexts {
		if err := s.DeleteCollection(ctx, name); err != nil {
			return err
		}
	}
	s.logf("vectorstore: reset dropped %d collections", len(contexts))
	return nil
}

var _ Index = (*Store)(nil)

// Index is the store surface the knowledge service consumes; fakes implement
// it in tests.
type Index interface {
	EnsureCollection(ctx context.Context, contextName string) error
	DeleteCollection(ctx context.Context, contextName string) error
	ListContexts(ctx context.Context) ([]string, error)
	Add(ctx context.Context, contextName string, records []Record) error
	Search(ctx context.Context, vector []float32, k int, where map[string]string, contextName string) ([]Hit, error)
	GetAll(ctx context.Context, contextName string) ([]Record, error)
	DeleteByDocument(ctx context.Context, contextName, documentID string) error
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
}
