// Package semantic owns every qdrant interaction: collection lifecycle,
// chunk upserts, similarity queries, and id-based retrieval. Store
// failures carry the transient/permanent taxonomy so callers can decide
// between retrying and giving up.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/docdex/docdex/engine/domain"
)

// pointsAPI is the slice of qdrant's points service the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
}

// collectionsAPI is the slice of qdrant's collections service the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore is the sole owner of all qdrant operations.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
}

// New creates a VectorStore connected to qdrant at the given gRPC address.
func New(addr string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// NewWithClients creates a VectorStore over pre-built service clients.
func NewWithClients(points pointsAPI, collections collectionsAPI) *VectorStore {
	return &VectorStore{points: points, collections: collections}
}

// Close closes the underlying gRPC connection.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist yet. Idempotent.
func (v *VectorStore) EnsureCollection(ctx context.Context, name string, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return storeErr("list collections", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == name {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return storeErr(fmt.Sprintf("create collection %s", name), err)
	}
	return nil
}

// DeleteCollection deletes a collection and every point in it.
func (v *VectorStore) DeleteCollection(ctx context.Context, name string) error {
	_, err := v.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: name})
	if err != nil {
		return storeErr(fmt.Sprintf("delete collection %s", name), err)
	}
	return nil
}

// Collections lists the collection names known to the store.
func (v *VectorStore) Collections(ctx context.Context) ([]string, error) {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return nil, storeErr("list collections", err)
	}
	names := make([]string, 0, len(list.GetCollections()))
	for _, c := range list.GetCollections() {
		names = append(names, c.GetName())
	}
	sort.Strings(names)
	return names, nil
}

// Write upserts chunks with their vectors and returns the number written.
// Point ids derive deterministically from chunk ids, so rewriting the same
// chunk replaces the previous point instead of duplicating it.
func (v *VectorStore) Write(ctx context.Context, collection string, chunks []domain.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("semantic: %d chunks with %d vectors: %w",
			len(chunks), len(vectors), domain.ErrConfiguration)
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c.ID)},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: vectors[i]},
				},
			},
			Payload: chunkPayload(c),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return 0, storeErr(fmt.Sprintf("upsert %d points", len(points)), err)
	}
	return len(points), nil
}

// DeleteByDocument removes all points of one document. Used by callers
// that rebuild a document from scratch.
func (v *VectorStore) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	wait := true
	_, err := v.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch(FieldDocumentID, documentID),
					},
				},
			},
		},
	})
	if err != nil {
		return storeErr(fmt.Sprintf("delete by document %s", documentID), err)
	}
	return nil
}

// Query performs similarity search and rebuilds chunks from payloads.
// Filters become keyword conditions that must all match.
func (v *VectorStore) Query(ctx context.Context, collection string, vector []float32, k uint64, filters map[string]string) ([]SearchResult, error) {
	return v.QueryAny(ctx, collection, vector, k, singleValued(filters))
}

// QueryAny is Query with multi-valued filters: a key matches when the
// payload field equals any of its values, and all keys must match.
func (v *VectorStore) QueryAny(ctx context.Context, collection string, vector []float32, k uint64, filters map[string][]string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          k,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if conds := filterConditions(filters); len(conds) > 0 {
		req.Filter = &pb.Filter{Must: conds}
	}

	resp, err := v.points.Search(ctx, req)
	if err != nil {
		return nil, storeErr("search", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		results[i] = SearchResult{
			Chunk: chunkFromPayload(r.GetPayload()),
			Score: r.GetScore(),
		}
	}
	return results, nil
}

// Retrieve fetches chunks by chunk id, preserving the requested order.
// Unknown ids are skipped rather than reported.
func (v *VectorStore) Retrieve(ctx context.Context, collection string, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIds := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIds[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}
	}

	resp, err := v.points.Get(ctx, &pb.GetPoints{
		CollectionName: collection,
		Ids:            pointIds,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, storeErr(fmt.Sprintf("retrieve %d points", len(ids)), err)
	}

	byID := make(map[string]domain.Chunk, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		c := chunkFromPayload(p.GetPayload())
		byID[c.ID] = c
	}

	chunks := make([]domain.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// SampleIDs returns up to limit chunk ids from the collection, in scroll
// order. Meant for inspection, not iteration.
func (v *VectorStore) SampleIDs(ctx context.Context, collection string, limit uint32) ([]string, error) {
	resp, err := v.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: collection,
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, storeErr(fmt.Sprintf("scroll %s", collection), err)
	}

	ids := make([]string, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		if c := chunkFromPayload(p.GetPayload()); c.ID != "" {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

// Count returns the exact number of points matching the filters.
func (v *VectorStore) Count(ctx context.Context, collection string, filters map[string]string) (uint64, error) {
	exact := true
	req := &pb.CountPoints{
		CollectionName: collection,
		Exact:          &exact,
	}
	if len(filters) > 0 {
		req.Filter = &pb.Filter{Must: filterConditions(singleValued(filters))}
	}

	resp, err := v.points.Count(ctx, req)
	if err != nil {
		return 0, storeErr(fmt.Sprintf("count %s", collection), err)
	}
	return resp.GetResult().GetCount(), nil
}

// PointID derives the stable point UUID for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

// CollectionName derives a legal collection name from arbitrary text:
// lowercase alphanumerics and underscores, at most 63 characters, starting
// with a letter.
func CollectionName(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore && b.Len() > 0 {
				b.WriteByte('_')
				underscore = true
			}
		}
	}

	name := strings.Trim(b.String(), "_")
	if name == "" {
		return domain.DefaultCollection
	}
	if name[0] < 'a' || name[0] > 'z' {
		name = "doc_" + name
	}
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "_")
	}
	return name
}

// singleValued widens a single-valued filter map for the multi-value helpers.
func singleValued(filters map[string]string) map[string][]string {
	multi := make(map[string][]string, len(filters))
	for key, value := range filters {
		multi[key] = []string{value}
	}
	return multi
}

// filterConditions builds match conditions in deterministic key order. A
// key with several values matches any of them; keys without values are
// dropped.
func filterConditions(filters map[string][]string) []*pb.Condition {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]*pb.Condition, 0, len(keys))
	for _, k := range keys {
		switch values := filters[k]; len(values) {
		case 0:
		case 1:
			must = append(must, fieldMatch(k, values[0]))
		default:
			must = append(must, fieldMatchAny(k, values))
		}
	}
	return must
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func fieldMatchAny(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keywords{
						Keywords: &pb.RepeatedStrings{Strings: values},
					},
				},
			},
		},
	}
}

// classify maps a gRPC failure onto the error taxonomy: connectivity and
// backpressure codes are transient, everything else is permanent.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return domain.ErrTransientStore
	default:
		return domain.ErrPersistence
	}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("semantic: %s: %w: %w", op, classify(err), err)
}
