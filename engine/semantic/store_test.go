package semantic

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/docdex/docdex/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	upsertResp *pb.PointsOperationResponse
	upsertErr  error
	gotUpsert  *pb.UpsertPoints

	deleteResp *pb.PointsOperationResponse
	deleteErr  error
	gotDelete  *pb.DeletePoints

	searchResp *pb.SearchResponse
	searchErr  error
	gotSearch  *pb.SearchPoints

	getResp *pb.GetResponse
	getErr  error
	gotGet  *pb.GetPoints

	countResp *pb.CountResponse
	countErr  error
	gotCount  *pb.CountPoints

	scrollResp *pb.ScrollResponse
	scrollErr  error
	gotScroll  *pb.ScrollPoints

	calls int
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.calls++
	m.gotUpsert = in
	return m.upsertResp, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.calls++
	m.gotDelete = in
	return m.deleteResp, m.deleteErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.calls++
	m.gotSearch = in
	return m.searchResp, m.searchErr
}

func (m *mockPoints) Get(_ context.Context, in *pb.GetPoints, _ ...grpc.CallOption) (*pb.GetResponse, error) {
	m.calls++
	m.gotGet = in
	return m.getResp, m.getErr
}

func (m *mockPoints) Count(_ context.Context, in *pb.CountPoints, _ ...grpc.CallOption) (*pb.CountResponse, error) {
	m.calls++
	m.gotCount = in
	return m.countResp, m.countErr
}

func (m *mockPoints) Scroll(_ context.Context, in *pb.ScrollPoints, _ ...grpc.CallOption) (*pb.ScrollResponse, error) {
	m.calls++
	m.gotScroll = in
	return m.scrollResp, m.scrollErr
}

type mockCollections struct {
	listResp   *pb.ListCollectionsResponse
	listErr    error
	createResp *pb.CollectionOperationResponse
	createErr  error
	gotCreate  *pb.CreateCollection
	deleteResp *pb.CollectionOperationResponse
	deleteErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.gotCreate = in
	return m.createResp, m.createErr
}

func (m *mockCollections) Delete(_ context.Context, _ *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	return m.deleteResp, m.deleteErr
}

func sampleChunk(id string, order int) domain.Chunk {
	return domain.Chunk{
		ID:   id,
		Text: "attention is computed over keys and values",
		Meta: domain.ChunkMetadata{
			DocumentID:  "paper",
			Title:       "A Paper",
			SourceTypes: []string{"paragraph", "table"},
			SectionPath: []string{"Model"},
			OrderStart:  order,
			OrderEnd:    order + 1,
			TokenCount:  11,
		},
	}
}

// --- Tests ---

func TestNewWithClients(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{})
	if vs == nil {
		t.Fatal("expected non-nil store")
	}
	if err := vs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestEnsureCollectionAlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "papers"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols)
	if err := vs.EnsureCollection(context.Background(), "papers", 4); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if cols.gotCreate != nil {
		t.Error("existing collection was recreated")
	}
}

func TestEnsureCollectionCreates(t *testing.T) {
	cols := &mockCollections{
		listResp:   &pb.ListCollectionsResponse{Collections: []*pb.CollectionDescription{{Name: "other"}}},
		createResp: &pb.CollectionOperationResponse{Result: true},
	}
	vs := NewWithClients(&mockPoints{}, cols)
	if err := vs.EnsureCollection(context.Background(), "papers", 768); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	created := cols.gotCreate
	if created == nil {
		t.Fatal("collection was not created")
	}
	if created.CollectionName != "papers" {
		t.Errorf("created %q, want papers", created.CollectionName)
	}
	params := created.GetVectorsConfig().GetParams()
	if params.GetSize() != 768 {
		t.Errorf("size = %d, want 768", params.GetSize())
	}
	if params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("distance = %v, want cosine", params.GetDistance())
	}
}

func TestEnsureCollectionListError(t *testing.T) {
	cols := &mockCollections{listErr: status.Error(codes.Unavailable, "down")}
	vs := NewWithClients(&mockPoints{}, cols)
	err := vs.EnsureCollection(context.Background(), "papers", 4)
	if !errors.Is(err, domain.ErrTransientStore) {
		t.Fatalf("err = %v, want ErrTransientStore", err)
	}
}

func TestCollections(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "zeta"}, {Name: "alpha"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols)
	names, err := vs.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"alpha", "zeta"}) {
		t.Errorf("names = %v, want sorted [alpha zeta]", names)
	}
}

func TestWriteBuildsDeterministicPoints(t *testing.T) {
	pts := &mockPoints{upsertResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{})

	chunks := []domain.Chunk{sampleChunk("paper-0", 0), sampleChunk("paper-1", 2)}
	vectors := [][]float32{{1, 0}, {0, 1}}

	n, err := vs.Write(context.Background(), "papers", chunks, vectors)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 2 {
		t.Fatalf("wrote %d, want 2", n)
	}

	req := pts.gotUpsert
	if req.CollectionName != "papers" {
		t.Errorf("collection = %q, want papers", req.CollectionName)
	}
	if req.Wait == nil || !*req.Wait {
		t.Error("upsert must wait for commit")
	}
	if len(req.Points) != 2 {
		t.Fatalf("got %d points, want 2", len(req.Points))
	}
	for i, p := range req.Points {
		if got, want := p.GetId().GetUuid(), PointID(chunks[i].ID); got != want {
			t.Errorf("point %d id = %q, want %q", i, got, want)
		}
		if got := chunkFromPayload(p.GetPayload()); !reflect.DeepEqual(got, chunks[i]) {
			t.Errorf("point %d payload does not round-trip:\ngot  %+v\nwant %+v", i, got, chunks[i])
		}
	}
}

func TestWriteEmpty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{})
	n, err := vs.Write(context.Background(), "papers", nil, nil)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 0 || pts.calls != 0 {
		t.Errorf("empty write: n=%d calls=%d, want 0/0", n, pts.calls)
	}
}

func TestWriteVectorMismatch(t *testing.T) {
	vs := NewWithClients(&mockPoints{}, &mockCollections{})
	_, err := vs.Write(context.Background(), "papers",
		[]domain.Chunk{sampleChunk("paper-0", 0)}, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestWriteClassifiesFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), domain.ErrTransientStore},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), domain.ErrTransientStore},
		{"exhausted", status.Error(codes.ResourceExhausted, "busy"), domain.ErrTransientStore},
		{"aborted", status.Error(codes.Aborted, "conflict"), domain.ErrTransientStore},
		{"invalid", status.Error(codes.InvalidArgument, "bad vector"), domain.ErrPersistence},
		{"plain", errors.New("boom"), domain.ErrPersistence},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pts := &mockPoints{upsertErr: tc.err}
			vs := NewWithClients(pts, &mockCollections{})
			_, err := vs.Write(context.Background(), "papers",
				[]domain.Chunk{sampleChunk("paper-0", 0)}, [][]float32{{1}})
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if !errors.Is(err, tc.err) {
				t.Fatalf("err = %v does not wrap the cause", err)
			}
		})
	}
}

func TestQueryRebuildsChunks(t *testing.T) {
	want := sampleChunk("paper-3", 7)
	pts := &mockPoints{
		searchResp: &pb.SearchResponse{
			Result: []*pb.ScoredPoint{
				{
					Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(want.ID)}},
					Score:   0.93,
					Payload: chunkPayload(want),
				},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{})

	results, err := vs.Query(context.Background(), "papers", []float32{1, 0}, 5,
		map[string]string{"source_types": "table", "document_id": "paper"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if !reflect.DeepEqual(results[0].Chunk, want) {
		t.Errorf("chunk = %+v, want %+v", results[0].Chunk, want)
	}
	if results[0].Score != 0.93 {
		t.Errorf("score = %v, want 0.93", results[0].Score)
	}

	req := pts.gotSearch
	if req.Limit != 5 {
		t.Errorf("limit = %d, want 5", req.Limit)
	}
	if !req.GetWithPayload().GetEnable() {
		t.Error("payload not requested")
	}

	must := req.GetFilter().GetMust()
	if len(must) != 2 {
		t.Fatalf("got %d conditions, want 2", len(must))
	}
	// Conditions are emitted in sorted key order.
	if k := must[0].GetField().GetKey(); k != "document_id" {
		t.Errorf("first condition key = %q, want document_id", k)
	}
	if kw := must[0].GetField().GetMatch().GetKeyword(); kw != "paper" {
		t.Errorf("first condition keyword = %q, want paper", kw)
	}
	if k := must[1].GetField().GetKey(); k != "source_types" {
		t.Errorf("second condition key = %q, want source_types", k)
	}
}

func TestQueryAnyMatchesAnyValue(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{})

	_, err := vs.QueryAny(context.Background(), "papers", []float32{1, 0}, 5,
		map[string][]string{
			"source_types": {"table", "figure"},
			"document_id":  {"paper"},
			"ignored":      {},
		})
	if err != nil {
		t.Fatalf("QueryAny: %v", err)
	}

	must := pts.gotSearch.GetFilter().GetMust()
	if len(must) != 2 {
		t.Fatalf("got %d conditions, want 2 (empty value list dropped)", len(must))
	}
	if kw := must[0].GetField().GetMatch().GetKeyword(); kw != "paper" {
		t.Errorf("document_id keyword = %q, want paper", kw)
	}
	got := must[1].GetField().GetMatch().GetKeywords().GetStrings()
	if !reflect.DeepEqual(got, []string{"table", "figure"}) {
		t.Errorf("source_types keywords = %v, want [table figure]", got)
	}
}

func TestQueryWithoutFilters(t *testing.T) {
	pts := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(pts, &mockCollections{})

	results, err := vs.Query(context.Background(), "papers", []float32{1}, 3, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results, want 0", len(results))
	}
	if pts.gotSearch.Filter != nil {
		t.Error("unexpected filter on unfiltered query")
	}
}

func TestQueryError(t *testing.T) {
	pts := &mockPoints{searchErr: status.Error(codes.Unavailable, "down")}
	vs := NewWithClients(pts, &mockCollections{})
	_, err := vs.Query(context.Background(), "papers", []float32{1}, 3, nil)
	if !errors.Is(err, domain.ErrTransientStore) {
		t.Fatalf("err = %v, want ErrTransientStore", err)
	}
}

func TestDeleteByDocument(t *testing.T) {
	pts := &mockPoints{deleteResp: &pb.PointsOperationResponse{}}
	vs := NewWithClients(pts, &mockCollections{})

	if err := vs.DeleteByDocument(context.Background(), "papers", "paper"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}

	must := pts.gotDelete.GetPoints().GetFilter().GetMust()
	if len(must) != 1 {
		t.Fatalf("got %d conditions, want 1", len(must))
	}
	fc := must[0].GetField()
	if fc.GetKey() != "document_id" || fc.GetMatch().GetKeyword() != "paper" {
		t.Errorf("condition = %s=%s, want document_id=paper", fc.GetKey(), fc.GetMatch().GetKeyword())
	}
}

func TestRetrievePreservesRequestOrder(t *testing.T) {
	a := sampleChunk("paper-0", 0)
	b := sampleChunk("paper-1", 2)
	pts := &mockPoints{
		getResp: &pb.GetResponse{
			Result: []*pb.RetrievedPoint{
				{Payload: chunkPayload(a)},
				{Payload: chunkPayload(b)},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{})

	chunks, err := vs.Retrieve(context.Background(), "papers",
		[]string{"paper-1", "paper-0", "paper-9"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].ID != "paper-1" || chunks[1].ID != "paper-0" {
		t.Errorf("order = [%s %s], want [paper-1 paper-0]", chunks[0].ID, chunks[1].ID)
	}
	if len(pts.gotGet.GetIds()) != 3 {
		t.Errorf("requested %d ids, want 3", len(pts.gotGet.GetIds()))
	}
}

func TestRetrieveEmpty(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{})
	chunks, err := vs.Retrieve(context.Background(), "papers", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if chunks != nil || pts.calls != 0 {
		t.Errorf("empty retrieve: chunks=%v calls=%d", chunks, pts.calls)
	}
}

func TestSampleIDs(t *testing.T) {
	a := sampleChunk("paper-0", 0)
	b := sampleChunk("paper-1", 2)
	pts := &mockPoints{
		scrollResp: &pb.ScrollResponse{
			Result: []*pb.RetrievedPoint{
				{Payload: chunkPayload(a)},
				{Payload: chunkPayload(b)},
				{Payload: nil},
			},
		},
	}
	vs := NewWithClients(pts, &mockCollections{})

	ids, err := vs.SampleIDs(context.Background(), "papers", 10)
	if err != nil {
		t.Fatalf("SampleIDs: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"paper-0", "paper-1"}) {
		t.Errorf("ids = %v, want [paper-0 paper-1] with payload-less point dropped", ids)
	}
	if pts.gotScroll.GetLimit() != 10 {
		t.Errorf("limit = %d, want 10", pts.gotScroll.GetLimit())
	}
	if !pts.gotScroll.GetWithPayload().GetEnable() {
		t.Error("payload not requested")
	}
}

func TestCount(t *testing.T) {
	pts := &mockPoints{
		countResp: &pb.CountResponse{Result: &pb.CountResult{Count: 42}},
	}
	vs := NewWithClients(pts, &mockCollections{})

	n, err := vs.Count(context.Background(), "papers", map[string]string{"document_id": "paper"})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 42 {
		t.Errorf("count = %d, want 42", n)
	}
	if pts.gotCount.Exact == nil || !*pts.gotCount.Exact {
		t.Error("count must be exact")
	}
	if len(pts.gotCount.GetFilter().GetMust()) != 1 {
		t.Error("missing document filter")
	}
}

func TestPointIDStable(t *testing.T) {
	a, b := PointID("paper-0"), PointID("paper-0")
	if a != b {
		t.Fatalf("same chunk id produced different point ids: %s vs %s", a, b)
	}
	if PointID("paper-1") == a {
		t.Fatal("different chunk ids collided")
	}
	if len(a) != 36 || strings.Count(a, "-") != 4 {
		t.Fatalf("point id %q is not a canonical uuid", a)
	}
}

func TestCollectionName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Attention Is All You Need", "attention_is_all_you_need"},
		{"2001: A Space Odyssey", "doc_2001_a_space_odyssey"},
		{"My Doc.html", "my_doc_html"},
		{"  spaced   out  ", "spaced_out"},
		{"", "docs"},
		{"!!!", "docs"},
		{strings.Repeat("a", 80), strings.Repeat("a", 63)},
	}
	for _, tc := range cases {
		if got := CollectionName(tc.in); got != tc.want {
			t.Errorf("CollectionName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
