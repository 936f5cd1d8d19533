package semantic

import (
	pb "github.com/qdrant/go-client/qdrant"

	"github.com/docdex/docdex/engine/domain"
)

// SearchResult is a single similarity hit: the stored chunk plus its
// cosine score.
type SearchResult struct {
	Chunk domain.Chunk `json:"chunk"`
	Score float32      `json:"score"`
}

// Payload field names. Filters passed to Query use the same keys; the
// two filterable fields are exported for callers building filter maps.
const (
	FieldDocumentID  = "document_id"
	FieldSourceTypes = "source_types"

	fieldChunkID     = "chunk_id"
	fieldContent     = "content"
	fieldTitle       = "title"
	fieldSectionPath = "section_path"
	fieldOrderStart  = "order_start"
	fieldOrderEnd    = "order_end"
	fieldTokenCount  = "token_count"
)

// chunkPayload flattens a chunk into a qdrant payload map.
func chunkPayload(c domain.Chunk) map[string]*pb.Value {
	return map[string]*pb.Value{
		fieldChunkID:     stringValue(c.ID),
		fieldContent:     stringValue(c.Text),
		FieldDocumentID:  stringValue(c.Meta.DocumentID),
		fieldTitle:       stringValue(c.Meta.Title),
		FieldSourceTypes: listValue(c.Meta.SourceTypes),
		fieldSectionPath: listValue(c.Meta.SectionPath),
		fieldOrderStart:  intValue(c.Meta.OrderStart),
		fieldOrderEnd:    intValue(c.Meta.OrderEnd),
		fieldTokenCount:  intValue(c.Meta.TokenCount),
	}
}

// chunkFromPayload rebuilds the chunk stored in a point payload.
func chunkFromPayload(payload map[string]*pb.Value) domain.Chunk {
	return domain.Chunk{
		ID:   payload[fieldChunkID].GetStringValue(),
		Text: payload[fieldContent].GetStringValue(),
		Meta: domain.ChunkMetadata{
			DocumentID:  payload[FieldDocumentID].GetStringValue(),
			Title:       payload[fieldTitle].GetStringValue(),
			SourceTypes: stringList(payload[FieldSourceTypes]),
			SectionPath: stringList(payload[fieldSectionPath]),
			OrderStart:  int(payload[fieldOrderStart].GetIntegerValue()),
			OrderEnd:    int(payload[fieldOrderEnd].GetIntegerValue()),
			TokenCount:  int(payload[fieldTokenCount].GetIntegerValue()),
		},
	}
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(n)}}
}

func listValue(items []string) *pb.Value {
	values := make([]*pb.Value, len(items))
	for i, s := range items {
		values[i] = stringValue(s)
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

func stringList(v *pb.Value) []string {
	list := v.GetListValue()
	if list == nil || len(list.GetValues()) == 0 {
		return nil
	}
	out := make([]string, 0, len(list.GetValues()))
	for _, item := range list.GetValues() {
		out = append(out, item.GetStringValue())
	}
	return out
}
