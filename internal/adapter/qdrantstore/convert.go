package qdrantstore

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"

	"campusrag/internal/domain"
)

// Payload keys. Chunk metadata sits under payloadMetadata so filters address
// it as "metadata.<key>".
const (
	payloadID          = "id"
	payloadURL         = "url"
	payloadChunkNumber = "chunk_number"
	payloadTitle       = "title"
	payloadSummary     = "summary"
	payloadContent     = "content"
	payloadMetadata    = "metadata"
	payloadCreatedAt   = "created_at"
)

var pointNamespace = uuid.MustParse("6f2b8d1e-4c1a-5b7e-9a3d-2e8f0c6b4a10")

// pointID derives a stable point id from the chunk key so that re-ingesting
// a chunk overwrites its point.
func pointID(d domain.Domain, key domain.ChunkKey) *pb.PointId {
	id := uuid.NewSHA1(pointNamespace, []byte(string(d)+"\x00"+key.String()))
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id.String()}}
}

func toPayload(c domain.Chunk) map[string]*pb.Value {
	return map[string]*pb.Value{
		payloadID:          toValue(c.ID),
		payloadURL:         toValue(c.URL),
		payloadChunkNumber: toValue(c.ChunkNumber),
		payloadTitle:       toValue(c.Title),
		payloadSummary:     toValue(c.Summary),
		payloadContent:     toValue(c.Content),
		payloadMetadata:    toValue(map[string]any(c.Metadata)),
		payloadCreatedAt:   toValue(c.CreatedAt.UTC().Format(time.RFC3339Nano)),
	}
}

func fromPayload(p map[string]*pb.Value) domain.Chunk {
	c := domain.Chunk{
		ID:          int64(p[payloadID].GetDoubleValue()),
		URL:         p[payloadURL].GetStringValue(),
		ChunkNumber: int(p[payloadChunkNumber].GetDoubleValue()),
		Title:       p[payloadTitle].GetStringValue(),
		Summary:     p[payloadSummary].GetStringValue(),
		Content:     p[payloadContent].GetStringValue(),
		Metadata:    domain.Metadata{},
	}
	if m, ok := fromValue(p[payloadMetadata]).(map[string]any); ok {
		c.Metadata = m
	}
	if t, err := time.Parse(time.RFC3339Nano, p[payloadCreatedAt].GetStringValue()); err == nil {
		c.CreatedAt = t
	}
	return c
}

// toValue converts a JSON-like value. Every number is stored as a double so
// that numeric filters behave the same whether the value arrived as int or
// float.
func toValue(v any) *pb.Value {
	switch x := v.(type) {
	case nil:
		return &pb.Value{Kind: &pb.Value_NullValue{NullValue: pb.NullValue_NULL_VALUE}}
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: x}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: x}}
	case int:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(x)}}
	case int32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(x)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(x)}}
	case float32:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: float64(x)}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: x}}
	case map[string]any:
		fields := make(map[string]*pb.Value, len(x))
		for k, fv := range x {
			fields[k] = toValue(fv)
		}
		return &pb.Value{Kind: &pb.Value_StructValue{StructValue: &pb.Struct{Fields: fields}}}
	case domain.Metadata:
		return toValue(map[string]any(x))
	case []any:
		values := make([]*pb.Value, len(x))
		for i, item := range x {
			values[i] = toValue(item)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	case []string:
		values := make([]*pb.Value, len(x))
		for i, item := range x {
			values[i] = toValue(item)
		}
		return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(x)}}
	}
}

func fromValue(v *pb.Value) any {
	if v == nil {
		return nil
	}
	switch k := v.Kind.(type) {
	case *pb.Value_StringValue:
		return k.StringValue
	case *pb.Value_BoolValue:
		return k.BoolValue
	case *pb.Value_DoubleValue:
		return k.DoubleValue
	case *pb.Value_IntegerValue:
		return float64(k.IntegerValue)
	case *pb.Value_StructValue:
		out := make(map[string]any, len(k.StructValue.GetFields()))
		for key, fv := range k.StructValue.GetFields() {
			out[key] = fromValue(fv)
		}
		return out
	case *pb.Value_ListValue:
		out := make([]any, len(k.ListValue.GetValues()))
		for i, item := range k.ListValue.GetValues() {
			out[i] = fromValue(item)
		}
		return out
	default:
		return nil
	}
}

// buildFilter translates a metadata filter into qdrant conditions. Numeric
// equality is expressed as a closed range because numbers are stored as
// doubles.
func buildFilter(f *domain.Filter) (*pb.Filter, error) {
	if f.IsEmpty() {
		return nil, nil
	}

	keys := make([]string, 0, len(f.Equals))
	for k := range f.Equals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var must []*pb.Condition
	for _, k := range keys {
		field := payloadMetadata + "." + k
		switch v := f.Equals[k].(type) {
		case string:
			must = append(must, fieldCondition(&pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: v}},
			}))
		case bool:
			must = append(must, fieldCondition(&pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: v}},
			}))
		default:
			n, ok := domain.Metadata{k: v}.Number(k)
			if !ok || math.IsNaN(n) {
				return nil, fmt.Errorf("unsupported filter value for %q: %v", k, v)
			}
			must = append(must, fieldCondition(&pb.FieldCondition{
				Key:   field,
				Range: &pb.Range{Gte: &n, Lte: &n},
			}))
		}
	}

	for _, r := range f.Ranges {
		rng := &pb.Range{}
		if r.Min != nil {
			lo := *r.Min
			rng.Gte = &lo
		}
		if r.Max != nil {
			hi := *r.Max
			rng.Lte = &hi
		}
		must = append(must, fieldCondition(&pb.FieldCondition{
			Key:   payloadMetadata + "." + r.Key,
			Range: rng,
		}))
	}

	return &pb.Filter{Must: must}, nil
}

func fieldCondition(fc *pb.FieldCondition) *pb.Condition {
	return &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: fc}}
}
