// Package qdrantstore keeps each domain in its own qdrant collection over
// the gRPC API.
package qdrantstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"campusrag/internal/domain"
)

// Client is a gRPC connection shared by the collections of every domain.
type Client struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
}

// Dial connects to qdrant at host:port. A non-empty apiKey is sent with
// every call.
func Dial(host string, port int, apiKey string) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if apiKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, callOpts ...grpc.CallOption) error {
			ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
			return invoker(ctx, method, req, reply, cc, callOpts...)
		}))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Client{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
	}, nil
}

// EnsureCollection creates the cosine collection for a domain if missing.
func (c *Client) EnsureCollection(ctx context.Context, name string, dimension int) error {
	resp, err := c.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return classify("collection exists "+name, err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(dimension),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return classify("create collection "+name, err)
	}
	return nil
}

// Store returns the chunk store of domain d kept in collection.
func (c *Client) Store(d domain.Domain, collection string, dimension int) *Store {
	return &Store{client: c, domain: d, collection: collection, dimension: dimension}
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// Store is one domain collection. Chunk ids are assigned from the exact
// point count, so one process must own all writes to a collection.
type Store struct {
	client     *Client
	domain     domain.Domain
	collection string
	dimension  int

	writeMu sync.Mutex
}

func (s *Store) Domain() domain.Domain { return s.domain }

func (s *Store) Dimension() int { return s.dimension }

func (s *Store) Upsert(ctx context.Context, chunk domain.Chunk) (domain.Chunk, error) {
	if err := chunk.Validate(s.dimension); err != nil {
		return domain.Chunk{}, err
	}
	if chunk.Metadata == nil {
		chunk.Metadata = domain.Metadata{}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev, err := s.get(ctx, chunk.Key(), false)
	switch {
	case err == nil:
		chunk.ID = prev.ID
		chunk.CreatedAt = prev.CreatedAt
	case errors.Is(err, domain.ErrNotFound):
		n, err := s.Count(ctx)
		if err != nil {
			return domain.Chunk{}, err
		}
		chunk.ID = int64(n) + 1
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = time.Now().UTC()
		}
	default:
		return domain.Chunk{}, err
	}

	wait := true
	_, err = s.client.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      pointID(s.domain, chunk.Key()),
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: chunk.Embedding}}},
			Payload: toPayload(chunk),
		}},
	})
	if err != nil {
		return domain.Chunk{}, classify("upsert "+chunk.Key().String(), err)
	}
	return chunk, nil
}

func (s *Store) Get(ctx context.Context, key domain.ChunkKey) (domain.Chunk, error) {
	return s.get(ctx, key, true)
}

func (s *Store) get(ctx context.Context, key domain.ChunkKey, withVector bool) (domain.Chunk, error) {
	resp, err := s.client.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(s.domain, key)},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVector}},
	})
	if err != nil {
		return domain.Chunk{}, classify("get "+key.String(), err)
	}
	if len(resp.GetResult()) == 0 {
		return domain.Chunk{}, fmt.Errorf("%w: %s chunk %s", domain.ErrNotFound, s.domain, key)
	}
	pt := resp.GetResult()[0]
	c := fromPayload(pt.GetPayload())
	if withVector {
		c.Embedding = pt.GetVectors().GetVector().GetData()
	}
	return c, nil
}

func (s *Store) QueryNearest(ctx context.Context, query []float32, k int, filter *domain.Filter) ([]domain.SearchResult, error) {
	if k < 1 {
		return nil, domain.ErrInvalidMatchCount
	}
	if len(query) != s.dimension {
		return nil, &domain.DimensionError{Domain: s.domain, Expected: s.dimension, Got: len(query)}
	}
	f, err := buildFilter(filter)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         query,
		Limit:          uint64(k),
		Filter:         f,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, classify("search "+s.collection, err)
	}

	results := make([]domain.SearchResult, len(resp.GetResult()))
	for i, pt := range resp.GetResult() {
		results[i] = domain.SearchResult{
			Domain:     s.domain,
			Chunk:      fromPayload(pt.GetPayload()),
			Similarity: float64(pt.GetScore()),
		}
	}
	domain.SortResults(results)
	return results, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.client.points.Count(ctx, &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, classify("count "+s.collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

// Close is a no-op; the connection is closed by Client.Close.
func (s *Store) Close() error {
	return nil
}

// classify maps gRPC status codes onto the domain taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s: %v", domain.ErrStoreUnavailable, op, err)
	case codes.DeadlineExceeded:
		return fmt.Errorf("%s: %w", op, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s: %w", op, err)
}
