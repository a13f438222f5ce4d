// Package vectorstore wraps the Qdrant similarity index. Retrieval treats
// it as the similarity provider: embed a query elsewhere, search here.
package vectorstore

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Collection string `json:"collection"`
}

// Range restricts a numeric payload field to [Min, Max].
type Range struct {
	Min float64
	Max float64
}

// Filter narrows a search. Zero-valued fields are ignored.
type Filter struct {
	ConversationID string   // keyword match on the item's conversation scope
	ExcludeIDs     []string // points never returned (already-selected items)
	Valence        *Range   // emotional valence window
	Arousal        *Range   // emotional arousal window
}

// Hit is a single similarity search result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Client wraps gRPC connections to Qdrant's collections and points services.
type Client struct {
	conn        *grpc.ClientConn
	collections pb.CollectionsClient
	points      pb.PointsClient
	collection  string
}

// NewClient dials the Qdrant gRPC endpoint and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect %s: %w", addr, err)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = "memories"
	}
	return &Client{
		conn:        conn,
		collections: pb.NewCollectionsClient(conn),
		points:      pb.NewPointsClient(conn),
		collection:  collection,
	}, nil
}

// EnsureCollection creates the memory collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, dimension uint64) error {
	_, err := c.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: c.collection})
	if err == nil {
		return nil
	}
	_, err = c.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: c.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     dimension,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", c.collection, err)
	}
	return nil
}

// Upsert inserts or updates a single point. Payload values may be strings,
// float64s, int64s or bools; other types are stored as their string form.
func (c *Client) Upsert(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	payloadMap := make(map[string]*pb.Value, len(payload))
	for k, v := range payload {
		payloadMap[k] = toValue(v)
	}
	_, err := c.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: c.collection,
		Points: []*pb.PointStruct{
			{
				Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}},
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vector}}},
				Payload: payloadMap,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("upsert %s: %w", c.collection, err)
	}
	return nil
}

// Search performs a filtered nearest-neighbor search and returns the top-K
// results.
func (c *Client) Search(ctx context.Context, vector []float32, limit uint64, filter *Filter) ([]Hit, error) {
	resp, err := c.points.Search(ctx, &pb.SearchPoints{
		CollectionName: c.collection,
		Vector:         vector,
		Limit:          limit,
		Filter:         buildFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", c.collection, err)
	}

	hits := make([]Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		payload := make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			payload[k] = fromValue(v)
		}
		hits = append(hits, Hit{
			ID:      r.Id.GetUuid(),
			Score:   r.Score,
			Payload: payload,
		})
	}
	return hits, nil
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func buildFilter(f *Filter) *pb.Filter {
	if f == nil {
		return nil
	}
	var must, mustNot []*pb.Condition

	if f.ConversationID != "" {
		must = append(must, &pb.Condition{
			ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
				Key:   "conversation_id",
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: f.ConversationID}},
			}},
		})
	}
	must = append(must, rangeCondition("valence", f.Valence)...)
	must = append(must, rangeCondition("arousal", f.Arousal)...)

	if len(f.ExcludeIDs) > 0 {
		ids := make([]*pb.PointId, len(f.ExcludeIDs))
		for i, id := range f.ExcludeIDs {
			ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
		}
		mustNot = append(mustNot, &pb.Condition{
			ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{HasId: ids}},
		})
	}

	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &pb.Filter{Must: must, MustNot: mustNot}
}

func rangeCondition(key string, r *Range) []*pb.Condition {
	if r == nil {
		return nil
	}
	gte, lte := r.Min, r.Max
	return []*pb.Condition{{
		ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   key,
			Range: &pb.Range{Gte: &gte, Lte: &lte},
		}},
	}}
}

func toValue(v any) *pb.Value {
	switch t := v.(type) {
	case string:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
	case int:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
	case int64:
		return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
	default:
		return &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprintf("%v", t)}}
	}
}

func fromValue(v *pb.Value) any {
	switch t := v.Kind.(type) {
	case *pb.Value_StringValue:
		return t.StringValue
	case *pb.Value_DoubleValue:
		return t.DoubleValue
	case *pb.Value_IntegerValue:
		return t.IntegerValue
	case *pb.Value_BoolValue:
		return t.BoolValue
	default:
		return nil
	}
}
