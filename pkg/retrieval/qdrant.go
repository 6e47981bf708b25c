package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
)

// QdrantBackend is the remote vector backend over qdrant's gRPC API.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantBackend connects to qdrant at host:port.
func NewQdrantBackend(host string, port int, collection string) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
		GrpcOptions: []grpc.DialOption{
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:    30 * time.Second,
				Timeout: 10 * time.Second,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client: %w", err)
	}
	return &QdrantBackend{client: client, collection: collection}, nil
}

func (b *QdrantBackend) ensureCollection(ctx context.Context, dim int) error {
	exists, err := b.client.CollectionExists(ctx, b.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if exists {
		return nil
	}
	err = b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: b.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	return nil
}

// Index upserts documents with their embeddings.
func (b *QdrantBackend) Index(ctx context.Context, docs []Document, vectors [][]float32) error {
	if len(docs) != len(vectors) {
		return fmt.Errorf("documents and vectors length mismatch: %d vs %d", len(docs), len(vectors))
	}
	if len(docs) == 0 {
		return nil
	}
	if err := b.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.PropertyID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: documentPayload(doc),
		})
	}
	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: b.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Search queries by similarity. Numeric conditions (price, area,
// rooms) are pushed down to the engine; string and feature filters are
// case-insensitive and stay client-side over an over-fetched set.
func (b *QdrantBackend) Search(ctx context.Context, vector []float32, filters Filters, limit int) ([]Document, error) {
	fetch := limit
	if !filters.IsZero() {
		fetch = limit * 4
	}
	req := &qdrant.SearchPoints{
		CollectionName: b.collection,
		Vector:         vector,
		Limit:          uint64(fetch),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter := buildFilter(filters); filter != nil {
		req.Filter = filter
	}

	result, err := b.client.GetPointsClient().Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	out := make([]Document, 0, limit)
	for _, point := range result.Result {
		doc := documentFromPayload(point.Payload)
		if doc.PropertyID == "" || !filters.Matches(doc) {
			continue
		}
		doc.Score = float64(point.Score)
		doc.Source = SourceVector
		out = append(out, doc)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (b *QdrantBackend) Close() error {
	return b.client.Close()
}

func documentPayload(doc Document) map[string]*qdrant.Value {
	features := make([]any, len(doc.Features))
	for i, f := range doc.Features {
		features[i] = f
	}
	fields := map[string]any{
		"property_id":   doc.PropertyID,
		"title":         doc.Title,
		"price":         doc.Price,
		"area":          doc.Area,
		"bedrooms":      int64(doc.Bedrooms),
		"bathrooms":     int64(doc.Bathrooms),
		"district":      doc.District,
		"city":          doc.City,
		"listing_type":  doc.ListingType,
		"property_type": doc.PropertyType,
		"features":      features,
		"description":   doc.Description,
	}
	payload := make(map[string]*qdrant.Value, len(fields))
	for key, value := range fields {
		val, err := qdrant.NewValue(value)
		if err != nil {
			continue
		}
		payload[key] = val
	}
	return payload
}

func documentFromPayload(payload map[string]*qdrant.Value) Document {
	str := func(key string) string { return payload[key].GetStringValue() }
	num := func(key string) float64 {
		if v := payload[key]; v != nil {
			if d := v.GetDoubleValue(); d != 0 {
				return d
			}
			return float64(v.GetIntegerValue())
		}
		return 0
	}

	doc := Document{
		PropertyID:   str("property_id"),
		Title:        str("title"),
		Price:        num("price"),
		Area:         num("area"),
		Bedrooms:     int(num("bedrooms")),
		Bathrooms:    int(num("bathrooms")),
		District:     str("district"),
		City:         str("city"),
		ListingType:  str("listing_type"),
		PropertyType: str("property_type"),
		Description:  str("description"),
	}
	if list := payload["features"].GetListValue(); list != nil {
		for _, v := range list.Values {
			if s := v.GetStringValue(); s != "" {
				doc.Features = append(doc.Features, s)
			}
		}
	}
	return doc
}

// buildFilter pushes the numeric conditions down to the engine.
func buildFilter(f Filters) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.Bedrooms > 0 {
		must = append(must, matchInt("bedrooms", int64(f.Bedrooms)))
	}
	if f.Bathrooms > 0 {
		must = append(must, matchInt("bathrooms", int64(f.Bathrooms)))
	}
	if f.PriceGTE > 0 || f.PriceLTE > 0 {
		must = append(must, rangeCondition("price", f.PriceGTE, f.PriceLTE))
	}
	if f.AreaGTE > 0 || f.AreaLTE > 0 {
		must = append(must, rangeCondition("area", f.AreaGTE, f.AreaLTE))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func matchInt(key string, value int64) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Integer{Integer: value},
				},
			},
		},
	}
}

func rangeCondition(key string, gte, lte float64) *qdrant.Condition {
	r := &qdrant.Range{}
	if gte > 0 {
		r.Gte = &gte
	}
	if lte > 0 {
		r.Lte = &lte
	}
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Range: r,
			},
		},
	}
}
