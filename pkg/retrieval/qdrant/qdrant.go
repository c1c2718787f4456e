// Package qdrant searches persona collections on Qdrant directly.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/jllopis/kairos-memory/pkg/backend"
	"github.com/jllopis/kairos-memory/pkg/core"
	"github.com/jllopis/kairos-memory/pkg/errors"
	"github.com/jllopis/kairos-memory/pkg/retrieval"
	"github.com/jllopis/kairos-memory/pkg/telemetry"
)

// Retriever implements backend.Retriever over a Qdrant gRPC endpoint.
type Retriever struct {
	points   pb.PointsClient
	health   pb.QdrantClient
	conn     *grpc.ClientConn
	embedder retrieval.Embedder
	limit    int
	tracer   trace.Tracer
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLimit sets the number of documents returned when a query does not ask.
func WithLimit(n int) Option {
	return func(r *Retriever) {
		if n > 0 {
			r.limit = n
		}
	}
}

// New dials addr and returns a retriever embedding queries with embedder.
func New(addr string, embedder retrieval.Embedder, opts ...Option) (*Retriever, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, errors.New(errors.CodeBackend, "failed to create qdrant client", err).
			WithContext("addr", addr)
	}
	r := NewWithClient(pb.NewPointsClient(conn), embedder, opts...)
	r.health = pb.NewQdrantClient(conn)
	r.conn = conn
	return r, nil
}

// NewWithClient builds a retriever over an existing points client.
func NewWithClient(points pb.PointsClient, embedder retrieval.Embedder, opts ...Option) *Retriever {
	r := &Retriever{
		points:   points,
		embedder: embedder,
		limit:    retrieval.DefaultLimit,
		tracer:   telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Close releases the gRPC connection when the retriever owns one.
func (r *Retriever) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// RelevantDocs embeds q.Query and searches q.CollectionName. Sources, when
// present, restrict hits to points whose source payload matches one of them.
func (r *Retriever) RelevantDocs(ctx context.Context, q backend.DocsQuery) ([]backend.Document, error) {
	ctx, span := r.tracer.Start(ctx, "qdrant.search", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	limit := r.limit
	if q.NumDocs != nil && *q.NumDocs > 0 {
		limit = *q.NumDocs
	}

	vector, err := r.embedder.Embed(ctx, q.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	req := &pb.SearchPoints{
		CollectionName: q.CollectionName,
		Vector:         vector,
		Limit:          uint64(limit),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if len(q.Sources) > 0 {
		req.Filter = &pb.Filter{Must: []*pb.Condition{pb.NewMatchKeywords(retrieval.SourceField, q.Sources...)}}
	}

	resp, err := r.points.Search(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.New(errors.CodeBackend, "qdrant search failed", err).
			WithContext("collection", q.CollectionName)
	}

	docs := make([]backend.Document, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		docs = append(docs, toDocument(point))
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrCollection, q.CollectionName),
		attribute.Int(telemetry.AttrDocsCount, len(docs)),
	)
	return docs, nil
}

func toDocument(point *pb.ScoredPoint) backend.Document {
	doc := backend.Document{}
	metadata := make(map[string]any, len(point.GetPayload()))
	for k, v := range point.GetPayload() {
		if k == retrieval.TextField {
			doc.PageContent = v.GetStringValue()
			continue
		}
		metadata[k] = valueToAny(v)
	}
	if len(metadata) > 0 {
		doc.Metadata = metadata
	}
	return doc
}

func valueToAny(v *pb.Value) any {
	switch kind := v.GetKind().(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	case *pb.Value_StructValue:
		out := make(map[string]any, len(kind.StructValue.GetFields()))
		for k, f := range kind.StructValue.GetFields() {
			out[k] = valueToAny(f)
		}
		return out
	case *pb.Value_ListValue:
		out := make([]any, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			out = append(out, valueToAny(item))
		}
		return out
	default:
		return nil
	}
}

// HealthChecker pings Qdrant. Retrievers built without a connection report healthy.
func (r *Retriever) HealthChecker() core.HealthChecker {
	return core.HealthCheckerFunc(func(ctx context.Context) core.HealthResult {
		if r.health == nil {
			return core.HealthResult{Status: core.HealthHealthy, Message: "no connection to check"}
		}
		reply, err := r.health.HealthCheck(ctx, &pb.HealthCheckRequest{})
		if err != nil {
			return core.HealthResult{Status: core.HealthUnhealthy, Error: err}
		}
		return core.HealthResult{Status: core.HealthHealthy, Message: fmt.Sprintf("qdrant %s", reply.GetVersion())}
	})
}
