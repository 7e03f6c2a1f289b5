package grpcserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/deck"
	"github.com/park285/deck-orchestrator-go/internal/llm"
	"github.com/park285/deck-orchestrator-go/internal/queue"
)

type fakeQueue struct {
	doc  deck.Document
	err  error
	last llm.Request
}

func (f *fakeQueue) Submit(_ context.Context, req llm.Request) (deck.Document, error) {
	f.last = req
	if f.err != nil {
		return deck.Document{}, f.err
	}
	return f.doc, nil
}

func (f *fakeQueue) Stats() queue.Stats {
	return queue.Stats{Depth: 1, Enqueued: 7}
}

type testServer struct {
	client    *DeckServiceClient
	health    healthpb.HealthClient
	readiness *Readiness
	ready     error
}

func startTestServer(t *testing.T, q *fakeQueue) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ts := &testServer{}
	ts.readiness = NewReadiness(func(context.Context) error { return ts.ready }, time.Hour, logger)

	grpcServer := grpc.NewServer(serverOptions(logger, Options{APIKey: "test-key", RequireKey: true})...)
	RegisterDeckServiceServer(grpcServer, NewDeckService(q, logger))
	ts.readiness.Register(grpcServer)

	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("failed to create grpc client: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.Stop()
		_ = lis.Close()
	})

	ts.client = NewDeckServiceClient(conn)
	ts.health = healthpb.NewHealthClient(conn)
	return ts
}

func authed() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "test-key")
}

func mustStruct(t *testing.T, fields map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(fields)
	if err != nil {
		t.Fatalf("struct: %v", err)
	}
	return s
}

func TestDeckServiceGenerate(t *testing.T) {
	q := &fakeQueue{doc: deck.Document{
		Shape:  deck.ShapePresentation,
		Title:  "Roadmap",
		Slides: []deck.Slide{{ID: "s1", Blocks: []deck.Block{{Type: "Heading"}}}},
	}}
	ts := startTestServer(t, q)

	out, err := ts.client.Generate(authed(), mustStruct(t, map[string]any{
		"messages":        []any{map[string]any{"role": "user", "content": "Roadmap deck"}},
		"correlation_id":  "corr-9",
		"file_attachment": map[string]any{"mime_type": "text/plain", "data": "aGVsbG8="},
	}))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out.Fields["title"].GetStringValue() != "Roadmap" {
		t.Fatalf("unexpected response: %v", out)
	}
	if q.last.CorrelationID != "corr-9" || q.last.Messages[0].Content != "Roadmap deck" {
		t.Fatalf("unexpected request: %+v", q.last)
	}
	if q.last.Attachment == nil || string(q.last.Attachment.Data) != "hello" {
		t.Fatalf("expected base64 attachment decoding, got %+v", q.last.Attachment)
	}
}

func TestDeckServiceModify(t *testing.T) {
	q := &fakeQueue{doc: deck.NewSingleSlide(deck.Slide{ID: "s2"})}
	ts := startTestServer(t, q)

	_, err := ts.client.Modify(authed(), mustStruct(t, map[string]any{
		"prompt":            "shorter title",
		"existing_document": map[string]any{"id": "s2", "blocks": []any{}},
	}))
	if err != nil {
		t.Fatalf("Modify failed: %v", err)
	}
	if !q.last.Modify || !strings.Contains(q.last.ExistingDocument, `"s2"`) {
		t.Fatalf("expected modify request with document, got %+v", q.last)
	}

	_, err = ts.client.Modify(authed(), mustStruct(t, map[string]any{"prompt": "shorter"}))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument without document, got %v", err)
	}
}

func TestDeckServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		body map[string]any
		err  error
		want codes.Code
	}{
		{"missing api key", context.Background(), map[string]any{"prompt": "x"}, nil, codes.Unauthenticated},
		{"bad role", authed(), map[string]any{"messages": []any{map[string]any{"role": "robot", "content": "x"}}}, nil, codes.InvalidArgument},
		{"empty request", authed(), map[string]any{}, nil, codes.InvalidArgument},
		{"rate limit exhausted", authed(), map[string]any{"prompt": "x"}, apperr.RateLimitExceeded(3, nil), codes.ResourceExhausted},
		{"timeout", authed(), map[string]any{"prompt": "x"}, apperr.Timeout(time.Second, context.DeadlineExceeded), codes.DeadlineExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := startTestServer(t, &fakeQueue{err: tt.err})
			_, err := ts.client.Generate(tt.ctx, mustStruct(t, tt.body))
			if status.Code(err) != tt.want {
				t.Fatalf("expected %s, got %v", tt.want, err)
			}
		})
	}
}

func TestDeckServiceQueueStats(t *testing.T) {
	ts := startTestServer(t, &fakeQueue{})
	out, err := ts.client.QueueStats(authed())
	if err != nil {
		t.Fatalf("QueueStats failed: %v", err)
	}
	if out.Fields["enqueued"].GetNumberValue() != 7 {
		t.Fatalf("unexpected stats: %v", out)
	}
}

func TestReadinessReflectsCheck(t *testing.T) {
	ts := startTestServer(t, &fakeQueue{})
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		// 헬스 체크는 API 키 없이 호출
		resp, err := ts.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: DeckServiceName})
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before first refresh, got %s", got)
	}
	if !ts.readiness.Refresh(context.Background()) {
		t.Fatalf("expected ready")
	}
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", got)
	}

	ts.ready = errors.New("queue closed")
	ts.readiness.Refresh(context.Background())
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after failure, got %s", got)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{apperr.UpstreamUnavailable(3, nil), codes.Unavailable},
		{apperr.Unparseable("x", time.Second, nil), codes.Unavailable},
		{apperr.StructuralInvalid("bad", nil), codes.FailedPrecondition},
		{apperr.Fatal(400, "bad request", nil), codes.InvalidArgument},
		{apperr.Fatal(0, "boom", nil), codes.Internal},
		{context.Canceled, codes.Canceled},
		{errors.New("unexpected"), codes.Internal},
	}
	for _, tt := range tests {
		if got := status.Code(statusFromError(tt.err)); got != tt.want {
			t.Errorf("statusFromError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
