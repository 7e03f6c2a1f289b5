package grpcserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/mitchellh/mapstructure"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/park285/deck-orchestrator-go/internal/apperr"
	"github.com/park285/deck-orchestrator-go/internal/handler"
	"github.com/park285/deck-orchestrator-go/internal/httperror"
	"github.com/park285/deck-orchestrator-go/internal/llm"
)

// DeckServiceName 은 등록되는 gRPC 서비스 이름이다.
const DeckServiceName = "deck.v1.DeckService"

// 메서드 전체 경로
const (
	MethodGenerate   = "/" + DeckServiceName + "/Generate"
	MethodModify     = "/" + DeckServiceName + "/Modify"
	MethodQueueStats = "/" + DeckServiceName + "/QueueStats"
)

// DeckServiceServer: 덱 생성 gRPC 서비스 인터페이스입니다.
// 요청/응답 본문은 HTTP API 와 같은 JSON 형태를 google.protobuf.Struct 로 싣습니다.
type DeckServiceServer interface {
	Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	Modify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	QueueStats(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

type deckCall func(srv DeckServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func deckMethod(name string, call deckCall) grpc.MethodDesc {
	fullMethod := "/" + DeckServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server, _ := srv.(DeckServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var deckServiceDesc = grpc.ServiceDesc{
	ServiceName: DeckServiceName,
	HandlerType: (*DeckServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		deckMethod("Generate", DeckServiceServer.Generate),
		deckMethod("Modify", DeckServiceServer.Modify),
		deckMethod("QueueStats", DeckServiceServer.QueueStats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "deck/v1/deck.proto",
}

// RegisterDeckServiceServer: 서비스를 gRPC 서버에 등록합니다.
func RegisterDeckServiceServer(registrar grpc.ServiceRegistrar, srv DeckServiceServer) {
	registrar.RegisterService(&deckServiceDesc, srv)
}

// DeckServiceClient: 덱 서비스 클라이언트입니다.
type DeckServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewDeckServiceClient: 연결 위에 클라이언트를 만듭니다.
func NewDeckServiceClient(cc grpc.ClientConnInterface) *DeckServiceClient {
	return &DeckServiceClient{cc: cc}
}

// Generate: 신규 덱 생성을 호출합니다.
func (c *DeckServiceClient) Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodGenerate, in, opts...)
}

// Modify: 기존 문서 수정을 호출합니다.
func (c *DeckServiceClient) Modify(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodModify, in, opts...)
}

// QueueStats: 큐 상태를 조회합니다.
func (c *DeckServiceClient) QueueStats(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, MethodQueueStats, &structpb.Struct{}, opts...)
}

func (c *DeckServiceClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DeckService: 요청 큐 위의 gRPC 서비스 구현입니다.
type DeckService struct {
	queue    handler.Submitter
	logger   *slog.Logger
	validate *validator.Validate
}

var _ DeckServiceServer = (*DeckService)(nil)

// NewDeckService: 덱 서비스를 생성합니다. 검증 규칙은 HTTP 바인딩 태그를 그대로 씁니다.
func NewDeckService(q handler.Submitter, logger *slog.Logger) *DeckService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.SetTagName("binding")
	return &DeckService{queue: q, logger: logger, validate: validate}
}

// Generate: 신규 덱을 생성합니다.
func (s *DeckService) Generate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body handler.GenerateRequest
	return s.submit(ctx, in, &body)
}

// Modify: 기존 문서를 수정합니다.
func (s *DeckService) Modify(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var body handler.ModifyRequest
	return s.submit(ctx, in, &body)
}

// QueueStats: 큐 상태를 반환합니다.
func (s *DeckService) QueueStats(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.queue.Stats())
}

type requestBody interface {
	ToRequest() (llm.Request, error)
}

func (s *DeckService) submit(ctx context.Context, in *structpb.Struct, body requestBody) (*structpb.Struct, error) {
	if err := decodeStruct(in, body); err != nil {
		return nil, httperror.NewValidationError(err)
	}
	if err := s.validate.Struct(body); err != nil {
		return nil, httperror.NewValidationError(err)
	}
	req, err := body.ToRequest()
	if err != nil {
		return nil, err
	}
	if req.CorrelationID == "" {
		req.CorrelationID = RequestIDFromContext(ctx)
	}

	doc, err := s.queue.Submit(ctx, req)
	if err != nil {
		kind, _ := apperr.KindOf(err)
		s.logger.Warn("grpc_deck_request_failed",
			"request_id", RequestIDFromContext(ctx),
			"action", req.ActionName(),
			"correlation_id", req.CorrelationID,
			"kind", kind,
			"err", err,
		)
		return nil, err
	}
	return toStruct(doc)
}

var bytesType = reflect.TypeOf([]byte(nil))

// base64DecodeHook: 문자열을 []byte 필드로 디코딩할 때 base64 로 해석합니다.
func base64DecodeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != bytesType {
		return data, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(data.(string))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return decoded, nil
}

func decodeStruct(in *structpb.Struct, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       base64DecodeHook,
	})
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(in.AsMap()); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// toStruct: JSON 태그 기준으로 값을 Struct 로 바꿉니다.
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("build struct: %w", err)
	}
	return out, nil
}
