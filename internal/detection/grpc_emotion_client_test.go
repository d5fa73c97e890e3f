package detection

import (
	"context"
	"errors"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type analyzeFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// startEmotionServer serves AnalyzeMethod over an in-memory listener
func startEmotionServer(t *testing.T, fn analyzeFunc) *GRPCEmotionClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "moodcam.emotion.v1.EmotionService",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Analyze",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(ctx, in)
			},
		}},
	}, struct{}{})

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGRPCEmotionClient(GRPCEmotionClientConfig{
		Endpoint: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	if err != nil {
		t.Fatalf("NewGRPCEmotionClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGRPCEmotionClientClassify(t *testing.T) {
	var strict bool
	client := startEmotionServer(t, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		strict = req.GetFields()["enforce_detection"].GetBoolValue()
		return structpb.NewStruct(map[string]any{
			"results": []any{
				map[string]any{
					"dominant_emotion": "neutral",
					"emotion":          map[string]any{"neutral": 0.7},
					"region":           map[string]any{"x": 5, "y": 6, "w": 7, "h": 8},
				},
			},
		})
	})

	doc, err := client.Classify(context.Background(), testImage(), true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !strict {
		t.Error("Expected enforce_detection to reach the server")
	}

	list, ok := doc.([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("Expected a one-element list, got %#v", doc)
	}
	region := list[0].(map[string]any)["region"].(map[string]any)
	if region["w"] != float64(7) {
		t.Errorf("Expected w=7, got %#v", region["w"])
	}
}

func TestGRPCEmotionClientNotFoundIsNoSubject(t *testing.T) {
	client := startEmotionServer(t, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.NotFound, "no face")
	})

	_, err := client.Classify(context.Background(), testImage(), true)
	if !errors.Is(err, ErrNoSubject) {
		t.Errorf("Expected ErrNoSubject, got %v", err)
	}
}

func TestGRPCEmotionClientInternalError(t *testing.T) {
	client := startEmotionServer(t, func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Internal, "boom")
	})

	_, err := client.Classify(context.Background(), testImage(), true)
	if err == nil || errors.Is(err, ErrNoSubject) {
		t.Errorf("Expected a plain error, got %v", err)
	}
}
