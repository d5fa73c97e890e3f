package detection

import (
	"context"
	"fmt"
	"image"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AnalyzeMethod is the full gRPC method name of the emotion service
const AnalyzeMethod = "/moodcam.emotion.v1.EmotionService/Analyze"

// GRPCEmotionClient calls the emotion service over gRPC. Request and response
// are google.protobuf.Struct documents with the same fields as the HTTP API.
type GRPCEmotionClient struct {
	endpoint string
	conn     *grpc.ClientConn
	timeout  time.Duration
}

// GRPCEmotionClientConfig holds configuration for the gRPC emotion client
type GRPCEmotionClientConfig struct {
	Endpoint    string
	Timeout     time.Duration
	DialOptions []grpc.DialOption // Appended after the defaults
}

// NewGRPCEmotionClient creates a client. The connection is established lazily.
func NewGRPCEmotionClient(config GRPCEmotionClientConfig) (*GRPCEmotionClient, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}
	opts = append(opts, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create emotion service client: %w", err)
	}

	log.Printf("[GRPCEmotionClient] Using %s", config.Endpoint)
	return &GRPCEmotionClient{
		endpoint: config.Endpoint,
		conn:     conn,
		timeout:  timeout,
	}, nil
}

func (c *GRPCEmotionClient) Name() string {
	return "grpc"
}

// Classify invokes Analyze and returns the response "results" field
func (c *GRPCEmotionClient) Classify(ctx context.Context, img image.Image, strict bool) (any, error) {
	uri, err := encodeDataURI(img)
	if err != nil {
		return nil, err
	}

	req, err := structpb.NewStruct(map[string]any{
		"img":               uri,
		"actions":           []any{"emotion"},
		"enforce_detection": strict,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, AnalyzeMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNoSubject
		}
		return nil, fmt.Errorf("analyze failed: %w", err)
	}

	doc := resp.AsMap()
	if results, ok := doc["results"]; ok {
		return results, nil
	}
	return doc, nil
}

func (c *GRPCEmotionClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

var _ Classifier = (*GRPCEmotionClient)(nil)
