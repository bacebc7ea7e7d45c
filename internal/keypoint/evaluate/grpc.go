package evaluate

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/keypoint.report/internal/keypoint/dataset"
	"github.com/banshee-data/keypoint.report/internal/monitoring"
)

// The predictor service carries google.protobuf.Struct messages so a model
// server in any language can implement it without generated stubs.
//
// Request fields: shape_id (string), category (string) and coord (flat list
// of x, y, z numbers). Response fields: scores (list of numbers, one per
// point).
const (
	predictorService = "keypoint.v1.Predictor"
	predictMethod    = "/" + predictorService + "/Predict"
)

// Point clouds of a few hundred thousand points exceed the 4 MB default.
const maxMsgSize = 64 * 1024 * 1024 // 64 MB

// GRPCPredictor is a Predictor backed by a remote model server.
type GRPCPredictor struct {
	conn *grpc.ClientConn
}

// DialPredictor connects to a predictor service at addr. Without options
// the connection is plaintext.
func DialPredictor(addr string, opts ...grpc.DialOption) (*GRPCPredictor, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsgSize),
			grpc.MaxCallSendMsgSize(maxMsgSize),
		),
	}
	conn, err := grpc.NewClient(addr, append(dialOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("dial predictor %s: %w", addr, err)
	}
	return &GRPCPredictor{conn: conn}, nil
}

// Predict sends the record to the model server.
func (p *GRPCPredictor) Predict(ctx context.Context, id dataset.ShapeID, rec *dataset.Record) ([]float32, error) {
	coord := make([]*structpb.Value, 0, 3*rec.Len())
	for _, pt := range rec.Coord {
		for _, v := range pt {
			coord = append(coord, structpb.NewNumberValue(float64(v)))
		}
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"shape_id": structpb.NewStringValue(string(id)),
		"category": structpb.NewStringValue(rec.Category),
		"coord":    structpb.NewListValue(&structpb.ListValue{Values: coord}),
	}}

	resp := new(structpb.Struct)
	if err := p.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNoPrediction, id)
		}
		return nil, fmt.Errorf("predict %s: %w", id, err)
	}

	values := resp.GetFields()["scores"].GetListValue().GetValues()
	if len(values) != rec.Len() {
		return nil, fmt.Errorf("shape %s: %d scores for %d points", id, len(values), rec.Len())
	}
	scores := make([]float32, len(values))
	for i, v := range values {
		scores[i] = float32(v.GetNumberValue())
	}
	return scores, nil
}

// Close releases the connection.
func (p *GRPCPredictor) Close() error {
	return p.conn.Close()
}

// NewPredictorServer returns a gRPC server exposing p.
func NewPredictorServer(p Predictor) *grpc.Server {
	s := grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	RegisterPredictorServer(s, p)
	return s
}

// RegisterPredictorServer registers p on s.
func RegisterPredictorServer(s grpc.ServiceRegistrar, p Predictor) {
	s.RegisterService(&predictorServiceDesc, p)
}

var predictorServiceDesc = grpc.ServiceDesc{
	ServiceName: predictorService,
	HandlerType: (*Predictor)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Predict", Handler: predictHandler},
	},
	Metadata: "keypoint/v1/predictor",
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(structpb.Struct)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return servePredict(ctx, srv.(Predictor), req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return servePredict(ctx, srv.(Predictor), req.(*structpb.Struct))
	}
	return interceptor(ctx, req, info, handler)
}

func servePredict(ctx context.Context, p Predictor, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := dataset.ShapeID(fields["shape_id"].GetStringValue())
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "shape_id is required")
	}
	flat := fields["coord"].GetListValue().GetValues()
	if len(flat)%3 != 0 {
		return nil, status.Errorf(codes.InvalidArgument, "coord has %d values, not a multiple of 3", len(flat))
	}
	rec := &dataset.Record{
		Coord:    make([][3]float32, len(flat)/3),
		Category: fields["category"].GetStringValue(),
	}
	for i, v := range flat {
		rec.Coord[i/3][i%3] = float32(v.GetNumberValue())
	}

	scores, err := p.Predict(ctx, id, rec)
	switch {
	case errors.Is(err, ErrNoPrediction):
		return nil, status.Error(codes.NotFound, err.Error())
	case err != nil:
		monitoring.Logf("Predict %s failed: %v", id, err)
		return nil, status.Error(codes.Internal, err.Error())
	}
	monitoring.Debugf("Predicted %s: %d points", id, len(scores))

	values := make([]*structpb.Value, len(scores))
	for i, s := range scores {
		values[i] = structpb.NewNumberValue(float64(s))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"scores": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}
