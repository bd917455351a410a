package ml

import (
	"context"
	"fmt"

	"github.com/forest-guardian/forest-change-detection/internal/dataset"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	classifierServiceName = "forestchange.ClassifierService"
	trainMethod           = "/" + classifierServiceName + "/Train"
	predictMethod         = "/" + classifierServiceName + "/Predict"
)

// DialClassifier connects to a remote classifier service.
func DialClassifier(address string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(64*1024*1024),
			grpc.MaxCallSendMsgSize(64*1024*1024),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to gRPC server: %w", err)
	}
	return conn, nil
}

// RemoteTrainer trains on a classifier service and predicts through it.
type RemoteTrainer struct {
	Conn grpc.ClientConnInterface
	Seed int64
}

func (t *RemoteTrainer) Train(ctx context.Context, set *dataset.SampleSet) (Predictor, error) {
	rows := set.Features()
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty training set", dataset.ErrInsufficientSamples)
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"features":     numberList(flatten(rows)),
		"num_features": structpb.NewNumberValue(float64(len(rows[0]))),
		"labels":       intList(set.Labels()),
		"seed":         structpb.NewNumberValue(float64(t.Seed)),
	}}

	resp := new(structpb.Struct)
	if err := t.Conn.Invoke(ctx, trainMethod, req, resp); err != nil {
		return nil, fmt.Errorf("error calling Train: %w", err)
	}

	modelID := resp.GetFields()["model_id"].GetStringValue()
	if modelID == "" {
		return nil, fmt.Errorf("classifier service returned no model id")
	}
	return &remotePredictor{conn: t.Conn, modelID: modelID}, nil
}

type remotePredictor struct {
	conn    grpc.ClientConnInterface
	modelID string
}

func (p *remotePredictor) PredictBatch(ctx context.Context, rows [][]float64) ([]int, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	req := &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_id":     structpb.NewStringValue(p.modelID),
		"features":     numberList(flatten(rows)),
		"num_features": structpb.NewNumberValue(float64(len(rows[0]))),
	}}

	resp := new(structpb.Struct)
	if err := p.conn.Invoke(ctx, predictMethod, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %v", ErrNotTrained, err)
		}
		return nil, fmt.Errorf("error calling Predict: %w", err)
	}

	labels, err := readNumbers(resp.GetFields()["labels"])
	if err != nil {
		return nil, err
	}
	out := make([]int, len(labels))
	for i, l := range labels {
		out[i] = int(l)
	}
	return out, nil
}

// ClassifierServer is the server side of the classifier service.
type ClassifierServer interface {
	Train(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Predict(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&classifierServiceDesc, srv)
}

var classifierServiceDesc = grpc.ServiceDesc{
	ServiceName: classifierServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Train", Handler: trainHandler},
		{MethodName: "Predict", Handler: predictHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "forestchange/classifier.proto",
}

func trainHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Train(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: trainMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServer).Train(ctx, req.(*structpb.Struct))
	})
}

func predictHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: predictMethod}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ClassifierServer).Predict(ctx, req.(*structpb.Struct))
	})
}

// DefaultMaxModels is the number of trained forests a ClassifierService keeps.
const DefaultMaxModels = 16

// ClassifierService trains forests on request and keeps the most recently used
// ones in memory under a generated model id. Predicting with an evicted model
// fails with NotFound.
type ClassifierService struct {
	Params  ForestParams
	Options TrainOptions
	Logger  *zap.Logger

	models *lru.Cache[string, *Forest]
}

func NewClassifierService(params ForestParams, opts TrainOptions, maxModels int, log *zap.Logger) *ClassifierService {
	if maxModels <= 0 {
		maxModels = DefaultMaxModels
	}
	models, err := lru.NewWithEvict[string, *Forest](maxModels, func(id string, _ *Forest) {
		logger(log).Debug("remote forest evicted", zap.String("model_id", id))
	})
	if err != nil {
		// only returned for a non positive size
		panic(err)
	}
	return &ClassifierService{Params: params, Options: opts, Logger: log, models: models}
}

func (s *ClassifierService) Train(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	rows, err := readRows(fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	labels, err := readNumbers(fields["labels"])
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i] = int(l)
	}

	params := s.Params
	if seed, ok := fields["seed"]; ok {
		params.Seed = int64(seed.GetNumberValue())
	}

	forest, err := TrainForest(ctx, rows, y, params, s.Options)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id := uuid.NewString()
	s.models.Add(id, forest)
	logger(s.Logger).Info("remote forest trained", zap.String("model_id", id), zap.Int("samples", len(rows)))

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"model_id": structpb.NewStringValue(id),
		"classes":  structpb.NewNumberValue(float64(forest.NumClasses())),
	}}, nil
}

func (s *ClassifierService) Predict(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := fields["model_id"].GetStringValue()

	forest, ok := s.models.Get(id)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "model %q not found", id)
	}

	rows, err := readRows(fields)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	labels, err := forest.PredictBatch(ctx, rows)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"labels": intList(labels),
	}}, nil
}

func flatten(rows [][]float64) []float64 {
	var out []float64
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func numberList(values []float64) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewNumberValue(v)
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func intList(values []int) *structpb.Value {
	list := make([]*structpb.Value, len(values))
	for i, v := range values {
		list[i] = structpb.NewNumberValue(float64(v))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: list})
}

func readNumbers(v *structpb.Value) ([]float64, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("expected a list of numbers")
	}
	out := make([]float64, len(list.GetValues()))
	for i, item := range list.GetValues() {
		n, ok := item.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return nil, fmt.Errorf("item %d is not a number", i)
		}
		out[i] = n.NumberValue
	}
	return out, nil
}

func readRows(fields map[string]*structpb.Value) ([][]float64, error) {
	flat, err := readNumbers(fields["features"])
	if err != nil {
		return nil, fmt.Errorf("features: %w", err)
	}
	width := int(fields["num_features"].GetNumberValue())
	if width < 1 || len(flat)%width != 0 {
		return nil, fmt.Errorf("features: %d values do not split into rows of %d", len(flat), width)
	}
	rows := make([][]float64, len(flat)/width)
	for i := range rows {
		rows[i] = flat[i*width : (i+1)*width]
	}
	return rows, nil
}
