package ml

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func startClassifierService(t *testing.T) *grpc.ClientConn {
	return startClassifierServiceWith(t, NewClassifierService(ForestParams{Trees: 15, MinLeaf: 1}, TrainOptions{Workers: 2}, 0, nil))
}

func startClassifierServiceWith(t *testing.T, service *ClassifierService) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterClassifierServer(srv, service)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestRemoteTrainAndPredict(t *testing.T) {
	conn := startClassifierService(t)
	set := clusteredSet(25, 10)

	c := NewClassifier(&RemoteTrainer{Conn: conn, Seed: 42}, 2, nil)
	require.NoError(t, c.Train(context.Background(), set))

	pred, err := c.Predict(context.Background(), set.Features())
	require.NoError(t, err)
	assert.Equal(t, set.Labels(), pred)

	out, err := c.Classify(context.Background(), stack(t, []float64{-0.5, 0.5}, nil))
	require.NoError(t, err)
	b, _ := out.Band(BandClassification)
	assert.Equal(t, []float64{0, 2}, b.Values)
}

func TestRemoteMatchesLocalForSameSeed(t *testing.T) {
	conn := startClassifierService(t)
	set := clusteredSet(20, 11)

	remote, err := (&RemoteTrainer{Conn: conn, Seed: 3}).Train(context.Background(), set)
	require.NoError(t, err)
	local, err := TrainForest(context.Background(), set.Features(), set.Labels(),
		ForestParams{Trees: 15, MinLeaf: 1, Seed: 3}, TrainOptions{})
	require.NoError(t, err)

	rows := [][]float64{{0.6, 0.3, -0.3}, {0.6, 0.6, 0}, {0.6, 0.9, 0.3}}
	want, _ := local.PredictBatch(context.Background(), rows)
	got, err := remote.PredictBatch(context.Background(), rows)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRemoteUnknownModel(t *testing.T) {
	conn := startClassifierService(t)
	p := &remotePredictor{conn: conn, modelID: "missing"}

	_, err := p.PredictBatch(context.Background(), [][]float64{{0, 0, 0}})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestClassifierServiceEvictsLeastRecentlyUsed(t *testing.T) {
	service := NewClassifierService(ForestParams{Trees: 5, MinLeaf: 1}, TrainOptions{Workers: 1}, 2, nil)
	conn := startClassifierServiceWith(t, service)
	set := clusteredSet(10, 12)
	ctx := context.Background()
	row := [][]float64{{0.6, 0.3, -0.3}}

	first, err := (&RemoteTrainer{Conn: conn, Seed: 1}).Train(ctx, set)
	require.NoError(t, err)
	second, err := (&RemoteTrainer{Conn: conn, Seed: 2}).Train(ctx, set)
	require.NoError(t, err)

	// touch the first model so the second becomes the oldest
	_, err = first.PredictBatch(ctx, row)
	require.NoError(t, err)

	third, err := (&RemoteTrainer{Conn: conn, Seed: 3}).Train(ctx, set)
	require.NoError(t, err)

	assert.Equal(t, 2, service.models.Len())
	_, err = second.PredictBatch(ctx, row)
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = first.PredictBatch(ctx, row)
	assert.NoError(t, err)
	_, err = third.PredictBatch(ctx, row)
	assert.NoError(t, err)
}

