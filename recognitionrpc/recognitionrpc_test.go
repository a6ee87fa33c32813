package recognitionrpc

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"command-center-vms-cctv/be/model"
)

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	req := &RecognizeRequest{CameraID: "cam1", FrameIndex: 7}

	b, err := c.Marshal(req)
	require.NoError(t, err)

	var got RecognizeRequest
	require.NoError(t, c.Unmarshal(b, &got))
	assert.Equal(t, req.CameraID, got.CameraID)
	assert.Equal(t, req.FrameIndex, got.FrameIndex)
}

type fakeServer struct{}

func (fakeServer) Recognize(ctx context.Context, req *RecognizeRequest) (*RecognizeReply, error) {
	return &RecognizeReply{
		Faces:        []model.FaceRecord{{PersonID: "p1", Similarity: 0.9}},
		IndexVersion: 3,
	}, nil
}

func (fakeServer) ReloadIndex(ctx context.Context, req *ReloadIndexRequest) (*ReloadIndexReply, error) {
	return &ReloadIndexReply{Version: uint64(len(req.Embeddings))}, nil
}

func (fakeServer) Health(ctx context.Context, req *Empty) (*HealthStatus, error) {
	return &HealthStatus{Ready: true}, nil
}

func TestClientServerRoundTripOverBufconn(t *testing.T) {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer(ServerOption())
	RegisterServer(srv, fakeServer{})
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		DialOption(),
	)
	require.NoError(t, err)
	defer conn.Close()

	client := NewClient(conn)
	reply, err := client.Recognize(context.Background(), &RecognizeRequest{CameraID: "cam1", FrameIndex: 1})
	require.NoError(t, err)
	require.Len(t, reply.Faces, 1)
	assert.Equal(t, "p1", reply.Faces[0].PersonID)
	assert.Equal(t, uint64(3), reply.IndexVersion)
}
