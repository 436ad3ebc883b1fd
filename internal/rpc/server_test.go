package rpc

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"dynshot/internal/domain"
	"dynshot/internal/infra/logging"
	"dynshot/internal/queue"
)

func init() {
	logging.SetLoggerForTest(zerolog.Nop())
}

type fakeSubmitter struct {
	mu     sync.Mutex
	ids    []domain.Identifier
	result domain.Result
	err    error
	panic  bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, id domain.Identifier) (domain.Result, error) {
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	if f.panic {
		panic("queue exploded")
	}
	return f.result, f.err
}

func (f *fakeSubmitter) Stats() queue.Stats {
	return queue.Stats{Pending: 3, MaxDepth: 64, Running: true, Current: "42", Processed: 7, Rejected: 1}
}

func startServer(t *testing.T, sub Submitter) (*Client, *grpc.ClientConn) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(NewService(sub))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClient(conn), conn
}

func TestShotDynamic_Success(t *testing.T) {
	sub := &fakeSubmitter{result: domain.Success([]byte{0x89, 'P', 'N', 'G'})}
	client, _ := startServer(t, sub)

	res, err := client.ShotDynamic(context.Background(), &ShotRequest{DynamicID: "42"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, res.PNGImage)
	assert.Equal(t, "ok", res.Code)
	assert.False(t, res.Retryable)
	assert.Equal(t, []domain.Identifier{"42"}, sub.ids)
}

func TestShotDynamic_FailureCarriesCodeAndEmptyImage(t *testing.T) {
	sub := &fakeSubmitter{result: domain.Failure(domain.NewStepError("wait_card", domain.CodeWaitTimeout, domain.ErrWaitTimeout))}
	client, _ := startServer(t, sub)

	res, err := client.ShotDynamic(context.Background(), &ShotRequest{DynamicID: "42"})
	require.NoError(t, err)
	assert.Empty(t, res.PNGImage)
	assert.Equal(t, "wait_timeout", res.Code)
	assert.True(t, res.Retryable)
	assert.Contains(t, res.Message, "wait_card")
}

func TestShotDynamic_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		req  *ShotRequest
		err  error
		want codes.Code
	}{
		{name: "empty id", req: &ShotRequest{}, want: codes.InvalidArgument},
		{name: "queue full", req: &ShotRequest{DynamicID: "1"}, err: domain.ErrQueueFull, want: codes.ResourceExhausted},
		{name: "shutting down", req: &ShotRequest{DynamicID: "1"}, err: domain.ErrShuttingDown, want: codes.Unavailable},
		{name: "caller gone", req: &ShotRequest{DynamicID: "1"}, err: context.DeadlineExceeded, want: codes.DeadlineExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client, _ := startServer(t, &fakeSubmitter{err: tc.err})
			_, err := client.ShotDynamic(context.Background(), tc.req)
			assert.Equal(t, tc.want, status.Code(err), "got %v", err)
		})
	}
}

func TestShotDynamic_PanicIsInternal(t *testing.T) {
	client, _ := startServer(t, &fakeSubmitter{panic: true})
	_, err := client.ShotDynamic(context.Background(), &ShotRequest{DynamicID: "1"})
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestQueueStats(t *testing.T) {
	client, _ := startServer(t, &fakeSubmitter{})
	st, err := client.QueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Pending)
	assert.Equal(t, "42", st.Current)
	assert.EqualValues(t, 7, st.Processed)
}

func TestHealthServiceUsesProtoCodec(t *testing.T) {
	_, conn := startServer(t, &fakeSubmitter{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: serviceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestService_NilRequest(t *testing.T) {
	svc := NewService(&fakeSubmitter{})
	_, err := svc.ShotDynamic(context.Background(), nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = svc.QueueStats(context.Background(), &emptypb.Empty{})
	assert.NoError(t, err)
}

func TestJSONCodecRoundTrip(t *testing.T) {
	c := jsonCodec{}
	raw, err := c.Marshal(&ShotResult{PNGImage: []byte{1, 2}, Code: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"png_image":"AQI=","code":"ok","retryable":false}`, string(raw))
	assert.Equal(t, "json", c.Name())
}
