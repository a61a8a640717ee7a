package oracle

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/judgment"
)

// serveOracle exposes o on an in-memory listener and returns a client oracle.
func serveOracle(t *testing.T, o judgment.Oracle) *GRPC {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterOracle(srv, o)
	go func() { _ = srv.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		conn.Close()
		srv.Stop()
	})
	return NewGRPCWithConn(conn)
}

func TestGRPCRoundTrip(t *testing.T) {
	backend := NewScripted(Rule{
		Template: judgment.TemplateRelational,
		Response: judgment.Response{Truth: 0.75, Indeterminacy: 0.1, Falsehood: 0.2, Reasoning: "fair", ExchangeType: "reciprocal"},
	})
	client := serveOracle(t, backend)

	req := judgment.Request{
		LayerContent: "hello there",
		LayerRole:    judgment.RoleUser,
		Context:      "[0 system] be kind\n",
		Template:     judgment.TemplateRelational,
		Framing:      "f",
	}
	resp, err := client.Submit(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0.75, resp.Truth)
	assert.Equal(t, 0.2, resp.Falsehood)
	assert.Equal(t, "fair", resp.Reasoning)
	assert.Equal(t, "reciprocal", resp.ExchangeType)

	calls := backend.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, req, calls[0])
}

func TestGRPCErrorMapping(t *testing.T) {
	client := serveOracle(t, NewScripted(
		Rule{Contains: "slow", Error: "timeout"},
		Rule{Contains: "junk", Error: "malformed"},
		Rule{Contains: "down", Error: "transport"},
	))
	ctx := context.Background()
	submit := func(content string) error {
		_, err := client.Submit(ctx, judgment.Request{LayerContent: content, LayerRole: judgment.RoleUser, Template: judgment.TemplateRelational})
		return err
	}

	require.ErrorIs(t, submit("slow"), judgment.ErrOracleTimeout)
	require.ErrorIs(t, submit("junk"), judgment.ErrOracleMalformed)
	require.ErrorIs(t, submit("down"), judgment.ErrOracleTransport)
}

func TestGRPCClientDeadline(t *testing.T) {
	client := serveOracle(t, NewScripted(Rule{DelayMS: 2000, Response: judgment.Response{ExchangeType: "neutral"}}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Submit(ctx, judgment.Request{LayerContent: "x", LayerRole: judgment.RoleUser, Template: judgment.TemplateRelational})
	require.ErrorIs(t, err, judgment.ErrOracleTimeout)
}
