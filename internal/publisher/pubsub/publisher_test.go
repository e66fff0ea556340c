package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type notice struct {
	RunID string `json:"run_id"`
	Count int    `json:"count"`
}

func (n notice) Attributes() map[string]string {
	return map[string]string{"run_id": n.RunID}
}

func newTestClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "harvester-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestPublishJSONWithAttributes(t *testing.T) {
	t.Parallel()

	srv, client := newTestClient(t)
	ctx := context.Background()
	_, err := client.CreateTopic(ctx, "flushes")
	require.NoError(t, err)

	pub := New(client)
	t.Cleanup(pub.Stop)

	id, err := pub.Publish(ctx, "flushes", notice{RunID: "run-1", Count: 3})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got notice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, notice{RunID: "run-1", Count: 3}, got)
	require.Equal(t, "run-1", msgs[0].Attributes["run_id"])
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "t", 1)
	require.Error(t, err)

	_, client := newTestClient(t)
	pub := New(client)
	t.Cleanup(pub.Stop)

	_, err = pub.Publish(context.Background(), "", 1)
	require.Error(t, err)
	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")
	_, err = pub.Publish(context.Background(), "missing-topic", 1)
	require.Error(t, err)
}
