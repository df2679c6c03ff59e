package transport

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/zoff-tech/payment-relay/pkg/config"
	"github.com/zoff-tech/payment-relay/pkg/logging"
)

const testProject = "relay-test"

func fakeConn(t *testing.T, srv *pstest.Server) option.ClientOption {
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	return option.WithGRPCConn(conn)
}

// setupPubSub starts an in-memory server with an outbound topic and an
// inbound topic plus subscription. It returns the inbound topic for
// publishing test traffic.
func setupPubSub(t *testing.T, ctx context.Context) (*pstest.Server, *pubsub.Topic) {
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	admin, err := pubsub.NewClient(ctx, testProject, fakeConn(t, srv))
	require.NoError(t, err)
	t.Cleanup(func() { admin.Close() })

	_, err = admin.CreateTopic(ctx, "outbound")
	require.NoError(t, err)
	inbound, err := admin.CreateTopic(ctx, "inbound")
	require.NoError(t, err)
	_, err = admin.CreateSubscription(ctx, "inbound-sub", pubsub.SubscriptionConfig{Topic: inbound})
	require.NoError(t, err)
	t.Cleanup(inbound.Stop)

	return srv, inbound
}

func testPubSubSettings() *config.TransportSettings {
	return &config.TransportSettings{
		Type:         "gcp-pubsub",
		ProjectID:    testProject,
		Topic:        "outbound",
		Subscription: "inbound-sub",
	}
}

func TestNewPubSubTransport_RequiresProject(t *testing.T) {
	tr, err := NewPubSubTransport(context.Background(), &config.TransportSettings{Type: "gcp-pubsub"}, logging.Discard())
	assert.Nil(t, tr)
	assert.EqualError(t, err, "projectID is required")
}

func TestPubSubTransport_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, inbound := setupPubSub(t, ctx)

	tr, err := NewPubSubTransport(ctx, testPubSubSettings(), logging.Discard(), fakeConn(t, srv))
	require.NoError(t, err)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	assert.Equal(t, SignalAuthenticated, nextSignal(t, tr).Type)
	assert.Equal(t, SignalReady, nextSignal(t, tr).Type)

	require.NoError(t, tr.Send(ctx, "ops", "new payment"))
	published := srv.Messages()
	require.Len(t, published, 1)
	assert.Equal(t, "new payment", string(published[0].Data))
	assert.Equal(t, "ops", published[0].Attributes[headerTo])
	assert.NotEmpty(t, published[0].Attributes["message_id"])

	_, err = inbound.Publish(ctx, &pubsub.Message{
		Data:       []byte("ping"),
		Attributes: map[string]string{headerFrom: "ops", headerAuthor: "alice"},
	}).Get(ctx)
	require.NoError(t, err)

	select {
	case msg := <-tr.Messages():
		assert.Equal(t, "ping", msg.Body)
		assert.Equal(t, "ops", msg.From)
		assert.Equal(t, "alice", msg.Author)
		assert.False(t, msg.IsSelf)
	case <-ctx.Done():
		t.Fatal("timed out waiting for inbound message")
	}
}

func TestPubSubTransport_Destinations(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, _ := setupPubSub(t, ctx)

	tr, err := NewPubSubTransport(ctx, testPubSubSettings(), logging.Discard(), fakeConn(t, srv))
	require.NoError(t, err)
	require.NoError(t, tr.Connect(ctx))
	defer tr.Close()

	destinations, err := tr.(DestinationLister).Destinations(ctx)
	require.NoError(t, err)

	var ids []string
	for _, d := range destinations {
		assert.True(t, d.IsGroup)
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"outbound", "inbound"}, ids)
}

func TestPubSubTransport_MissingTopic(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv, _ := setupPubSub(t, ctx)

	settings := testPubSubSettings()
	settings.Topic = "absent"
	tr, err := NewPubSubTransport(ctx, settings, logging.Discard(), fakeConn(t, srv))
	require.NoError(t, err)

	err = tr.Connect(ctx)
	assert.EqualError(t, err, "topic absent does not exist")
	assert.ErrorIs(t, tr.Send(ctx, "ops", "x"), ErrNotConnected)
}

func TestPubSubTransport_SendBeforeConnect(t *testing.T) {
	tr, err := NewPubSubTransport(context.Background(), testPubSubSettings(), logging.Discard())
	require.NoError(t, err)
	assert.ErrorIs(t, tr.Send(context.Background(), "ops", "x"), ErrNotConnected)

	_, err = tr.(DestinationLister).Destinations(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}
