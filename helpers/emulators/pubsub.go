package emulators

import (
	"context"
	"fmt"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/option"
)

const (
	testPubsubEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"
	testPubsubEmulatorPort  = "8085"
)

// PubsubConfig describes the emulator and the quarantine topics to create,
// each mapped to the subscription that observes it.
type PubsubConfig struct {
	GCImageContainer
	TopicSubs map[string]string
}

func GetDefaultPubsubConfig(projectID string, topicSubs map[string]string) PubsubConfig {
	return PubsubConfig{
		GCImageContainer: GCImageContainer{
			ImageContainer: ImageContainer{
				EmulatorImage:    testPubsubEmulatorImage,
				EmulatorHTTPPort: testPubsubEmulatorPort,
			},
			ProjectID: projectID,
		},
		TopicSubs: topicSubs,
	}
}

// SetupPubsubEmulator starts the Pub/Sub emulator, creates the configured
// topics and subscriptions and returns client options pointing at it.
func SetupPubsubEmulator(t *testing.T, ctx context.Context, cfg PubsubConfig) []option.ClientOption {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        cfg.EmulatorImage,
		ExposedPorts: []string{fmt.Sprintf("%s/tcp", cfg.EmulatorHTTPPort)},
		Cmd:          []string{"gcloud", "beta", "emulators", "pubsub", "start", fmt.Sprintf("--project=%s", cfg.ProjectID), fmt.Sprintf("--host-port=0.0.0.0:%s", cfg.EmulatorHTTPPort)},
		WaitingFor:   wait.ForListeningPort(nat.Port(cfg.EmulatorHTTPPort)),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, nat.Port(cfg.EmulatorHTTPPort))
	require.NoError(t, err)
	emulatorHost := fmt.Sprintf("%s:%s", host, port.Port())
	t.Logf("Pub/Sub emulator container started, listening on: %s", emulatorHost)
	if cfg.SetEnvVariables {
		t.Setenv("PUBSUB_EMULATOR_HOST", emulatorHost)
	}
	clientOptions := []option.ClientOption{option.WithEndpoint(emulatorHost), option.WithoutAuthentication()}

	adminClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions...)
	require.NoError(t, err)
	defer adminClient.Close()

	for topicID, subID := range cfg.TopicSubs {
		topic, err := adminClient.CreateTopic(ctx, topicID)
		require.NoError(t, err, "Failed to create Pub/Sub topic")
		_, err = adminClient.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{Topic: topic})
		require.NoError(t, err, "Failed to create Pub/Sub subscription")
	}
	return clientOptions
}
