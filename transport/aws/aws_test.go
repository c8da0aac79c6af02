package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/protoroute/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	transport.DefaultRegistry = transport.NewRegistry()
	t.Cleanup(func() { transport.DefaultRegistry = original })

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsNativeDLQ)
	assert.False(t, caps.SupportsPosition)
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, transport.AWSCapabilities, Capabilities())
}

// stubFactories replaces every factory for the duration of the test.
func stubFactories(t *testing.T, pub message.Publisher, pubErr error, sub message.Subscriber, subErr error) *sns.SubscriberConfig {
	t.Helper()
	originalConfigLoader := DefaultConfigLoader
	originalTopicResolver := TopicResolverFactory
	originalPubFactory := PublisherFactory
	originalSubFactory := SubscriberFactory
	t.Cleanup(func() {
		DefaultConfigLoader = originalConfigLoader
		TopicResolverFactory = originalTopicResolver
		PublisherFactory = originalPubFactory
		SubscriberFactory = originalSubFactory
	})

	var captured sns.SubscriberConfig
	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "eu-west-1"}, nil
	}
	TopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return &sns.GenerateArnTopicResolver{}, nil
	}
	PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return pub, pubErr
	}
	SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		captured = cfg
		return sub, subErr
	}
	return &captured
}

func TestBuild(t *testing.T) {
	t.Run("creates transport with mocked factories", func(t *testing.T) {
		mockPub := &mockPublisher{}
		mockSub := &mockSubscriber{}
		captured := stubFactories(t, mockPub, nil, mockSub, nil)

		cfg := &mockConfig{awsRegion: "us-east-1", awsAccountID: "123456789012"}
		tr, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, tr.Publisher)
		assert.Equal(t, mockSub, tr.Subscriber)
		assert.Equal(t, "us-east-1", captured.AWSConfig.Region)
		assert.Empty(t, captured.OptFns)
	})

	t.Run("custom endpoint installs resolvers", func(t *testing.T) {
		captured := stubFactories(t, &mockPublisher{}, nil, &mockSubscriber{}, nil)

		cfg := &mockConfig{awsEndpoint: "http://localhost:4566"}
		_, err := Build(context.Background(), cfg, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Len(t, captured.OptFns, 1)
		assert.Equal(t, "eu-west-1", captured.AWSConfig.Region)
	})

	t.Run("returns error when config loader fails", func(t *testing.T) {
		stubFactories(t, &mockPublisher{}, nil, &mockSubscriber{}, nil)
		DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("config error")
		}

		_, err := Build(context.Background(), &mockConfig{awsRegion: "us-east-1"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "config error")
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		stubFactories(t, nil, errors.New("publisher error"), &mockSubscriber{}, nil)

		_, err := Build(context.Background(), &mockConfig{awsAccountID: "123456789012"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})

	t.Run("closes publisher when subscriber factory fails", func(t *testing.T) {
		pub := &mockPublisher{}
		stubFactories(t, pub, nil, nil, errors.New("subscriber error"))

		_, err := Build(context.Background(), &mockConfig{awsAccountID: "123456789012"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "subscriber error")
		assert.True(t, pub.closed)
	})

	t.Run("rejects malformed endpoint", func(t *testing.T) {
		stubFactories(t, &mockPublisher{}, nil, &mockSubscriber{}, nil)

		_, err := Build(context.Background(), &mockConfig{awsEndpoint: "://bad"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "parse endpoint")
	})
}

func TestResolveAccountID(t *testing.T) {
	logger := watermill.NopLogger{}

	assert.Equal(t, "123456789012", resolveAccountID(&mockConfig{awsAccountID: "'123456789012'"}, logger))
	assert.Equal(t, "", resolveAccountID(&mockConfig{}, logger))
	assert.Equal(t, localstackAccountID, resolveAccountID(&mockConfig{awsEndpoint: "http://localhost:4566"}, logger))
	assert.Equal(t, localstackAccountID, resolveAccountID(&mockConfig{awsEndpoint: "http://localhost:4566", awsAccountID: "123"}, logger))
}

func TestQueueNameGenerator(t *testing.T) {
	arn := sns.TopicArn("arn:aws:sns:us-east-1:123456789012:entity-topic")

	name, err := QueueNameGenerator("")(context.Background(), arn)
	require.NoError(t, err)
	assert.Equal(t, "entity-topic", name)

	name, err = QueueNameGenerator("entity-consumer")(context.Background(), arn)
	require.NoError(t, err)
	assert.Equal(t, "entity-topic_entity-consumer", name)
}

func TestLoadAWSConfigPassesOptions(t *testing.T) {
	original := DefaultConfigLoader
	t.Cleanup(func() { DefaultConfigLoader = original })

	var optCount int
	DefaultConfigLoader = func(ctx context.Context, opts ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		optCount = len(opts)
		return aws.Config{Region: "ignored"}, nil
	}

	cfg, err := loadAWSConfig(context.Background(), &mockConfig{
		awsRegion:          "us-west-2",
		awsAccessKeyID:     "key",
		awsSecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, optCount)
	assert.Equal(t, "us-west-2", cfg.Region)
}

func TestStaticCredentials(t *testing.T) {
	creds, err := staticCredentials("key", "secret").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
}

type mockConfig struct {
	awsRegion          string
	awsAccountID       string
	awsAccessKeyID     string
	awsSecretAccessKey string
	awsEndpoint        string
}

func (m *mockConfig) GetPubSubSystem() string       { return "aws" }
func (m *mockConfig) GetKafkaBrokers() []string     { return nil }
func (m *mockConfig) GetKafkaClientID() string      { return "" }
func (m *mockConfig) GetConsumerGroup() string      { return "" }
func (m *mockConfig) GetRabbitMQURL() string        { return "" }
func (m *mockConfig) GetNATSURL() string            { return "" }
func (m *mockConfig) GetHTTPServerAddress() string  { return "" }
func (m *mockConfig) GetHTTPPublisherURL() string   { return "" }
func (m *mockConfig) GetAWSRegion() string          { return m.awsRegion }
func (m *mockConfig) GetAWSAccountID() string       { return m.awsAccountID }
func (m *mockConfig) GetAWSAccessKeyID() string     { return m.awsAccessKeyID }
func (m *mockConfig) GetAWSSecretAccessKey() string { return m.awsSecretAccessKey }
func (m *mockConfig) GetAWSEndpoint() string        { return m.awsEndpoint }
func (m *mockConfig) GetPostgresURL() string        { return "" }
func (m *mockConfig) GetSQLiteFile() string         { return "" }

type mockPublisher struct{ closed bool }

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (m *mockPublisher) Close() error                                             { m.closed = true; return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
