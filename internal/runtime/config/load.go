package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment keys read by Load.
const (
	EnvPubSubSystem         = "PUBSUB_SYSTEM"
	EnvKafkaBroker          = "KAFKA_BROKER"
	EnvKafkaClientID        = "KAFKA_CLIENT_ID"
	EnvConsumerGroup        = "CONSUMER_GROUP"
	EnvRabbitMQURL          = "RABBITMQ_URL"
	EnvNATSURL              = "NATS_URL"
	EnvHTTPServerAddress    = "HTTP_SERVER_ADDRESS"
	EnvHTTPPublisherURL     = "HTTP_PUBLISHER_URL"
	EnvAWSRegion            = "AWS_REGION"
	EnvAWSAccountID         = "AWS_ACCOUNT_ID"
	EnvAWSAccessKeyID       = "AWS_ACCESS_KEY_ID"
	EnvAWSSecretAccessKey   = "AWS_SECRET_ACCESS_KEY"
	EnvAWSEndpoint          = "AWS_ENDPOINT"
	EnvPostgresURL          = "POSTGRES_URL"
	EnvSQLiteFile           = "SQLITE_FILE"
	EnvDeadLetterTopic      = "DEAD_LETTER_TOPIC"
	EnvUnroutablePolicy     = "UNROUTABLE_POLICY"
	EnvHandlerTimeout       = "HANDLER_TIMEOUT"
	EnvRetryMaxRetries      = "RETRY_MAX_RETRIES"
	EnvRetryInitialInterval = "RETRY_INITIAL_INTERVAL"
	EnvRetryMaxInterval     = "RETRY_MAX_INTERVAL"
	EnvHaltBackoff          = "HALT_BACKOFF"
	EnvMetricsEnabled       = "METRICS_ENABLED"
	EnvMetricsPort          = "METRICS_PORT"
	EnvPort                 = "PORT"
	EnvLogLevel             = "LOG_LEVEL"
)

var envKeys = []string{
	EnvPubSubSystem, EnvKafkaBroker, EnvKafkaClientID, EnvConsumerGroup,
	EnvRabbitMQURL, EnvNATSURL, EnvHTTPServerAddress, EnvHTTPPublisherURL,
	EnvAWSRegion, EnvAWSAccountID, EnvAWSAccessKeyID, EnvAWSSecretAccessKey, EnvAWSEndpoint,
	EnvPostgresURL, EnvSQLiteFile,
	EnvDeadLetterTopic, EnvUnroutablePolicy, EnvHandlerTimeout,
	EnvRetryMaxRetries, EnvRetryInitialInterval, EnvRetryMaxInterval, EnvHaltBackoff,
	EnvMetricsEnabled, EnvMetricsPort, EnvPort, EnvLogLevel,
}

// Load reads the configuration from the environment. Each dotenv file that
// exists is loaded first without overriding variables already set; with no
// files given, ".env" in the working directory is tried.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	cfg := &Config{
		PubSubSystem:         strings.ToLower(v.GetString(EnvPubSubSystem)),
		KafkaBrokers:         splitList(v.GetString(EnvKafkaBroker)),
		KafkaClientID:        v.GetString(EnvKafkaClientID),
		ConsumerGroup:        v.GetString(EnvConsumerGroup),
		RabbitMQURL:          v.GetString(EnvRabbitMQURL),
		NATSURL:              v.GetString(EnvNATSURL),
		HTTPServerAddress:    v.GetString(EnvHTTPServerAddress),
		HTTPPublisherURL:     v.GetString(EnvHTTPPublisherURL),
		AWSRegion:            v.GetString(EnvAWSRegion),
		AWSAccountID:         v.GetString(EnvAWSAccountID),
		AWSAccessKeyID:       v.GetString(EnvAWSAccessKeyID),
		AWSSecretAccessKey:   v.GetString(EnvAWSSecretAccessKey),
		AWSEndpoint:          v.GetString(EnvAWSEndpoint),
		PostgresURL:          v.GetString(EnvPostgresURL),
		SQLiteFile:           v.GetString(EnvSQLiteFile),
		DeadLetterTopic:      v.GetString(EnvDeadLetterTopic),
		UnroutablePolicy:     UnroutablePolicy(strings.ToLower(v.GetString(EnvUnroutablePolicy))),
		HandlerTimeout:       v.GetDuration(EnvHandlerTimeout),
		RetryMaxRetries:      v.GetInt(EnvRetryMaxRetries),
		RetryInitialInterval: v.GetDuration(EnvRetryInitialInterval),
		RetryMaxInterval:     v.GetDuration(EnvRetryMaxInterval),
		HaltBackoff:          v.GetDuration(EnvHaltBackoff),
		MetricsEnabled:       v.GetBool(EnvMetricsEnabled),
		MetricsPort:          v.GetInt(EnvMetricsPort),
		APIPort:              v.GetInt(EnvPort),
		LogLevel:             strings.ToLower(v.GetString(EnvLogLevel)),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(EnvPubSubSystem, "kafka")
	v.SetDefault(EnvKafkaBroker, "localhost:9092")
	v.SetDefault(EnvKafkaClientID, "protoroute")
	v.SetDefault(EnvConsumerGroup, "protoroute")
	v.SetDefault(EnvDeadLetterTopic, "protoroute-dead-letter")
	v.SetDefault(EnvUnroutablePolicy, string(UnroutableDeadLetter))
	v.SetDefault(EnvRetryMaxRetries, 3)
	v.SetDefault(EnvRetryInitialInterval, "100ms")
	v.SetDefault(EnvRetryMaxInterval, "5s")
	v.SetDefault(EnvMetricsPort, 9090)
	v.SetDefault(EnvPort, 8080)
	v.SetDefault(EnvLogLevel, "info")
}

// splitList splits comma-separated values; viper leaves them joined.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
