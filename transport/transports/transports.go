// Package transports imports all built-in transports for auto-registration.
// Import this package to have every transport registered with the default registry.
package transports

import (
	_ "github.com/drblury/protoroute/transport/aws"
	_ "github.com/drblury/protoroute/transport/channel"
	_ "github.com/drblury/protoroute/transport/http"
	_ "github.com/drblury/protoroute/transport/jetstream"
	_ "github.com/drblury/protoroute/transport/kafka"
	_ "github.com/drblury/protoroute/transport/nats"
	_ "github.com/drblury/protoroute/transport/postgres"
	_ "github.com/drblury/protoroute/transport/rabbitmq"
	_ "github.com/drblury/protoroute/transport/sqlite"
)
