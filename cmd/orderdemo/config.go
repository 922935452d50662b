// Copyright (c) 2026 - The Event Horizon authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
)

// Config is the configuration of the demo, read from the environment.
type Config struct {
	// HTTPAddr is the address of the API, HTTP_ADDR.
	HTTPAddr string
	// MetricsAddr serves /metrics on its own address if set, METRICS_ADDR.
	MetricsAddr string

	// EventStore is one of memory, bbolt, sqlite or mongodb, EVENTSTORE.
	EventStore string
	BboltPath  string // BBOLT_PATH
	SQLiteDSN  string // SQLITE_DSN
	MongoDBURL string // mongodb://MONGODB_ADDR
	MongoDBDB  string // MONGODB_DB

	// Forwarding to brokers is enabled per address.
	RedisAddr     string // REDIS_ADDR
	NATSAddr      string // NATS_ADDR
	KafkaAddr     string // KAFKA_ADDR
	PubSubProject string // PUBSUB_PROJECT

	// JaegerAgent is the host:port of a Jaeger agent, JAEGER_AGENT.
	JaegerAgent string
}

// configFromEnv reads the configuration with getenv, applying defaults.
func configFromEnv(getenv func(string) string) (Config, error) {
	c := Config{
		HTTPAddr:      withDefault(getenv("HTTP_ADDR"), ":8080"),
		MetricsAddr:   getenv("METRICS_ADDR"),
		EventStore:    withDefault(getenv("EVENTSTORE"), "memory"),
		BboltPath:     withDefault(getenv("BBOLT_PATH"), "orders.db"),
		SQLiteDSN:     withDefault(getenv("SQLITE_DSN"), "file:orders.sqlite?_txlock=immediate&_busy_timeout=5000"),
		MongoDBDB:     withDefault(getenv("MONGODB_DB"), "orders"),
		RedisAddr:     getenv("REDIS_ADDR"),
		NATSAddr:      getenv("NATS_ADDR"),
		KafkaAddr:     getenv("KAFKA_ADDR"),
		PubSubProject: getenv("PUBSUB_PROJECT"),
		JaegerAgent:   getenv("JAEGER_AGENT"),
	}

	if addr := getenv("MONGODB_ADDR"); addr != "" {
		c.MongoDBURL = "mongodb://" + addr
	}

	switch c.EventStore {
	case "memory", "bbolt", "sqlite":
	case "mongodb":
		if c.MongoDBURL == "" {
			return Config{}, fmt.Errorf("MONGODB_ADDR is required for the mongodb event store")
		}
	default:
		return Config{}, fmt.Errorf("unknown event store: %q", c.EventStore)
	}

	return c, nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}
