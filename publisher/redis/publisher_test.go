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

package redis

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplab/eventcore/mocks"
	"github.com/looplab/eventcore/publisher"
)

func TestPublisherIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	// Connect to localhost if not running inside docker
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	// Get a random app ID.
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}

	appID := "app-" + hex.EncodeToString(b)

	p, err := NewPublisher(addr, appID, "client", mocks.NewEventTypes())
	if err != nil {
		t.Skip("could not connect to Redis:", err)
	}

	defer p.Close()

	assert.Equal(t, appID+"_events", p.streamName)

	publisher.AcceptanceTest(t, p, p, 3*time.Second)
}

func TestPublisherOptions(t *testing.T) {
	_, err := NewPublisher("localhost:6379", "app", "client", mocks.NewEventTypes(), WithCodec(nil))
	require.Error(t, err)

	_, err = NewPublisher("localhost:6379", "app", "client", mocks.NewEventTypes(), WithLogger(nil))
	require.Error(t, err)
}
