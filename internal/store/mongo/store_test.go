package mongo_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mossy-p/studyroom-signaling/config"
	"github.com/mossy-p/studyroom-signaling/internal/store/mongo"
	"github.com/mossy-p/studyroom-signaling/internal/store/storetest"
)

// TestStore runs against a real server when MONGO_URI is set.
func TestStore(t *testing.T) {
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	cfg := config.MongoConfig{
		URI:      uri,
		Database: fmt.Sprintf("studyroom_test_%d", time.Now().UnixNano()),
	}
	s, err := mongo.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.DropDatabase(context.Background())
		s.Close()
	})

	storetest.Run(t, s, 5)
}
