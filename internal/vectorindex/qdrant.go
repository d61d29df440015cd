package vectorindex

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds the connection settings for the Qdrant mirror.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default "localhost".
	Host string

	// Port is the Qdrant gRPC port (6334, not the 6333 REST port).
	Port int

	// Collection is the memories collection to update.
	Collection string

	// OperationTimeout bounds each payload update so a slow index cannot
	// stall a lifecycle pass. Default 5s.
	OperationTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = 5 * time.Second
	}
}

// QdrantIndex implements Index over the Qdrant gRPC client.
type QdrantIndex struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantIndex connects to Qdrant and verifies the connection.
func NewQdrantIndex(ctx context.Context, config QdrantConfig) (*QdrantIndex, error) {
	config.ApplyDefaults()
	if config.Collection == "" {
		return nil, fmt.Errorf("collection name required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: config.Host,
		Port: config.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, config.OperationTimeout)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("qdrant health check: %w", err)
	}

	return &QdrantIndex{client: client, config: config}, nil
}

// UpdatePayload merges fields into the point's payload via SetPayload,
// which leaves unrelated payload keys untouched.
func (q *QdrantIndex) UpdatePayload(ctx context.Context, memoryID string, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, q.config.OperationTimeout)
	defer cancel()

	_, err := q.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: q.config.Collection,
		Payload:        qdrant.NewValueMap(payload),
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(memoryID)),
	})
	if err != nil {
		return fmt.Errorf("set payload on %s: %w", memoryID, err)
	}
	return nil
}

func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
