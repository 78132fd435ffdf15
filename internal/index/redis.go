package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"claimsapi/internal/config"
	"claimsapi/internal/model"
)

// RedisSink implements Sink on Redis Stack: records are RedisJSON documents
// under a common key prefix, searched through a RediSearch HNSW vector index.
type RedisSink struct {
	client    *redis.Client
	indexName string
	keyPrefix string
	dim       int
	log       *slog.Logger
}

// NewRedisSink connects, verifies connectivity, and ensures the search index
// exists (an already-existing index is not an error).
func NewRedisSink(cfg config.RedisConfig, log *slog.Logger) (*RedisSink, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if log == nil {
		log = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
	})

	s := &RedisSink{
		client:    client,
		indexName: cfg.IndexName,
		keyPrefix: cfg.KeyPrefix,
		dim:       cfg.VectorDimension,
		log:       log,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if err := s.ensureIndex(ctx, cfg.DistanceMetric); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RedisSink) ensureIndex(ctx context.Context, metric string) error {
	if metric == "" {
		metric = "COSINE"
	}
	err := s.client.FTCreate(ctx, s.indexName,
		&redis.FTCreateOptions{
			OnJSON: true,
			Prefix: []any{s.keyPrefix},
		},
		&redis.FieldSchema{FieldName: "$.type", As: "type", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{FieldName: "$.filename", As: "filename", FieldType: redis.SearchFieldTypeText},
		&redis.FieldSchema{
			FieldName: "$.embedding",
			As:        "embedding",
			FieldType: redis.SearchFieldTypeVector,
			VectorArgs: &redis.FTVectorArgs{
				HNSWOptions: &redis.FTHNSWOptions{
					Type:           "FLOAT32",
					Dim:            s.dim,
					DistanceMetric: metric,
				},
			},
		},
	).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "index already exists") {
		return fmt.Errorf("create search index: %w", err)
	}
	return nil
}

// Put writes one record as a JSON document.
func (s *RedisSink) Put(ctx context.Context, doc model.IndexedDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal indexed document: %w", err)
	}
	key := s.keyPrefix + doc.ID
	if err := s.client.JSONSet(ctx, key, "$", string(payload)).Err(); err != nil {
		return fmt.Errorf("store document %s: %w", key, err)
	}
	return nil
}

// Search runs a KNN query over the vector field and returns hits ranked by
// distance score (lower is closer).
func (s *RedisSink) Search(ctx context.Context, embedding []float32, k int) ([]model.SearchHit, error) {
	if k <= 0 {
		k = 5
	}
	query := fmt.Sprintf("*=>[KNN %d @embedding $vec AS score]", k)

	res, err := s.client.FTSearchWithArgs(ctx, s.indexName, query, &redis.FTSearchOptions{
		Params:         map[string]any{"vec": vectorBytes(embedding)},
		DialectVersion: 2,
		SortBy:         []redis.FTSearchSortBy{{FieldName: "score", Asc: true}},
		LimitOffset:    0,
		Limit:          k,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]model.SearchHit, 0, len(res.Docs))
	for _, doc := range res.Docs {
		var hit model.SearchHit
		if raw, ok := doc.Fields["$"]; ok {
			if err := json.Unmarshal([]byte(raw), &hit.IndexedDocument); err != nil {
				s.log.Warn("skipping unreadable search hit", "key", doc.ID, "error", err)
				continue
			}
		}
		if raw, ok := doc.Fields["score"]; ok {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				hit.Score = f
			}
		}
		// The stored vector is payload, not response material.
		hit.Embedding = nil
		hits = append(hits, hit)
	}
	return hits, nil
}

// Ping reports index connectivity for health checks.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// vectorBytes encodes a float32 vector as the little-endian blob RediSearch
// expects for KNN parameters.
func vectorBytes(vec []float32) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}
