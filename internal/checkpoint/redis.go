package checkpoint

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/catalog-warehouse/internal/crawler"
	"github.com/JakeFAU/catalog-warehouse/internal/warehouse"
)

const defaultKeyPrefix = "catalogwh:checkpoint:"

// SetClient is the subset of redis.Cmdable used by RedisSet.
type SetClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// RedisSet stores completed segments in a Redis set, one key per namespace.
// Durability follows the server's persistence settings.
type RedisSet struct {
	client SetClient
	key    string
}

// NewRedisSet builds a RedisSet for ns. An empty prefix uses the default.
func NewRedisSet(client SetClient, prefix string, ns warehouse.Namespace) (*RedisSet, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := ns.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisSet{client: client, key: prefix + ns.Source + ":" + string(ns.Env)}, nil
}

// Key returns the Redis key holding the set.
func (s *RedisSet) Key() string {
	return s.key
}

// Completed returns every member of the set. A missing key is an empty set.
func (s *RedisSet) Completed(ctx context.Context) (crawler.SegmentSet, error) {
	members, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		if err == redis.Nil {
			return crawler.SegmentSet{}, nil
		}
		return nil, fmt.Errorf("failed to load completed segments from %s: %w", s.key, err)
	}
	set := make(crawler.SegmentSet, len(members))
	for _, m := range members {
		if m != "" {
			set.Add(crawler.Segment(m))
		}
	}
	return set, nil
}

// MarkComplete adds segment to the set.
func (s *RedisSet) MarkComplete(ctx context.Context, segment crawler.Segment) error {
	if segment == "" {
		return fmt.Errorf("segment is required")
	}
	if err := s.client.SAdd(ctx, s.key, string(segment)).Err(); err != nil {
		return fmt.Errorf("failed to mark segment %s complete: %w", segment, err)
	}
	return nil
}
