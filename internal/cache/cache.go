// Package cache provides the bounded, TTL-aware metadata cache that sits in
// front of a storage backend. Entries are spread over independent LRU shards
// so invalidation and reads on different keys never contend on one lock.
package cache

import (
	"hash/fnv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	SongPrefix   = "song/"
	EmbPrefix    = "emb/"
	SearchPrefix = "search/"
	StatsKey     = "stats/library"
	GenresKey    = "genres/all"
)

func SongKey(songID string) string {
	return SongPrefix + songID
}

func EmbKey(songID, modelName string) string {
	return EmbPrefix + songID + "/" + modelName
}

// EmbSongPrefix matches every embedding entry of one song, any model.
func EmbSongPrefix(songID string) string {
	return EmbPrefix + songID + "/"
}

type Cache struct {
	shards []*expirable.LRU[string, interface{}]
}

// New builds a cache holding at most size entries overall, split across
// shards. Each entry expires ttl after insertion.
func New(size int, ttl time.Duration, shards int) *Cache {
	if shards <= 0 {
		shards = 1
	}
	perShard := size / shards
	if perShard <= 0 {
		perShard = 1
	}
	c := &Cache{shards: make([]*expirable.LRU[string, interface{}], shards)}
	for i := range c.shards {
		c.shards[i] = expirable.NewLRU[string, interface{}](perShard, nil, ttl)
	}
	return c
}

func (c *Cache) shard(key string) *expirable.LRU[string, interface{}] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

func (c *Cache) Get(key string) (interface{}, bool) {
	return c.shard(key).Get(key)
}

func (c *Cache) Put(key string, value interface{}) {
	c.shard(key).Add(key, value)
}

func (c *Cache) Invalidate(key string) {
	c.shard(key).Remove(key)
}

// InvalidatePrefix drops every entry whose key starts with prefix. Used when
// a song mutates and all derived entries (embeddings, cached searches) must
// go with it.
func (c *Cache) InvalidatePrefix(prefix string) {
	for _, shard := range c.shards {
		for _, key := range shard.Keys() {
			if strings.HasPrefix(key, prefix) {
				shard.Remove(key)
			}
		}
	}
}

func (c *Cache) Purge() {
	for _, shard := range c.shards {
		shard.Purge()
	}
}

func (c *Cache) Len() int {
	total := 0
	for _, shard := range c.shards {
		total += shard.Len()
	}
	return total
}
