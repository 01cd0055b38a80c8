package cache

import (
	"hash/maphash"
	"sync"

	"npag/types"
)

const shardCount = 64

// Key 缓存键
type Key struct {
	Subject string
	Hash    uint64
}

type entry struct {
	params types.ParameterVector
	pred   types.Prediction
}

type shard struct {
	mu    sync.RWMutex
	items map[Key][]entry // 同一哈希下可能有多个参数向量
}

// Cache 预测缓存：按 (受试者, 参数向量) 记录仿真结果
// 分片读写锁，命中时比较完整参数向量防止哈希碰撞
type Cache struct {
	shards [shardCount]shard
	seed   maphash.Seed
}

// New 创建缓存
func New() *Cache {
	c := &Cache{seed: maphash.MakeSeed()}
	for i := range c.shards {
		c.shards[i].items = make(map[Key][]entry)
	}
	return c
}

func (c *Cache) shard(k Key) *shard {
	h := maphash.String(c.seed, k.Subject) ^ k.Hash
	return &c.shards[h%shardCount]
}

// Get 查询
func (c *Cache) Get(subject string, params types.ParameterVector) (types.Prediction, bool) {
	k := Key{Subject: subject, Hash: params.Hash()}
	s := c.shard(k)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.items[k] {
		if e.params.Equal(params) {
			return e.pred, true
		}
	}
	return types.Prediction{}, false
}

// Put 写入（已存在则覆盖）
func (c *Cache) Put(subject string, params types.ParameterVector, pred types.Prediction) {
	k := Key{Subject: subject, Hash: params.Hash()}
	s := c.shard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.items[k]
	for i := range list {
		if list[i].params.Equal(params) {
			list[i].pred = pred
			return
		}
	}
	s.items[k] = append(list, entry{params: params.Clone(), pred: pred})
}

// Retain 只保留给定参数向量的条目（网格替换后调用）
func (c *Cache) Retain(points []types.ParameterVector) int {
	keep := make(map[uint64][]types.ParameterVector, len(points))
	for _, p := range points {
		h := p.Hash()
		keep[h] = append(keep[h], p)
	}
	removed := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, list := range s.items {
			kept := list[:0]
			for _, e := range list {
				if contains(keep[k.Hash], e.params) {
					kept = append(kept, e)
				} else {
					removed++
				}
			}
			if len(kept) == 0 {
				delete(s.items, k)
			} else {
				s.items[k] = kept
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func contains(list []types.ParameterVector, p types.ParameterVector) bool {
	for _, q := range list {
		if q.Equal(p) {
			return true
		}
	}
	return false
}

// Len 条目数
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		for _, list := range s.items {
			n += len(list)
		}
		s.mu.RUnlock()
	}
	return n
}
