package assign

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// DefaultReplicas 每个 bot 在哈希环上的虚拟节点数
// 虚拟节点用于摊平 bot 数量变化时的负载方差
const DefaultReplicas = 100

// Ring 一致性哈希环
// 频道按顺时针最近的虚拟节点归属到 bot
type Ring struct {
	vnodes []vnode // 按 hash 升序排列
}

type vnode struct {
	hash  uint64
	botID int
}

// NewRing 用给定的 bot 集合构建哈希环
func NewRing(botIDs []int, replicas int) *Ring {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}

	r := &Ring{vnodes: make([]vnode, 0, len(botIDs)*replicas)}
	for _, id := range botIDs {
		for i := 0; i < replicas; i++ {
			h := hashKey(fmt.Sprintf("bot-%d#%d", id, i))
			r.vnodes = append(r.vnodes, vnode{hash: h, botID: id})
		}
	}

	sort.Slice(r.vnodes, func(i, j int) bool {
		return r.vnodes[i].hash < r.vnodes[j].hash
	})

	return r
}

// Locate 返回频道顺时针方向最近的虚拟节点所属的 bot
func (r *Ring) Locate(channelID string) (int, bool) {
	if len(r.vnodes) == 0 {
		return 0, false
	}

	h := hashKey(channelID)
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].hash >= h
	})
	if idx == len(r.vnodes) {
		idx = 0 // 环回绕
	}
	return r.vnodes[idx].botID, true
}

func hashKey(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}
