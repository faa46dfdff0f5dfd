package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Entry 链中的一个提供者及其单次尝试超时。
// Timeout 为零时使用策略默认值。
type Entry struct {
	Provider Provider
	Timeout  time.Duration
}

// Chain 有序提供者链。初始化后只读。
type Chain struct {
	entries []Entry
	version string
}

// NewChain 构建提供者链。顺序即尝试顺序。
func NewChain(entries ...Entry) *Chain {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Provider.Name())
	}
	sum := sha256.Sum256([]byte(strings.Join(names, ",")))
	return &Chain{
		entries: entries,
		version: hex.EncodeToString(sum[:8]),
	}
}

// Entries 返回链条目的副本。
func (c *Chain) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len 返回链长度。
func (c *Chain) Len() int {
	return len(c.entries)
}

// Version 返回链的内容摘要，用于缓存键隔离。
func (c *Chain) Version() string {
	return c.version
}
