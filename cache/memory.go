package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Memory is an in-process Backend bounded by size, with one TTL for all entries.
// The per-call ttl passed to Set is ignored.
type Memory struct {
	lru *expirable.LRU[string, any]
}

// NewMemory creates a memory backend holding at most size entries for ttl.
// A ttl of 0 disables expiry.
func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, any](size, nil, ttl)}
}

// Get implements Backend.
func (m *Memory) Get(_ context.Context, key string) (any, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

// Set implements Backend.
func (m *Memory) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.lru.Add(key, value)
	return nil
}

// Delete implements Backend.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	return m.lru.Len()
}
