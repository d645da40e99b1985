// Package queue executes persisted queue items against a target
// environment, one consumer per queue.
package queue

import (
	"fmt"
	"sync"
)

// Manager enforces the single-consumer rule: a queue name can be claimed
// by at most one worker at a time within a process.
type Manager struct {
	mu     sync.Mutex
	claims map[string]bool
}

func NewManager() *Manager {
	return &Manager{claims: make(map[string]bool)}
}

// Register claims a queue for a worker. A second claim on the same name
// fails until the first is released.
func (m *Manager) Register(queueName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claims[queueName] {
		return fmt.Errorf("queue %q already has a registered consumer", queueName)
	}
	m.claims[queueName] = true
	return nil
}

// Release frees a claimed queue.
func (m *Manager) Release(queueName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, queueName)
}
