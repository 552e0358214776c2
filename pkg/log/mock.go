// SPDX-License-Identifier: GPL-2.0-or-later

package log

import "sync"

// MockLogger stores entries in memory, used for testing.
type MockLogger struct {
	entries []Entry
	mu      sync.Mutex
}

// NewMockLogger used for testing.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Log implements ILogger.
func (m *MockLogger) Log(entry Entry) {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
}

// Entries returns a copy of the logged entries with time cleared.
func (m *MockLogger) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]Entry, len(m.entries))
	for i, e := range m.entries {
		e.Time = 0
		entries[i] = e
	}
	return entries
}
