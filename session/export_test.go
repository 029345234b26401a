package session

// LockEntries reports how many session ids currently hold a lock entry.
func (m *Manager) LockEntries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
