package alerts

import "time"

// SetClock replaces the Manager clock in tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }
