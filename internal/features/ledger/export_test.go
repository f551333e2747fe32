package ledger

import "time"

// SetClock подменяет часы сервиса в тестах.
func (s *Service) SetClock(now func() time.Time) { s.now = now }
