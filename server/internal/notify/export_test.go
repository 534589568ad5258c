package notify

import "time"

func (p *CooldownPolicy) SetClock(now func() time.Time) { p.now = now }
