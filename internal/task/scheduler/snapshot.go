package scheduler

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	c := s.c
	entries := make([]entryDef, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	items := make([]ScheduleInfo, 0, len(entries))
	for _, d := range entries {
		it := ScheduleInfo{Name: d.name, Spec: d.spec}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		items = append(items, it)
	}

	s.lastMu.Lock()
	last := s.last
	s.lastMu.Unlock()

	return Snapshot{
		Enabled:          cfg.Enabled,
		Running:          c != nil,
		Paused:           cfg.Paused,
		Tick:             cfg.tick(),
		Offset:           cfg.Offset,
		TaskTimeout:      cfg.TaskTimeout,
		CheckUpdateEvery: cfg.CheckUpdateEvery,
		Ticks:            s.ticks.Load(),
		Skipped:          s.skipped.Load(),
		Last:             last,
		Schedules:        items,
	}
}
