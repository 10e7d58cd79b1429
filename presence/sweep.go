package presence

import "time"

// SweepStats 一次清扫的结果
type SweepStats struct {
	Expiring int
	Removed  int
	Unlinked int
}

// Sweeper 定期清扫：静默超过 timeout 变为 expiring，超过 2*timeout 移除；
// near 状态超过 timeout 未被重申则强制回到 far，防止丢失 Faraway 后连线永远残留
type Sweeper struct {
	table   *Table
	timeout time.Duration
}

func NewSweeper(table *Table, timeout time.Duration) *Sweeper {
	return &Sweeper{table: table, timeout: timeout}
}

// Sweep 对所有非本地实体执行一次检查
func (s *Sweeper) Sweep(now time.Time) SweepStats {
	var stats SweepStats
	t := s.table
	for id, rec := range t.records {
		if id == t.localID || rec.State == Removed {
			continue
		}
		silence := now.Sub(rec.LastSeen)
		switch {
		case rec.State == Expiring && silence > 2*s.timeout:
			t.remove(rec, now)
			stats.Removed++
			continue
		case rec.State == Active && silence > s.timeout:
			rec.State = Expiring
			t.anim.Dim(id, now)
			stats.Expiring++
		}
		if rec.Proximity == Near && now.Sub(rec.ProximitySince) > s.timeout {
			rec.Proximity = Far
			rec.ProximitySince = now
			t.anim.Link(id, false, now)
			stats.Unlinked++
		}
	}
	return stats
}
