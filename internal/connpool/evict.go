package connpool

import (
	"context"
	"database/sql/driver"
	"sort"
	"time"
)

// validate tests c with the validation query, or with the driver's ping when
// no query is configured.
func (p *Pool) validate(ctx context.Context, c *conn) error {
	if c.bad {
		return driver.ErrBadConn
	}
	if p.cfg.ValidationQuery != "" {
		err := probe(ctx, c.raw, p.cfg.ValidationQuery)
		c.markBad(err)
		return err
	}
	if err := c.Ping(ctx); err != nil {
		return err
	}
	if !c.IsValid() {
		return driver.ErrBadConn
	}
	return nil
}

func (p *Pool) evictLoop() {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if n := p.Evict(context.Background()); n > 0 {
				p.logger.Debug().Int("evicted", n).Msg("evicted idle connections")
			}
		}
	}
}

// Evict runs one eviction pass over the idle connections, longest idle
// first, and returns how many were destroyed. At most TestsPerEvictionRun
// connections are examined; zero or less examines all of them.
func (p *Pool) Evict(ctx context.Context) int {
	idle := p.res.AcquireAllIdle()
	sort.Slice(idle, func(i, j int) bool {
		return idle[i].LastUsedNanotime() < idle[j].LastUsedNanotime()
	})

	limit := len(idle)
	if n := p.cfg.TestsPerEvictionRun; n > 0 && n < limit {
		limit = n
	}

	evicted := 0
	for i, r := range idle {
		if i >= limit {
			r.ReleaseUnused()
			continue
		}
		c := r.Value()
		switch {
		case p.cfg.MinEvictableIdle > 0 && r.IdleDuration() >= p.cfg.MinEvictableIdle:
			r.Destroy()
			evicted++
		case p.cfg.TestWhileIdle && p.validate(ctx, c) != nil:
			r.Destroy()
			evicted++
		default:
			r.ReleaseUnused()
		}
	}
	p.evicted.Add(int64(evicted))
	return evicted
}
