package session

import (
	"time"

	"github.com/sirupsen/logrus"
)

// startCleanupGoroutine periodically closes idle sessions until the pool is closed.
func (p *Pool) startCleanupGoroutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-p.cleanupCtx.Done():
				return
			case <-ticker.C:
				p.sweep()
			}
		}
	}()
}

// sweep closes sessions idle longer than the idle timeout. Sessions that are
// lent out are skipped. Slots are kept so waiters never race a new slot.
func (p *Pool) sweep() {
	p.mu.Lock()
	owners := make(map[string]*slot, len(p.slots))
	for ownerID, sl := range p.slots {
		owners[ownerID] = sl
	}
	p.mu.Unlock()

	now := p.now()
	for ownerID, sl := range owners {
		select {
		case sl.sem <- struct{}{}:
		default:
			continue
		}

		if s := sl.session.Load(); s != nil && now.Sub(s.LastUsed()) > p.idleTimeout {
			s.close()
			sl.session.Store(nil)
			logrus.WithField("owner", ownerID).Debug("Pool: closed idle session")
		}
		<-sl.sem
	}
}
