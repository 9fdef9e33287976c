package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter rate-limits inbound requests per dApp domain.
type DomainLimiter struct {
	domains map[string]*domainEntry
	mu      sync.Mutex
	rps     rate.Limit
	burst   int
	enabled bool
}

type domainEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewDomainLimiter creates a per-domain rate limiter.
func NewDomainLimiter(rps int, burst int, enabled bool) *DomainLimiter {
	dl := &DomainLimiter{
		domains: make(map[string]*domainEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		enabled: enabled,
	}

	if enabled {
		go dl.cleanup()
	}

	return dl
}

// Allow reports whether a request from domain may proceed now.
func (dl *DomainLimiter) Allow(domain string) bool {
	if !dl.enabled {
		return true
	}
	return dl.getEntry(domain).Allow()
}

func (dl *DomainLimiter) getEntry(domain string) *rate.Limiter {
	dl.mu.Lock()
	defer dl.mu.Unlock()

	entry, exists := dl.domains[domain]
	if !exists {
		limiter := rate.NewLimiter(dl.rps, dl.burst)
		dl.domains[domain] = &domainEntry{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanup removes stale entries every minute.
func (dl *DomainLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)

		dl.mu.Lock()
		for domain, entry := range dl.domains {
			if time.Since(entry.lastSeen) > 3*time.Minute {
				delete(dl.domains, domain)
			}
		}
		dl.mu.Unlock()
	}
}
