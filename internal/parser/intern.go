package parser

import "sync"

// StringIntern deduplicates repeated cell values such as process ids, user
// names and thread ids, which recur on almost every line of a log.
type StringIntern struct {
	mu   sync.RWMutex
	pool map[string]string
}

// NewStringIntern creates a new string interner.
func NewStringIntern() *StringIntern {
	return &StringIntern{
		pool: make(map[string]string, 1024),
	}
}

// MaxInternPoolSize bounds the pool. Beyond it strings are returned as is.
const MaxInternPoolSize = 200000

// Intern returns the canonical copy of s.
func (si *StringIntern) Intern(s string) string {
	si.mu.RLock()
	if pooled, ok := si.pool[s]; ok {
		si.mu.RUnlock()
		return pooled
	}
	full := len(si.pool) >= MaxInternPoolSize
	si.mu.RUnlock()
	if full {
		return s
	}

	si.mu.Lock()
	defer si.mu.Unlock()
	if pooled, ok := si.pool[s]; ok {
		return pooled
	}
	if len(si.pool) >= MaxInternPoolSize {
		return s
	}
	si.pool[s] = s
	return s
}

// Len returns the number of unique strings in the pool.
func (si *StringIntern) Len() int {
	si.mu.RLock()
	defer si.mu.RUnlock()
	return len(si.pool)
}

// Clear removes all interned strings.
func (si *StringIntern) Clear() {
	si.mu.Lock()
	defer si.mu.Unlock()
	si.pool = make(map[string]string, 1024)
}
