package quota

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

const DefaultCooldown = 24 * time.Hour

// retryDelayPattern matches the hint Google APIs put in quota errors,
// e.g. "retryDelay": "37s" or retryDelay:"1.5s".
var retryDelayPattern = regexp.MustCompile(`retryDelay"?\s*[:=]\s*"?(\d+(?:\.\d+)?)s`)

// Chain is the ordered provider preference for one task. Fallback is used
// when every preferred provider is unavailable or skipped and is never
// switched off.
type Chain struct {
	Preferred []domain.Provider
	Fallback  domain.Provider
}

func DefaultChains() map[domain.AITask]Chain {
	return map[domain.AITask]Chain{
		domain.TaskOCR: {
			Preferred: []domain.Provider{domain.ProviderGeminiOCR},
			Fallback:  domain.ProviderLocalOCR,
		},
		domain.TaskCompliance: {
			Preferred: []domain.Provider{domain.ProviderGemini, domain.ProviderOllama},
			Fallback:  domain.ProviderRuleBased,
		},
	}
}

type providerState struct {
	available    bool
	resetAt      time.Time
	lastError    string
	failureCount int
	lastSuccess  time.Time
}

// Manager tracks provider availability in memory. It runs no timers;
// callers poll ShouldRetryService to bring providers back.
type Manager struct {
	mu       sync.Mutex
	chains   map[domain.AITask]Chain
	order    []domain.Provider
	state    map[domain.Provider]*providerState
	cooldown time.Duration
	now      func() time.Time
	onChange func(domain.Provider, bool)
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithCooldown(cooldown time.Duration) Option {
	return func(m *Manager) {
		if cooldown > 0 {
			m.cooldown = cooldown
		}
	}
}

// WithObserver is notified whenever a provider flips availability.
func WithObserver(onChange func(provider domain.Provider, available bool)) Option {
	return func(m *Manager) { m.onChange = onChange }
}

func NewManager(chains map[domain.AITask]Chain, opts ...Option) *Manager {
	m := &Manager{
		chains:   chains,
		state:    map[domain.Provider]*providerState{},
		cooldown: DefaultCooldown,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, task := range []domain.AITask{domain.TaskOCR, domain.TaskCompliance} {
		chain, ok := chains[task]
		if !ok {
			continue
		}
		for _, p := range append(append([]domain.Provider{}, chain.Preferred...), chain.Fallback) {
			if p == "" {
				continue
			}
			if _, seen := m.state[p]; !seen {
				m.state[p] = &providerState{available: true}
				m.order = append(m.order, p)
			}
		}
	}
	return m
}

func (m *Manager) IsServiceAvailable(provider domain.Provider) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[provider]
	return ok && st.available
}

// HandleQuotaExceeded switches the provider off until the provider's retry
// hint elapses, or for the default cooldown without one. Fallback providers
// stay on.
func (m *Manager) HandleQuotaExceeded(provider domain.Provider, err error) time.Time {
	m.mu.Lock()
	now := m.now()
	resetAt := now.Add(retryDelay(err, m.cooldown))
	st := m.ensure(provider)
	st.failureCount++
	if err != nil {
		st.lastError = err.Error()
	}
	if m.isFallback(provider) {
		m.mu.Unlock()
		return now
	}
	wasAvailable := st.available
	st.available = false
	st.resetAt = resetAt
	m.mu.Unlock()

	if wasAvailable {
		m.notify(provider, false)
	}
	return resetAt
}

func (m *Manager) RecordSuccess(provider domain.Provider) {
	m.mu.Lock()
	st := m.ensure(provider)
	wasAvailable := st.available
	st.available = true
	st.resetAt = time.Time{}
	st.lastError = ""
	st.failureCount = 0
	st.lastSuccess = m.now()
	m.mu.Unlock()

	if !wasAvailable {
		m.notify(provider, true)
	}
}

// GetBestAvailableService returns the first available preferred provider
// not in skip, then the fallback unless skipped. It returns "" when the
// chain is exhausted. It never changes state.
func (m *Manager) GetBestAvailableService(task domain.AITask, skip ...domain.Provider) domain.Provider {
	m.mu.Lock()
	defer m.mu.Unlock()

	chain, ok := m.chains[task]
	if !ok {
		return ""
	}
	for _, p := range chain.Preferred {
		if contains(skip, p) {
			continue
		}
		if st, ok := m.state[p]; ok && st.available {
			return p
		}
	}
	if chain.Fallback != "" && !contains(skip, chain.Fallback) {
		return chain.Fallback
	}
	return ""
}

// ShouldRetryService reports whether the provider may be used again and
// restores it once its reset time has passed.
func (m *Manager) ShouldRetryService(provider domain.Provider) bool {
	m.mu.Lock()
	st, ok := m.state[provider]
	if !ok {
		m.mu.Unlock()
		return false
	}
	if st.available {
		m.mu.Unlock()
		return true
	}
	if m.now().Before(st.resetAt) {
		m.mu.Unlock()
		return false
	}
	st.available = true
	st.resetAt = time.Time{}
	m.mu.Unlock()

	m.notify(provider, true)
	return true
}

func (m *Manager) ResetServiceQuota(provider domain.Provider) {
	m.mu.Lock()
	st := m.ensure(provider)
	wasAvailable := st.available
	st.available = true
	st.resetAt = time.Time{}
	st.lastError = ""
	st.failureCount = 0
	m.mu.Unlock()

	if !wasAvailable {
		m.notify(provider, true)
	}
}

func (m *Manager) Status() []domain.ProviderQuota {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.ProviderQuota, 0, len(m.order))
	for _, p := range m.order {
		st := m.state[p]
		q := domain.ProviderQuota{
			Provider:     p,
			Available:    st.available,
			LastError:    st.lastError,
			FailureCount: st.failureCount,
		}
		if !st.resetAt.IsZero() {
			resetAt := st.resetAt
			q.ResetAt = &resetAt
		}
		if !st.lastSuccess.IsZero() {
			lastSuccess := st.lastSuccess
			q.LastSuccess = &lastSuccess
		}
		out = append(out, q)
	}
	return out
}

func (m *Manager) ensure(provider domain.Provider) *providerState {
	st, ok := m.state[provider]
	if !ok {
		st = &providerState{available: true}
		m.state[provider] = st
		m.order = append(m.order, provider)
	}
	return st
}

func (m *Manager) isFallback(provider domain.Provider) bool {
	for _, chain := range m.chains {
		if chain.Fallback == provider {
			return true
		}
	}
	return false
}

func (m *Manager) notify(provider domain.Provider, available bool) {
	if m.onChange != nil {
		m.onChange(provider, available)
	}
}

func retryDelay(err error, fallback time.Duration) time.Duration {
	if err == nil {
		return fallback
	}
	match := retryDelayPattern.FindStringSubmatch(err.Error())
	if len(match) != 2 {
		return fallback
	}
	seconds, perr := strconv.ParseFloat(match[1], 64)
	if perr != nil || seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds * float64(time.Second))
}

func contains(list []domain.Provider, p domain.Provider) bool {
	for _, candidate := range list {
		if candidate == p {
			return true
		}
	}
	return false
}
