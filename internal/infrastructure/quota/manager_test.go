package quota

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager() (*Manager, *clock) {
	c := &clock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	return NewManager(DefaultChains(), WithClock(c.Now)), c
}

func TestBestAvailableFollowsPreferenceChain(t *testing.T) {
	m, _ := newTestManager()

	if got := m.GetBestAvailableService(domain.TaskOCR); got != domain.ProviderGeminiOCR {
		t.Fatalf("expected gemini_ocr, got %s", got)
	}
	if got := m.GetBestAvailableService(domain.TaskCompliance, domain.ProviderGemini); got != domain.ProviderOllama {
		t.Fatalf("expected ollama after skipping gemini, got %s", got)
	}
	if got := m.GetBestAvailableService(domain.TaskCompliance, domain.ProviderGemini, domain.ProviderOllama); got != domain.ProviderRuleBased {
		t.Fatalf("expected rule_based fallback, got %s", got)
	}
	if got := m.GetBestAvailableService(domain.TaskOCR, domain.ProviderGeminiOCR, domain.ProviderLocalOCR); got != "" {
		t.Fatalf("expected exhausted chain, got %s", got)
	}
}

func TestQuotaExceededUsesRetryDelayHint(t *testing.T) {
	m, c := newTestManager()
	err := errors.New(`googleapi: Error 429: RESOURCE_EXHAUSTED, details: [{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "37s"}]`)

	resetAt := m.HandleQuotaExceeded(domain.ProviderGeminiOCR, err)
	if want := c.Now().Add(37 * time.Second); !resetAt.Equal(want) {
		t.Fatalf("expected reset at %s, got %s", want, resetAt)
	}
	if m.IsServiceAvailable(domain.ProviderGeminiOCR) {
		t.Fatalf("expected gemini_ocr unavailable")
	}
	if got := m.GetBestAvailableService(domain.TaskOCR); got != domain.ProviderLocalOCR {
		t.Fatalf("expected local_ocr, got %s", got)
	}

	if m.ShouldRetryService(domain.ProviderGeminiOCR) {
		t.Fatalf("expected no retry before reset time")
	}
	c.Advance(38 * time.Second)
	if !m.ShouldRetryService(domain.ProviderGeminiOCR) {
		t.Fatalf("expected retry after reset time")
	}
	if got := m.GetBestAvailableService(domain.TaskOCR); got != domain.ProviderGeminiOCR {
		t.Fatalf("expected gemini_ocr restored, got %s", got)
	}
}

func TestQuotaExceededDefaultsToDayCooldown(t *testing.T) {
	m, c := newTestManager()

	resetAt := m.HandleQuotaExceeded(domain.ProviderGemini, errors.New("quota exceeded"))
	if want := c.Now().Add(24 * time.Hour); !resetAt.Equal(want) {
		t.Fatalf("expected 24h cooldown, got %s", resetAt.Sub(c.Now()))
	}
	c.Advance(23 * time.Hour)
	if m.ShouldRetryService(domain.ProviderGemini) {
		t.Fatalf("expected provider still cooling down")
	}
}

func TestFallbackProviderIsNeverSwitchedOff(t *testing.T) {
	m, _ := newTestManager()

	m.HandleQuotaExceeded(domain.ProviderRuleBased, errors.New("quota"))
	if !m.IsServiceAvailable(domain.ProviderRuleBased) {
		t.Fatalf("fallback must stay available")
	}
}

func TestSelectionDoesNotMutateState(t *testing.T) {
	m, c := newTestManager()
	m.HandleQuotaExceeded(domain.ProviderGeminiOCR, errors.New(`"retryDelay": "5s"`))
	c.Advance(time.Minute)

	if got := m.GetBestAvailableService(domain.TaskOCR); got != domain.ProviderLocalOCR {
		t.Fatalf("selection must not restore providers, got %s", got)
	}
}

func TestResetAndSuccessRestoreProvider(t *testing.T) {
	var changes []string
	c := &clock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	m := NewManager(DefaultChains(), WithClock(c.Now), WithObserver(func(p domain.Provider, available bool) {
		state := "down"
		if available {
			state = "up"
		}
		changes = append(changes, string(p)+":"+state)
	}))

	m.HandleQuotaExceeded(domain.ProviderOllama, errors.New("429 too many requests"))
	m.ResetServiceQuota(domain.ProviderOllama)
	if !m.IsServiceAvailable(domain.ProviderOllama) {
		t.Fatalf("expected ollama available after reset")
	}
	m.HandleQuotaExceeded(domain.ProviderGemini, errors.New("quota"))
	m.RecordSuccess(domain.ProviderGemini)

	want := []string{"ollama:down", "ollama:up", "gemini:down", "gemini:up"}
	if len(changes) != len(want) {
		t.Fatalf("expected changes %v, got %v", want, changes)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Fatalf("expected changes %v, got %v", want, changes)
		}
	}
}

func TestStatusSnapshot(t *testing.T) {
	m, _ := newTestManager()
	m.HandleQuotaExceeded(domain.ProviderGemini, errors.New("quota exceeded"))
	m.RecordSuccess(domain.ProviderOllama)

	status := m.Status()
	if len(status) != 5 {
		t.Fatalf("expected 5 providers, got %d", len(status))
	}
	byProvider := map[domain.Provider]domain.ProviderQuota{}
	for _, q := range status {
		byProvider[q.Provider] = q
	}
	gemini := byProvider[domain.ProviderGemini]
	if gemini.Available || gemini.ResetAt == nil || gemini.FailureCount != 1 || gemini.LastError == "" {
		t.Fatalf("unexpected gemini snapshot: %+v", gemini)
	}
	if byProvider[domain.ProviderOllama].LastSuccess == nil {
		t.Fatalf("expected ollama last success")
	}
}

func TestRetryDelayParsing(t *testing.T) {
	cases := []struct {
		msg  string
		want time.Duration
	}{
		{`"retryDelay": "37s"`, 37 * time.Second},
		{`retryDelay:"1.5s"`, 1500 * time.Millisecond},
		{`retryDelay = 0s`, time.Hour},
		{`no hint`, time.Hour},
	}
	for _, tc := range cases {
		if got := retryDelay(errors.New(tc.msg), time.Hour); got != tc.want {
			t.Fatalf("retryDelay(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}
