// Package ledger tracks how often each search credential has been used
// and hands out the least-used one, so load spreads evenly across a pool
// of rate-limited API keys. Counts are persisted in a [state.Store] and
// survive restarts.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nugget/relay/internal/state"
)

// Storage location of the usage record.
const (
	Namespace = "search_ledger"
	Key       = "usage"
)

// ErrNoCredentials is returned when the ledger has no credentials to
// hand out. Callers report search as unavailable rather than retrying.
var ErrNoCredentials = errors.New("no search credentials configured")

// ErrUnreadable is returned by RecordUse when the stored record could not
// be read and the use was therefore not persisted.
var ErrUnreadable = errors.New("credential usage record unreadable")

// Ledger selects credentials by least use. It is safe for concurrent
// use; Acquire serializes the whole read-select-increment-write cycle.
type Ledger struct {
	credentials []string
	store       state.Store
	logger      *slog.Logger

	mu sync.Mutex
}

// New returns a ledger over credentials. Blank and duplicate entries are
// dropped; the first occurrence of each credential fixes its position
// for tie-breaking.
func New(credentials []string, store state.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]bool, len(credentials))
	creds := make([]string, 0, len(credentials))
	for _, c := range credentials {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		creds = append(creds, c)
	}
	return &Ledger{credentials: creds, store: store, logger: logger}
}

// Len returns the number of configured credentials.
func (l *Ledger) Len() int { return len(l.credentials) }

// Select returns the credential with the smallest use count. Ties go to
// the credential listed first. Select does not record a use.
func (l *Ledger) Select(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.credentials) == 0 {
		return "", ErrNoCredentials
	}
	counts, _ := l.load(ctx)
	return l.leastUsed(counts), nil
}

// RecordUse increments the count for credential and persists the full
// record before returning. When the stored record cannot be read the
// increment is not persisted, so the stored counts never go backwards.
func (l *Ledger) RecordUse(ctx context.Context, credential string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts, ok := l.load(ctx)
	if !ok {
		return ErrUnreadable
	}
	counts[credential]++
	return l.save(ctx, counts)
}

// Acquire selects the least-used credential and records its use as one
// critical section, so concurrent searches never pick the same
// "least used" key from a stale count. A persistence failure is logged
// and the credential is still returned. An unreadable record is never
// overwritten.
func (l *Ledger) Acquire(ctx context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.credentials) == 0 {
		return "", ErrNoCredentials
	}

	counts, ok := l.load(ctx)
	cred := l.leastUsed(counts)
	counts[cred]++
	if !ok {
		l.logger.Warn("credential usage not recorded, stored record unreadable",
			"credential", Redact(cred),
		)
	} else if err := l.save(ctx, counts); err != nil {
		l.logger.Error("failed to persist credential usage",
			"credential", Redact(cred),
			"error", err,
		)
	}

	l.logger.Debug("search credential acquired",
		"credential", Redact(cred),
		"uses", counts[cred],
	)
	return cred, nil
}

// Counts returns a snapshot of the use count for every configured
// credential.
func (l *Ledger) Counts(ctx context.Context) map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts, _ := l.load(ctx)
	out := make(map[string]int, len(l.credentials))
	for _, c := range l.credentials {
		out[c] = counts[c]
	}
	return out
}

func (l *Ledger) leastUsed(counts map[string]int) string {
	best := l.credentials[0]
	for _, c := range l.credentials[1:] {
		if counts[c] < counts[best] {
			best = c
		}
	}
	return best
}

// load reads the persisted record and makes sure every configured
// credential has an entry. Entries for credentials no longer configured
// are kept so their history is not lost if they return. ok is false when
// the store could not be read; the zero counts returned then must not be
// saved. A corrupt record reads as zero with ok true and may be replaced.
func (l *Ledger) load(ctx context.Context) (counts map[string]int, ok bool) {
	counts = make(map[string]int, len(l.credentials))
	ok = true

	raw, err := l.store.Get(ctx, Namespace, Key)
	switch {
	case err != nil:
		l.logger.Error("failed to read credential usage, using zero counts", "error", err)
		ok = false
	case raw != "":
		if err := json.Unmarshal([]byte(raw), &counts); err != nil {
			l.logger.Error("corrupt credential usage record, using zero counts", "error", err)
			counts = make(map[string]int, len(l.credentials))
		}
	}

	for _, c := range l.credentials {
		counts[c] = max(counts[c], 0)
	}
	return counts, ok
}

func (l *Ledger) save(ctx context.Context, counts map[string]int) error {
	data, err := json.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshal usage: %w", err)
	}
	if err := l.store.Set(ctx, Namespace, Key, string(data)); err != nil {
		return fmt.Errorf("save usage: %w", err)
	}
	return nil
}

// redactMinLen is the shortest credential whose tail Redact reveals.
const redactMinLen = 12

// Redact returns the last four characters of a credential for logging.
// Short credentials are masked completely.
func Redact(credential string) string {
	if len(credential) < redactMinLen {
		return "****"
	}
	return "…" + credential[len(credential)-4:]
}
