package roster

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"crattend/internal/localstore"
	"crattend/internal/model"
)

// Status describes where the current roster came from.
type Status string

const (
	StatusSynced      Status = "synced"
	StatusCached      Status = "cached-offline"
	StatusUnavailable Status = "unavailable"
)

// Message returns the user-facing sync banner for a status.
func (s Status) Message() string {
	switch s {
	case StatusSynced:
		return "Roster synced successfully"
	case StatusCached:
		return "Using cached roster (offline)"
	default:
		return "No roster available. Please sync online."
	}
}

// Fetcher retrieves a roster from the remote service.
type Fetcher interface {
	FetchRoster(ctx context.Context) (*model.Roster, error)
}

// Provider loads the roster remotely and falls back to the local cache.
type Provider struct {
	fetcher Fetcher
	cache   localstore.Scalars
	status  Status
}

// NewProvider creates a provider backed by fetcher and cache.
func NewProvider(fetcher Fetcher, cache localstore.Scalars) *Provider {
	return &Provider{fetcher: fetcher, cache: cache, status: StatusUnavailable}
}

// Status returns the outcome of the last Load.
func (p *Provider) Status() Status { return p.status }

// Load never fails: remote errors degrade to the cached roster or to nil.
func (p *Provider) Load(ctx context.Context) (*model.Roster, Status) {
	r, err := p.fetch(ctx)
	if err == nil {
		payload, merr := json.Marshal(r)
		if merr != nil {
			log.Printf("[ROSTER] warning: marshal cache: %v", merr)
		} else if serr := p.cache.Set(localstore.KeyRosterCache, string(payload)); serr != nil {
			log.Printf("[ROSTER] warning: write cache: %v", serr)
		}
		log.Printf("[ROSTER] fetched %s/%s with %d students", r.Course, r.Section, len(r.Students))
		p.status = StatusSynced
		return r, p.status
	}

	log.Printf("[ROSTER] cloud fetch failed, using cache: %v", err)
	cached, cerr := p.Cached()
	if cerr != nil {
		if !errors.Is(cerr, localstore.ErrNotFound) {
			log.Printf("[ROSTER] warning: read cache: %v", cerr)
		}
		p.status = StatusUnavailable
		return nil, p.status
	}
	p.status = StatusCached
	return cached, p.status
}

// Cached returns the last roster written to the cache.
func (p *Provider) Cached() (*model.Roster, error) {
	raw, err := p.cache.Get(localstore.KeyRosterCache)
	if err != nil {
		return nil, err
	}
	var r model.Roster
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Provider) fetch(ctx context.Context) (*model.Roster, error) {
	if p.fetcher == nil {
		return nil, errors.New("no roster source configured")
	}
	r, err := p.fetcher.FetchRoster(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, errors.New("empty roster reply")
	}
	if err := r.Usable(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		log.Printf("[ROSTER] warning: accepting incomplete roster: %v", err)
	}
	return r, nil
}
