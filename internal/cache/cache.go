package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/joseph-ayodele/nfse-extractor/internal/entity"
)

// Results maps document content hashes to extracted records. At most one
// computation per hash runs at a time; concurrent callers for the same hash
// share its outcome. Failed computations are never stored. Records are
// deep-copied on the way in and out, so callers may modify what they get.
type Results struct {
	lru   *expirable.LRU[string, entity.NFSe]
	group singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	shared atomic.Int64
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries int
	Hits    int64
	Misses  int64
	Shared  int64
}

// New creates a cache holding at most size records (0 = unbounded) that
// expire after ttl (0 = never).
func New(size int, ttl time.Duration) *Results {
	return &Results{lru: expirable.NewLRU[string, entity.NFSe](size, nil, ttl)}
}

// Lookup returns the record stored for hash.
func (r *Results) Lookup(hash string) (entity.NFSe, bool) {
	rec, ok := r.lru.Get(hash)
	if ok {
		r.hits.Add(1)
	} else {
		r.misses.Add(1)
		return entity.NFSe{}, false
	}
	return rec.Clone(), true
}

// Store records rec under hash.
func (r *Results) Store(hash string, rec entity.NFSe) {
	r.lru.Add(hash, rec.Clone())
}

type flight struct {
	rec    entity.NFSe
	cached bool
}

// Do returns the record for hash, computing it with fn on a miss. The
// computation is detached from ctx's cancellation so one caller giving up does
// not fail the others waiting on it; each caller still stops waiting when its
// own ctx is done. A panic in fn is returned to every waiter as an error.
// hit reports whether the record came from the cache.
func (r *Results) Do(ctx context.Context, hash string, fn func(context.Context) (entity.NFSe, error)) (rec entity.NFSe, hit bool, err error) {
	if rec, ok := r.Lookup(hash); ok {
		return rec, true, nil
	}

	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(hash, func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				v, err = nil, fmt.Errorf("extraction panicked: %v", p)
			}
		}()
		// a flight that finished between Lookup and DoChan already stored it
		if rec, ok := r.lru.Get(hash); ok {
			return flight{rec: rec, cached: true}, nil
		}
		rec, err := fn(detached)
		if err != nil {
			return nil, err
		}
		r.lru.Add(hash, rec.Clone())
		return flight{rec: rec}, nil
	})

	select {
	case <-ctx.Done():
		return entity.NFSe{}, false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			r.shared.Add(1)
		}
		if res.Err != nil {
			return entity.NFSe{}, false, res.Err
		}
		f := res.Val.(flight)
		// shared flights hand the same value to every waiter
		return f.rec.Clone(), f.cached, nil
	}
}

func (r *Results) Len() int { return r.lru.Len() }

func (r *Results) Purge() { r.lru.Purge() }

func (r *Results) Stats() Stats {
	return Stats{
		Entries: r.lru.Len(),
		Hits:    r.hits.Load(),
		Misses:  r.misses.Load(),
		Shared:  r.shared.Load(),
	}
}
