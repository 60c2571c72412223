package repo

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmorcellet/delta-downloads/internal/data"
)

type InMemoryDownloadRepo struct {
	mu        sync.RWMutex
	downloads data.Downloads
	// fingerprints maps a live fingerprint to its download id.
	fingerprints map[string]string
}

var _ DownloadRepo = (*InMemoryDownloadRepo)(nil)

func NewInMemoryDownloadRepo() *InMemoryDownloadRepo {
	return &InMemoryDownloadRepo{
		downloads:    make(data.Downloads, 0),
		fingerprints: make(map[string]string),
	}
}

func (r *InMemoryDownloadRepo) Ping(ctx context.Context) error { return nil }

func (r *InMemoryDownloadRepo) List(ctx context.Context) (data.Downloads, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.downloads.Clone(), nil
}

func (r *InMemoryDownloadRepo) Get(ctx context.Context, id string) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) GetByFingerprint(ctx context.Context, fprint string) (*data.Download, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.fingerprints[fprint]
	if !ok {
		return nil, data.ErrNotFound
	}
	dl, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	return dl.Clone(), nil
}

func (r *InMemoryDownloadRepo) Add(ctx context.Context, d *data.Download) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insert(d)
}

func (r *InMemoryDownloadRepo) AddWithFingerprint(ctx context.Context, d *data.Download, fprint string) (*data.Download, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.fingerprints[fprint]; ok {
		if existing, err := r.findByID(id); err == nil {
			return existing.Clone(), false, nil
		}
	}
	dl, err := r.insert(d)
	if err != nil {
		return nil, false, err
	}
	if !dl.State.Terminal() {
		r.fingerprints[fprint] = dl.ID
	}
	return dl, true, nil
}

func (r *InMemoryDownloadRepo) insert(d *data.Download) (*data.Download, error) {
	c := d.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	} else if _, err := r.findByID(c.ID); err == nil {
		return nil, data.ErrConflict
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	r.downloads = append(r.downloads, c)
	return c.Clone(), nil
}

func (r *InMemoryDownloadRepo) Update(ctx context.Context, id string, mutate func(*data.Download) error) (*data.Download, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, err := r.findByID(id)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	// identity fields are immutable
	next.ID, next.URL, next.Target, next.CreatedAt = cur.ID, cur.URL, cur.Target, cur.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	*cur = *next
	if cur.State.Terminal() {
		for k, v := range r.fingerprints {
			if v == id {
				delete(r.fingerprints, k)
			}
		}
	}
	return cur.Clone(), nil
}

func (r *InMemoryDownloadRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, dl := range r.downloads {
		if dl.ID == id {
			r.downloads = append(r.downloads[:i], r.downloads[i+1:]...)
			for k, v := range r.fingerprints {
				if v == id {
					delete(r.fingerprints, k)
				}
			}
			return nil
		}
	}
	return data.ErrNotFound
}

func (r *InMemoryDownloadRepo) findByID(id string) (*data.Download, error) {
	for _, dl := range r.downloads {
		if dl.ID == id {
			return dl, nil
		}
	}
	return nil, data.ErrNotFound
}
