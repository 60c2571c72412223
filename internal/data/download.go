package data

import (
	"encoding/json"
	"errors"
	"io"
	"time"
)

// Download is the persisted and serialised view of a task.
type Download struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Target       string    `json:"target"`
	State        State     `json:"state"`
	DesiredState State     `json:"desiredState,omitempty"`
	ExpectedSize *int64    `json:"expectedSize,omitempty"`
	DoneSize     int64     `json:"doneSize"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Downloads []*Download

var (
	ErrNotFound   = errors.New("download not found")
	ErrBadState   = errors.New("invalid state")
	ErrInvalidURL = errors.New("url must be an absolute http(s) URL")
	ErrTarget     = errors.New("target is required")
	ErrConflict   = errors.New("download conflicts with an existing one")
)

func (d *Downloads) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Download) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

func (d *Download) FromJSON(r io.Reader) error { return json.NewDecoder(r).Decode(d) }

// Clone returns a deep copy.
func (d *Download) Clone() *Download {
	if d == nil {
		return nil
	}
	c := *d
	if d.ExpectedSize != nil {
		n := *d.ExpectedSize
		c.ExpectedSize = &n
	}
	return &c
}

// Clone returns a deep copy of the list.
func (ds Downloads) Clone() Downloads {
	out := make(Downloads, len(ds))
	for i, d := range ds {
		out[i] = d.Clone()
	}
	return out
}
