package subscriber

import (
	"context"
	"fmt"
)

// Store persists subscribers. Implementations return copies, so callers may
// modify what they get.
type Store interface {
	List(ctx context.Context) ([]Preference, error)
	Get(ctx context.Context, userID int64) (Preference, error)
	Save(ctx context.Context, p Preference) error
	Delete(ctx context.Context, userID int64) error
	// SetNotified records that an expiry notice went out.
	SetNotified(ctx context.Context, userID int64, n Notice) error
	Close() error
}

// InRegions returns subscribers whose locations include any of regions.
func InRegions(ctx context.Context, s Store, regions []string) ([]Preference, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []Preference
	for _, p := range all {
		if p.InRegions(regions) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Open returns the store for backend: "file" (the default) reads path,
// "postgres" connects to dsn.
func Open(ctx context.Context, backend, path, dsn string) (Store, error) {
	switch backend {
	case "", "file":
		return OpenFile(path)
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("postgres subscriber backend needs a DSN")
		}
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown subscriber backend %q", backend)
}
