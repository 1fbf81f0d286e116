package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mesh-intelligence/depot/pkg/types"
)

// ErrNoWritableStore is returned when every store of a composite refused
// an add.
var ErrNoWritableStore = errors.New("no writable store")

// CompositeStore combines several stores in priority order. Reads consult
// every store; adds go to the first store that accepts them.
type CompositeStore struct {
	stores []Store
}

var _ Store = (*CompositeStore)(nil)

// NewComposite combines stores, highest priority first.
func NewComposite(stores ...Store) *CompositeStore {
	return &CompositeStore{stores: stores}
}

// Stores returns the underlying stores in priority order.
func (c *CompositeStore) Stores() []Store { return c.stores }

func (c *CompositeStore) ListAll() ([]types.ManifestDigest, error) {
	var all []types.ManifestDigest
	seen := make(map[string]bool)
	for _, s := range c.stores {
		digests, err := s.ListAll()
		if err != nil {
			return nil, err
		}
		for _, d := range digests {
			if key := d.String(); !seen[key] {
				seen[key] = true
				all = append(all, d)
			}
		}
	}
	return all, nil
}

func (c *CompositeStore) ListAllTemp() ([]string, error) {
	var all []string
	for _, s := range c.stores {
		temps, err := s.ListAllTemp()
		if err != nil {
			return nil, err
		}
		all = append(all, temps...)
	}
	return all, nil
}

func (c *CompositeStore) Contains(digest types.ManifestDigest) bool {
	for _, s := range c.stores {
		if s.Contains(digest) {
			return true
		}
	}
	return false
}

func (c *CompositeStore) GetPath(digest types.ManifestDigest) (string, bool) {
	for _, s := range c.stores {
		if p, ok := s.GetPath(digest); ok {
			return p, true
		}
	}
	return "", false
}

func (c *CompositeStore) AddDirectory(ctx context.Context, source string, digest types.ManifestDigest) (AddResult, error) {
	return c.addFirst(digest, func(s Store) (AddResult, error) {
		return s.AddDirectory(ctx, source, digest)
	})
}

func (c *CompositeStore) AddArchives(ctx context.Context, archives []ArchiveInfo, digest types.ManifestDigest) (AddResult, error) {
	return c.addFirst(digest, func(s Store) (AddResult, error) {
		return s.AddArchives(ctx, archives, digest)
	})
}

// addFirst tries each store in turn, moving on only when a store cannot be
// written to.
func (c *CompositeStore) addFirst(digest types.ManifestDigest, add func(Store) (AddResult, error)) (AddResult, error) {
	if p, ok := c.GetPath(digest); ok {
		return AddResult{Outcome: AddOutcomeAlreadyExists, Path: p}, nil
	}
	var errs []error
	for _, s := range c.stores {
		res, err := add(s)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, fs.ErrPermission) {
			return AddResult{}, err
		}
		errs = append(errs, err)
	}
	return AddResult{}, fmt.Errorf("%w: %w", ErrNoWritableStore, errors.Join(errs...))
}

// Remove deletes the entry from every store holding it.
func (c *CompositeStore) Remove(ctx context.Context, digest types.ManifestDigest) (bool, error) {
	removed := false
	for _, s := range c.stores {
		ok, err := s.Remove(ctx, digest)
		if err != nil {
			return removed, err
		}
		removed = removed || ok
	}
	return removed, nil
}

// Verify checks the entry in every store holding it.
func (c *CompositeStore) Verify(ctx context.Context, digest types.ManifestDigest) error {
	found := false
	for _, s := range c.stores {
		if !s.Contains(digest) {
			continue
		}
		found = true
		if err := s.Verify(ctx, digest); err != nil {
			return err
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", types.ErrImplementationNotFound, digest)
	}
	return nil
}

func (c *CompositeStore) Audit(ctx context.Context, progress func(Progress)) ([]*types.DigestMismatchError, error) {
	var all []*types.DigestMismatchError
	for _, s := range c.stores {
		mismatches, err := s.Audit(ctx, progress)
		all = append(all, mismatches...)
		if err != nil {
			return all, err
		}
	}
	return all, nil
}

func (c *CompositeStore) Optimise(ctx context.Context, progress func(Progress)) (int64, error) {
	var total int64
	for _, s := range c.stores {
		saved, err := s.Optimise(ctx, progress)
		total += saved
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c *CompositeStore) Purge(ctx context.Context) error {
	var errs []error
	for _, s := range c.stores {
		if err := s.Purge(ctx); err != nil {
			if types.IsCanceled(err) {
				return err
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
