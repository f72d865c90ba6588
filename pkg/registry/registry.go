// Package registry manages the categories and entities obligations refer to.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ArionMiles/obligations/pkg/api"
)

// Service creates, lists and deletes categories and entities.
type Service struct {
	store  api.RegistryStore
	logger *slog.Logger
}

// New creates a new registry service.
func New(store api.RegistryStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger.With("component", "registry"),
	}
}

// NormalizeName is the comparison form of an entity name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func requireName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &api.ValidationError{Fields: map[string]string{"name": "required"}}
	}
	return name, nil
}

func (s *Service) CreateCategory(ctx context.Context, ownerID, name string) (*api.Category, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}

	c := &api.Category{OwnerID: ownerID, Name: name}
	id, err := s.store.InsertCategory(ctx, c)
	if err != nil {
		return nil, &api.PersistenceError{Op: "inserting category", Err: err}
	}
	c.ID = id

	s.logger.Info("category created", "owner_id", ownerID, "category_id", id)
	return c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, ownerID, id string) error {
	return deleteErr("deleting category", s.store.DeleteCategory(ctx, ownerID, id))
}

func (s *Service) ListCategories(ctx context.Context, ownerID string) ([]*api.Category, error) {
	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, &api.PersistenceError{Op: "listing categories", Err: err}
	}
	return cats, nil
}

// CreateEntity stores a counterparty along with its normalised name.
func (s *Service) CreateEntity(ctx context.Context, ownerID, name string) (*api.Entity, error) {
	name, err := requireName(name)
	if err != nil {
		return nil, err
	}

	e := &api.Entity{OwnerID: ownerID, Name: name, NormalizedName: NormalizeName(name)}
	id, err := s.store.InsertEntity(ctx, e)
	if err != nil {
		return nil, &api.PersistenceError{Op: "inserting entity", Err: err}
	}
	e.ID = id

	s.logger.Info("entity created", "owner_id", ownerID, "entity_id", id)
	return e, nil
}

func (s *Service) DeleteEntity(ctx context.Context, ownerID, id string) error {
	return deleteErr("deleting entity", s.store.DeleteEntity(ctx, ownerID, id))
}

func (s *Service) ListEntities(ctx context.Context, ownerID string) ([]*api.Entity, error) {
	entities, err := s.store.ListEntities(ctx, ownerID)
	if err != nil {
		return nil, &api.PersistenceError{Op: "listing entities", Err: err}
	}
	return entities, nil
}

func deleteErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, api.ErrNotFound):
		return fmt.Errorf("%s: %w", op, err)
	}
	return &api.PersistenceError{Op: op, Err: err}
}

// CheckReferences verifies that the category and entity ids, when set, name
// records of ownerID. Unknown ids are added to verr; other store failures are returned.
func CheckReferences(ctx context.Context, store api.RegistryStore, ownerID string, categoryID, entityID *string, verr *api.ValidationError) error {
	if categoryID != nil && *categoryID != "" {
		if _, err := store.GetCategory(ctx, ownerID, *categoryID); errors.Is(err, api.ErrNotFound) {
			verr.Add("category_id", "unknown category")
		} else if err != nil {
			return &api.PersistenceError{Op: "loading category", Err: err}
		}
	}
	if entityID != nil && *entityID != "" {
		if _, err := store.GetEntity(ctx, ownerID, *entityID); errors.Is(err, api.ErrNotFound) {
			verr.Add("entity_id", "unknown entity")
		} else if err != nil {
			return &api.PersistenceError{Op: "loading entity", Err: err}
		}
	}
	return nil
}
