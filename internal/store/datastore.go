package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/datastore"

	"goalsync/api/internal/util"
)

const goalKind = "Goal"

// goalEntity is the Datastore shape of a goal: indexed scalar columns for equality
// queries plus the full document as an unindexed JSON blob. Datastore cannot hold the
// nested metric lists inside key results as native properties.
type goalEntity struct {
	OrganizationID string
	Timeframe      string
	CalendarWeek   int
	Year           int
	ParentGoalID   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Doc            []byte `datastore:",noindex"`
}

// DatastoreStore implements GoalStore on Google Cloud Datastore.
type DatastoreStore struct {
	client *datastore.Client
	logger *slog.Logger
}

func NewDatastoreStore(logger *slog.Logger, client *datastore.Client) *DatastoreStore {
	return &DatastoreStore{client: client, logger: logger}
}

func OpenDatastore(ctx context.Context, logger *slog.Logger, projectID, databaseID string) (*DatastoreStore, error) {
	var (
		client *datastore.Client
		err    error
	)
	if databaseID != "" {
		client, err = datastore.NewClientWithDatabase(ctx, projectID, databaseID)
	} else {
		client, err = datastore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("datastore client: %w", err)
	}
	return NewDatastoreStore(logger, client), nil
}

func (s *DatastoreStore) goalKey(id string) *datastore.Key {
	return datastore.NameKey(goalKind, id, nil)
}

func (s *DatastoreStore) InsertGoal(ctx context.Context, goal Goal) (string, error) {
	goal.ID = util.NewID("goal")
	entity, err := toEntity(goal)
	if err != nil {
		return "", err
	}
	if _, err := s.client.Put(ctx, s.goalKey(goal.ID), entity); err != nil {
		return "", fmt.Errorf("failed to put goal: %w", err)
	}
	return goal.ID, nil
}

func (s *DatastoreStore) ReplaceGoal(ctx context.Context, goal Goal) error {
	key := s.goalKey(goal.ID)
	entity, err := toEntity(goal)
	if err != nil {
		return err
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing goalEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get existing goal: %w", err)
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to replace goal: %w", err)
	}
	return nil
}

func (s *DatastoreStore) ReplaceGoalIfStatus(ctx context.Context, goal Goal, expected Status) error {
	key := s.goalKey(goal.ID)
	entity, err := toEntity(goal)
	if err != nil {
		return err
	}
	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing goalEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get existing goal: %w", err)
		}
		current, err := decodeGoal(goal.ID, existing.Doc)
		if err != nil {
			return err
		}
		if current.Status != expected {
			return ErrStatusMismatch
		}
		_, err = tx.Put(key, entity)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrStatusMismatch):
		return ErrStatusMismatch
	default:
		return fmt.Errorf("failed to replace goal: %w", err)
	}
}

func (s *DatastoreStore) DeleteGoal(ctx context.Context, id string) error {
	key := s.goalKey(id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing goalEntity
		if err := tx.Get(key, &existing); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return ErrNotFound
			}
			return err
		}
		return tx.Delete(key)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete goal: %w", err)
	}
	return nil
}

func (s *DatastoreStore) GetGoal(ctx context.Context, id string) (Goal, error) {
	var entity goalEntity
	err := s.client.Get(ctx, s.goalKey(id), &entity)
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return Goal{}, ErrNotFound
	}
	if err != nil {
		return Goal{}, fmt.Errorf("failed to get goal: %w", err)
	}
	return decodeGoal(id, entity.Doc)
}

func (s *DatastoreStore) FindGoals(ctx context.Context, filter Filter) ([]Goal, error) {
	q := datastore.NewQuery(goalKind)
	if filter.OrganizationID != "" {
		q = q.Filter("OrganizationID =", filter.OrganizationID)
	}
	if filter.Timeframe != "" {
		q = q.Filter("Timeframe =", string(filter.Timeframe))
	}
	if filter.CalendarWeek != nil {
		q = q.Filter("CalendarWeek =", *filter.CalendarWeek)
	}
	if filter.Year != nil {
		q = q.Filter("Year =", *filter.Year)
	}
	if filter.ParentGoalID != "" {
		q = q.Filter("ParentGoalID =", filter.ParentGoalID)
	}

	var entities []goalEntity
	keys, err := s.client.GetAll(ctx, q, &entities)
	if err != nil {
		return nil, fmt.Errorf("failed to query goals: %w", err)
	}

	goals := make([]Goal, 0, len(entities))
	for i, entity := range entities {
		goal, err := decodeGoal(keys[i].Name, entity.Doc)
		if err != nil {
			s.logger.Error("stored goal is not decodable", "id", keys[i].Name, "error", err)
			return nil, err
		}
		goals = append(goals, goal)
	}
	return goals, nil
}

func (s *DatastoreStore) Ping(ctx context.Context) error {
	q := datastore.NewQuery(goalKind).KeysOnly().Limit(1)
	_, err := s.client.GetAll(ctx, q, nil)
	return err
}

func (s *DatastoreStore) Close() error {
	return s.client.Close()
}

func toEntity(goal Goal) (*goalEntity, error) {
	doc, err := json.Marshal(goal)
	if err != nil {
		return nil, fmt.Errorf("encode goal: %w", err)
	}
	entity := &goalEntity{
		OrganizationID: goal.OrganizationID,
		Timeframe:      string(goal.Timeframe),
		ParentGoalID:   goal.ParentGoalID,
		CreatedAt:      goal.CreatedAt,
		UpdatedAt:      goal.UpdatedAt,
		Doc:            doc,
	}
	if goal.CalendarWeek != nil {
		entity.CalendarWeek = *goal.CalendarWeek
	}
	if goal.Year != nil {
		entity.Year = *goal.Year
	}
	return entity, nil
}

var _ GoalStore = (*DatastoreStore)(nil)
