package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"goalsync/api/internal/util"
)

var goalsBucket = []byte("goals")

// BoltStore keeps goal documents as JSON values keyed by id in a single bucket.
// Queries scan the bucket; the data set per deployment is small.
type BoltStore struct {
	db *bbolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(goalsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create goals bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func NewBoltStore(db *bbolt.DB) *BoltStore {
	return &BoltStore{db: db}
}

func (s *BoltStore) InsertGoal(ctx context.Context, goal Goal) (string, error) {
	goal.ID = util.NewID("goal")
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(goalsBucket)
		if err != nil {
			return err
		}
		data, err := json.Marshal(goal)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(goal.ID), data)
	})
	if err != nil {
		return "", fmt.Errorf("insert goal: %w", err)
	}
	return goal.ID, nil
}

func (s *BoltStore) ReplaceGoal(ctx context.Context, goal Goal) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(goalsBucket)
		if bucket == nil || bucket.Get([]byte(goal.ID)) == nil {
			return ErrNotFound
		}
		data, err := json.Marshal(goal)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(goal.ID), data)
	})
}

func (s *BoltStore) ReplaceGoalIfStatus(ctx context.Context, goal Goal, expected Status) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(goalsBucket)
		if bucket == nil {
			return ErrNotFound
		}
		val := bucket.Get([]byte(goal.ID))
		if val == nil {
			return ErrNotFound
		}
		var current Goal
		if err := json.Unmarshal(val, &current); err != nil {
			return err
		}
		if current.Status != expected {
			return ErrStatusMismatch
		}
		data, err := json.Marshal(goal)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(goal.ID), data)
	})
}

func (s *BoltStore) DeleteGoal(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(goalsBucket)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		return bucket.Delete([]byte(id))
	})
}

func (s *BoltStore) GetGoal(ctx context.Context, id string) (Goal, error) {
	var goal Goal
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(goalsBucket)
		if bucket == nil {
			return ErrNotFound
		}
		val := bucket.Get([]byte(id))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &goal)
	})
	return goal, err
}

func (s *BoltStore) FindGoals(ctx context.Context, filter Filter) ([]Goal, error) {
	goals := []Goal{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(goalsBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var goal Goal
			if err := json.Unmarshal(v, &goal); err != nil {
				return fmt.Errorf("decode goal %s: %w", k, err)
			}
			if filter.Match(goal) {
				goals = append(goals, goal)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return goals, nil
}

func (s *BoltStore) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ GoalStore = (*BoltStore)(nil)
