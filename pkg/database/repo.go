package database

import (
	"context"
	"os"
	"time"

	"gorm.io/gorm"
)

// inserts multiple objective records into the database
func AddObjectives(ctx context.Context, db *gorm.DB, objectives []*Objective) error {
	if len(objectives) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(objectives).Error
}

// NewObjective creates a new Objective for this host
func NewObjective(
	worker int,
	path string,
	outcome string,
	executions uint64,
	metric Metric,
) *Objective {
	hostname, _ := os.Hostname()
	return &Objective{
		CreatedAt:  time.Now(),
		Instance:   hostname,
		Worker:     worker,
		Path:       path,
		Outcome:    outcome,
		Executions: executions,
		Metric:     metric,
	}
}
