package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Objective represents a record in the public.objectives table
type Objective struct {
	ID         int       `gorm:"primaryKey;column:id"`
	CreatedAt  time.Time `gorm:"column:created_at;default:now()"`
	Instance   string    `gorm:"column:instance;not null"`
	Worker     int       `gorm:"column:worker;not null"`
	Path       string    `gorm:"column:path;not null"`
	Outcome    string    `gorm:"column:outcome;not null"`
	Executions uint64    `gorm:"column:executions"`
	Metric     Metric    `gorm:"column:metric;type:jsonb"`
}

func (Objective) TableName() string {
	return "objectives"
}

// Metric represents a jsonb field
type Metric map[string]any

// Value implements the driver.Valuer interface for the Metric type
func (m Metric) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for the Metric type
func (m *Metric) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(bytes, &m)
}
