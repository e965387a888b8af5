package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Student represents a learner registered in the institution.
type Student struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"user_id"`
	RegNumber   string    `db:"reg_number" json:"reg_number"`
	FullName    string    `db:"full_name" json:"full_name"`
	Department  string    `db:"department" json:"department"`
	Year        int       `db:"year" json:"year"`
	Section     string    `db:"section" json:"section"`
	ParentPhone string    `db:"parent_phone" json:"parent_phone"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Snapshot copies the fields a request keeps for its own history.
func (s *Student) Snapshot() StudentSnapshot {
	return StudentSnapshot{
		Name:        s.FullName,
		RegNumber:   s.RegNumber,
		Year:        s.Year,
		Section:     s.Section,
		Department:  s.Department,
		ParentPhone: s.ParentPhone,
	}
}

// StudentSnapshot is the student's profile at the time a request was filed.
// It is persisted as JSONB and never rewritten.
type StudentSnapshot struct {
	Name        string `json:"name"`
	RegNumber   string `json:"reg_number"`
	Year        int    `json:"year"`
	Section     string `json:"section"`
	Department  string `json:"department"`
	ParentPhone string `json:"parent_phone"`
}

// Value marshals the snapshot to JSON for persistence.
func (s StudentSnapshot) Value() (driver.Value, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal student snapshot: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB into the snapshot.
func (s *StudentSnapshot) Scan(value interface{}) error {
	return scanJSON(value, s, "student snapshot")
}

func scanJSON(value interface{}, dest interface{}, label string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, label)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", label, err)
	}
	return nil
}
