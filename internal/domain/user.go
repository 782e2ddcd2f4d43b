package domain

import "time"

// User is the principal projection read by this service; accounts are managed by the auth service.
type User struct {
	ID         uint      `gorm:"column:id;primaryKey" json:"id"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	Email      string    `gorm:"column:email;uniqueIndex;not null" json:"email"`
	Role       string    `gorm:"column:role;not null" json:"role"`
	AdvisoryID *uint     `gorm:"column:advisory_id;index" json:"advisory_id"`
	Advisory   *Advisory `gorm:"foreignKey:AdvisoryID" json:"advisory,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
