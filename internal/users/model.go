package users

import (
	"strings"
	"time"
)

// User is the relational user row maintained by the identity sync. The note
// sync only reads it to enforce creator and author references.
type User struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Email     string    `gorm:"column:email"`
	Name      string    `gorm:"column:name"`
	CreatedAt time.Time `gorm:"column:createdAt;autoCreateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "User"
}

// Label renders the most readable identity available for log lines.
func (u User) Label() string {
	name := normalize(u.Name)
	email := normalize(u.Email)
	switch {
	case name != "" && email != "":
		return name + " <" + email + ">"
	case email != "":
		return email
	case name != "":
		return name
	default:
		return u.ID
	}
}

// normalize value helper used across service implementation.
func normalize(value string) string {
	return strings.TrimSpace(value)
}
