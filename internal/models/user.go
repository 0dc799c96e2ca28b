package models

import (
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a directory record: an administrator or an evaluee known to the
// platform. The orchestrator treats these as read-only identity sources.
type User struct {
	ID               uint   `gorm:"primaryKey"`
	Email            string `gorm:"uniqueIndex;size:255;not null"`
	Password         string
	FirstName        string
	LastName         string
	IsAdmin          bool
	Active           bool `gorm:"default:true"`
	AccessRestricted bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
	return err == nil
}

// Eligible reports whether the user may be targeted by an assignment.
func (u *User) Eligible() bool {
	return u.Active && !u.AccessRestricted
}

func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}
