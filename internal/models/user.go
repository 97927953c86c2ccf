package models

import (
	"net/url"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

const avatarBaseURL = "https://ui-avatars.com/api/?background=667eea&color=fff&name="

type User struct {
	ID           string    `json:"id" gorm:"type:char(27);primaryKey"`
	Name         string    `json:"name" gorm:"type:text;not null"`
	Email        string    `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	PasswordHash string    `json:"-" gorm:"type:text;not null"`
	Avatar       string    `json:"avatar" gorm:"type:text"`
	CreatedAt    time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate assigns the KSUID, normalizes the email and fills in a generated avatar
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = ksuid.New().String()
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	if u.Avatar == "" {
		u.Avatar = avatarBaseURL + url.QueryEscape(u.Name)
	}
	return nil
}

// PublicUser is the user shape returned by the API
type PublicUser struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Name: u.Name, Email: u.Email, Avatar: u.Avatar}
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Success bool       `json:"success"`
	Token   string     `json:"token"`
	User    PublicUser `json:"user"`
}
