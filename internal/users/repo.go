package users

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("users: not found")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// EnsureSeen upserts the user from an authenticated request and refreshes
// last_active. Status is never touched here; a blocked user stays blocked.
func (r *Repo) EnsureSeen(ctx context.Context, id, name, email, role string) error {
	now := time.Now().UTC()
	u := User{
		ID:         id,
		Name:       name,
		Email:      email,
		Role:       role,
		Status:     StatusActive,
		CreatedAt:  now,
		LastActive: now,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "role", "last_active"}),
		}).
		Create(&u).Error
}

func (r *Repo) Get(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// List returns users most recently active first.
func (r *Repo) List(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []User
	if err := r.db.WithContext(ctx).
		Order("last_active DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetStatus blocks or unblocks a user.
func (r *Repo) SetStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).Model(&User{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
