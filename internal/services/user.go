package services

import (
	"context"
	"time"

	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/pixlabel/backend/pkg/response"
	"gorm.io/gorm"
)

// UserService is account administration plus the caller's own profile.
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

type UserListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size" binding:"max=100"`
	Username string `form:"username"`
	Role     string `form:"role"`
	IsActive *bool  `form:"is_active"`
}

type UserListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []models.User `json:"items"`
}

func (s *UserService) List(ctx context.Context, req *UserListRequest) (*UserListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.User{})
	if req.Username != "" {
		query = query.Where("username LIKE ?", "%"+req.Username+"%")
	}
	if req.Role != "" {
		query = query.Where("role = ?", req.Role)
	}
	if req.IsActive != nil {
		query = query.Where("is_active = ?", *req.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewSystemError("failed to count users", err)
	}
	var users []models.User
	if err := query.Order("id ASC").Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).Find(&users).Error; err != nil {
		return nil, response.NewSystemError("failed to list users", err)
	}
	return &UserListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: users}, nil
}

type UpdateUserRequest struct {
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
	Nickname *string `json:"nickname" binding:"omitempty,max=100"`
	Email    *string `json:"email" binding:"omitempty,max=200"`
}

// Update changes another user's account. Disabling an account also signs it out.
func (s *UserService) Update(ctx context.Context, caller Caller, id uint, req *UpdateUserRequest) (*models.User, error) {
	if id == caller.UserID {
		return nil, response.NewBadRequest("cannot modify your own account")
	}

	updates := make(map[string]interface{})
	if req.Role != nil {
		if *req.Role != models.RoleAdmin && *req.Role != models.RoleAnnotator {
			return nil, response.NewValidation("invalid role, must be 'admin' or 'annotator'")
		}
		updates["role"] = *req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.Nickname != nil {
		updates["nickname"] = *req.Nickname
	}
	if req.Email != nil {
		updates["email"] = *req.Email
	}
	if len(updates) == 0 {
		return nil, response.NewBadRequest("no fields to update")
	}

	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return asNotFound(err, "user not found", "failed to load user")
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return err
		}
		if req.IsActive != nil && !*req.IsActive {
			return revokeSessions(tx, id)
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to update user")
	}

	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, response.NewSystemError("failed to reload user", err)
	}
	logger.Info().Uint("user_id", id).Uint("by", caller.UserID).Msg("user updated")
	return &user, nil
}

// Delete soft-deletes an annotator. Admins and the caller's own account are refused.
// Uploaded images stay, their links keep working.
func (s *UserService) Delete(ctx context.Context, caller Caller, id uint) error {
	if id == caller.UserID {
		return response.NewForbidden("cannot delete your own account")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return asNotFound(err, "user not found", "failed to load user")
		}
		if user.IsAdmin() {
			return response.NewForbidden("cannot delete an admin account")
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.ProjectMember{}).Error; err != nil {
			return err
		}
		if err := revokeSessions(tx, id); err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
	if err != nil {
		return asAppError(err, "failed to delete user")
	}

	logger.Info().Uint("user_id", id).Uint("by", caller.UserID).Msg("user deleted")
	return nil
}

type UpdateProfileRequest struct {
	Nickname string `json:"nickname" binding:"max=100"`
	Email    string `json:"email" binding:"omitempty,email,max=200"`
}

// UpdateProfile lets any user edit their own display fields.
func (s *UserService) UpdateProfile(ctx context.Context, caller Caller, req *UpdateProfileRequest) (*models.User, error) {
	var user models.User
	db := s.db.WithContext(ctx)
	if err := db.First(&user, caller.UserID).Error; err != nil {
		return nil, asNotFound(err, "user not found", "failed to load user")
	}
	if err := db.Model(&user).Updates(map[string]interface{}{
		"nickname": req.Nickname,
		"email":    req.Email,
	}).Error; err != nil {
		return nil, response.NewSystemError("failed to update profile", err)
	}
	user.Nickname = req.Nickname
	user.Email = req.Email
	return &user, nil
}

func revokeSessions(tx *gorm.DB, userID uint) error {
	return tx.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", time.Now()).Error
}
