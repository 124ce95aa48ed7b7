package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/pixlabel/backend/internal/config"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/utils"
	"github.com/pixlabel/backend/pkg/response"
	"gorm.io/gorm"
)

type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{db: db, jwtConfig: jwtCfg}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6,max=72"`
	Nickname string `json:"nickname" binding:"max=100"`
}

type LoginResult struct {
	AccessToken     string       `json:"token"`
	AccessExpireAt  time.Time    `json:"expire_at"`
	RefreshToken    string       `json:"refresh_token"`
	RefreshExpireAt time.Time    `json:"refresh_expire_at"`
	User            *models.User `json:"user"`
}

var errBadCredentials = response.NewUnauthorized("invalid username or password")

// Register creates an annotator account. Admins are only created by seeding or promotion.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, response.NewValidation("username is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, response.NewSystemError("failed to check username", err)
	}
	if count > 0 {
		return nil, response.NewConflict("username already taken")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, response.NewSystemError("failed to hash password", err)
	}
	nickname := req.Nickname
	if nickname == "" {
		nickname = username
	}
	user := &models.User{
		Username: username,
		Password: hash,
		Nickname: nickname,
		Role:     models.RoleAnnotator,
		IsActive: true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, response.NewSystemError("failed to create user", err)
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", req.Username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errBadCredentials
		}
		return nil, response.NewSystemError("failed to load user", err)
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, errBadCredentials
	}

	result, err := s.issue(ctx, &user, clientIP, userAgent, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user.LastLogin = &now
	s.db.WithContext(ctx).Model(&user).Update("last_login", now)
	return result, nil
}

// Refresh rotates a refresh token: the old one is revoked and linked to its replacement.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, clientIP, userAgent string) (*LoginResult, error) {
	if refreshToken == "" {
		return nil, response.NewUnauthorized("refresh token required")
	}

	var stored models.RefreshToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hashRefreshToken(refreshToken)).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("invalid refresh token")
		}
		return nil, response.NewSystemError("failed to load refresh token", err)
	}
	if !stored.Usable(time.Now()) {
		return nil, response.NewUnauthorized("refresh token expired or revoked")
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, stored.UserID).Error; err != nil {
		return nil, response.NewUnauthorized("user not found")
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	return s.issue(ctx, &user, clientIP, userAgent, &stored)
}

func (s *AuthService) issue(ctx context.Context, user *models.User, clientIP, userAgent string, replaces *models.RefreshToken) (*LoginResult, error) {
	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, response.NewSystemError("failed to sign token", err)
	}

	refreshToken, refreshHash, err := generateRefreshToken()
	if err != nil {
		return nil, response.NewSystemError("failed to generate refresh token", err)
	}

	now := time.Now()
	record := models.RefreshToken{
		UserID:      user.ID,
		TokenHash:   refreshHash,
		ExpiresAt:   now.Add(time.Duration(s.jwtConfig.RefreshExpireHour) * time.Hour),
		CreatedByIP: clientIP,
		UserAgent:   truncate(userAgent, 255),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if replaces == nil {
			return nil
		}
		return tx.Model(replaces).Updates(map[string]interface{}{
			"revoked_at":           now,
			"replaced_by_token_id": record.ID,
		}).Error
	})
	if err != nil {
		return nil, response.NewSystemError("failed to store refresh token", err)
	}

	return &LoginResult{
		AccessToken:     token,
		AccessExpireAt:  now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
		RefreshToken:    refreshToken,
		RefreshExpireAt: record.ExpiresAt,
		User:            user,
	}, nil
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", hashRefreshToken(refreshToken)).
		Update("revoked_at", time.Now()).Error
}

func generateRefreshToken() (token string, tokenHash string, err error) {
	buf := make([]byte, 32)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	token = hex.EncodeToString(buf)
	return token, hashRefreshToken(token), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *AuthService) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, asNotFound(err, "user not found", "failed to load user")
	}
	return &user, nil
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6,max=72"`
}

func (s *AuthService) ChangePassword(ctx context.Context, userID uint, req *ChangePasswordRequest) error {
	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewValidation("incorrect old password")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return response.NewSystemError("failed to hash password", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Update("password", hash).Error; err != nil {
			return err
		}
		// sign out other sessions
		return revokeSessions(tx, userID)
	})
	if err != nil {
		return response.NewSystemError("failed to change password", err)
	}
	return nil
}

type UserListItem struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

// ListUsers is used by admins to pick project members.
func (s *AuthService) ListUsers(ctx context.Context, keyword string) ([]UserListItem, error) {
	query := s.db.WithContext(ctx).Model(&models.User{}).Where("is_active = ?", true)
	if keyword != "" {
		query = query.Where("username LIKE ? OR nickname LIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}
	var items []UserListItem
	if err := query.Order("id").Limit(200).Find(&items).Error; err != nil {
		return nil, response.NewSystemError("failed to list users", err)
	}
	return items, nil
}
