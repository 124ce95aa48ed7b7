package services

import (
	"context"
	"errors"

	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/response"
	"gorm.io/gorm"
)

// Caller is the authenticated identity an operation runs as.
type Caller struct {
	UserID uint
	Role   string
}

func (c Caller) IsAdmin() bool { return c.Role == models.RoleAdmin }

// ProjectAccess answers who may read or manage an annotation project.
type ProjectAccess struct {
	db *gorm.DB
}

func NewProjectAccess(db *gorm.DB) *ProjectAccess {
	return &ProjectAccess{db: db}
}

// CanManage: creator or admin.
func (a *ProjectAccess) CanManage(caller Caller, project *models.AnnotationProject) bool {
	return project.CreatorID == caller.UserID || caller.IsAdmin()
}

// CanAccess: creator, admin or member.
func (a *ProjectAccess) CanAccess(ctx context.Context, caller Caller, project *models.AnnotationProject) (bool, error) {
	if a.CanManage(caller, project) {
		return true, nil
	}
	var count int64
	err := a.db.WithContext(ctx).Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", project.ID, caller.UserID).
		Count(&count).Error
	if err != nil {
		return false, response.NewSystemError("failed to check project membership", err)
	}
	return count > 0, nil
}

func (a *ProjectAccess) load(ctx context.Context, projectID uint) (*models.AnnotationProject, error) {
	var project models.AnnotationProject
	if err := a.db.WithContext(ctx).First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewNotFound("project not found")
		}
		return nil, response.NewSystemError("failed to load project", err)
	}
	return &project, nil
}

// RequireAccess loads the project and fails with Forbidden unless the caller may read it.
func (a *ProjectAccess) RequireAccess(ctx context.Context, caller Caller, projectID uint) (*models.AnnotationProject, error) {
	project, err := a.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ok, err := a.CanAccess(ctx, caller, project)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, response.NewForbidden("no access to this project")
	}
	return project, nil
}

// RequireManage loads the project and fails with Forbidden unless the caller may manage it.
func (a *ProjectAccess) RequireManage(ctx context.Context, caller Caller, projectID uint) (*models.AnnotationProject, error) {
	project, err := a.load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !a.CanManage(caller, project) {
		return nil, response.NewForbidden("only the project creator or an admin can do this")
	}
	return project, nil
}
