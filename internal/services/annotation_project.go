package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/pixlabel/backend/pkg/response"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CategoryPalette is the set of colours assigned to new categories.
var CategoryPalette = []string{
	"#FF0000", "#00FF00", "#0000FF", "#FFFF00",
	"#FF00FF", "#00FFFF", "#FFA500", "#800080",
	"#008000", "#000080", "#800000", "#808000",
}

func randomColor() string {
	return CategoryPalette[rand.IntN(len(CategoryPalette))]
}

type AnnotationProjectService struct {
	db     *gorm.DB
	access *ProjectAccess
	images *ImageService
}

func NewAnnotationProjectService(db *gorm.DB, access *ProjectAccess, images *ImageService) *AnnotationProjectService {
	return &AnnotationProjectService{db: db, access: access, images: images}
}

type CreateProjectRequest struct {
	Name        string   `json:"name" binding:"required,max=200"`
	Description string   `json:"description"`
	UserIDs     []uint   `json:"user_ids"`
	Categories  []string `json:"categories"`
}

type IDsRequest struct {
	IDs []uint `json:"ids" binding:"required,min=1"`
}

// Create makes a new in-progress project with its categories and annotators.
func (s *AnnotationProjectService) Create(ctx context.Context, caller Caller, req *CreateProjectRequest) (*models.AnnotationProject, error) {
	if !caller.IsAdmin() {
		return nil, response.NewForbidden("only admins can create annotation projects")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, response.NewValidation("project name is required")
	}

	categories := lo.Uniq(lo.Compact(lo.Map(req.Categories, func(c string, _ int) string {
		return strings.TrimSpace(c)
	})))
	userIDs := lo.Uniq(lo.Without(req.UserIDs, 0))

	project := &models.AnnotationProject{
		Name:        name,
		Description: req.Description,
		CreatorID:   caller.UserID,
		Status:      models.ProjectStatusInProgress,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, userIDs); err != nil {
			return err
		}
		if err := tx.Create(project).Error; err != nil {
			return err
		}
		if len(categories) > 0 {
			rows := lo.Map(categories, func(n string, _ int) models.AnnotationCategory {
				return models.AnnotationCategory{ProjectID: project.ID, Name: n, Color: randomColor()}
			})
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		if len(userIDs) > 0 {
			rows := lo.Map(userIDs, func(uid uint, _ int) models.ProjectMember {
				return models.ProjectMember{ProjectID: project.ID, UserID: uid, Role: models.RoleAnnotator}
			})
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, asAppError(err, "failed to create project")
	}

	logger.Info().
		Uint("project_id", project.ID).
		Uint("creator_id", caller.UserID).
		Int("categories", len(categories)).
		Int("members", len(userIDs)).
		Msg("annotation project created")
	return project, nil
}

// AddImages links images to the project. Already linked ids are skipped.
// Returns how many links were created.
func (s *AnnotationProjectService) AddImages(ctx context.Context, caller Caller, projectID uint, imageIDs []uint) (int, error) {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		return 0, err
	}
	ids := lo.Uniq(imageIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	var added int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var found []uint
		if err := tx.Model(&models.Image{}).
			Where("id IN ? AND is_deleted = ?", ids, false).
			Pluck("id", &found).Error; err != nil {
			return err
		}
		if missing, _ := lo.Difference(ids, found); len(missing) > 0 {
			return response.NewNotFound(fmt.Sprintf("images not found: %v", missing))
		}

		rows := lo.Map(ids, func(id uint, _ int) models.ProjectImage {
			return models.ProjectImage{ProjectID: projectID, ImageID: id, Status: models.ImageStatusUnannotated}
		})
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "image_id"}},
			DoNothing: true,
		}).Create(&rows)
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, asAppError(err, "failed to add images")
	}

	logger.Info().Uint("project_id", projectID).Int("requested", len(ids)).Int64("added", added).Msg("images added to project")
	return int(added), nil
}

// AddMembers grants annotator access. Existing members are skipped.
func (s *AnnotationProjectService) AddMembers(ctx context.Context, caller Caller, projectID uint, userIDs []uint) (int, error) {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		return 0, err
	}
	ids := lo.Uniq(userIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	var added int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, ids); err != nil {
			return err
		}
		rows := lo.Map(ids, func(uid uint, _ int) models.ProjectMember {
			return models.ProjectMember{ProjectID: projectID, UserID: uid, Role: models.RoleAnnotator}
		})
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(&rows)
		if result.Error != nil {
			return result.Error
		}
		added = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, asAppError(err, "failed to add members")
	}

	logger.Info().Uint("project_id", projectID).Int("requested", len(ids)).Int64("added", added).Msg("members added to project")
	return int(added), nil
}

func requireUsers(tx *gorm.DB, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	var found []uint
	if err := tx.Model(&models.User{}).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
		return err
	}
	if missing, _ := lo.Difference(ids, found); len(missing) > 0 {
		return response.NewNotFound(fmt.Sprintf("users not found: %v", missing))
	}
	return nil
}

// Complete closes the project once every image is annotated.
func (s *AnnotationProjectService) Complete(ctx context.Context, caller Caller, projectID uint) (*models.AnnotationProject, error) {
	project, err := s.access.RequireManage(ctx, caller, projectID)
	if err != nil {
		return nil, err
	}

	total, annotated, err := s.countImages(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if annotated != total {
		return nil, response.NewPreconditionFailed(fmt.Sprintf("project has %d images, %d annotated", total, annotated))
	}

	if !project.IsCompleted() {
		if err := s.db.WithContext(ctx).Model(project).Update("status", models.ProjectStatusCompleted).Error; err != nil {
			return nil, response.NewSystemError("failed to complete project", err)
		}
		project.Status = models.ProjectStatusCompleted
	}

	logger.Info().Uint("project_id", projectID).Int64("images", total).Msg("annotation project completed")
	return project, nil
}

func (s *AnnotationProjectService) countImages(ctx context.Context, projectID uint) (total, annotated int64, err error) {
	db := s.db.WithContext(ctx)
	if err = db.Model(&models.ProjectImage{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
		return 0, 0, response.NewSystemError("failed to count project images", err)
	}
	if err = db.Model(&models.ProjectImage{}).
		Where("project_id = ? AND status = ?", projectID, models.ImageStatusAnnotated).
		Count(&annotated).Error; err != nil {
		return 0, 0, response.NewSystemError("failed to count annotated images", err)
	}
	return total, annotated, nil
}

// Delete removes the project and everything scoped to it.
func (s *AnnotationProjectService) Delete(ctx context.Context, caller Caller, projectID uint) error {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		children := []interface{}{
			&models.AnnotationRecord{},
			&models.AnnotationCategory{},
			&models.ProjectImage{},
			&models.ProjectMember{},
			&models.ExportJob{},
		}
		for _, model := range children {
			if err := tx.Where("project_id = ?", projectID).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&models.AnnotationProject{}, projectID).Error
	})
	if err != nil {
		return response.NewSystemError("failed to delete project", err)
	}

	logger.Info().Uint("project_id", projectID).Uint("user_id", caller.UserID).Msg("annotation project deleted")
	return nil
}

type ProjectListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size" binding:"max=100"`
	Status   string `form:"status"`
	Name     string `form:"name"`
}

type ProjectSummary struct {
	models.AnnotationProject
	TotalImages     int64 `json:"total_images"`
	AnnotatedImages int64 `json:"annotated_images"`
}

type ProjectListResponse struct {
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Items    []ProjectSummary `json:"items"`
}

// List shows admins every project and everyone else the projects they created or joined.
func (s *AnnotationProjectService) List(ctx context.Context, caller Caller, req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	db := s.db.WithContext(ctx)
	query := db.Model(&models.AnnotationProject{})
	if !caller.IsAdmin() {
		memberOf := db.Model(&models.ProjectMember{}).Select("project_id").Where("user_id = ?", caller.UserID)
		query = query.Where("creator_id = ? OR id IN (?)", caller.UserID, memberOf)
	}
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewSystemError("failed to count projects", err)
	}

	var projects []models.AnnotationProject
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(req.PageSize).Find(&projects).Error; err != nil {
		return nil, response.NewSystemError("failed to list projects", err)
	}

	items := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		total, annotated, err := s.countImages(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		items = append(items, ProjectSummary{AnnotationProject: p, TotalImages: total, AnnotatedImages: annotated})
	}

	return &ProjectListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

type ProjectMemberInfo struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Role     string `json:"role"`
}

type ProjectDetail struct {
	ProjectSummary
	CanManage  bool                        `json:"can_manage"`
	Categories []models.AnnotationCategory `json:"categories"`
	Members    []ProjectMemberInfo         `json:"members"`
}

func (s *AnnotationProjectService) Get(ctx context.Context, caller Caller, projectID uint) (*ProjectDetail, error) {
	project, err := s.access.RequireAccess(ctx, caller, projectID)
	if err != nil {
		return nil, err
	}

	total, annotated, err := s.countImages(ctx, projectID)
	if err != nil {
		return nil, err
	}

	categories, err := s.Categories(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var members []models.ProjectMember
	if err := s.db.WithContext(ctx).Preload("User").
		Where("project_id = ?", projectID).Order("id").Find(&members).Error; err != nil {
		return nil, response.NewSystemError("failed to load project members", err)
	}

	return &ProjectDetail{
		ProjectSummary: ProjectSummary{AnnotationProject: *project, TotalImages: total, AnnotatedImages: annotated},
		CanManage:      s.access.CanManage(caller, project),
		Categories:     categories,
		Members: lo.Map(members, func(m models.ProjectMember, _ int) ProjectMemberInfo {
			info := ProjectMemberInfo{UserID: m.UserID, Role: m.Role}
			if m.User != nil {
				info.Username = m.User.Username
				info.Nickname = m.User.Nickname
			}
			return info
		}),
	}, nil
}

// Categories returns the project's categories ordered by id. The order defines category indexes.
func (s *AnnotationProjectService) Categories(ctx context.Context, projectID uint) ([]models.AnnotationCategory, error) {
	return loadCategories(s.db.WithContext(ctx), projectID)
}

func loadCategories(db *gorm.DB, projectID uint) ([]models.AnnotationCategory, error) {
	var categories []models.AnnotationCategory
	if err := db.Where("project_id = ?", projectID).Order("id").Find(&categories).Error; err != nil {
		return nil, response.NewSystemError("failed to load categories", err)
	}
	return categories, nil
}

type ProjectImageListRequest struct {
	Page     int    `form:"page"`
	PageSize int    `form:"page_size" binding:"max=200"`
	Status   string `form:"status"`
}

type ProjectImageItem struct {
	ImageID           uint        `json:"image_id"`
	Name              string      `json:"name"`
	URL               string      `json:"url"`
	Width             int         `json:"width"`
	Height            int         `json:"height"`
	Status            string      `json:"status"`
	Annotated         bool        `json:"annotated"`
	AnnotationContent interface{} `json:"annotation_content"`
	TrainingLabel     string      `json:"training_label"`
}

type ProjectImageListResponse struct {
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	Items    []ProjectImageItem `json:"items"`
}

func toProjectImageItem(pi *models.ProjectImage) ProjectImageItem {
	item := ProjectImageItem{
		ImageID:       pi.ImageID,
		Status:        pi.Status,
		Annotated:     pi.IsAnnotated(),
		TrainingLabel: pi.TrainingLabel,
	}
	if len(pi.AnnotationContent) > 0 {
		item.AnnotationContent = pi.AnnotationContent
	}
	if pi.Image != nil {
		item.Name = pi.Image.Name
		item.URL = pi.Image.URL
		item.Width = pi.Image.Width
		item.Height = pi.Image.Height
	}
	return item
}

func (s *AnnotationProjectService) ListImages(ctx context.Context, caller Caller, projectID uint, req *ProjectImageListRequest) (*ProjectImageListResponse, error) {
	if _, err := s.access.RequireAccess(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.ProjectImage{}).Where("project_id = ?", projectID)
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, response.NewSystemError("failed to count project images", err)
	}

	var rows []models.ProjectImage
	offset := (req.Page - 1) * req.PageSize
	if err := query.Preload("Image").Order("id").Offset(offset).Limit(req.PageSize).Find(&rows).Error; err != nil {
		return nil, response.NewSystemError("failed to list project images", err)
	}

	items := make([]ProjectImageItem, 0, len(rows))
	for i := range rows {
		items = append(items, toProjectImageItem(&rows[i]))
	}
	return &ProjectImageListResponse{Total: total, Page: req.Page, PageSize: req.PageSize, Items: items}, nil
}

func (s *AnnotationProjectService) GetImage(ctx context.Context, caller Caller, projectID, imageID uint) (*ProjectImageItem, error) {
	if _, err := s.access.RequireAccess(ctx, caller, projectID); err != nil {
		return nil, err
	}
	var pi models.ProjectImage
	err := s.db.WithContext(ctx).Preload("Image").
		Where("project_id = ? AND image_id = ?", projectID, imageID).
		First(&pi).Error
	if err != nil {
		return nil, asNotFound(err, "image not in project", "failed to load project image")
	}
	item := toProjectImageItem(&pi)
	return &item, nil
}

type UploadToProjectResult struct {
	Images []IngestResult `json:"images"`
	Added  int            `json:"added"`
}

// Upload ingests files and links them to the project in one call.
func (s *AnnotationProjectService) Upload(ctx context.Context, caller Caller, projectID uint, files []UploadedFile) (*UploadToProjectResult, error) {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, response.NewValidation("no files uploaded")
	}

	results := make([]IngestResult, 0, len(files))
	for _, f := range files {
		res, err := s.images.Ingest(ctx, caller, f)
		if err != nil {
			return nil, err
		}
		results = append(results, *res)
	}

	ids := lo.Map(results, func(r IngestResult, _ int) uint { return r.Image.ID })
	added, err := s.AddImages(ctx, caller, projectID, ids)
	if err != nil {
		return nil, err
	}
	return &UploadToProjectResult{Images: results, Added: added}, nil
}
