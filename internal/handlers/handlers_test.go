package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/textproto"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pixlabel/backend/internal/config"
	"github.com/pixlabel/backend/internal/middleware"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/internal/storage"
	"github.com/pixlabel/backend/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	db     *gorm.DB
	router *gin.Engine
	admin  models.User
	ann    models.User
}

// asUser stands in for AuthRequired by trusting the X-Test-User header.
func asUser(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := strconv.ParseUint(c.GetHeader("X-Test-User"), 10, 32)
		var u models.User
		if err := db.First(&u, id).Error; err != nil {
			response.Unauthorized(c, "unknown test user")
			c.Abort()
			return
		}
		c.Set(middleware.ContextUserID, u.ID)
		c.Set(middleware.ContextUsername, u.Username)
		c.Set(middleware.ContextRole, u.Role)
		c.Next()
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "h.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	store, err := storage.NewLocalStore(t.TempDir(), "http://files.test/files")
	require.NoError(t, err)

	access := services.NewProjectAccess(db)
	images := services.NewImageService(db, store)
	projects := NewAnnotationProjectHandler(
		services.NewAnnotationProjectService(db, access, images),
		services.NewAnnotationService(db, access),
	)
	imageHandler := NewImageHandler(images)

	env := &testEnv{db: db, router: gin.New()}
	env.admin = models.User{Username: "root", Password: "x", Role: models.RoleAdmin, IsActive: true}
	env.ann = models.User{Username: "ann", Password: "x", Role: models.RoleAnnotator, IsActive: true}
	require.NoError(t, db.Create(&env.admin).Error)
	require.NoError(t, db.Create(&env.ann).Error)

	r := env.router
	r.GET("/i/:id", imageHandler.Access)
	r.GET("/health", NewHealthHandler(db).CheckHealth)
	r.GET("/metrics", NewMetricsHandler(db).Metrics)
	r.GET("/api/events/exports", NewSSEHandler(services.NewSSEHub()).StreamExportEvents)
	authHandler := NewAuthHandler(services.NewAuthService(db, &config.JWTConfig{ExpireHour: 1, RefreshExpireHour: 24}))
	r.POST("/api/auth/logout", authHandler.Logout)
	api := r.Group("/api", asUser(db))
	api.POST("/images", imageHandler.Upload)
	api.GET("/images/:id", imageHandler.GetByID)
	api.POST("/annotation-projects", middleware.AdminRequired(), projects.Create)
	api.POST("/annotation-projects/:id/images", projects.AddImages)
	api.POST("/annotation-projects/:id/complete", projects.Complete)
	api.PUT("/annotation-projects/:id/images/:imageId/annotation", projects.SaveAnnotation)
	api.GET("/me/stats", NewDashboardHandler(services.NewDashboardService(db)).GetMyStats)
	api.GET("/admin/stats", middleware.AdminRequired(), NewDashboardHandler(services.NewDashboardService(db)).GetAdminStats)
	api.DELETE("/users/:id", middleware.AdminRequired(), NewUserHandler(services.NewUserService(db)).Delete)
	api.DELETE("/admin/images/:id", middleware.AdminRequired(), imageHandler.AdminDelete)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, user uint, body []byte, contentType string) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != 0 {
		req.Header.Set("X-Test-User", strconv.FormatUint(uint64(user), 10))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var resp response.Response
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func multipartPNG(t *testing.T, field, name string) ([]byte, string) {
	t.Helper()
	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 3, 2))))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(img.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body.Bytes(), mw.FormDataContentType()
}

func TestUploadAndPublicAccess(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartPNG(t, "file", "dog.png")

	w, resp := env.do(t, "POST", "/api/images", env.ann.ID, body, ct)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, 0, resp.Code)

	var stored models.Image
	require.NoError(t, env.db.First(&stored).Error)
	assert.Equal(t, "dog.png", stored.Name)
	assert.Equal(t, 3, stored.Width)

	w, _ = env.do(t, "GET", "/i/"+strconv.FormatUint(uint64(stored.ID), 10), 0, nil, "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, stored.URL, w.Header().Get("Location"))

	w, _ = env.do(t, "GET", "/i/abc", 0, nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, resp = env.do(t, "GET", "/i/999", 0, nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, response.KindNotFound, resp.Kind)
}

func TestUpload_NoFiles(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartPNG(t, "attachment", "dog.png")

	w, resp := env.do(t, "POST", "/api/images", env.ann.ID, body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, resp.Message, "no files uploaded")
}

func TestProjectRoutes_ErrorKinds(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, "POST", "/api/annotation-projects", env.ann.ID, []byte(`{"name":"p"}`), "application/json")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := env.do(t, "POST", "/api/annotation-projects", env.admin.ID,
		[]byte(`{"name":"p","user_ids":[`+strconv.FormatUint(uint64(env.ann.ID), 10)+`],"categories":["car"]}`), "application/json")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data, _ := json.Marshal(resp.Data)
	var project models.AnnotationProject
	require.NoError(t, json.Unmarshal(data, &project))
	base := "/api/annotation-projects/" + strconv.FormatUint(uint64(project.ID), 10)

	img := models.Image{UserID: env.admin.ID, Name: "a.jpg", MD5: "x", Path: "images/a.jpg", URL: "http://files.test/a.jpg"}
	require.NoError(t, env.db.Create(&img).Error)
	imgID := strconv.FormatUint(uint64(img.ID), 10)

	w, _ = env.do(t, "POST", base+"/images", env.admin.ID, []byte(`{"ids":[`+imgID+`]}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, resp = env.do(t, "POST", base+"/complete", env.admin.ID, nil, "")
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, response.KindPreconditionFailed, resp.Kind)
	assert.Equal(t, "project has 1 images, 0 annotated", resp.Message)

	w, _ = env.do(t, "PUT", base+"/images/"+imgID+"/annotation", env.ann.ID,
		[]byte(`{"annotation_content":[],"training_label":"0 0.5 0.5 1 1"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = env.do(t, "POST", base+"/complete", env.ann.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = env.do(t, "POST", base+"/complete", env.admin.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "ok", body.Components["database"])
	assert.Equal(t, float64(0), body.Components["active_exports"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t)
	sqlDB, err := env.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestMetrics_RefreshesGauges(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.db.Create(&models.AnnotationProject{Name: "p", CreatorID: env.admin.ID}).Error)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `pixlabel_projects{status="in_progress"} 1`)
	assert.Contains(t, w.Body.String(), "pixlabel_uptime_seconds")
}

func TestExportEvents_RequiresToken(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/api/events/exports", "/api/events/exports?token=garbage"} {
		w, resp := env.do(t, http.MethodGet, target, 0, nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
		assert.Equal(t, http.StatusUnauthorized, resp.Code, target)
	}
}

func TestLogout_RejectsMissingToken(t *testing.T) {
	env := newTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/auth/logout", 0, nil, "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, response.KindBadRequest, resp.Kind)

	w, _ = env.do(t, http.MethodPost, "/api/auth/logout", 0, []byte(`{"refresh_token":"unknown"}`), "application/json")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)

	w, _ := env.do(t, http.MethodGet, "/api/admin/stats", env.ann.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := env.do(t, http.MethodGet, "/api/admin/stats", env.admin.ID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), stats["total_users"])
	assert.Len(t, stats["week_stats"], 7)

	w, _ = env.do(t, http.MethodGet, "/api/me/stats", env.ann.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = env.do(t, http.MethodDelete, "/api/users/"+strconv.FormatUint(uint64(env.admin.ID), 10), env.admin.ID, nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "cannot delete your own account", resp.Message)

	w, _ = env.do(t, http.MethodDelete, "/api/users/"+strconv.FormatUint(uint64(env.ann.ID), 10), env.admin.ID, nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
