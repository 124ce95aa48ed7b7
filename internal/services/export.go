package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/storage"
	"github.com/pixlabel/backend/internal/utils"
	"github.com/pixlabel/backend/pkg/logger"
	"github.com/pixlabel/backend/pkg/response"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	packageDir     = "packages"
	stagingPattern = "export-*"
	archiveName    = "dataset.zip"
)

type ExportOptions struct {
	TempDir      string
	Workers      int
	FetchTimeout time.Duration
}

type ExportService struct {
	db      *gorm.DB
	access  *ProjectAccess
	store   storage.ObjectStore
	fetcher storage.Fetcher
	opts    ExportOptions
}

func NewExportService(db *gorm.DB, access *ProjectAccess, store storage.ObjectStore, fetcher storage.Fetcher, opts ExportOptions) *ExportService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &ExportService{db: db, access: access, store: store, fetcher: fetcher, opts: opts}
}

type ExportResult struct {
	URL         string `json:"url"`
	ImageCount  int    `json:"image_count"`
	LabelCount  int    `json:"label_count"`
	FailedCount int    `json:"failed_count"`
	Size        int64  `json:"size"`
	SizeHuman   string `json:"size_human"`
}

// stagingArea is the scratch tree of one export. Close removes all of it, archive included.
type stagingArea struct {
	root      string
	imagesDir string
	labelsDir string
}

func newStagingArea(tempDir string) (*stagingArea, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, err
	}
	root, err := os.MkdirTemp(tempDir, stagingPattern)
	if err != nil {
		return nil, err
	}
	s := &stagingArea{
		root:      root,
		imagesDir: filepath.Join(root, "dataset", "images"),
		labelsDir: filepath.Join(root, "dataset", "labels"),
	}
	for _, dir := range []string{s.imagesDir, s.labelsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *stagingArea) archivePath() string { return filepath.Join(s.root, archiveName) }

func (s *stagingArea) Close() error {
	return os.RemoveAll(s.root)
}

// exportItem is one project image with its file names fixed before any worker starts.
// fileName and labelName always share the same base.
type exportItem struct {
	imageID   uint
	image     *models.Image
	label     string
	fileName  string
	labelName string
}

// Export packages every project image and its training label into a zip archive,
// uploads it and returns its URL. Per-image failures are counted, not fatal.
func (s *ExportService) Export(ctx context.Context, caller Caller, projectID uint) (*ExportResult, error) {
	if _, err := s.access.RequireManage(ctx, caller, projectID); err != nil {
		exportRunsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	items, err := s.plan(ctx, projectID)
	if err != nil {
		exportRunsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	start := time.Now()
	result, err := s.run(ctx, projectID, items)
	if err != nil {
		exportRunsTotal.WithLabelValues("failed").Inc()
		logger.Error().Err(err).Uint("project_id", projectID).Msg("dataset export failed")
		LogError(AuditEntry{
			Module: "export", Action: "package", Message: err.Error(),
			UserID: &caller.UserID, ProjectID: &projectID,
		})
		return nil, err
	}
	exportRunsTotal.WithLabelValues("success").Inc()
	exportDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Uint("project_id", projectID).
		Int("images", result.ImageCount).
		Int("labels", result.LabelCount).
		Int("failed", result.FailedCount).
		Str("size", result.SizeHuman).
		Dur("took", time.Since(start)).
		Msg("dataset exported")
	LogInfo(AuditEntry{
		Module: "export", Action: "package",
		Message: fmt.Sprintf("exported %d images, %d failed", result.ImageCount, result.FailedCount),
		UserID:  &caller.UserID, ProjectID: &projectID, Extra: result,
	})
	return result, nil
}

// plan loads the project's images and assigns unique archive names.
func (s *ExportService) plan(ctx context.Context, projectID uint) ([]exportItem, error) {
	db := s.db.WithContext(ctx)

	var links []models.ProjectImage
	if err := db.Where("project_id = ?", projectID).Order("id").Find(&links).Error; err != nil {
		return nil, response.NewSystemError("failed to load project images", err)
	}
	if len(links) == 0 {
		return nil, response.NewPreconditionFailed("project has no images")
	}

	var images []models.Image
	ids := lo.Map(links, func(pi models.ProjectImage, _ int) uint { return pi.ImageID })
	if err := db.Where("id IN ?", ids).Find(&images).Error; err != nil {
		return nil, response.NewSystemError("failed to load images", err)
	}
	byID := lo.KeyBy(images, func(img models.Image) uint { return img.ID })

	// Bases are unique across the whole archive, so a.jpg and a.png do not share a.txt.
	usedBases := make(map[string]bool, len(links))
	items := make([]exportItem, 0, len(links))
	for _, pi := range links {
		it := exportItem{imageID: pi.ImageID, label: pi.TrainingLabel}
		name := "image_" + strconv.FormatUint(uint64(pi.ImageID), 10)
		if img, ok := byID[pi.ImageID]; ok {
			it.image = &img
			name = img.Name
		}
		clean := utils.SanitizeFileName(name, pi.ImageID)
		base := utils.BaseName(clean)
		ext := clean[len(base):]
		base = uniqueName(base, pi.ImageID, usedBases)
		it.fileName = base + ext
		it.labelName = base + ".txt"
		items = append(items, it)
	}
	return items, nil
}

func uniqueName(name string, imageID uint, used map[string]bool) string {
	if used[name] {
		name = strconv.FormatUint(uint64(imageID), 10) + "_" + name
	}
	for used[name] {
		name = "_" + name
	}
	used[name] = true
	return name
}

func (s *ExportService) run(ctx context.Context, projectID uint, items []exportItem) (*ExportResult, error) {
	staging, err := newStagingArea(s.opts.TempDir)
	if err != nil {
		return nil, response.NewSystemError("failed to prepare export workspace", err)
	}
	defer func() {
		if err := staging.Close(); err != nil {
			logger.Warn().Err(err).Str("dir", staging.root).Msg("failed to remove export workspace")
		}
	}()

	ok := make([]bool, len(items))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i := range items {
		it := items[i]
		g.Go(func() error {
			if err := s.fetchItem(ctx, staging, it); err != nil {
				logger.Warn().Err(err).
					Uint("project_id", projectID).
					Uint("image_id", it.imageID).
					Msg("export item failed")
				return nil
			}
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	result := &ExportResult{}
	var packedImages, packedLabels []string
	for i, it := range items {
		if !ok[i] {
			result.FailedCount++
			continue
		}
		result.ImageCount++
		if it.label != "" {
			result.LabelCount++
		}
		packedImages = append(packedImages, it.fileName)
		packedLabels = append(packedLabels, it.labelName)
	}
	exportItemsTotal.WithLabelValues("packaged").Add(float64(result.ImageCount))
	exportItemsTotal.WithLabelValues("failed").Add(float64(result.FailedCount))

	if err := ctx.Err(); err != nil {
		return nil, response.NewSystemError("export was cancelled", err)
	}
	if result.ImageCount == 0 {
		return nil, response.NewSystemError("no images could be downloaded; nothing to package", nil)
	}

	if err := writeArchive(staging, packedImages, packedLabels); err != nil {
		return nil, response.NewSystemError("failed to package dataset", err)
	}

	url, size, err := s.upload(ctx, staging.archivePath(), projectID)
	if err != nil {
		return nil, response.NewSystemError("failed to upload dataset archive", err)
	}
	result.URL = url
	result.Size = size
	result.SizeHuman = humanize.IBytes(uint64(size))
	return result, nil
}

// fetchItem writes images/<file> and labels/<base>.txt. A failed label write removes the image again.
func (s *ExportService) fetchItem(ctx context.Context, staging *stagingArea, it exportItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if it.image == nil {
		return errors.New("image record not found")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	defer cancel()
	data, err := s.fetcher.Fetch(fetchCtx, it.image.URL)
	if err != nil {
		return err
	}

	imagePath := filepath.Join(staging.imagesDir, it.fileName)
	if err := os.WriteFile(imagePath, data, 0644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if err := os.WriteFile(filepath.Join(staging.labelsDir, it.labelName), []byte(it.label), 0644); err != nil {
		os.Remove(imagePath)
		return fmt.Errorf("write label: %w", err)
	}
	return nil
}

// writeArchive stores images/ then labels/ uncompressed. Entries are sorted within each directory.
func writeArchive(staging *stagingArea, imageNames, labelNames []string) (err error) {
	f, err := os.Create(staging.archivePath())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	zw := zip.NewWriter(f)
	sections := []struct {
		dir   string
		names []string
	}{
		{"images", imageNames},
		{"labels", labelNames},
	}
	for _, sec := range sections {
		names := append([]string(nil), sec.names...)
		sort.Strings(names)
		srcDir := filepath.Join(staging.root, "dataset", sec.dir)
		for _, name := range names {
			if err := addStoredFile(zw, sec.dir+"/"+name, filepath.Join(srcDir, name)); err != nil {
				return err
			}
		}
	}
	return zw.Close()
}

func addStoredFile(zw *zip.Writer, entryName, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entryName,
		Method:   zip.Store,
		Modified: time.Now(),
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func (s *ExportService) upload(ctx context.Context, archive string, projectID uint) (string, int64, error) {
	f, err := os.Open(archive)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	name := fmt.Sprintf("project_%d_dataset.zip", projectID)
	objectPath, err := s.store.Put(ctx, f, info.Size(), packageDir, name, "application/zip")
	if err != nil {
		return "", 0, err
	}
	return s.store.URLFor(objectPath), info.Size(), nil
}
