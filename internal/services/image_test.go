package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest_StoresAndMeasures(t *testing.T) {
	db := newTestDB(t)
	store := newMemoryStore()
	svc := NewImageService(db, store)
	owner := createUser(t, db, "owner", models.RoleAnnotator)

	res, err := svc.Ingest(context.Background(), owner, UploadedFile{Name: "cat.png", ContentType: "image/png", Data: pngBytes(t, 7, 5, 1)})
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, 7, res.Image.Width)
	assert.Equal(t, 5, res.Image.Height)
	assert.Len(t, res.Image.MD5, 32)
	assert.Equal(t, "http://files.test/"+res.Image.Path, res.Image.URL)
	assert.Equal(t, 1, store.putCount())
}

func TestIngest_DuplicatePerOwner(t *testing.T) {
	db := newTestDB(t)
	store := newMemoryStore()
	svc := NewImageService(db, store)
	ctx := context.Background()
	alice := createUser(t, db, "alice", models.RoleAnnotator)
	bob := createUser(t, db, "bob", models.RoleAnnotator)
	data := pngBytes(t, 2, 2, 9)

	first, err := svc.Ingest(ctx, alice, UploadedFile{Name: "a.png", ContentType: "image/png", Data: data})
	require.NoError(t, err)
	again, err := svc.Ingest(ctx, alice, UploadedFile{Name: "renamed.png", ContentType: "image/png", Data: data})
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.Equal(t, first.Image.ID, again.Image.ID)
	assert.Equal(t, "a.png", again.Image.Name)
	assert.Equal(t, 1, store.putCount())

	other, err := svc.Ingest(ctx, bob, UploadedFile{Name: "a.png", ContentType: "image/png", Data: data})
	require.NoError(t, err)
	assert.False(t, other.Duplicate)
	assert.NotEqual(t, first.Image.ID, other.Image.ID)
	assert.Equal(t, 2, store.putCount())
}

func TestIngest_TombstonedIsNotReused(t *testing.T) {
	db := newTestDB(t)
	svc := NewImageService(db, newMemoryStore())
	ctx := context.Background()
	owner := createUser(t, db, "owner", models.RoleAnnotator)
	data := pngBytes(t, 2, 2, 3)

	first, err := svc.Ingest(ctx, owner, UploadedFile{Name: "a.png", ContentType: "image/png", Data: data})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, owner, first.Image.ID))

	again, err := svc.Ingest(ctx, owner, UploadedFile{Name: "a.png", ContentType: "image/png", Data: data})
	require.NoError(t, err)
	assert.False(t, again.Duplicate)
	assert.NotEqual(t, first.Image.ID, again.Image.ID)
}

func TestIngest_Validation(t *testing.T) {
	db := newTestDB(t)
	store := newMemoryStore()
	svc := NewImageService(db, store)
	owner := createUser(t, db, "owner", models.RoleAnnotator)

	tests := []struct {
		name string
		file UploadedFile
	}{
		{"not an image", UploadedFile{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}},
		{"no declared type", UploadedFile{Name: "blob.png", Data: pngBytes(t, 2, 2, 1)}},
		{"octet stream", UploadedFile{Name: "blob.png", ContentType: "application/octet-stream", Data: pngBytes(t, 2, 2, 1)}},
		{"too large", UploadedFile{Name: "big.png", ContentType: "image/png", Data: bytes.Repeat([]byte{1}, MaxImageSize+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Ingest(context.Background(), owner, tt.file)
			assert.True(t, response.IsKind(err, response.KindValidation), "got %v", err)
		})
	}
	assert.Zero(t, store.putCount())
}

func TestIngest_StoreFailure(t *testing.T) {
	db := newTestDB(t)
	store := newMemoryStore()
	store.failPut = errors.New("bucket gone")
	svc := NewImageService(db, store)
	owner := createUser(t, db, "owner", models.RoleAnnotator)

	_, err := svc.Ingest(context.Background(), owner, UploadedFile{Name: "a.png", ContentType: "image/png", Data: pngBytes(t, 1, 1, 1)})
	assert.True(t, response.IsKind(err, response.KindSystem))

	var count int64
	db.Model(&models.Image{}).Count(&count)
	assert.Zero(t, count)
}

func TestAccess_CountsViews(t *testing.T) {
	db := newTestDB(t)
	svc := NewImageService(db, newMemoryStore())
	ctx := context.Background()
	owner := createUser(t, db, "owner", models.RoleAnnotator)
	img := createImage(t, db, owner, "a.jpg")

	for i := 0; i < 3; i++ {
		url, err := svc.Access(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, img.URL, url)
	}

	var stored models.Image
	require.NoError(t, db.First(&stored, img.ID).Error)
	assert.EqualValues(t, 3, stored.AccessCount)

	require.NoError(t, svc.Delete(ctx, owner, img.ID))
	_, err := svc.Access(ctx, img.ID)
	assert.True(t, response.IsKind(err, response.KindNotFound))
}

func TestImage_OwnershipChecks(t *testing.T) {
	db := newTestDB(t)
	svc := NewImageService(db, newMemoryStore())
	ctx := context.Background()
	owner := createUser(t, db, "owner", models.RoleAnnotator)
	other := createUser(t, db, "other", models.RoleAnnotator)
	admin := createUser(t, db, "admin", models.RoleAdmin)
	img := createImage(t, db, owner, "a.jpg")

	_, err := svc.Get(ctx, other, img.ID)
	assert.True(t, response.IsKind(err, response.KindForbidden))
	_, err = svc.Get(ctx, admin, img.ID)
	assert.NoError(t, err)

	err = svc.Delete(ctx, admin, img.ID)
	assert.True(t, response.IsKind(err, response.KindForbidden))

	require.NoError(t, svc.Delete(ctx, owner, img.ID))
	_, err = svc.Get(ctx, owner, img.ID)
	assert.True(t, response.IsKind(err, response.KindNotFound))

	var row models.Image
	require.NoError(t, db.First(&row, img.ID).Error, "tombstoned rows are kept")
	assert.True(t, row.IsDeleted)
}

func TestImageList_OwnOnly(t *testing.T) {
	db := newTestDB(t)
	svc := NewImageService(db, newMemoryStore())
	owner := createUser(t, db, "owner", models.RoleAnnotator)
	other := createUser(t, db, "other", models.RoleAnnotator)
	createImage(t, db, owner, "street.jpg")
	createImage(t, db, owner, "park.jpg")
	createImage(t, db, other, "street2.jpg")

	res, err := svc.List(context.Background(), owner, &ImageListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)

	res, err = svc.List(context.Background(), owner, &ImageListRequest{Keyword: "street"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "street.jpg", res.Items[0].Name)
}

func TestImage_AdminListAndDelete(t *testing.T) {
	db := newTestDB(t)
	svc := NewImageService(db, newMemoryStore())
	ctx := context.Background()
	admin := createUser(t, db, "admin", models.RoleAdmin)
	alice := createUser(t, db, "alice", models.RoleAnnotator)
	bob := createUser(t, db, "bob", models.RoleAnnotator)
	a := createImage(t, db, alice, "a.jpg")
	createImage(t, db, bob, "bb.jpg")

	_, err := svc.ListAll(ctx, alice, &AdminImageListRequest{})
	assert.True(t, response.IsKind(err, response.KindForbidden))

	res, err := svc.ListAll(ctx, admin, &AdminImageListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Total)

	res, err = svc.ListAll(ctx, admin, &AdminImageListRequest{UserID: alice.UserID})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, a.ID, res.Items[0].ID)

	assert.True(t, response.IsKind(svc.AdminDelete(ctx, bob, a.ID), response.KindForbidden))
	require.NoError(t, svc.AdminDelete(ctx, admin, a.ID))
	assert.True(t, response.IsKind(svc.AdminDelete(ctx, admin, a.ID), response.KindNotFound), "already tombstoned")

	res, err = svc.ListAll(ctx, admin, &AdminImageListRequest{})
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Total)
}
