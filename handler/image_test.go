package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"nfcunha/vpsmanager/core/models"
	"nfcunha/vpsmanager/core/service"
	"nfcunha/vpsmanager/utils/apperr"
	"nfcunha/vpsmanager/utils/docker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImageService struct {
	images   []models.Image
	deleted  []string
	progress []service.PullProgress
	pullErr  error
	pulled   []string
	limit    int
	pruneAll bool
	err      error
}

func (f *fakeImageService) FindAll(ctx context.Context) ([]models.Image, error) {
	return f.images, nil
}

func (f *fakeImageService) Inspect(ctx context.Context, id string) (*models.ImageDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.ImageDetail{ID: id, Os: "linux"}, nil
}

func (f *fakeImageService) Pull(ctx context.Context, ref, userID string, progress func(service.PullProgress)) error {
	f.pulled = append(f.pulled, ref+"@"+userID)
	for _, p := range f.progress {
		progress(p)
	}
	return f.pullErr
}

func (f *fakeImageService) Search(ctx context.Context, term string, limit int) ([]models.ImageSearchResult, error) {
	f.limit = limit
	if term == "" {
		return nil, apperr.Invalid("term", "search term is required")
	}
	return []models.ImageSearchResult{{Name: term, Official: true}}, nil
}

func (f *fakeImageService) BulkDelete(ctx context.Context, ids []string, userID string) (*service.BulkResult, error) {
	results := make([]service.BulkOperationResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, service.BulkOperationResult{ID: id, Success: true})
	}
	return &service.BulkResult{Success: true, Results: results, Summary: "ok"}, nil
}

func (f *fakeImageService) Prune(ctx context.Context, all bool, userID string) (*service.PruneResult, error) {
	f.pruneAll = all
	return &service.PruneResult{Target: service.PruneImages, SpaceReclaimed: 1024}, nil
}

func (f *fakeImageService) Delete(ctx context.Context, id, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id+"@"+userID)
	return nil
}

type fakeVolumeService struct {
	volumes []models.Volume
	deleted []string
	created []service.CreateVolumeRequest
	err     error
}

func (f *fakeVolumeService) FindAll(ctx context.Context) ([]models.Volume, error) {
	return f.volumes, f.err
}

func (f *fakeVolumeService) Inspect(ctx context.Context, name string) (*models.VolumeDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.VolumeDetail{Volume: models.Volume{Name: name}, Scope: "local"}, nil
}

func (f *fakeVolumeService) Create(ctx context.Context, req service.CreateVolumeRequest, userID string) (*models.VolumeDetail, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req)
	return &models.VolumeDetail{Volume: models.Volume{Name: req.Name, Driver: "local"}}, nil
}

func (f *fakeVolumeService) Prune(ctx context.Context, userID string) (*service.PruneResult, error) {
	return &service.PruneResult{Target: service.PruneVolumes, SpaceReclaimed: 2048}, nil
}

func (f *fakeVolumeService) Delete(ctx context.Context, name, userID string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, name+"@"+userID)
	return nil
}

func setupResourceRouter(images ImageService, volumes VolumeService) *gin.Engine {
	ih := NewImageHandler(images)
	vh := NewVolumeHandler(volumes)
	r := newRouter(adminClaims)
	r.GET("/api/images", ih.ListImages)
	r.GET("/api/images/search", ih.SearchImages)
	r.POST("/api/images/pull", ih.PullImage)
	r.POST("/api/images/bulk", ih.BulkRemoveImages)
	r.POST("/api/images/prune", ih.PruneImages)
	r.GET("/api/images/:id", ih.InspectImage)
	r.DELETE("/api/images/:id", ih.RemoveImage)
	r.GET("/api/volumes", vh.ListVolumes)
	r.POST("/api/volumes", vh.CreateVolume)
	r.POST("/api/volumes/prune", vh.PruneVolumes)
	r.GET("/api/volumes/:name", vh.InspectVolume)
	r.DELETE("/api/volumes/:name", vh.RemoveVolume)
	return r
}

func TestImages_ListAndDelete(t *testing.T) {
	images := &fakeImageService{images: []models.Image{{ID: "sha256:abc", Name: "nginx", Tag: "latest", InUse: true}}}
	r := setupResourceRouter(images, &fakeVolumeService{})

	w := perform(t, r, http.MethodGet, "/api/images", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Image](t, w)
	require.Len(t, list, 1)
	assert.True(t, list[0].InUse)

	w = perform(t, r, http.MethodDelete, "/api/images/sha256:abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"sha256:abc@u1"}, images.deleted)
}

func TestImages_DeleteConflictIsTranslated(t *testing.T) {
	images := &fakeImageService{err: docker.NewEngineError("rmi", "abc", errors.New("conflict: unable to delete abc (cannot be forced) - image is being used by running container 123"))}
	r := setupResourceRouter(images, &fakeVolumeService{})

	w := perform(t, r, http.MethodDelete, "/api/images/abc", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode[map[string]any](t, w)
	assert.Contains(t, body["details"], "image is being used")
	assert.NotEmpty(t, body["suggestion"])
}

func TestVolumes_ListAndDelete(t *testing.T) {
	size := int64(4096)
	volumes := &fakeVolumeService{volumes: []models.Volume{{Name: "pgdata", Driver: "local", Size: &size}}}
	r := setupResourceRouter(&fakeImageService{}, volumes)

	w := perform(t, r, http.MethodGet, "/api/volumes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]models.Volume](t, w)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Size)
	assert.Equal(t, size, *list[0].Size)

	w = perform(t, r, http.MethodDelete, "/api/volumes/pgdata", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"pgdata@u1"}, volumes.deleted)
}

func TestVolumes_ListFailure(t *testing.T) {
	r := setupResourceRouter(&fakeImageService{}, &fakeVolumeService{err: errors.New("daemon unreachable")})

	w := perform(t, r, http.MethodGet, "/api/volumes", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to list volumes", decode[map[string]string](t, w)["error"])
}

func TestImages_PullStreamsProgress(t *testing.T) {
	images := &fakeImageService{progress: []service.PullProgress{
		{ID: "a1", Status: "Downloading", Current: 10, Total: 20},
		{Status: "Status: Downloaded newer image for redis:7"},
	}}
	r := setupResourceRouter(images, &fakeVolumeService{})

	w := perform(t, r, http.MethodPost, "/api/images/pull", gin.H{"image": "redis:7"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event:progress"))
	assert.Contains(t, body, `"current":10`)
	assert.Contains(t, body, "event:complete")
	assert.Equal(t, []string{"redis:7@u1"}, images.pulled)
}

func TestImages_PullFailureMidStreamIsAnEvent(t *testing.T) {
	images := &fakeImageService{
		progress: []service.PullProgress{{Status: "Pulling from library/nope"}},
		pullErr:  errors.New("manifest unknown"),
	}
	r := setupResourceRouter(images, &fakeVolumeService{})

	w := perform(t, r, http.MethodPost, "/api/images/pull", gin.H{"image": "nope"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "event:error")
	assert.Contains(t, w.Body.String(), "manifest unknown")
	assert.NotContains(t, w.Body.String(), "event:complete")
}

func TestImages_PullRefusedIsJSON(t *testing.T) {
	images := &fakeImageService{pullErr: docker.NewEngineError("pull image", "private/app", errors.New("pull access denied for private/app"))}
	r := setupResourceRouter(images, &fakeVolumeService{})

	w := perform(t, r, http.MethodPost, "/api/images/pull", gin.H{"image": "private/app"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode[map[string]any](t, w)["details"], "pull access denied")

	w = perform(t, r, http.MethodPost, "/api/images/pull", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImages_SearchInspectPrune(t *testing.T) {
	images := &fakeImageService{}
	r := setupResourceRouter(images, &fakeVolumeService{})

	w := perform(t, r, http.MethodGet, "/api/images/search?term=redis&limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, images.limit)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = perform(t, r, http.MethodGet, "/api/images/search", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = perform(t, r, http.MethodGet, "/api/images/sha256:abc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sha256:abc", decode[models.ImageDetail](t, w).ID)

	w = perform(t, r, http.MethodPost, "/api/images/prune?all=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, images.pruneAll)
	assert.Equal(t, "images", decode[map[string]any](t, w)["target"])

	w = perform(t, r, http.MethodPost, "/api/images/bulk", gin.H{"imageIds": []string{"a", "b"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[service.BulkResult](t, w).Results, 2)
}

func TestImages_InspectMissing(t *testing.T) {
	r := setupResourceRouter(&fakeImageService{err: apperr.NotFound("image", "nope")}, &fakeVolumeService{})

	w := perform(t, r, http.MethodGet, "/api/images/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVolumes_CreateInspectPrune(t *testing.T) {
	volumes := &fakeVolumeService{}
	r := setupResourceRouter(&fakeImageService{}, volumes)

	w := perform(t, r, http.MethodPost, "/api/volumes", gin.H{"name": "pgdata", "labels": gin.H{"app": "db"}})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, volumes.created, 1)
	assert.Equal(t, map[string]string{"app": "db"}, volumes.created[0].Labels)

	w = perform(t, r, http.MethodGet, "/api/volumes/pgdata", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "local", decode[models.VolumeDetail](t, w).Scope)

	w = perform(t, r, http.MethodPost, "/api/volumes/prune", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "volumes", decode[map[string]any](t, w)["target"])
}

func TestVolumes_CreateRejected(t *testing.T) {
	r := setupResourceRouter(&fakeImageService{}, &fakeVolumeService{err: apperr.Invalid("name", "volume name is required")})

	w := perform(t, r, http.MethodPost, "/api/volumes", gin.H{"name": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
