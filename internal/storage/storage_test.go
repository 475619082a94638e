// internal/storage/storage_test.go
package storage

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSaveOutlinesOverwriteAndAppend(t *testing.T) {
	ctx := context.Background()
	store := NewOutlineStore(openTestDB(t))

	res, err := store.SaveOutlines(ctx, 1, []models.Episode{{Title: "a"}, {Title: "b"}}, true, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 2, res.Scripts)

	// 追加：从 max+1 开始
	_, err = store.SaveOutlines(ctx, 1, []models.Episode{{Title: "c"}}, false, 0)
	require.NoError(t, err)
	outlines, err := store.ListOutlines(ctx, 1)
	require.NoError(t, err)
	require.Len(t, outlines, 3)
	assert.Equal(t, 3, outlines[2].Episode)
	assert.Equal(t, 3, outlines[2].Data.EpisodeIndex)

	// 覆盖：旧大纲和剧本都被清掉
	_, err = store.SaveOutlines(ctx, 1, []models.Episode{{Title: "x"}}, true, 0)
	require.NoError(t, err)
	outlines, err = store.ListOutlines(ctx, 1)
	require.NoError(t, err)
	require.Len(t, outlines, 1)
	assert.Equal(t, 1, outlines[0].Episode)

	scripts, err := store.ListScripts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, outlines[0].ID, scripts[0].OutlineID)
	assert.Equal(t, "Episode 1", scripts[0].Name)
}

func TestSaveOutlinesExplicitStart(t *testing.T) {
	ctx := context.Background()
	store := NewOutlineStore(openTestDB(t))

	_, err := store.SaveOutlines(ctx, 1, []models.Episode{{Title: "a"}}, false, 5)
	require.NoError(t, err)
	maxEp, err := store.MaxEpisode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, maxEp)
}

func TestDeleteOutlineCascades(t *testing.T) {
	ctx := context.Background()
	store := NewOutlineStore(openTestDB(t))

	_, err := store.SaveOutlines(ctx, 1, []models.Episode{{Title: "a"}, {Title: "b"}}, true, 0)
	require.NoError(t, err)
	outlines, _ := store.ListOutlines(ctx, 1)

	require.NoError(t, store.DeleteOutline(ctx, 1, outlines[0].ID))
	scripts, err := store.ListScripts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, outlines[1].ID, scripts[0].OutlineID)

	err = store.DeleteOutline(ctx, 1, outlines[0].ID)
	assert.True(t, apperrors.IsNotFoundError(err))

	// 已写入内容的剧本保留
	require.NoError(t, store.UpdateScriptContent(ctx, 1, scripts[0].ID, "INT. HALL - DAY"))
	require.NoError(t, store.DeleteOutline(ctx, 1, outlines[1].ID))
	scripts, err = store.ListScripts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	assert.Equal(t, "INT. HALL - DAY", scripts[0].Content)
}

func TestUpdateOutlineKeepsEpisode(t *testing.T) {
	ctx := context.Background()
	store := NewOutlineStore(openTestDB(t))

	_, err := store.SaveOutlines(ctx, 1, []models.Episode{{Title: "a"}}, true, 0)
	require.NoError(t, err)
	outlines, _ := store.ListOutlines(ctx, 1)

	ok, err := store.UpdateOutline(ctx, 1, outlines[0].ID, models.Episode{Title: "new", EpisodeIndex: 99})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetOutline(ctx, 1, outlines[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Data.Title)
	assert.Equal(t, 1, got.Data.EpisodeIndex)

	ok, err = store.UpdateOutline(ctx, 1, 404, models.Episode{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAssetOrderingAndImages(t *testing.T) {
	ctx := context.Background()
	store := NewAssetStore(openTestDB(t))

	for _, a := range []models.Asset{
		{ProjectID: 1, Type: models.AssetProps, Name: "sword", FilePath: "p/sword.png"},
		{ProjectID: 1, Type: models.AssetScene, Name: "temple", FilePath: "p/temple.png"},
		{ProjectID: 1, Type: models.AssetRole, Name: "hero", FilePath: "p/hero.png"},
		{ProjectID: 1, Type: models.AssetRole, Name: "ghost"},
		{ProjectID: 1, Type: models.AssetScene, Name: "hero", FilePath: "p/hero_place.png"},
	} {
		a := a
		require.NoError(t, store.Insert(ctx, &a))
	}

	list, err := store.ListWithImages(ctx, 1, []string{"sword", "temple", "hero", "ghost"})
	require.NoError(t, err)
	names := make([]string, 0, len(list))
	for _, a := range list {
		names = append(names, a.Name)
	}
	// 同名的场景被去掉，只保留角色
	assert.Equal(t, []string{"hero", "temple", "sword"}, names)
	assert.Equal(t, models.AssetRole, list[0].Type)
	assert.Equal(t, "p/hero.png", list[0].FilePath)

	_, err = store.FindByTypeAndName(ctx, 1, models.AssetRole, "nobody")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestPromptSeedKeepsCustomValue(t *testing.T) {
	ctx := context.Background()
	store := NewPromptStore(openTestDB(t))

	require.NoError(t, store.Seed(ctx, DefaultPrompts()))
	require.NoError(t, store.SetCustom(ctx, PromptGridImage, "custom"))
	require.NoError(t, store.Seed(ctx, DefaultPrompts()))

	v, err := store.Resolve(ctx, PromptGridImage)
	require.NoError(t, err)
	assert.Equal(t, "custom", v)

	v, err = store.Resolve(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestStorylineAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewProjectStore(openTestDB(t))

	_, err := store.GetStoryline(ctx, 1)
	assert.True(t, apperrors.IsNotFoundError(err))

	require.NoError(t, store.SaveStoryline(ctx, 1, "v1"))
	require.NoError(t, store.SaveStoryline(ctx, 1, "v2"))
	sl, err := store.GetStoryline(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "v2", sl.Content)

	n, err := store.DeleteStoryline(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, store.SaveHistory(ctx, 1, "outlineAgent", `[{"role":"user","content":"hi"}]`))
	data, err := store.LoadHistory(ctx, 1, "outlineAgent")
	require.NoError(t, err)
	assert.Contains(t, data, "hi")
}

func TestFileStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir(), "/files")
	require.NoError(t, err)

	require.NoError(t, fs.Write(ctx, "1/chat/2/shot.png", []byte("png")))
	data, err := fs.Read(ctx, "1/chat/2/shot.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)
	assert.Equal(t, "/files/1/chat/2/shot.png", fs.PublicURL("1/chat/2/shot.png"))

	_, err = fs.Read(ctx, "nope.png")
	assert.True(t, apperrors.IsNotFoundError(err))

	err = fs.Write(ctx, "../escape.png", []byte("x"))
	assert.True(t, apperrors.IsValidationError(err))
}

type countingStore struct {
	BlobStore
	reads int32
}

func (c *countingStore) Read(ctx context.Context, key string) ([]byte, error) {
	atomic.AddInt32(&c.reads, 1)
	return c.BlobStore.Read(ctx, key)
}

func TestCachedBlobStoreReadsOnce(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileStorage(t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, fs.Write(ctx, "a.png", []byte("img")))

	inner := &countingStore{BlobStore: fs}
	cached := NewCachedBlobStore(inner, 0)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := cached.Read(ctx, "a.png")
			assert.NoError(t, err)
			assert.Equal(t, []byte("img"), data)
		}()
	}
	wg.Wait()
	_, err = cached.Read(ctx, "a.png")
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt32(&inner.reads), int32(8))
	assert.Equal(t, 1, cached.ItemCount())

	reads := atomic.LoadInt32(&inner.reads)
	_, _ = cached.Read(ctx, "a.png")
	assert.Equal(t, reads, atomic.LoadInt32(&inner.reads))
}

type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObjectWithContext(_ aws.Context, in *s3.HeadObjectInput, _ ...request.Option) (*s3.HeadObjectOutput, error) {
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, awserr.New("NotFound", "missing", nil)
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3StorageWithFakeClient(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: map[string][]byte{}}
	store := NewS3StorageWithClient(fake, S3Config{Bucket: "drama", Region: "us-east-1"})

	require.NoError(t, store.Write(ctx, "/1/a.png", []byte("x")))
	ok, err := store.Exists(ctx, "1/a.png")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = store.Read(ctx, "1/b.png")
	assert.True(t, apperrors.IsNotFoundError(err))

	assert.Equal(t, "https://drama.s3.us-east-1.amazonaws.com/1/a.png", store.PublicURL("1/a.png"))
}
