// internal/storyboard/storyboard_test.go
package storyboard

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/DramaForge/internal/errors"
	"github.com/Corphon/DramaForge/internal/imagegen"
	"github.com/Corphon/DramaForge/internal/media"
	"github.com/Corphon/DramaForge/internal/models"
)

type fakePrompts map[string]string

func (f fakePrompts) Resolve(_ context.Context, code string) (string, error) {
	return f[code], nil
}

type fakeText struct {
	reply  string
	err    error
	system string
	prompt string
}

func (f *fakeText) Complete(_ context.Context, system, prompt string) (string, error) {
	f.system, f.prompt = system, prompt
	return f.reply, f.err
}

type fakeStructured struct {
	names []string
	err   error
	calls int
}

func (f *fakeStructured) CreateStructuredCompletion(_ context.Context, _ string, _ string, out interface{}) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	res := out.(*relevanceResult)
	for _, n := range f.names {
		res.RelevantAssets = append(res.RelevantAssets, relevantAsset{Name: n, Reason: "test"})
	}
	return nil
}

func TestComposeThreeByThreeWithFillers(t *testing.T) {
	text := &fakeText{reply: "refined"}
	c := NewComposer(text, fakePrompts{"generateImagePrompts": "system"})

	prompts := []string{"a", "b", "c", "d", "e", "f", "g"}
	res, err := c.Compose(context.Background(), GridPromptOptions{
		Prompts:     prompts,
		Style:       "type: drama, style: ink",
		AspectRatio: "9:16",
		Assets:      []Resource{{Name: "Lin", Description: "swordsman"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "refined", res.Prompt)
	assert.Equal(t, 3, res.Layout.Cols)
	assert.Equal(t, 3, res.Layout.Rows)
	assert.Equal(t, 2, res.Layout.PlaceholderCount)

	assert.Equal(t, "system", text.system)
	assert.Contains(t, text.prompt, "[row 1, col 1]: a")
	assert.Contains(t, text.prompt, "[row 3, col 1]: g")
	assert.Contains(t, text.prompt, "[row 3, col 2]: solid black frame")
	assert.Contains(t, text.prompt, "[row 3, col 3]: solid black frame")
	assert.Equal(t, 2, strings.Count(text.prompt, FillerCell))
	assert.Contains(t, text.prompt, "9:16 (vertical short drama)")
	assert.Contains(t, text.prompt, "- Lin: swordsman")
}

func TestComposeFallbackWithoutTemplate(t *testing.T) {
	text := &fakeText{reply: "unused"}
	c := NewComposer(text, fakePrompts{})

	res, err := c.Compose(context.Background(), GridPromptOptions{Prompts: []string{"x", "y"}})
	require.NoError(t, err)
	assert.Equal(t, "please output 2 images\nprompts:\npanel 1: x\npanel 2: y", res.Prompt)
	assert.Empty(t, text.prompt)
}

func TestComposeFallbackOnEmptyText(t *testing.T) {
	c := NewComposer(&fakeText{reply: "  "}, fakePrompts{"generateImagePrompts": "system"})
	res, err := c.Compose(context.Background(), GridPromptOptions{Prompts: []string{"x"}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Prompt, "please output 1 images"))
}

func TestAspectRatioDescription(t *testing.T) {
	assert.Equal(t, "cinematic widescreen", AspectRatioDescription("16:9"))
	assert.Equal(t, "standard ratio", AspectRatioDescription("5:4"))
}

func refs(names ...string) []ReferenceImage {
	out := make([]ReferenceImage, len(names))
	for i, n := range names {
		out[i] = ReferenceImage{Name: n, FilePath: n + ".png"}
	}
	return out
}

func TestFilterFailsOpen(t *testing.T) {
	catalog := []Resource{{Name: "Lin"}, {Name: "temple"}}
	available := refs("Lin", "temple")

	cases := []struct {
		name string
		llm  *fakeStructured
	}{
		{"error", &fakeStructured{err: errors.New("boom")}},
		{"empty selection", &fakeStructured{}},
		{"no name matches", &fakeStructured{names: []string{"ghost"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NewFilter(tc.llm).Select(context.Background(), []string{"p"}, catalog, available)
			assert.Equal(t, available, got)
		})
	}
}

func TestFilterSkipsModelWhenNothingToChoose(t *testing.T) {
	llm := &fakeStructured{names: []string{"Lin"}}
	f := NewFilter(llm)

	assert.Equal(t, refs("Lin"), f.Select(context.Background(), nil, nil, refs("Lin")))
	assert.Equal(t, refs("Lin"), f.Select(context.Background(), nil, []Resource{{Name: "other"}}, refs("Lin")))
	assert.Equal(t, 0, llm.calls)
}

func TestFilterKeepsOrder(t *testing.T) {
	llm := &fakeStructured{names: []string{"c", "a"}}
	got := NewFilter(llm).Select(context.Background(), []string{"p"},
		[]Resource{{Name: "a"}, {Name: "b"}, {Name: "c"}}, refs("a", "b", "c"))
	assert.Equal(t, refs("a", "c"), got)
}

func TestReferenceMap(t *testing.T) {
	assert.Empty(t, ReferenceMap(nil))

	var names []string
	for i := 0; i < 11; i++ {
		names = append(names, string(rune('A'+i)))
	}
	m := ReferenceMap(refs(names...))
	assert.Contains(t, m, "A=image 1")
	assert.Contains(t, m, "I=image 9")
	assert.Contains(t, m, "J=image10-1")
	assert.Contains(t, m, "K=image10-2")
}

// ---- generator ----

type fakeStore struct {
	project *models.Project
	script  *models.Script
	outline *models.Outline
	assets  []models.Asset
	blobs   map[string][]byte
}

func (f *fakeStore) GetProject(context.Context, int64) (*models.Project, error) {
	return f.project, nil
}

func (f *fakeStore) GetScript(context.Context, int64, int64) (*models.Script, error) {
	if f.script == nil {
		return nil, apperrors.NewNotFoundError("script", nil)
	}
	return f.script, nil
}

func (f *fakeStore) GetOutline(context.Context, int64, int64) (*models.Outline, error) {
	if f.outline == nil {
		return nil, apperrors.NewNotFoundError("outline", nil)
	}
	return f.outline, nil
}

func (f *fakeStore) ListWithImages(_ context.Context, _ int64, names []string) ([]models.Asset, error) {
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out []models.Asset
	for _, a := range f.assets {
		if want[a.Name] && a.FilePath != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) Read(_ context.Context, key string) ([]byte, error) {
	data, ok := f.blobs[key]
	if !ok {
		return nil, apperrors.NewNotFoundError(key, nil)
	}
	return data, nil
}

type fakeImages struct {
	calls int
	req   imagegen.Request
}

func (f *fakeImages) Generate(_ context.Context, req imagegen.Request) ([]byte, error) {
	f.calls++
	f.req = req
	return []byte("grid"), nil
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestGenerator(store *fakeStore, images *fakeImages, llm *fakeStructured) *Generator {
	composer := NewComposer(&fakeText{}, fakePrompts{})
	return NewGenerator(store, store, store, store, images, composer, NewFilter(llm), media.DefaultLimits())
}

func TestGeneratorFailsFastWithoutReferences(t *testing.T) {
	store := &fakeStore{
		project: &models.Project{ID: 1},
		script:  &models.Script{ID: 2, OutlineID: 3},
		outline: &models.Outline{ID: 3, Data: models.Episode{Characters: []models.AssetItem{{Name: "Lin"}}}},
		assets:  []models.Asset{{Name: "Lin", Type: models.AssetRole}},
	}
	images := &fakeImages{}
	_, err := newTestGenerator(store, images, &fakeStructured{}).Generate(context.Background(),
		GenerateRequest{ProjectID: 1, ScriptID: 2, Prompts: []string{"a"}})

	require.Error(t, err)
	assert.True(t, apperrors.IsResourceError(err))
	assert.Equal(t, 0, images.calls)
}

func TestGeneratorMissingOutlineMeansNoReferences(t *testing.T) {
	store := &fakeStore{
		project: &models.Project{ID: 1},
		script:  &models.Script{ID: 2, OutlineID: 99},
	}
	images := &fakeImages{}
	_, err := newTestGenerator(store, images, &fakeStructured{}).Generate(context.Background(),
		GenerateRequest{ProjectID: 1, ScriptID: 2, Prompts: []string{"a"}})
	assert.True(t, apperrors.IsResourceError(err))
	assert.Equal(t, 0, images.calls)
}

func TestGeneratorBuildsImageRequest(t *testing.T) {
	ref := tinyPNG(t)
	store := &fakeStore{
		project: &models.Project{ID: 1, Type: "drama", ArtStyle: "ink"},
		script:  &models.Script{ID: 2, OutlineID: 3},
		outline: &models.Outline{ID: 3, Data: models.Episode{
			Characters: []models.AssetItem{{Name: "Lin", Description: "swordsman"}},
			Scenes:     []models.AssetItem{{Name: "temple", Description: "ruined"}},
		}},
		assets: []models.Asset{
			{Name: "Lin", Type: models.AssetRole, FilePath: "1/Lin.png"},
			{Name: "temple", Type: models.AssetScene, FilePath: "1/temple.png"},
		},
		blobs: map[string][]byte{"1/Lin.png": ref, "1/temple.png": ref},
	}
	images := &fakeImages{}
	out, err := newTestGenerator(store, images, &fakeStructured{names: []string{"temple"}}).Generate(context.Background(),
		GenerateRequest{ProjectID: 1, ScriptID: 2, Prompts: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []byte("grid"), out)

	require.Equal(t, 1, images.calls)
	assert.Equal(t, "4K", images.req.Size)
	assert.Equal(t, DefaultAspectRatio, images.req.AspectRatio)
	assert.Len(t, images.req.Images, 1)
	assert.Contains(t, images.req.SystemPrompt, "temple=image 1")
	assert.Contains(t, images.req.Prompt, "please output 2 images")
}
