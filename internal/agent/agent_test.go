// internal/agent/agent_test.go
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/DramaForge/internal/llm"
	"github.com/Corphon/DramaForge/internal/llm/llmtest"
	"github.com/Corphon/DramaForge/internal/models"
	"github.com/Corphon/DramaForge/internal/services"
	"github.com/Corphon/DramaForge/internal/storage"
	"github.com/Corphon/DramaForge/internal/storyboard"
)

// ---- fixtures ----

type stores struct {
	db       *storage.DB
	projects *storage.ProjectStore
	outlines *storage.OutlineStore
	assets   *storage.AssetStore
}

func openStores(t *testing.T) stores {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { db.Close() })
	return stores{
		db:       db,
		projects: storage.NewProjectStore(db),
		outlines: storage.NewOutlineStore(db),
		assets:   storage.NewAssetStore(db),
	}
}

type mapPrompts map[string]string

func (m mapPrompts) Resolve(_ context.Context, code string) (string, error) {
	return m[code], nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func record(e *Emitter) *recorder {
	r := &recorder{}
	e.Subscribe(func(ev Event) {
		r.mu.Lock()
		r.events = append(r.events, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) ofType(t string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func call(id, name string, args interface{}) llm.ToolCall {
	raw, _ := json.Marshal(args)
	return llm.ToolCall{ID: id, Name: name, Arguments: string(raw)}
}

func runTool(t *testing.T, tools Toolset, name string, args interface{}) string {
	t.Helper()
	tool, ok := tools.Find(name)
	require.True(t, ok, name)
	raw, _ := json.Marshal(args)
	out, err := tool.Handler(context.Background(), raw)
	require.NoError(t, err)
	return out
}

// ---- runner ----

func echoTool() Tool {
	return Tool{
		Name: "echo",
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in struct {
				Text string `json:"text"`
			}
			if err := decodeArgs(args, &in); err != nil {
				return "", err
			}
			return "echo: " + in.Text, nil
		},
	}
}

func TestRunnerToolLoop(t *testing.T) {
	fake := llmtest.New(
		llmtest.Turn{Text: "calling ", ToolCalls: []llm.ToolCall{call("c1", "echo", map[string]string{"text": "hi"})}},
		llmtest.Turn{Text: "done"},
	)
	var texts []string
	var calls []string
	res, err := NewRunner(fake).Run(context.Background(), RunInput{
		System:   "sys",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "go"}},
		Tools:    Toolset{echoTool()},
	}, Hooks{
		OnText:     func(s string) { texts = append(texts, s) },
		OnToolCall: func(c llm.ToolCall) { calls = append(calls, c.Name) },
	})
	require.NoError(t, err)

	assert.Equal(t, "calling done", res.Text)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, "calling done", strings.Join(texts, ""))
	assert.Equal(t, []string{"echo"}, calls)

	// user, assistant(tool call), tool, assistant
	require.Len(t, res.Messages, 4)
	assert.Equal(t, llm.RoleTool, res.Messages[2].Role)
	assert.Equal(t, "c1", res.Messages[2].ToolCallID)
	assert.Equal(t, "echo: hi", res.Messages[2].Content)

	reqs := fake.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "sys", reqs[0].System)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "echo", reqs[0].Tools[0].Name)
}

func TestRunnerToolFailuresBecomeText(t *testing.T) {
	boom := Tool{Name: "boom", Handler: func(context.Context, json.RawMessage) (string, error) {
		panic("kaboom")
	}}
	bad := Tool{Name: "bad", Handler: func(context.Context, json.RawMessage) (string, error) {
		return "", errors.New("disk full")
	}}
	fake := llmtest.New(
		llmtest.Turn{ToolCalls: []llm.ToolCall{
			call("1", "boom", nil),
			call("2", "bad", nil),
			call("3", "missing", nil),
		}},
		llmtest.Turn{Text: "recovered"},
	)
	res, err := NewRunner(fake).Run(context.Background(), RunInput{Tools: Toolset{boom, bad}}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Text)

	var results []string
	for _, m := range res.Messages {
		if m.Role == llm.RoleTool {
			results = append(results, m.Content)
		}
	}
	assert.Equal(t, []string{
		"tool boom failed: kaboom",
		"tool bad failed: disk full",
		"tool missing does not exist",
	}, results)
}

func TestRunnerStopsAtMaxSteps(t *testing.T) {
	loop := llmtest.Turn{ToolCalls: []llm.ToolCall{call("x", "echo", map[string]string{"text": "again"})}}
	fake := llmtest.New(loop, loop, loop, loop)
	res, err := NewRunner(fake).Run(context.Background(), RunInput{Tools: Toolset{echoTool()}, MaxSteps: 2}, Hooks{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Steps)
	assert.Len(t, fake.Requests(), 2)
}

func TestRunnerStreamError(t *testing.T) {
	fake := llmtest.New(llmtest.Turn{Err: errors.New("upstream down")})
	_, err := NewRunner(fake).Run(context.Background(), RunInput{}, Hooks{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestMergeKeepsFirst(t *testing.T) {
	a := Tool{Name: "x", Description: "first"}
	b := Tool{Name: "x", Description: "second"}
	c := Tool{Name: "y"}
	merged := Merge(Toolset{a}, Toolset{b, c})
	assert.Equal(t, []string{"x", "y"}, merged.Names())
	assert.Equal(t, "first", merged[0].Description)
}

// ---- emitter ----

func TestEmitterCloseDropsEvents(t *testing.T) {
	e := NewEmitter()
	r := record(e)
	e.Emit(EventData, "a")
	e.Close()
	e.Emit(EventData, "b")
	assert.True(t, e.Closed())
	assert.Len(t, r.ofType(EventData), 1)

	// 关闭后订阅无效
	late := record(e)
	e.Emit(EventData, "c")
	assert.Empty(t, late.ofType(EventData))
}

func TestEmitterUnsubscribe(t *testing.T) {
	e := NewEmitter()
	n := 0
	cancel := e.Subscribe(func(Event) { n++ })
	e.Emit(EventNotice, nil)
	cancel()
	e.Emit(EventNotice, nil)
	assert.Equal(t, 1, n)
}

// ---- outline orchestrator ----

func newOutlineAgent(t *testing.T, fake *llmtest.Provider, prompts mapPrompts) (*OutlineAgent, stores, int64) {
	t.Helper()
	s := openStores(t)
	p := &models.Project{Name: "Jade", Intro: "a tale", Type: "fantasy", ArtStyle: "ink", VideoRatio: "9:16"}
	require.NoError(t, s.projects.CreateProject(context.Background(), p))
	a := NewOutlineAgent(p.ID, fake, OutlineDeps{
		Projects: s.projects,
		Outlines: s.outlines,
		Assets:   services.NewAssetService(s.outlines, s.assets, services.NewLockManager()),
		Prompts:  prompts,
	})
	return a, s, p.ID
}

func TestOutlineCallSavesStoryline(t *testing.T) {
	fake := llmtest.New(
		llmtest.Turn{ToolCalls: []llm.ToolCall{call("1", "saveStoryline", map[string]string{"content": "hero rises"})}},
		llmtest.Turn{Text: "storyline ready"},
	)
	a, s, pid := newOutlineAgent(t, fake, mapPrompts{storage.PromptOutlineMain: "you are the planner"})
	r := record(a.Events())

	reply, err := a.Call(context.Background(), "write the storyline")
	require.NoError(t, err)
	assert.Equal(t, "storyline ready", reply)

	sl, err := s.projects.GetStoryline(context.Background(), pid)
	require.NoError(t, err)
	assert.Equal(t, "hero rises", sl.Content)

	refresh := r.ofType(EventRefresh)
	require.Len(t, refresh, 1)
	assert.Equal(t, RefreshStoryline, refresh[0].Data)
	require.Len(t, r.ofType(EventResponse), 1)
	assert.Len(t, r.ofType(EventToolCall), 1)

	history := a.History()
	require.Len(t, history, 2)
	assert.Equal(t, llm.RoleUser, history[0].Role)
	assert.Equal(t, "storyline ready", history[1].Content)

	sys := fake.Requests()[0].System
	assert.Contains(t, sys, "<environment>")
	assert.Contains(t, sys, "novel name: Jade")
	assert.Contains(t, sys, "storyline status: not generated")
	assert.True(t, strings.HasSuffix(sys, "you are the planner"))
}

func TestOutlineMissingPromptUsesConfigError(t *testing.T) {
	fake := llmtest.New(llmtest.Turn{Text: "Agent configuration error"})
	a, _, _ := newOutlineAgent(t, fake, mapPrompts{})

	_, err := a.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(fake.Requests()[0].System, ConfigErrorPrompt))
}

func TestOutlineCallErrorKeepsInstanceUsable(t *testing.T) {
	fake := llmtest.New(llmtest.Turn{Err: errors.New("rate limited")}, llmtest.Turn{Text: "back"})
	a, _, _ := newOutlineAgent(t, fake, mapPrompts{})
	r := record(a.Events())

	_, err := a.Call(context.Background(), "first")
	require.Error(t, err)
	require.Len(t, r.ofType(EventError), 1)

	reply, err := a.Call(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "back", reply)
}

func TestOutlineSubAgent(t *testing.T) {
	fake := llmtest.New(
		llmtest.Turn{ToolCalls: []llm.ToolCall{call("1", "AI1", map[string]string{"taskDescription": "draft it"})}},
		llmtest.Turn{Text: "draft complete"}, // 子代理
		llmtest.Turn{Text: "all done"},
	)
	a, _, _ := newOutlineAgent(t, fake, mapPrompts{storage.PromptOutlineA1: "writer prompt"})
	a.SetNovel([]models.Chapter{{ChapterIndex: 1, Reel: "I", Chapter: "Dawn"}})
	r := record(a.Events())

	reply, err := a.Call(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, "all done", reply)

	transfer := r.ofType(EventTransfer)
	require.Len(t, transfer, 1)
	assert.Equal(t, TransferPayload{To: "AI1"}, transfer[0].Data)
	require.Len(t, r.ofType(EventSubAgentEnd), 1)
	assert.NotEmpty(t, r.ofType(EventSubAgentStream))

	reqs := fake.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "writer prompt", reqs[1].System)
	task := reqs[1].Messages[0].Content
	assert.Contains(t, task, "chapter:1, reel:I, name:Dawn")
	assert.Contains(t, task, "<current task>\ndraft it\n</current task>")
	assert.Contains(t, task, "user: start")
	assert.Len(t, reqs[1].Tools, 6)

	// 主代理收到子代理结果
	last := reqs[2].Messages[len(reqs[2].Messages)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "draft complete", last.Content)

	history := a.History()
	require.Len(t, history, 3)
	assert.Equal(t, "draft complete", history[1].Content)
}

func TestOutlineTools(t *testing.T) {
	a, s, pid := newOutlineAgent(t, llmtest.New(), mapPrompts{})
	ctx := context.Background()
	tools := a.Tools()
	r := record(a.Events())

	assert.Equal(t, "this project has no outline", runTool(t, tools, "getOutline", map[string]bool{"simplified": true}))
	assert.Equal(t, "no outline data in this project, cannot generate assets", runTool(t, tools, "generateAssets", nil))
	assert.Equal(t, "this project has no storyline", runTool(t, tools, "deleteStoryline", nil))

	out := runTool(t, tools, "saveOutline", map[string]interface{}{
		"episodes": []models.Episode{
			{Title: "One", Characters: []models.AssetItem{{Name: "Lin", Description: "swordsman"}},
				KeyEvents: []string{"meet", "fight", "betrayal", "escape"}},
			{Title: "Two", Scenes: []models.AssetItem{{Name: "temple", Description: "ruined"}}},
		},
	})
	assert.Equal(t, "outline saved: inserted 2 episodes, created 2 script records", out)

	outlines, err := s.outlines.ListOutlines(ctx, pid)
	require.NoError(t, err)
	require.Len(t, outlines, 2)

	simple := runTool(t, tools, "getOutline", map[string]bool{"simplified": true})
	assert.Equal(t, fmt.Sprintf("Project outline (2 episodes):\nEpisode 1 (id=%d)\nEpisode 2 (id=%d)", outlines[0].ID, outlines[1].ID), simple)

	full := runTool(t, tools, "getOutline", nil)
	assert.Contains(t, full, "  - setup: meet")
	assert.Contains(t, full, "  - resolution: escape")
	assert.Contains(t, full, "characters: Lin (swordsman)")

	assert.Equal(t, "outline ID not found: 999", runTool(t, tools, "updateOutline", map[string]interface{}{
		"id": 999, "data": models.Episode{Title: "x"},
	}))
	assert.Equal(t, fmt.Sprintf("outline ID %d updated", outlines[1].ID), runTool(t, tools, "updateOutline", map[string]interface{}{
		"id": outlines[1].ID, "data": models.Episode{Title: "Two bis"},
	}))

	assert.Equal(t, "assets generated: inserted 2, updated 0, kept 0", runTool(t, tools, "generateAssets", nil))

	del := runTool(t, tools, "deleteOutline", map[string]interface{}{"ids": []int64{outlines[0].ID, 999}})
	assert.Equal(t, fmt.Sprintf("delete result: ID %d: success, ID 999: failure", outlines[0].ID), del)

	var kinds []interface{}
	for _, ev := range r.ofType(EventRefresh) {
		kinds = append(kinds, ev.Data)
	}
	assert.Equal(t, []interface{}{RefreshOutline, RefreshOutline, RefreshAssets, RefreshOutline}, kinds)
}

func TestOutlineGetChapter(t *testing.T) {
	a, s, pid := newOutlineAgent(t, llmtest.New(), mapPrompts{})
	require.NoError(t, s.projects.AddChapters(context.Background(), pid, []models.Chapter{
		{ChapterIndex: 1, Reel: "I", Chapter: "Dawn", ChapterData: "the sun rose"},
	}))

	out := runTool(t, a.Tools(), "getChapter", map[string][]int{"chapterNumbers": {1, 2}})
	assert.Equal(t, "\n[Chapter 1 Dawn]\nthe sun rose\n\n---\n\n[Chapter 2] not found", out)
}

func TestHistoryRoundTrip(t *testing.T) {
	a, _, _ := newOutlineAgent(t, llmtest.New(), mapPrompts{})
	a.SetHistory([]llm.Message{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "yo"}})
	data, err := a.MarshalHistory()
	require.NoError(t, err)

	b, _, _ := newOutlineAgent(t, llmtest.New(), mapPrompts{})
	require.NoError(t, b.UnmarshalHistory(data))
	assert.Equal(t, a.History(), b.History())

	require.NoError(t, b.UnmarshalHistory(""))
	assert.Empty(t, b.History())
	assert.Equal(t, "no conversation history", b.historyText())
}

// ---- storyboard orchestrator ----

type fakeGrid struct {
	mu   sync.Mutex
	reqs []storyboard.GenerateRequest
	err  error
	// gate 非空时 Generate 阻塞到 gate 关闭
	gate chan struct{}
}

func (f *fakeGrid) Generate(_ context.Context, req storyboard.GenerateRequest) ([]byte, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	err, gate := f.err, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return []byte("grid"), nil
}

type memBlobs struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (m *memBlobs) Write(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.files[key] = data
	return nil
}

func (m *memBlobs) PublicURL(key string) string { return "/files/" + key }

func fakeSplit(_ []byte, count int) ([][]byte, error) {
	out := make([][]byte, count)
	for i := range out {
		out[i] = []byte{byte(i)}
	}
	return out, nil
}

func newStoryboardAgent(t *testing.T, gen GridGenerator, blobs BlobWriter) (*StoryboardAgent, int64, int64) {
	t.Helper()
	s := openStores(t)
	ctx := context.Background()
	p := &models.Project{Name: "Jade", Type: "fantasy", ArtStyle: "ink", VideoRatio: "16:9"}
	require.NoError(t, s.projects.CreateProject(ctx, p))
	_, err := s.outlines.SaveOutlines(ctx, p.ID, []models.Episode{{
		Title:      "One",
		Characters: []models.AssetItem{{Name: "Lin", Description: "swordsman"}},
		Scenes:     []models.AssetItem{{Name: "temple"}},
	}}, true, 0)
	require.NoError(t, err)
	scripts, err := s.outlines.ListScripts(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, scripts, 1)
	require.NoError(t, s.outlines.UpdateScriptContent(ctx, p.ID, scripts[0].ID, "INT. TEMPLE - NIGHT"))

	a := NewStoryboardAgent(p.ID, scripts[0].ID, llmtest.New(), StoryboardDeps{
		Projects:  s.projects,
		Outlines:  s.outlines,
		Prompts:   mapPrompts{},
		Generator: gen,
		Blobs:     blobs,
		Split:     fakeSplit,
	})
	return a, p.ID, scripts[0].ID
}

func TestStoryboardScriptAndAssets(t *testing.T) {
	a, _, _ := newStoryboardAgent(t, &fakeGrid{}, &memBlobs{})
	tools := a.Tools()

	assert.Equal(t, "Script: Episode 1\n\ncontent:\n```\nINT. TEMPLE - NIGHT\n```", runTool(t, tools, "getScript", nil))

	assets := runTool(t, tools, "getAssets", nil)
	assert.True(t, strings.HasPrefix(assets, "<asset list>\n[characters]\n- Lin: swordsman\n\n[scenes]\n- temple\n</asset list>"))
	assert.Contains(t, assets, assetRules)

	env, err := a.environment(context.Background())
	require.NoError(t, err)
	assert.Contains(t, env, "[characters] Lin")
	assert.Contains(t, env, "[scenes] temple")
	assert.Contains(t, env, "video ratio: 16:9")
}

func TestStoryboardShotEditing(t *testing.T) {
	a, _, _ := newStoryboardAgent(t, &fakeGrid{}, &memBlobs{})
	tools := a.Tools()
	r := record(a.Events())

	assert.Equal(t, "no segments yet, call segmentAgent first", runTool(t, tools, "getSegments", nil))
	assert.Equal(t, "stored 2 segments", runTool(t, tools, "updateSegments", map[string]interface{}{
		"segments": []models.Segment{{Index: 1, Description: "arrival"}, {Index: 2, Description: "duel"}},
	}))
	require.Len(t, r.ofType(EventSegmentsUpdated), 1)

	out := runTool(t, tools, "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{
			{"segmentIndex": 1, "prompts": []string{"wide", "close"}, "assetsTags": []models.AssetTag{{Type: "role", Text: "Lin"}}},
			{"segmentIndex": 2, "prompts": []string{"clash"}},
		},
	})
	assert.Equal(t, "added shot 1 (segment 0), shot 2 (segment 1). current total: 2", out)

	// 已有分镜的片段被跳过，计数器不回退
	out = runTool(t, tools, "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{
			{"segmentIndex": 1, "prompts": []string{"again"}},
			{"segmentIndex": 3, "prompts": []string{"after"}},
		},
	})
	assert.Equal(t, "added shot 3 (segment 2); segments 0 already have shots and were skipped. current total: 3", out)

	shots := a.Shots()
	require.Len(t, shots, 3)
	assert.Equal(t, "arrival", shots[0].FragmentContent)
	assert.Equal(t, "shot 1", shots[0].Title)
	assert.Empty(t, shots[2].FragmentContent)
	assert.NotEqual(t, shots[0].Cells[0].ID, shots[0].Cells[1].ID)

	// 按位置更新：保留 id，多出的提示词新建格子
	firstID := shots[0].Cells[0].ID
	assert.Equal(t, "shot 1 updated", runTool(t, tools, "updateShots", map[string]interface{}{
		"shotId": 1, "prompts": []string{"wider", "closer", "insert"},
	}))
	updated := a.Shots()[0]
	require.Len(t, updated.Cells, 3)
	assert.Equal(t, firstID, updated.Cells[0].ID)
	assert.Equal(t, "wider", updated.Cells[0].Prompt)
	assert.NotEmpty(t, updated.Cells[2].ID)

	assert.Equal(t, "shot 1 updated", runTool(t, tools, "updateShots", map[string]interface{}{
		"shotId": 1, "prompts": []string{"only"},
	}))
	assert.Len(t, a.Shots()[0].Cells, 1)
	assert.Equal(t, "shot 9 does not exist, check the shot id", runTool(t, tools, "updateShots", map[string]interface{}{
		"shotId": 9, "prompts": []string{"x"},
	}))

	assert.Equal(t, "deleted shots 2; shots 7 do not exist. current total: 2", runTool(t, tools, "deleteShots", map[string]interface{}{
		"shotIds": []int{2, 7},
	}))

	// 删除后新增的分镜继续使用递增 ID
	out = runTool(t, tools, "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{{"segmentIndex": 2, "prompts": []string{"redo"}}},
	})
	assert.Equal(t, "added shot 4 (segment 1). current total: 3", out)
	assert.NotEmpty(t, r.ofType(EventShotsUpdated))
}

func TestStoryboardReplaceCell(t *testing.T) {
	a, _, _ := newStoryboardAgent(t, &fakeGrid{}, &memBlobs{})
	runTool(t, a.Tools(), "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{{"segmentIndex": 1, "prompts": []string{"wide"}}},
	})
	cellID := a.Shots()[0].Cells[0].ID

	require.NoError(t, a.ReplaceCell(0, cellID, models.Cell{Src: "/files/new.png"}))
	cell := a.Shots()[0].Cells[0]
	assert.Equal(t, cellID, cell.ID)
	assert.Equal(t, "wide", cell.Prompt)
	assert.Equal(t, "/files/new.png", cell.Src)

	assert.Error(t, a.ReplaceCell(5, cellID, models.Cell{}))
	assert.Error(t, a.ReplaceCell(0, "nope", models.Cell{}))
}

func TestGenerateShotImages(t *testing.T) {
	gen := &fakeGrid{}
	blobs := &memBlobs{}
	a, pid, sid := newStoryboardAgent(t, gen, blobs)
	tools := a.Tools()
	r := record(a.Events())

	runTool(t, tools, "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{{"segmentIndex": 1, "prompts": []string{"wide", "", "close"}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	reply := a.StartShotImages(ctx, []int{1, 5})
	cancel() // 后台任务不随调用方取消
	assert.Equal(t, "started generating images for shots 1 in the background; shots 5 do not exist", reply)
	a.Wait()

	require.Len(t, gen.reqs, 1)
	assert.Equal(t, storyboard.GenerateRequest{ProjectID: pid, ScriptID: sid, Prompts: []string{"wide", "close"}}, gen.reqs[0])
	assert.Len(t, blobs.files, 2)
	for key := range blobs.files {
		assert.True(t, strings.HasPrefix(key, fmt.Sprintf("%d/chat/%d/storyboard/shot_1_take_", pid, sid)), key)
	}

	require.Len(t, r.ofType(EventShotImageStart), 1)
	complete := r.ofType(EventShotImageComplete)
	require.Len(t, complete, 1)
	payload := complete[0].Data.(ShotImageCompletePayload)
	assert.Equal(t, 1, payload.ShotID)
	assert.Len(t, payload.ImagePaths, 2)

	cells := a.Shots()[0].Cells
	assert.Equal(t, payload.ImagePaths[0], cells[0].Src)
	assert.Empty(t, cells[1].Src)
	assert.Equal(t, payload.ImagePaths[1], cells[2].Src)

	var stages []string
	for _, ev := range r.ofType(EventShotImageProgress) {
		stages = append(stages, ev.Data.(ShotImageProgressPayload).Status)
	}
	assert.Equal(t, []string{StageGenerating, StageSplitting, StageSaving, StageSaving}, stages)
	assert.Empty(t, a.Generating())

	assert.Equal(t, "shots 9 do not exist, check the shot ids", a.StartShotImages(context.Background(), []int{9}))
}

func TestGenerateShotImageFailureUnmarks(t *testing.T) {
	gen := &fakeGrid{err: errors.New("vendor down")}
	a, _, _ := newStoryboardAgent(t, gen, &memBlobs{})
	r := record(a.Events())
	runTool(t, a.Tools(), "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{{"segmentIndex": 1, "prompts": []string{"wide"}}},
	})

	out := runTool(t, a.Tools(), "generateShotImage", map[string][]int{"shotIds": {1}})
	assert.Contains(t, out, "started generating images for shots 1")
	a.Wait()

	errs := r.ofType(EventShotImageError)
	require.Len(t, errs, 1)
	assert.Equal(t, ShotImageErrorPayload{ShotID: 1, Error: "vendor down"}, errs[0].Data)
	assert.Empty(t, r.ofType(EventShotImageComplete))
	assert.Empty(t, a.Generating())
	assert.Empty(t, a.Shots()[0].Cells[0].Src)
}

func TestShotEditsWaitForRunningGeneration(t *testing.T) {
	gen := &fakeGrid{gate: make(chan struct{})}
	a, _, _ := newStoryboardAgent(t, gen, &memBlobs{})
	tools := a.Tools()
	ctx := context.Background()
	runTool(t, tools, "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{
			{"segmentIndex": 1, "prompts": []string{"old A", "old B"}},
			{"segmentIndex": 2, "prompts": []string{"other"}},
		},
	})

	assert.Equal(t, "started generating images for shots 1 in the background", a.StartShotImages(ctx, []int{1}))
	assert.Equal(t, "shots 1 are already generating, please wait", a.StartShotImages(ctx, []int{1}))
	assert.Equal(t, "shots 1 are already generating, please wait",
		runTool(t, tools, "generateShotImage", map[string][]int{"shotIds": {1}}))

	// 生成中的分镜不能改也不能删，其余分镜照常处理
	assert.Equal(t, "shot 1 is generating, please wait", runTool(t, tools, "updateShots", map[string]interface{}{
		"shotId": 1, "prompts": []string{"NEW X", "NEW Y"},
	}))
	assert.Equal(t, "deleted shots 2; shots 1 are generating, please wait. current total: 1",
		runTool(t, tools, "deleteShots", map[string]interface{}{"shotIds": []int{1, 2}}))

	close(gen.gate)
	a.Wait()

	shots := a.Shots()
	require.Len(t, shots, 1)
	cells := shots[0].Cells
	require.Len(t, cells, 2)
	assert.Equal(t, "old A", cells[0].Prompt)
	assert.Equal(t, "old B", cells[1].Prompt)
	assert.NotEmpty(t, cells[0].Src)
	assert.NotEmpty(t, cells[1].Src)
	require.Len(t, gen.reqs, 1)

	// 生成结束后可以修改
	assert.Equal(t, "shot 1 updated", runTool(t, tools, "updateShots", map[string]interface{}{
		"shotId": 1, "prompts": []string{"NEW X"},
	}))
}

func TestGenerateShotImagePanicFailsOnlyThatShot(t *testing.T) {
	gen := &fakeGrid{}
	a, _, _ := newStoryboardAgent(t, gen, &memBlobs{})
	r := record(a.Events())
	runTool(t, a.Tools(), "addShots", map[string]interface{}{
		"shots": []map[string]interface{}{
			{"segmentIndex": 1, "prompts": []string{"wide", "close"}},
			{"segmentIndex": 2, "prompts": []string{"clash"}},
		},
	})
	a.deps.Split = func(buf []byte, count int) ([][]byte, error) {
		if count == 2 {
			panic("bad grid")
		}
		return fakeSplit(buf, count)
	}

	a.StartShotImages(context.Background(), []int{1, 2})
	a.Wait()

	errs := r.ofType(EventShotImageError)
	require.Len(t, errs, 1)
	payload := errs[0].Data.(ShotImageErrorPayload)
	assert.Equal(t, 1, payload.ShotID)
	assert.Contains(t, payload.Error, "bad grid")

	complete := r.ofType(EventShotImageComplete)
	require.Len(t, complete, 1)
	assert.Equal(t, 2, complete[0].Data.(ShotImageCompletePayload).ShotID)
	assert.Empty(t, a.Generating())

	// 失败的分镜可以重新生成
	a.deps.Split = fakeSplit
	assert.Equal(t, "started generating images for shots 1 in the background", a.StartShotImages(context.Background(), []int{1}))
	a.Wait()
}

func TestSubAgentFailureStillEnds(t *testing.T) {
	fake := llmtest.New(
		llmtest.Turn{ToolCalls: []llm.ToolCall{call("1", "AI1", map[string]string{"taskDescription": "draft it"})}},
		llmtest.Turn{Err: errors.New("sub boom")}, // 子代理
		llmtest.Turn{Text: "recovered"},
	)
	a, _, _ := newOutlineAgent(t, fake, mapPrompts{storage.PromptOutlineA1: "writer prompt"})
	r := record(a.Events())

	reply, err := a.Call(context.Background(), "start")
	require.NoError(t, err)
	assert.Equal(t, "recovered", reply)

	require.Len(t, r.ofType(EventTransfer), 1)
	ends := r.ofType(EventSubAgentEnd)
	require.Len(t, ends, 1)
	end := ends[0].Data.(SubAgentEndPayload)
	assert.Equal(t, "AI1", end.Agent)
	assert.Contains(t, end.Error, "sub boom")
}

func TestDeleteOutlineSettlesEveryID(t *testing.T) {
	a, s, pid := newOutlineAgent(t, llmtest.New(), mapPrompts{})
	ctx := context.Background()
	r := record(a.Events())
	_, err := s.outlines.SaveOutlines(ctx, pid, []models.Episode{{Title: "a"}, {Title: "b"}, {Title: "c"}}, true, 0)
	require.NoError(t, err)
	outlines, err := s.outlines.ListOutlines(ctx, pid)
	require.NoError(t, err)
	require.Len(t, outlines, 3)

	// 第二条删除时数据库报错
	_, err = s.db.Conn.ExecContext(ctx, fmt.Sprintf(
		`CREATE TRIGGER keep_outline BEFORE DELETE ON outlines WHEN OLD.id = %d BEGIN SELECT RAISE(ABORT, 'locked'); END`,
		outlines[1].ID))
	require.NoError(t, err)

	out := runTool(t, a.Tools(), "deleteOutline", map[string]interface{}{
		"ids": []int64{outlines[0].ID, outlines[1].ID, outlines[2].ID},
	})
	assert.Equal(t, fmt.Sprintf("delete result: ID %d: success, ID %d: failure, ID %d: success",
		outlines[0].ID, outlines[1].ID, outlines[2].ID), out)
	require.Len(t, r.ofType(EventRefresh), 1)

	left, err := s.outlines.ListOutlines(ctx, pid)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, outlines[1].ID, left[0].ID)
}
