// internal/services/generation_service.go
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sync"
	"time"

	"github.com/Corphon/StoryboardSync/internal/config"
	apperrors "github.com/Corphon/StoryboardSync/internal/errors"
	"github.com/Corphon/StoryboardSync/internal/models"
	"github.com/Corphon/StoryboardSync/internal/storage"
	"github.com/Corphon/StoryboardSync/internal/utils"
	"github.com/Corphon/StoryboardSync/internal/videogen"
	"golang.org/x/sync/errgroup"
)

// 视频页网格布局
const (
	gridColumns  = 3
	gridOriginX  = 100.0
	gridOriginY  = 100.0
	gridSpacingX = 520.0
	gridSpacingY = 520.0
	videoWidth   = 480.0
)

// GenerationOptions 工作池与轮询参数
type GenerationOptions struct {
	Workers      int
	PollInterval time.Duration
	MaxPolls     int
}

// ProviderSource 每次启动生成时获取提供者，凭据可能在运行期间被修改
type ProviderSource func() (videogen.Provider, error)

// ConfigProviderSource 按当前配置创建提供者
func ConfigProviderSource() ProviderSource {
	return func() (videogen.Provider, error) {
		cfg := config.GetCurrentConfig()
		return videogen.GetProvider(cfg.VideoProvider, map[string]string{
			"access_key": cfg.VideoAccessKey,
			"secret_key": cfg.VideoSecretKey,
			"base_url":   cfg.VideoAPIBaseURL,
		})
	}
}

// GenerationService 后台推进视频生成任务，并把结果放到系统视频页
type GenerationService struct {
	store    *storage.Store
	assets   *storage.AssetStorage
	notifier *Notifier
	resolver *DefaultResolver
	progress *ProgressService
	prober   videogen.Prober
	provider ProviderSource
	opts     GenerationOptions
	client   *http.Client
	metrics  *utils.SyncMetrics

	baseCtx  context.Context
	inflight sync.Map
	wg       sync.WaitGroup
}

// NewGenerationService 创建生成服务；ctx 取消时放弃所有进行中的任务
func NewGenerationService(ctx context.Context, store *storage.Store, assets *storage.AssetStorage, notifier *Notifier,
	resolver *DefaultResolver, progress *ProgressService, prober videogen.Prober, provider ProviderSource,
	opts GenerationOptions) *GenerationService {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.MaxPolls <= 0 {
		opts.MaxPolls = 120
	}
	if progress == nil {
		progress = NewProgressService()
	}
	return &GenerationService{
		store:    store,
		assets:   assets,
		notifier: notifier,
		resolver: resolver,
		progress: progress,
		prober:   prober,
		provider: provider,
		opts:     opts,
		client:   &http.Client{Timeout: 10 * time.Minute},
		metrics:  utils.NewSyncMetrics(),
		baseCtx:  ctx,
	}
}

// Progress 进度服务
func (s *GenerationService) Progress() *ProgressService {
	return s.progress
}

// Wait 等待所有已启动的任务结束
func (s *GenerationService) Wait() {
	s.wg.Wait()
}

// StartGeneration 把任务放入后台工作池；ids 为空时启动全部待生成任务
// 返回实际启动的任务ID，生成中或已完成的任务会被跳过
func (s *GenerationService) StartGeneration(ctx context.Context, ids []string) ([]string, error) {
	if s.provider == nil {
		return nil, apperrors.NewValidationError("未配置视频生成提供者", nil)
	}
	provider, err := s.provider()
	if err != nil {
		return nil, apperrors.NewValidationError("视频生成提供者不可用: "+err.Error(), err)
	}

	var tasks []*models.BatchTask
	if len(ids) == 0 {
		all, err := s.store.ListBatchTasks(ctx)
		if err != nil {
			return nil, storeErr(err)
		}
		for _, t := range all {
			if t.Status == models.TaskStatusPending {
				tasks = append(tasks, t)
			}
		}
	} else {
		for _, id := range ids {
			t, err := s.store.GetBatchTask(ctx, id)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return nil, storeErr(err)
			}
			tasks = append(tasks, t)
		}
	}

	started := make([]*models.BatchTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == models.TaskStatusGenerating || t.Status == models.TaskStatusCompleted {
			continue
		}
		if _, loaded := s.inflight.LoadOrStore(t.ID, true); loaded {
			continue
		}
		if t.Status == models.TaskStatusFailed {
			// 失败任务重新排队
			if err := s.setStatus(s.baseCtx, t.ID, storage.TaskStatusUpdate{Status: models.TaskStatusPending}); err != nil {
				s.inflight.Delete(t.ID)
				s.releaseClaims(started)
				return nil, storeErr(err)
			}
		}
		s.progress.CreateTracker(t.ID)
		started = append(started, t)
	}

	startedIDs := make([]string, len(started))
	for i, t := range started {
		startedIDs[i] = t.ID
	}
	if len(started) == 0 {
		return startedIDs, nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		var g errgroup.Group
		g.SetLimit(s.opts.Workers)
		for _, task := range started {
			g.Go(func() error {
				s.run(s.baseCtx, provider, task)
				return nil
			})
		}
		g.Wait()
	}()

	utils.GetLogger().Info("视频生成已启动", map[string]interface{}{
		"tasks":   len(started),
		"workers": s.opts.Workers,
	})
	return startedIDs, nil
}

// releaseClaims 撤销尚未启动的任务占用
func (s *GenerationService) releaseClaims(tasks []*models.BatchTask) {
	for _, t := range tasks {
		s.progress.RemoveTracker(t.ID)
		s.inflight.Delete(t.ID)
	}
}

// RecoverInterrupted 把上次进程退出时仍在生成中的任务标记为失败
func (s *GenerationService) RecoverInterrupted(ctx context.Context) (int, error) {
	tasks, err := s.store.ListBatchTasks(ctx)
	if err != nil {
		return 0, storeErr(err)
	}
	n := 0
	for _, t := range tasks {
		if t.Status != models.TaskStatusGenerating {
			continue
		}
		msg := "服务重启，生成被中断"
		if err := s.store.UpdateBatchTaskStatus(ctx, t.ID, storage.TaskStatusUpdate{
			Status: models.TaskStatusFailed,
			Error:  &msg,
			At:     now(),
		}); err != nil {
			return n, storeErr(err)
		}
		n++
	}
	return n, nil
}

// setStatus 写入状态迁移并广播 batch:update
func (s *GenerationService) setStatus(ctx context.Context, id string, u storage.TaskStatusUpdate) error {
	u.At = now()
	if err := s.store.UpdateBatchTaskStatus(ctx, id, u); err != nil {
		return err
	}
	task, err := s.store.GetBatchTask(ctx, id)
	if err != nil {
		return err
	}
	s.notifier.Publish(ctx, models.EventBatchUpdate, task)
	return nil
}

// run 单个任务的完整生命周期，错误都落为 failed 状态
func (s *GenerationService) run(ctx context.Context, provider videogen.Provider, task *models.BatchTask) {
	defer s.inflight.Delete(task.ID)
	tracker := s.progress.CreateTracker(task.ID)
	start := time.Now()

	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		msg := err.Error()
		if serr := s.setStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: models.TaskStatusFailed, Error: &msg}); serr != nil {
			utils.GetLogger().Error("写入任务失败状态失败", map[string]interface{}{
				"task_id": task.ID,
				"error":   serr.Error(),
			})
		}
		tracker.Fail(msg)
		s.metrics.RecordGeneration(string(models.TaskStatusFailed), time.Since(start))
		utils.GetLogger().Warn("视频生成失败", map[string]interface{}{
			"task_id": task.ID,
			"error":   msg,
		})
	}

	if err := s.setStatus(ctx, task.ID, storage.TaskStatusUpdate{Status: models.TaskStatusGenerating}); err != nil {
		fail(err)
		return
	}
	tracker.UpdateProgress(models.TaskStatusGenerating, 5, "提交生成请求")

	req, err := s.buildRequest(task)
	if err != nil {
		fail(err)
		return
	}
	externalID, err := provider.Submit(ctx, req)
	if err != nil {
		fail(fmt.Errorf("提交失败: %w", err))
		return
	}
	if err := s.setStatus(ctx, task.ID, storage.TaskStatusUpdate{
		Status:         models.TaskStatusGenerating,
		ExternalTaskID: &externalID,
	}); err != nil {
		fail(err)
		return
	}
	tracker.UpdateProgress(models.TaskStatusGenerating, 10, "已提交，等待生成")

	state, err := s.poll(ctx, provider, tracker, externalID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		fail(err)
		return
	}
	if state.Status == videogen.RemoteFailed {
		msg := state.Message
		if msg == "" {
			msg = "提供者返回失败"
		}
		fail(errors.New(msg))
		return
	}

	tracker.UpdateProgress(models.TaskStatusGenerating, 92, "下载并放置视频")
	localURL, err := s.place(ctx, task, state.VideoURL)
	if err != nil {
		fail(err)
		return
	}

	if err := s.setStatus(ctx, task.ID, storage.TaskStatusUpdate{
		Status:         models.TaskStatusCompleted,
		VideoURL:       &localURL,
		ExternalTaskID: &externalID,
	}); err != nil {
		fail(err)
		return
	}
	tracker.Complete("生成完成")
	s.metrics.RecordGeneration(string(models.TaskStatusCompleted), time.Since(start))
}

// poll 固定间隔轮询，最多 MaxPolls 次；查询出错时在次数内重试
func (s *GenerationService) poll(ctx context.Context, provider videogen.Provider, tracker *ProgressTracker, externalID string) (*videogen.TaskState, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for i := 1; i <= s.opts.MaxPolls; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		state, err := provider.Poll(ctx, externalID)
		if err != nil {
			lastErr = err
			continue
		}
		tracker.UpdateProgress(models.TaskStatusGenerating, 10+80*i/s.opts.MaxPolls, "生成中")
		if state.Done() {
			return state, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("轮询 %d 次后仍未完成: %w", s.opts.MaxPolls, lastErr)
	}
	return nil, fmt.Errorf("轮询 %d 次后仍未完成", s.opts.MaxPolls)
}

// imageRef 本地上传的图片转为 base64，其余地址原样传给提供者
func (s *GenerationService) imageRef(raw string) (string, error) {
	if raw == "" || s.assets == nil {
		return raw, nil
	}
	fullPath, ok := s.assets.Locate(raw)
	if !ok {
		return raw, nil
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", apperrors.NewAssetError("读取帧图片失败: "+path.Base(fullPath), err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (s *GenerationService) buildRequest(task *models.BatchTask) (videogen.SubmitRequest, error) {
	req := videogen.SubmitRequest{
		Model:       task.Model,
		Mode:        task.Mode,
		Prompt:      task.Prompt,
		Duration:    task.Duration,
		AspectRatio: task.AspectRatio,
		Audio:       task.Audio,
	}

	if task.IsMultiShot() {
		n := len(task.MiddleFrameURLs)
		if len(task.MultiPrompts) > n {
			n = len(task.MultiPrompts)
		}
		req.Shots = make([]videogen.Shot, n)
		for i := 0; i < n; i++ {
			if i < len(task.MiddleFrameURLs) {
				img, err := s.imageRef(task.MiddleFrameURLs[i])
				if err != nil {
					return req, err
				}
				req.Shots[i].Image = img
			}
			if i < len(task.MultiPrompts) {
				req.Shots[i].Prompt = task.MultiPrompts[i]
			}
		}
		return req, nil
	}

	var err error
	if task.FirstFrameURL != nil {
		if req.FirstFrame, err = s.imageRef(*task.FirstFrameURL); err != nil {
			return req, err
		}
	}
	if task.LastFrameURL != nil {
		if req.LastFrame, err = s.imageRef(*task.LastFrameURL); err != nil {
			return req, err
		}
	}
	if req.FirstFrame == "" && req.LastFrame == "" {
		return req, apperrors.NewValidationError("任务缺少首帧或尾帧图片", nil)
	}
	return req, nil
}

// download 把生成结果保存到项目上传目录
func (s *GenerationService) download(ctx context.Context, projectID, remoteURL string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("下载视频失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("下载视频失败: HTTP %d", resp.StatusCode)
	}

	name := "video.mp4"
	if u, err := url.Parse(remoteURL); err == nil && path.Ext(u.Path) != "" {
		name = path.Base(u.Path)
	}
	_, localURL, err := s.assets.Save(projectID, name, resp.Body)
	if err != nil {
		return "", fmt.Errorf("保存视频失败: %w", err)
	}
	return localURL, nil
}

// place 下载、探测尺寸并插入视频元素；无法探测时删除下载的文件
func (s *GenerationService) place(ctx context.Context, task *models.BatchTask, remoteURL string) (string, error) {
	var sb *models.Storyboard
	var err error
	if task.ProjectID != nil {
		sb, err = s.resolver.ProjectStoryboard(ctx, *task.ProjectID)
	} else {
		sb, err = s.resolver.Storyboard(ctx, "")
	}
	if err != nil {
		return "", err
	}

	localURL, err := s.download(ctx, sb.ProjectID, remoteURL)
	if err != nil {
		return "", err
	}
	fullPath, _ := s.assets.Locate(localURL)

	if s.prober == nil {
		s.assets.Remove(fullPath)
		return "", errors.New("未配置视频探测器")
	}
	width, height, err := s.prober.Probe(ctx, fullPath)
	if err != nil {
		s.assets.Remove(fullPath)
		return "", fmt.Errorf("无法读取视频尺寸: %w", err)
	}

	content := models.NewContent()
	for _, kv := range []struct {
		key   string
		value interface{}
	}{
		{"url", localURL},
		{"source_url", remoteURL},
		{"task_id", task.ID},
		{"prompt", task.Prompt},
		{"video_width", width},
		{"video_height", height},
	} {
		if err := content.SetValue(kv.key, kv.value); err != nil {
			return "", err
		}
	}

	var (
		element        *models.Element
		createdChapter *models.Chapter
		createdPage    *models.Page
	)
	err = s.store.WithTx(ctx, func(tx *storage.Tx) error {
		page, chapter, created, err := ensureVideosPage(ctx, tx, sb.ID)
		if err != nil {
			return err
		}
		if created {
			createdChapter, createdPage = chapter, page
		}

		index, err := tx.CountElements(ctx, page.ID)
		if err != nil {
			return err
		}
		max, err := tx.MaxZIndex(ctx, page.ID)
		if err != nil {
			return err
		}
		at := now()
		element = &models.Element{
			ID:        newID(),
			PageID:    page.ID,
			Type:      "video",
			Width:     videoWidth,
			Height:    videoWidth * float64(height) / float64(width),
			ZIndex:    max + 1,
			Content:   content,
			CreatedAt: at,
			UpdatedAt: at,
		}
		element.X, element.Y = gridSlot(index)
		return tx.InsertElement(ctx, element)
	})
	if err != nil {
		s.assets.Remove(fullPath)
		return "", storeErr(err)
	}

	if createdChapter != nil {
		s.notifier.Publish(ctx, models.EventChapterAdd, createdChapter)
	}
	if createdPage != nil {
		s.notifier.Publish(ctx, models.EventPageAdd, createdPage)
	}
	s.notifier.Publish(ctx, models.EventElementAdd, element)
	return localURL, nil
}

// gridSlot 第 index 个视频的位置：每行三列，间距固定
func gridSlot(index int) (float64, float64) {
	col := index % gridColumns
	row := index / gridColumns
	return gridOriginX + float64(col)*gridSpacingX, gridOriginY + float64(row)*gridSpacingY
}

// ensureVideosPage 返回故事板的系统视频页，不存在时在第一章末尾创建
// 故事板没有章节时先创建章节；chapter 只在本次新建时非 nil
func ensureVideosPage(ctx context.Context, tx *storage.Tx, storyboardID string) (*models.Page, *models.Chapter, bool, error) {
	page, err := tx.FindSystemPage(ctx, storyboardID)
	if err == nil {
		return page, nil, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, nil, false, err
	}

	var createdChapter *models.Chapter
	chapters, err := tx.ListChapters(ctx, storyboardID)
	if err != nil {
		return nil, nil, false, err
	}
	var chapterID string
	if len(chapters) > 0 {
		chapterID = chapters[0].ID
	} else {
		createdChapter = &models.Chapter{
			ID:           newID(),
			StoryboardID: storyboardID,
			Title:        VideosChapterTitle,
			CreatedAt:    now(),
		}
		if err := tx.InsertChapter(ctx, createdChapter); err != nil {
			return nil, nil, false, err
		}
		chapterID = createdChapter.ID
	}

	order, err := tx.CountContainerPages(ctx, storyboardID, &chapterID)
	if err != nil {
		return nil, nil, false, err
	}
	pageType := models.PageTypeVideos
	page = &models.Page{
		ID:           newID(),
		StoryboardID: storyboardID,
		ChapterID:    &chapterID,
		Title:        VideosPageTitle,
		OrderIndex:   order,
		Type:         &pageType,
		CreatedAt:    now(),
	}
	if err := tx.InsertPage(ctx, page); err != nil {
		return nil, nil, false, err
	}
	return page, createdChapter, true, nil
}
