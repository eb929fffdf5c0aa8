// internal/videogen/providers/kling/kling.go
package kling

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Corphon/StoryboardSync/internal/videogen"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultBaseURL   = "https://api-beijing.klingai.com"
	singleEndpoint   = "/v1/videos/image2video"
	multiEndpoint    = "/v1/videos/multi-image2video"
	tokenLifetime    = 30 * time.Minute
	notBeforeLeeway  = 5 * time.Second
	maxResponseBytes = 1 << 20
)

func init() {
	videogen.Register("kling", func() videogen.Provider {
		return &Provider{baseURL: defaultBaseURL}
	})
}

// Provider 可灵视频生成
type Provider struct {
	accessKey string
	secretKey string
	baseURL   string
	client    *http.Client
	now       func() time.Time

	// 任务ID -> 查询路径
	endpoints sync.Map
}

func (p *Provider) Initialize(config map[string]string) error {
	accessKey := strings.TrimSpace(config["access_key"])
	if accessKey == "" {
		return errors.New("可灵 access key 未提供")
	}
	secretKey := strings.TrimSpace(config["secret_key"])
	if secretKey == "" {
		return errors.New("可灵 secret key 未提供")
	}

	p.accessKey = accessKey
	p.secretKey = secretKey
	p.client = &http.Client{Timeout: 60 * time.Second}
	p.now = time.Now

	if baseURL := strings.TrimSpace(config["base_url"]); baseURL != "" {
		p.baseURL = strings.TrimSuffix(baseURL, "/")
	}
	return nil
}

func (p *Provider) GetName() string {
	return "可灵"
}

// token 生成 HS256 签名的访问令牌
func (p *Provider) token() (string, error) {
	now := p.now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.accessKey,
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		NotBefore: jwt.NewNumericDate(now.Add(-notBeforeLeeway)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.secretKey))
}

type apiResponse struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Data      struct {
		TaskID        string `json:"task_id"`
		TaskStatus    string `json:"task_status"`
		TaskStatusMsg string `json:"task_status_msg"`
		TaskResult    struct {
			Videos []struct {
				ID       string `json:"id"`
				URL      string `json:"url"`
				Duration string `json:"duration"`
			} `json:"videos"`
		} `json:"task_result"`
	} `json:"data"`
}

func (p *Provider) do(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(jsonData)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	token, err := p.token()
	if err != nil {
		return nil, fmt.Errorf("生成访问令牌失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	var resp apiResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", httpResp.StatusCode, err)
	}
	if httpResp.StatusCode != http.StatusOK || resp.Code != 0 {
		return nil, fmt.Errorf("可灵 API 错误 (HTTP %d, code %d): %s", httpResp.StatusCode, resp.Code, resp.Message)
	}
	return &resp, nil
}

// Submit 首尾帧任务走 image2video，多镜头任务走 multi-image2video
func (p *Provider) Submit(ctx context.Context, req videogen.SubmitRequest) (string, error) {
	body := map[string]interface{}{
		"model_name":   req.Model,
		"mode":         req.Mode,
		"prompt":       req.Prompt,
		"duration":     strconv.Itoa(req.Duration),
		"aspect_ratio": req.AspectRatio,
	}
	if req.Audio {
		body["sound"] = "on"
	}

	endpoint := singleEndpoint
	if req.IsMultiShot() {
		endpoint = multiEndpoint
		images := make([]map[string]string, 0, len(req.Shots))
		prompts := make([]string, 0, len(req.Shots))
		for _, shot := range req.Shots {
			if shot.Image != "" {
				images = append(images, map[string]string{"image": shot.Image})
			}
			if shot.Prompt != "" {
				prompts = append(prompts, shot.Prompt)
			}
		}
		body["image_list"] = images
		if len(prompts) > 0 {
			body["prompt"] = strings.TrimSpace(req.Prompt + "\n" + strings.Join(prompts, "\n"))
		}
	} else {
		if req.FirstFrame == "" && req.LastFrame == "" {
			return "", errors.New("缺少首帧或尾帧图片")
		}
		if req.FirstFrame != "" {
			body["image"] = req.FirstFrame
		}
		if req.LastFrame != "" {
			body["image_tail"] = req.LastFrame
		}
	}

	resp, err := p.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	if resp.Data.TaskID == "" {
		return "", errors.New("响应缺少 task_id")
	}
	p.endpoints.Store(resp.Data.TaskID, endpoint)
	return resp.Data.TaskID, nil
}

// Poll 查询任务状态
func (p *Provider) Poll(ctx context.Context, taskID string) (*videogen.TaskState, error) {
	endpoint := singleEndpoint
	if v, ok := p.endpoints.Load(taskID); ok {
		endpoint = v.(string)
	}

	resp, err := p.do(ctx, http.MethodGet, endpoint+"/"+taskID, nil)
	if err != nil {
		return nil, err
	}

	state := &videogen.TaskState{
		TaskID:  taskID,
		Status:  videogen.RemoteStatus(resp.Data.TaskStatus),
		Message: resp.Data.TaskStatusMsg,
	}
	if state.Status == videogen.RemoteSucceeded {
		if len(resp.Data.TaskResult.Videos) == 0 || resp.Data.TaskResult.Videos[0].URL == "" {
			state.Status = videogen.RemoteFailed
			state.Message = "结果中没有视频地址"
		} else {
			state.VideoURL = resp.Data.TaskResult.Videos[0].URL
		}
	}
	if state.Done() {
		p.endpoints.Delete(taskID)
	}
	return state, nil
}
