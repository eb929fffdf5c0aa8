package kling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Corphon/StoryboardSync/internal/videogen"
	"github.com/golang-jwt/jwt/v5"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	p, err := videogen.GetProvider("kling", map[string]string{
		"access_key": "ak-test",
		"secret_key": "sk-test",
		"base_url":   server.URL,
	})
	if err != nil {
		t.Fatalf("创建提供者失败: %v", err)
	}
	return p.(*Provider)
}

func checkToken(t *testing.T, r *http.Request) {
	t.Helper()
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return []byte("sk-test"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		t.Errorf("令牌校验失败: %v", err)
		return
	}
	if claims.Issuer != "ak-test" {
		t.Errorf("iss 应为 access key，实际 %q", claims.Issuer)
	}
}

func TestInitializeRequiresKeys(t *testing.T) {
	if _, err := videogen.GetProvider("kling", map[string]string{"access_key": "ak"}); err == nil {
		t.Fatal("缺少 secret key 时应该失败")
	}
}

func TestSubmitAndPollSingle(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		checkToken(t, r)
		switch {
		case r.Method == http.MethodPost && r.URL.Path == singleEndpoint:
			var body map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("解析请求失败: %v", err)
			}
			if body["image"] != "first.png" || body["image_tail"] != "last.png" {
				t.Errorf("首尾帧参数错误: %v", body)
			}
			if body["duration"] != "5" {
				t.Errorf("duration 应为字符串 5，实际 %v", body["duration"])
			}
			w.Write([]byte(`{"code":0,"message":"SUCCEED","data":{"task_id":"t-1","task_status":"submitted"}}`))
		case r.Method == http.MethodGet && r.URL.Path == singleEndpoint+"/t-1":
			w.Write([]byte(`{"code":0,"data":{"task_id":"t-1","task_status":"succeed",
				"task_result":{"videos":[{"id":"v","url":"https://cdn.example/v.mp4","duration":"5"}]}}}`))
		default:
			t.Errorf("意外的请求 %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	id, err := p.Submit(context.Background(), videogen.SubmitRequest{
		Model: "kling-v2-1", Mode: "std", Prompt: "日落", Duration: 5, AspectRatio: "16:9",
		FirstFrame: "first.png", LastFrame: "last.png",
	})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}
	if id != "t-1" {
		t.Fatalf("任务ID错误: %s", id)
	}

	state, err := p.Poll(context.Background(), id)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if state.Status != videogen.RemoteSucceeded || state.VideoURL != "https://cdn.example/v.mp4" {
		t.Fatalf("状态错误: %+v", state)
	}
}

func TestMultiShotUsesMultiEndpoint(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case multiEndpoint:
			var body struct {
				ImageList []map[string]string `json:"image_list"`
				Prompt    string              `json:"prompt"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.ImageList) != 2 {
				t.Errorf("应有 2 张图片，实际 %d", len(body.ImageList))
			}
			if !strings.Contains(body.Prompt, "镜头二") {
				t.Errorf("多镜头提示词未合并: %q", body.Prompt)
			}
			w.Write([]byte(`{"code":0,"data":{"task_id":"m-1","task_status":"submitted"}}`))
		case multiEndpoint + "/m-1":
			w.Write([]byte(`{"code":0,"data":{"task_id":"m-1","task_status":"processing"}}`))
		default:
			t.Errorf("意外的路径 %s", r.URL.Path)
		}
	})

	id, err := p.Submit(context.Background(), videogen.SubmitRequest{
		Model: "kling-v1-6", Duration: 5, AspectRatio: "16:9",
		Shots: []videogen.Shot{{Image: "a.png", Prompt: "镜头一"}, {Image: "b.png", Prompt: "镜头二"}},
	})
	if err != nil {
		t.Fatalf("提交失败: %v", err)
	}
	state, err := p.Poll(context.Background(), id)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if state.Done() {
		t.Fatalf("处理中的任务不应结束: %+v", state)
	}
}

func TestAPIErrorCode(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"code":1001,"message":"auth failed"}`))
	})
	_, err := p.Submit(context.Background(), videogen.SubmitRequest{FirstFrame: "a.png", Duration: 5})
	if err == nil || !strings.Contains(err.Error(), "auth failed") {
		t.Fatalf("应返回接口错误，实际 %v", err)
	}
}

func TestSucceededWithoutVideoIsFailure(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"data":{"task_id":"x","task_status":"succeed","task_result":{"videos":[]}}}`))
	})
	state, err := p.Poll(context.Background(), "x")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if state.Status != videogen.RemoteFailed {
		t.Fatalf("没有视频地址时应视为失败: %+v", state)
	}
}
