// internal/videogen/prober.go
package videogen

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Prober 读取视频的原始宽高
type Prober interface {
	Probe(ctx context.Context, path string) (width, height int, err error)
}

// FFProbe 通过 ffprobe 读取第一个视频流的尺寸
type FFProbe struct {
	Path string
}

// NewFFProbe 创建探测器，path 为空时从 PATH 查找
func NewFFProbe(path string) *FFProbe {
	if strings.TrimSpace(path) == "" {
		path = "ffprobe"
	}
	return &FFProbe{Path: path}
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// Probe 实现 Prober
func (p *FFProbe) Probe(ctx context.Context, path string) (int, int, error) {
	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe 执行失败: %w", err)
	}
	return ParseProbeOutput(out)
}

// ParseProbeOutput 解析 ffprobe 的 JSON 输出
func ParseProbeOutput(out []byte) (int, int, error) {
	var parsed probeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, 0, fmt.Errorf("解析 ffprobe 输出失败: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return 0, 0, fmt.Errorf("没有视频流")
	}
	w, h := parsed.Streams[0].Width, parsed.Streams[0].Height
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("无效的视频尺寸: %dx%d", w, h)
	}
	return w, h, nil
}
