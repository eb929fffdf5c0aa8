package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAppErrorPredicates(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorType
		code string
	}{
		{NewValidationError("缺少 storyboardId", nil), ErrorTypeValidation, "VALIDATION_ERROR"},
		{NewNotFoundError("页面不存在", nil), ErrorTypeNotFound, "NOT_FOUND"},
		{NewConflictError("不能删除最后一个项目", nil), ErrorTypeConflict, "CONFLICT"},
		{NewAssetError("文件丢失", nil), ErrorTypeAsset, "ASSET_ERROR"},
		{NewProcessingError("写入失败", errors.New("disk full")), ErrorTypeProcessing, "PROCESSING_ERROR"},
	}

	for _, tc := range cases {
		if got := TypeOf(tc.err); got != tc.want {
			t.Errorf("错误类型不匹配: got %s want %s", got, tc.want)
		}
		var appErr *AppError
		if !errors.As(tc.err, &appErr) {
			t.Fatalf("应该是 AppError: %v", tc.err)
		}
		if appErr.Code != tc.code {
			t.Errorf("错误代码不匹配: got %s want %s", appErr.Code, tc.code)
		}
	}
}

func TestWrapErrorKeepsType(t *testing.T) {
	base := NewConflictError("章节包含系统页面", nil)
	wrapped := fmt.Errorf("删除章节: %w", WrapError(base, "外层", ErrorTypeProcessing))

	if !IsConflictError(wrapped) {
		t.Fatal("包装后应该仍然是冲突错误")
	}
	if IsNotFoundError(wrapped) {
		t.Fatal("不应该被识别为未找到错误")
	}
	if WrapError(nil, "x", ErrorTypeProcessing) != nil {
		t.Fatal("包装 nil 应该返回 nil")
	}

	plain := WrapError(errors.New("io"), "读取失败", ErrorTypeAsset)
	if !IsAssetError(plain) {
		t.Fatal("普通错误应该被包装成指定类型")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{NewValidationError("缺少 title", nil), 400},
		{NewNotFoundError("元素不存在", nil), 404},
		{fmt.Errorf("外层: %w", NewConflictError("任务生成中", nil)), 409},
		{NewAssetError("文件丢失", nil), 500},
		{errors.New("plain"), 500},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Errorf("%v 的状态码不正确: got %d want %d", tc.err, got, tc.want)
		}
	}
}
