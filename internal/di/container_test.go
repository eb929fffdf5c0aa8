package di

import (
	"reflect"
	"testing"
)

type fakeService struct{ name string }

func TestRegisterAndResolve(t *testing.T) {
	c := NewContainer()
	c.Register("svc", &fakeService{name: "a"})

	svc, err := Resolve[*fakeService](c, "svc")
	if err != nil {
		t.Fatalf("取出服务失败: %v", err)
	}
	if svc.name != "a" {
		t.Fatalf("取出的服务不正确: %+v", svc)
	}

	if _, err := Resolve[*fakeService](c, "missing"); err == nil {
		t.Fatal("未注册的服务应返回错误")
	}
	if _, err := Resolve[string](c, "svc"); err == nil {
		t.Fatal("类型不符应返回错误")
	}
}

func TestMustHaveAndNames(t *testing.T) {
	c := NewContainer()
	c.Register("b", 1)
	c.Register("a", 2)

	if err := c.MustHave("a", "b"); err != nil {
		t.Fatalf("服务均已注册: %v", err)
	}
	if err := c.MustHave("a", "c"); err == nil {
		t.Fatal("缺少服务 c 应返回错误")
	}

	if names := c.GetNames(); !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Fatalf("名称应按字母序返回，实际: %v", names)
	}

	c.Remove("a")
	if c.Has("a") {
		t.Fatal("移除后不应存在")
	}
	c.Clear()
	if len(c.GetNames()) != 0 {
		t.Fatal("清空后容器应为空")
	}
}

func TestGetContainerSingleton(t *testing.T) {
	if GetContainer() != GetContainer() {
		t.Fatal("GetContainer应该返回相同的实例")
	}
}
