package types

import "strings"

// ContainerID 层级化容器 ID，子容器通过 Parent 指向父容器，形成一棵有限的树
// 相等性按整条祖先链的值判断，见 Equal
type ContainerID struct {
	Value  string
	Parent *ContainerID
}

// NewContainerID 创建顶层容器 ID
func NewContainerID(value string) ContainerID {
	return ContainerID{Value: value}
}

// NewNestedContainerID 创建嵌套容器 ID
func NewNestedContainerID(parent ContainerID, value string) ContainerID {
	p := parent
	return ContainerID{Value: value, Parent: &p}
}

// ParseContainerID 解析 "a/b/c" 形式的层级 ID
func ParseContainerID(s string) ContainerID {
	parts := strings.Split(s, "/")
	id := NewContainerID(parts[0])
	for _, part := range parts[1:] {
		id = NewNestedContainerID(id, part)
	}
	return id
}

func (id ContainerID) HasParent() bool {
	return id.Parent != nil
}

// Components 返回从根到自身的各级取值
func (id ContainerID) Components() []string {
	if id.Parent == nil {
		return []string{id.Value}
	}
	return append(id.Parent.Components(), id.Value)
}

// String 以 "a/b/c" 形式输出，同时用作注册表的键
func (id ContainerID) String() string {
	return strings.Join(id.Components(), "/")
}

func (id ContainerID) Equal(other ContainerID) bool {
	return id.String() == other.String()
}
