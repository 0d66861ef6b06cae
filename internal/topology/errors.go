package topology

import (
	"fmt"
	"strings"
)

// FieldError 单个字段的校验错误
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// SchemaError 拓扑文档结构错误；任何一个字段不合法都会导致整个加载失败
type SchemaError struct {
	Fields []FieldError `json:"fields"`
}

func (e *SchemaError) Error() string {
	if len(e.Fields) == 0 {
		return "topology: invalid document"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return "topology: invalid document: " + strings.Join(parts, "; ")
}

// Paths 返回全部出错字段路径
func (e *SchemaError) Paths() []string {
	paths := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		paths = append(paths, f.Path)
	}
	return paths
}

func (e *SchemaError) add(path, format string, args ...interface{}) {
	e.Fields = append(e.Fields, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}
