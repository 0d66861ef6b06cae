package topology

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// document 拓扑文档的原始结构，仅用于解析与校验
type document struct {
	Gate []gateDoc `json:"gate" validate:"required,dive"`
}

type gateDoc struct {
	Name    string      `json:"name" validate:"required"`
	Devices []deviceDoc `json:"devices" validate:"required,dive"`
}

type deviceDoc struct {
	Name     string  `json:"name" validate:"required"`
	IP       string  `json:"ip" validate:"required"`
	Username string  `json:"username" validate:"required"`
	Password string  `json:"password" validate:"required"`
	Command  *string `json:"command"`
	// restart/reboot 在旧版配置中可能出现，命令改为下发时生成，这里只接收不使用
	Restart *string `json:"restart"`
	Reboot  *string `json:"reboot"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误路径使用 JSON 键名，便于直接对照配置文件
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// LoadFile 从文件加载拓扑
func LoadFile(path string) (*Fleet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topology file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load 从任意 reader 读取并解析拓扑文档
func Load(r io.Reader) (*Fleet, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}
	return Parse(data)
}

// Parse 解析并校验拓扑文档。文档整体合法才返回 Fleet，否则返回 *SchemaError
func Parse(data []byte) (*Fleet, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, decodeError(err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		serr := &SchemaError{}
		serr.add("$", "unexpected trailing data after document at offset %d", dec.InputOffset())
		return nil, serr
	}

	serr := &SchemaError{}
	if err := validate.Struct(&doc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("failed to validate topology: %w", err)
		}
		for _, fe := range verrs {
			serr.add(fieldPath(fe.Namespace()), "%s", describeTag(fe))
		}
	}
	checkNames(&doc, serr)
	if len(serr.Fields) > 0 {
		return nil, serr
	}

	gates := make([]Gate, 0, len(doc.Gate))
	for _, gd := range doc.Gate {
		gate := Gate{Name: gd.Name, Devices: make([]Device, 0, len(gd.Devices))}
		for _, dd := range gd.Devices {
			cmd := DefaultStatusCommand
			if dd.Command != nil && strings.TrimSpace(*dd.Command) != "" {
				cmd = *dd.Command
			}
			gate.Devices = append(gate.Devices, Device{
				Name:          dd.Name,
				Address:       dd.IP,
				Username:      dd.Username,
				Secret:        dd.Password,
				StatusCommand: cmd,
			})
		}
		gates = append(gates, gate)
	}
	return newFleet(gates), nil
}

// checkNames 名称不能只含空白；闸口名全局唯一，设备名在闸口内唯一（忽略大小写）。
// 空字符串已由 required 报告，这里不重复
func checkNames(doc *document, serr *SchemaError) {
	seenGate := make(map[string]int, len(doc.Gate))
	for gi, gd := range doc.Gate {
		switch prev, seen := seenGate[gd.Name]; {
		case gd.Name == "":
		case strings.TrimSpace(gd.Name) == "":
			serr.add(fmt.Sprintf("gate[%d].name", gi), "is required and must be non-empty")
		case seen:
			serr.add(fmt.Sprintf("gate[%d].name", gi), "duplicate gate name %q (first at gate[%d])", gd.Name, prev)
		default:
			seenGate[gd.Name] = gi
		}
		seenDev := make(map[string]int, len(gd.Devices))
		for di, dd := range gd.Devices {
			key := CanonicalName(dd.Name)
			if key == "" {
				if dd.Name != "" {
					serr.add(fmt.Sprintf("gate[%d].devices[%d].name", gi, di), "is required and must be non-empty")
				}
				continue
			}
			if prev, ok := seenDev[key]; ok {
				serr.add(fmt.Sprintf("gate[%d].devices[%d].name", gi, di), "duplicate device name %q (first at devices[%d])", dd.Name, prev)
			} else {
				seenDev[key] = di
			}
		}
	}
}

func decodeError(err error) error {
	serr := &SchemaError{}
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		path := typeErr.Field
		if path == "" {
			path = "$"
		}
		serr.add(path, "expected %s, got %s", typeErr.Type.String(), typeErr.Value)
	case errors.As(err, &syntaxErr):
		serr.add("$", "malformed JSON at offset %d: %v", syntaxErr.Offset, err)
	case errors.Is(err, io.EOF):
		serr.add("$", "empty document")
	default:
		serr.add("$", "%v", err)
	}
	return serr
}

// fieldPath 去掉根类型名："document.gate[0].devices[1].ip" -> "gate[0].devices[1].ip"
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		if fe.Kind() == reflect.Slice {
			return "is required (use an empty list for none)"
		}
		return "is required and must be non-empty"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}
