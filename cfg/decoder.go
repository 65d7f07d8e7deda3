package cfg

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// Format 配置文件格式
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
	FormatINI  Format = "ini"
)

// FormatOf 根据文件扩展名推断格式
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	case ".json":
		return FormatJSON, nil
	case ".ini":
		return FormatINI, nil
	}
	return "", errors.Errorf("unsupported config file extension %q", filepath.Ext(path))
}

// decode 把配置内容解析成 map/slice 组成的通用树
func decode(data []byte, format Format) (map[string]any, error) {
	tree := map[string]any{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "decode yaml")
		}
	case FormatTOML:
		if err := toml.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "decode toml")
		}
	case FormatJSON:
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, errors.Wrap(err, "decode json")
		}
	case FormatINI:
		return decodeINI(data)
	default:
		return nil, errors.Errorf("unsupported config format %q", format)
	}
	return tree, nil
}

// decodeINI 分组名中的点号表示嵌套，例如 [storage.options]
func decodeINI(data []byte) (map[string]any, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		AllowBooleanKeys:         true,
		SpaceBeforeInlineComment: true,
	}, data)
	if err != nil {
		return nil, errors.Wrap(err, "decode ini")
	}

	tree := map[string]any{}
	for _, section := range file.Sections() {
		node := tree
		if section.Name() != ini.DefaultSection {
			for _, part := range strings.Split(section.Name(), ".") {
				child, ok := node[part].(map[string]any)
				if !ok {
					child = map[string]any{}
					node[part] = child
				}
				node = child
			}
		}
		for _, key := range section.Keys() {
			node[key.Name()] = key.String()
		}
	}
	return tree, nil
}
