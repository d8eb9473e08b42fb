package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// ErrBadExport：导出文件既不是数组也不是 id → 记录映射
var ErrBadExport = errors.New("unrecognized export format")

// 文档注释：解析集合导出文件
// 背景：支持三种形态：条目数组；以 id 为键的对象；外层再包一层 {"memories": {...}} 的整库导出。
// 约束：对象形态按键排序输出（推送式键按时间单调递增，排序即创建顺序）；键覆盖记录内的 id 字段。
func DecodeExport(r io.Reader) ([]Entry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrBadExport
	}
	if raw[0] == '[' {
		var out []Entry
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
		}
		return out, nil
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
	}
	if wrapped, ok := top["memories"]; ok && len(top) == 1 {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(wrapped, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadExport, err)
		}
		top = inner
	}
	keys := make([]string, 0, len(top))
	for k := range top {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		var e Entry
		if err := json.Unmarshal(top[k], &e); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadExport, k, err)
		}
		e.ID = k
		out = append(out, e)
	}
	return out, nil
}
