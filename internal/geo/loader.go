package geo

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// 文档注释：从 GeoJSON 文件加载边界
// 背景：行政区边界以 FeatureCollection/Feature/裸 Geometry 形式提供；全部多边形合并为一个 Boundary。
// 约束：仅支持 Polygon/MultiPolygon；坐标顺序为 [lng, lat]；无任何多边形时返回错误。
func LoadBoundary(path string) (*Boundary, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBoundary(b)
}

// ParseBoundary：解析 GeoJSON 字节
func ParseBoundary(b []byte) (*Boundary, error) {
	var gj map[string]any
	if err := json.Unmarshal(b, &gj); err != nil {
		return nil, fmt.Errorf("geojson decode: %w", err)
	}
	out := &Boundary{}
	switch strings.ToLower(getStr(gj, "type")) {
	case "featurecollection":
		if arr, ok := gj["features"].([]any); ok {
			for _, it := range arr {
				if f, ok := it.(map[string]any); ok {
					addFeature(out, f)
				}
			}
		}
	case "feature":
		addFeature(out, gj)
	default:
		addPolysFromGeometry(out, gj)
	}
	if len(out.Polys) == 0 {
		return nil, fmt.Errorf("geojson: no polygon geometry")
	}
	return out, nil
}

func addFeature(out *Boundary, f map[string]any) {
	if out.Name == "" {
		if p, ok := f["properties"].(map[string]any); ok {
			out.Name = getStr(p, "name")
		}
	}
	if g, ok := f["geometry"].(map[string]any); ok {
		addPolysFromGeometry(out, g)
	}
}

func addPolysFromGeometry(out *Boundary, g map[string]any) {
	coords, _ := g["coordinates"].([]any)
	switch strings.ToLower(getStr(g, "type")) {
	case "polygon":
		out.Polys = append(out.Polys, NewPolygon(parseRings(coords)...))
	case "multipolygon":
		for _, part := range coords {
			if rings, ok := part.([]any); ok {
				out.Polys = append(out.Polys, NewPolygon(parseRings(rings)...))
			}
		}
	}
}

func parseRings(rings []any) [][]Point {
	var out [][]Point
	for _, ring := range rings {
		arr, ok := ring.([]any)
		if !ok {
			continue
		}
		var rr []Point
		for _, p := range arr {
			if vv, ok := p.([]any); ok && len(vv) >= 2 {
				rr = append(rr, Point{Lat: toFloat(vv[1]), Lng: toFloat(vv[0])})
			}
		}
		out = append(out, rr)
	}
	return out
}

// 文档注释：边界导出为 GeoJSON FeatureCollection（单个 MultiPolygon Feature）
// 约束：输出坐标顺序为 [lng, lat]，与输入约定一致，可被 ParseBoundary 读回
func (b *Boundary) GeoJSON() map[string]any {
	polys := make([]any, 0, len(b.Polys))
	for _, p := range b.Polys {
		rings := make([]any, 0, len(p.Rings))
		for _, r := range p.Rings {
			pts := make([]any, 0, len(r))
			for _, pt := range r {
				pts = append(pts, []float64{pt.Lng, pt.Lat})
			}
			rings = append(rings, pts)
		}
		polys = append(polys, rings)
	}
	return map[string]any{
		"type": "FeatureCollection",
		"features": []any{
			map[string]any{
				"type":       "Feature",
				"properties": map[string]any{"name": b.Name},
				"geometry":   map[string]any{"type": "MultiPolygon", "coordinates": polys},
			},
		},
	}
}

func getStr(m map[string]any, k string) string {
	if v, ok := m[k].(string); ok {
		return v
	}
	return ""
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}
