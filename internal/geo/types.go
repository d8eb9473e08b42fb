// 包 geo：坐标、多边形与距离等基础几何；供边界判定、近距离交互与接口校验复用
package geo

// Point：WGS84 经纬度坐标，JSON 字段与远端记录 coords 保持一致
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Polygon：按 GeoJSON 约定的环集合，第一环是外环，其后为洞
type Polygon struct {
	Rings [][]Point
	BBox  [4]float64 // minLng, minLat, maxLng, maxLat
}

// Boundary：由一个或多个多边形组成的区域（如五个行政区）
type Boundary struct {
	Name  string
	Polys []Polygon
}

// Rect：矩形范围，仅用于相机平移约束
type Rect struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	West  float64 `json:"west"`
	East  float64 `json:"east"`
}
