package geo

// 文档注释：点入多边形判定（Even-Odd）
// 约束：外环命中且不在任何洞内视为命中；环少于 3 个点视为空
func PointInPolygon(pt Point, poly Polygon) bool {
	if len(poly.Rings) == 0 {
		return false
	}
	if !inBBox(pt, poly.BBox) {
		return false
	}
	if !pointInRing(pt, poly.Rings[0]) {
		return false
	}
	for i := 1; i < len(poly.Rings); i++ {
		if pointInRing(pt, poly.Rings[i]) {
			return false
		}
	}
	return true
}

// Contains：点是否落在边界任一多边形内
func (b *Boundary) Contains(pt Point) bool {
	if b == nil {
		return false
	}
	for _, p := range b.Polys {
		if PointInPolygon(pt, p) {
			return true
		}
	}
	return false
}

// 射线法判定点是否在环内
func pointInRing(pt Point, ring []Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	inside := false
	x := pt.Lng
	y := pt.Lat
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Lng, ring[i].Lat
		xj, yj := ring[j].Lng, ring[j].Lat
		intersect := ((yi > y) != (yj > y)) && (x < (xj-xi)*(y-yi)/(yj-yi)+xi)
		if intersect {
			inside = !inside
		}
	}
	return inside
}

// 快速包围盒过滤
func inBBox(pt Point, b [4]float64) bool {
	return pt.Lng >= b[0] && pt.Lng <= b[2] && pt.Lat >= b[1] && pt.Lat <= b[3]
}

// NewPolygon：由外环（可选洞）构建多边形并计算包围盒
func NewPolygon(rings ...[]Point) Polygon {
	p := Polygon{Rings: rings}
	p.BBox = computeBBox(p)
	return p
}

func computeBBox(p Polygon) [4]float64 {
	b := [4]float64{180, 90, -180, -90}
	for _, r := range p.Rings {
		for _, pt := range r {
			if pt.Lng < b[0] {
				b[0] = pt.Lng
			}
			if pt.Lat < b[1] {
				b[1] = pt.Lat
			}
			if pt.Lng > b[2] {
				b[2] = pt.Lng
			}
			if pt.Lat > b[3] {
				b[3] = pt.Lat
			}
		}
	}
	return b
}
