package geo

// 纽约市相机平移范围（矩形），与地点合法性判定无关
var NYCPanBounds = Rect{North: 41.04, South: 40.38, West: -74.37, East: -73.58}

// 城市中心，完全缩小时回到此处
var NYCCenter = Point{Lat: 40.71, Lng: -73.97}

// 五个行政区的粗略外轮廓，用于地点合法性判定
var nycRing = []Point{
	{Lat: 40.487, Lng: -74.276},
	{Lat: 40.661, Lng: -74.210},
	{Lat: 40.658, Lng: -74.059},
	{Lat: 40.775, Lng: -74.013},
	{Lat: 40.935, Lng: -73.915},
	{Lat: 40.880, Lng: -73.748},
	{Lat: 40.813, Lng: -73.769},
	{Lat: 40.752, Lng: -73.691},
	{Lat: 40.593, Lng: -73.730},
	{Lat: 40.535, Lng: -73.948},
	{Lat: 40.488, Lng: -74.259},
}

// NYCBoundary：返回参考边界的新副本，调用方可自由修改
func NYCBoundary() *Boundary {
	ring := append([]Point(nil), nycRing...)
	return &Boundary{Name: "nyc", Polys: []Polygon{NewPolygon(ring)}}
}

// Contains：点是否在矩形内（含边）
func (r Rect) Contains(p Point) bool {
	return p.Lat <= r.North && p.Lat >= r.South && p.Lng >= r.West && p.Lng <= r.East
}

// Clamp：把点收敛到矩形内，用于相机中心
func (r Rect) Clamp(p Point) Point {
	out := p
	if out.Lat > r.North {
		out.Lat = r.North
	}
	if out.Lat < r.South {
		out.Lat = r.South
	}
	if out.Lng < r.West {
		out.Lng = r.West
	}
	if out.Lng > r.East {
		out.Lng = r.East
	}
	return out
}
