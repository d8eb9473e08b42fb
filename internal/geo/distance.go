package geo

import "math"

// EarthRadiusKm：Haversine 使用的地球半径
const EarthRadiusKm = 6371.0

// 文档注释：球面距离（Haversine），返回米
// 约束：输入为十进制度；对称且同点为 0
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := deg2rad(lat2 - lat1)
	dLng := deg2rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(deg2rad(lat1))*math.Cos(deg2rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c * 1000
}

// Distance：两点间距离（米）
func Distance(a, b Point) float64 { return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng) }

func deg2rad(deg float64) float64 { return deg * math.Pi / 180 }
