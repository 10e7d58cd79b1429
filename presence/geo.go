package presence

import (
	"math"
	"math/rand"

	"github.com/tidwall/geojson/geo"
)

// LngLat 经纬度坐标（与 GeoJSON 一致，经度在前）
type LngLat struct {
	Lng float64
	Lat float64
}

// Lerp 线性插值，t ∈ [0,1]；经度走最短方向，跨 ±180° 时不绕地球一圈
func (p LngLat) Lerp(to LngLat, t float64) LngLat {
	return LngLat{
		Lng: wrapLng(p.Lng + wrapLng(to.Lng-p.Lng)*t),
		Lat: p.Lat + (to.Lat-p.Lat)*t,
	}
}

// wrapLng 把经度（或经度差）归一到 [-180,180)
func wrapLng(v float64) float64 {
	if v >= -180 && v < 180 {
		return v
	}
	return v - 360*math.Floor((v+180)/360)
}

// Bounds 矩形区域（西南角、东北角）
type Bounds struct {
	SW LngLat
	NE LngLat
}

// Contains 判断点是否在区域内（含边界）
func (b Bounds) Contains(p LngLat) bool {
	return p.Lng >= b.SW.Lng && p.Lng <= b.NE.Lng &&
		p.Lat >= b.SW.Lat && p.Lat <= b.NE.Lat
}

// RandomPoint 在区域内均匀取一个随机点
func (b Bounds) RandomPoint(rnd *rand.Rand) LngLat {
	return LngLat{
		Lng: b.SW.Lng + rnd.Float64()*(b.NE.Lng-b.SW.Lng),
		Lat: b.SW.Lat + rnd.Float64()*(b.NE.Lat-b.SW.Lat),
	}
}

// DestinationPoint 从 p 出发沿 bearing（度）前进 distance 米后的位置
func DestinationPoint(p LngLat, distance, bearing float64) LngLat {
	lat, lng := geo.DestinationPoint(p.Lat, p.Lng, distance, bearing)
	return LngLat{Lng: lng, Lat: lat}
}

// Distance 两点间大圆距离（米）
func Distance(a, b LngLat) float64 {
	return geo.DistanceTo(a.Lat, a.Lng, b.Lat, b.Lng)
}

// ViewportAround 以 center 为中心、边长 meters 的视口（半径 meters/2 的外接矩形）
func ViewportAround(center LngLat, meters float64) Bounds {
	minLat, minLng, maxLat, maxLng := geo.RectFromCenter(center.Lat, center.Lng, meters/2)
	return Bounds{
		SW: LngLat{Lng: minLng, Lat: minLat},
		NE: LngLat{Lng: maxLng, Lat: maxLat},
	}
}
