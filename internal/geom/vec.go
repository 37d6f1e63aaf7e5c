// Package geom holds the small amount of planar math shared by the field,
// the swarm snapshot and the colony.
package geom

import "math"

// V is a convenience constructor for Vec.
func V(x, y float64) Vec { return Vec{X: x, Y: y} }

// Vec represents a point or direction in world space.
type Vec struct{ X, Y float64 }

// Zero is the origin, the zero value of Vec.
var Zero = Vec{}

// FromAngle returns the unit vector pointing along theta (radians).
func FromAngle(theta float64) Vec {
	return Vec{X: math.Cos(theta), Y: math.Sin(theta)}
}

// Add returns v+o.
func (v Vec) Add(o Vec) Vec { return Vec{v.X + o.X, v.Y + o.Y} }

// Sub returns v-o.
func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y} }

// Scale returns v*k.
func (v Vec) Scale(k float64) Vec { return Vec{v.X * k, v.Y * k} }

// Len returns the euclidean length of v.
func (v Vec) Len() float64 { return math.Hypot(v.X, v.Y) }

// Dist returns the distance between v and o.
func (v Vec) Dist(o Vec) float64 { return math.Hypot(v.X-o.X, v.Y-o.Y) }

// Angle returns the heading of v in radians, in (-pi, pi].
func (v Vec) Angle() float64 { return math.Atan2(v.Y, v.X) }

// Normalize returns v scaled to unit length. The bool is false, and the zero
// vector returned, when v is too short to carry a direction.
func (v Vec) Normalize() (Vec, bool) {
	l := v.Len()
	if l < 1e-12 {
		return Zero, false
	}
	return Vec{v.X / l, v.Y / l}, true
}

// Lerp interpolates between v (t=0) and o (t=1).
func (v Vec) Lerp(o Vec, t float64) Vec {
	return Vec{v.X + (o.X-v.X)*t, v.Y + (o.Y-v.Y)*t}
}

// WrapAngle maps theta into [0, 2pi).
func WrapAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta < 0 {
		theta += 2 * math.Pi
	}
	return theta
}

// AngleDiff returns the signed smallest rotation taking from onto to, in
// [-pi, pi].
func AngleDiff(from, to float64) float64 {
	d := math.Mod(to-from, 2*math.Pi)
	if d > math.Pi {
		d -= 2 * math.Pi
	} else if d < -math.Pi {
		d += 2 * math.Pi
	}
	return d
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
