package wire

import (
	"fmt"
	"math"
)

type Vector3 struct {
	X float32
	Y float32
	Z float32
}

func NewVector3(x, y, z float32) Vector3 {
	return Vector3{X: x, Y: y, Z: z}
}

func (v Vector3) String() string {
	return fmt.Sprintf("{%.2f, %.2f, %.2f}", v.X, v.Y, v.Z)
}

func (v Vector3) Add(o Vector3) Vector3 {
	return Vector3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vector3) Sub(o Vector3) Vector3 {
	return Vector3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vector3) SqrMagnitude() float32 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v Vector3) Magnitude() float32 {
	return float32(math.Sqrt(float64(v.SqrMagnitude())))
}

// Distance returns the euclidean distance between two points.
func Distance(a, b Vector3) float32 {
	return a.Sub(b).Magnitude()
}

type Quaternion struct {
	X float32
	Y float32
	Z float32
	W float32
}

var IdentityQuaternion = Quaternion{W: 1}

func (q Quaternion) String() string {
	return fmt.Sprintf("{%.2f, %.2f, %.2f, %.2f}", q.X, q.Y, q.Z, q.W)
}
