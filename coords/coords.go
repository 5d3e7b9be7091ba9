// Package coords maps sheet layout coordinates (inches, origin top-left, y
// down) onto PDF user space (points, origin bottom-left, y up).
package coords

import (
	"errors"
	"math"
)

// PointsPerInch is the PDF user-space unit density.
const PointsPerInch = 72.0

// Matrix is a PDF-style affine transform [a b c d e f].
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

// Multiply returns m followed by o.
func (m Matrix) Multiply(o Matrix) Matrix {
	return Matrix{
		m[0]*o[0] + m[1]*o[2],
		m[0]*o[1] + m[1]*o[3],
		m[2]*o[0] + m[3]*o[2],
		m[2]*o[1] + m[3]*o[3],
		m[4]*o[0] + m[5]*o[2] + o[4],
		m[4]*o[1] + m[5]*o[3] + o[5],
	}
}

type Point struct{ X, Y float64 }

func (m Matrix) Transform(p Point) Point {
	return Point{X: m[0]*p.X + m[2]*p.Y + m[4], Y: m[1]*p.X + m[3]*p.Y + m[5]}
}

func (m Matrix) Inverse() (Matrix, error) {
	det := m[0]*m[3] - m[1]*m[2]
	if math.Abs(det) < 1e-10 {
		return Matrix{}, errors.New("matrix singular")
	}
	return Matrix{
		m[3] / det, -m[1] / det, -m[2] / det, m[0] / det,
		(m[2]*m[5] - m[3]*m[4]) / det, (m[1]*m[4] - m[0]*m[5]) / det,
	}, nil
}

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }
func Scale(sx, sy float64) Matrix     { return Matrix{sx, 0, 0, sy, 0, 0} }

// Sheet converts top-left inch coordinates on a page of the given height
// (inches) into PDF points.
type Sheet struct {
	m        Matrix
	heightIn float64
}

// NewSheet builds the inch->point mapping for a page heightIn inches tall.
func NewSheet(heightIn float64) Sheet {
	m := Scale(PointsPerInch, -PointsPerInch).Multiply(Translate(0, heightIn*PointsPerInch))
	return Sheet{m: m, heightIn: heightIn}
}

// Point maps a single top-left inch coordinate to PDF points.
func (s Sheet) Point(x, y float64) Point { return s.m.Transform(Point{X: x, Y: y}) }

// Rect maps a top-left anchored rectangle (inches) to a PDF rectangle given by
// its lower-left corner and size in points.
func (s Sheet) Rect(x, y, w, h float64) (llx, lly, width, height float64) {
	bottomLeft := s.Point(x, y+h)
	return bottomLeft.X, bottomLeft.Y, w * PointsPerInch, h * PointsPerInch
}

// Length converts an inch length to points.
func Length(in float64) float64 { return in * PointsPerInch }
