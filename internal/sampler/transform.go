package sampler

// Point is a position in image space, x to the right and y down.
type Point struct {
	X, Y float64
}

// Transform is a projective mapping. Points are row vectors (x, y, 1)
// multiplied on the left of m.
type Transform struct {
	m [3][3]float64
}

// Apply maps (x, y) through t.
func (t Transform) Apply(x, y float64) (float64, float64) {
	w := t.m[0][2]*x + t.m[1][2]*y + t.m[2][2]
	return (t.m[0][0]*x + t.m[1][0]*y + t.m[2][0]) / w,
		(t.m[0][1]*x + t.m[1][1]*y + t.m[2][1]) / w
}

// then returns the mapping that applies t first and u second.
func (t Transform) then(u Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 3; k++ {
				out.m[i][j] += t.m[i][k] * u.m[k][j]
			}
		}
	}
	return out
}

// adjugate is the inverse up to scale, which is all a projective mapping needs.
func (t Transform) adjugate() Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r0, r1 := (j+1)%3, (j+2)%3
			c0, c1 := (i+1)%3, (i+2)%3
			out.m[i][j] = t.m[r0][c0]*t.m[r1][c1] - t.m[r0][c1]*t.m[r1][c0]
		}
	}
	return out
}

// squareToQuad maps the unit square corners (0,0), (1,0), (1,1), (0,1) onto
// q[0..3]. It reports false for a degenerate quadrilateral.
func squareToQuad(q [4]Point) (Transform, bool) {
	dx3 := q[0].X - q[1].X + q[2].X - q[3].X
	dy3 := q[0].Y - q[1].Y + q[2].Y - q[3].Y

	if dx3 == 0 && dy3 == 0 {
		// Parallelogram: affine, degenerate when the sides are collinear.
		if (q[1].X-q[0].X)*(q[2].Y-q[1].Y)-(q[1].Y-q[0].Y)*(q[2].X-q[1].X) == 0 {
			return Transform{}, false
		}
		return Transform{m: [3][3]float64{
			{q[1].X - q[0].X, q[1].Y - q[0].Y, 0},
			{q[2].X - q[1].X, q[2].Y - q[1].Y, 0},
			{q[0].X, q[0].Y, 1},
		}}, true
	}

	dx1, dy1 := q[1].X-q[2].X, q[1].Y-q[2].Y
	dx2, dy2 := q[3].X-q[2].X, q[3].Y-q[2].Y
	den := dx1*dy2 - dx2*dy1
	if den == 0 {
		return Transform{}, false
	}
	g := (dx3*dy2 - dx2*dy3) / den
	h := (dx1*dy3 - dx3*dy1) / den
	return Transform{m: [3][3]float64{
		{q[1].X - q[0].X + g*q[1].X, q[1].Y - q[0].Y + g*q[1].Y, g},
		{q[3].X - q[0].X + h*q[3].X, q[3].Y - q[0].Y + h*q[3].Y, h},
		{q[0].X, q[0].Y, 1},
	}}, true
}

// QuadToQuad returns the projective mapping taking each from[i] to to[i].
func QuadToQuad(from, to [4]Point) (Transform, bool) {
	fromSquare, ok := squareToQuad(from)
	if !ok {
		return Transform{}, false
	}
	toQuad, ok := squareToQuad(to)
	if !ok {
		return Transform{}, false
	}
	return fromSquare.adjugate().then(toQuad), true
}
