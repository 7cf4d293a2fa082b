package pose

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/labviros/is-aruco-localization/rimage/transform"
	"github.com/labviros/is-aruco-localization/spatialmath"
)

const (
	numParams    = 6
	numResiduals = 8

	initialDamping = 1e-3
	maxDamping     = 1e10
	jacobianStep   = 1e-7
	stopDelta      = 1e-12
)

// reprojection is the pixel residual of the four marker corners through the full lens model.
type reprojection struct {
	model    *transform.PinholeCameraModel
	object   [4]r3.Vector
	observed [4]r2.Point
}

// perturb applies a rotation vector and a translation step to s.
func perturb(s solution, delta []float64) solution {
	turn := spatialmath.R3ToR4(r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]}).ToQuat()
	return solution{
		q: spatialmath.Normalize(quat.Mul(turn, s.q)),
		t: s.t.Add(r3.Vector{X: delta[3], Y: delta[4], Z: delta[5]}),
	}
}

// residuals fills out with projected minus observed pixel coordinates. It reports false when a
// corner is not in front of the camera.
func (p *reprojection) residuals(s solution, out []float64) bool {
	for i, o := range p.object {
		px, ok := p.model.Project(s.apply(o))
		if !ok {
			return false
		}
		out[2*i] = px.X - p.observed[i].X
		out[2*i+1] = px.Y - p.observed[i].Y
	}
	return true
}

// meanError is the mean corner distance in pixels, +Inf when a corner is behind the camera.
func (p *reprojection) meanError(s solution) float64 {
	r := make([]float64, numResiduals)
	if !p.residuals(s, r) {
		return math.Inf(1)
	}
	var sum float64
	for i := 0; i < 4; i++ {
		sum += math.Hypot(r[2*i], r[2*i+1])
	}
	return sum / 4
}

// refine minimizes the squared reprojection residual with Levenberg-Marquardt, using a forward
// difference Jacobian over a rotation vector and translation step. The result carries its mean
// reprojection error.
func (p *reprojection) refine(start solution, maxIterations int) solution {
	cur := start
	r := make([]float64, numResiduals)
	if !p.residuals(cur, r) {
		cur.err = math.Inf(1)
		return cur
	}
	cost := floats.Dot(r, r)

	jac := mat.NewDense(numResiduals, numParams, nil)
	shifted := make([]float64, numResiduals)
	delta := make([]float64, numParams)
	lambda := initialDamping

	for it := 0; it < maxIterations && cost > 0; it++ {
		valid := true
		for k := 0; k < numParams && valid; k++ {
			for i := range delta {
				delta[i] = 0
			}
			step := jacobianStep
			if k >= 3 {
				step = jacobianStep * math.Max(1, cur.t.Norm())
			}
			delta[k] = step
			if !p.residuals(perturb(cur, delta), shifted) {
				valid = false
				break
			}
			for i := range shifted {
				jac.Set(i, k, (shifted[i]-r[i])/step)
			}
		}
		if !valid {
			break
		}

		var jtj mat.SymDense
		jtj.SymOuterK(1, jac.T())
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), mat.NewVecDense(numResiduals, r))

		improved := false
		for lambda < maxDamping {
			damped := mat.NewSymDense(numParams, nil)
			damped.CopySym(&jtj)
			for i := 0; i < numParams; i++ {
				damped.SetSym(i, i, jtj.At(i, i)*(1+lambda)+lambda*1e-12)
			}
			var chol mat.Cholesky
			if !chol.Factorize(damped) {
				lambda *= 10
				continue
			}
			var step mat.VecDense
			if err := chol.SolveVecTo(&step, &jtr); err != nil {
				lambda *= 10
				continue
			}
			for i := range delta {
				delta[i] = -step.AtVec(i)
			}
			next := perturb(cur, delta)
			if !p.residuals(next, shifted) {
				lambda *= 10
				continue
			}
			nextCost := floats.Dot(shifted, shifted)
			if nextCost < cost {
				cur = next
				copy(r, shifted)
				converged := cost-nextCost < stopDelta*cost || floats.Norm(delta, 2) < stopDelta
				cost = nextCost
				lambda = math.Max(lambda/10, 1e-12)
				improved = !converged
				break
			}
			lambda *= 10
		}
		if !improved {
			break
		}
	}
	cur.err = p.meanError(cur)
	return cur
}
