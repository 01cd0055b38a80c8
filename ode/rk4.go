package ode

import "math"

// rk4Step 经典4阶Runge-Kutta单步（原地更新 y）
func (in *Integrator) rk4Step(f Func, t, h float64, y []float64) {
	n := len(y)
	f(t, y, in.k1)
	for i := 0; i < n; i++ {
		in.tmp[i] = y[i] + h/2*in.k1[i]
	}
	f(t+h/2, in.tmp, in.k2)
	for i := 0; i < n; i++ {
		in.tmp[i] = y[i] + h/2*in.k2[i]
	}
	f(t+h/2, in.tmp, in.k3)
	for i := 0; i < n; i++ {
		in.tmp[i] = y[i] + h*in.k3[i]
	}
	f(t+h, in.tmp, in.k4)
	for i := 0; i < n; i++ {
		y[i] += h / 6 * (in.k1[i] + 2*in.k2[i] + 2*in.k3[i] + in.k4[i])
	}
}

// integrateRK4 定步长积分，步长取 InitialStep 并等分区间
func (in *Integrator) integrateRK4(f Func, t0, t1 float64, y []float64) error {
	h := math.Min(in.opts.InitialStep, in.opts.MaxStep)
	return in.finishRK4(f, t0, t1, h, y)
}
