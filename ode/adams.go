package ode

import "math"

// 常量定义（通用配置阈值）
const (
	minValidStep  = 1e-12 // 最小有效步长（避免数值下溢）
	defaultAbsTol = 1e-6  // 默认绝对误差容差
	defaultRelTol = 1e-4  // 默认相对误差容差
	defaultSafety = 0.85  // 默认步长调整安全系数
	growThreshold = 1.5   // 步长放大低于此倍数时保持历史不重启
)

// 3阶Adams方法系数常量
const (
	// Adams-Bashford预测器系数 (3阶)
	abCoeff1 = 23.0 / 12.0
	abCoeff2 = 16.0 / 12.0
	abCoeff3 = 5.0 / 12.0

	// Adams-Moulton校正器系数 (3阶)
	amCoeff1 = 5.0 / 12.0
	amCoeff2 = 8.0 / 12.0
	amCoeff3 = 1.0 / 12.0

	// 局部截断误差(LTE)系数
	lteCoeffPredictor = 3.0 / 8.0   // 预测器误差系数 C*
	lteCoeffCorrector = -1.0 / 24.0 // 校正器误差系数 C
	lteFactor         = lteCoeffCorrector / (lteCoeffPredictor - lteCoeffCorrector)

	// 步长调整参数
	maxStepScale       = 2.5
	minStepScale       = 0.4
	stepAdjustOrder    = 3
	stepAdjustExponent = 1.0 / float64(stepAdjustOrder+1)
)

// ------------------------------
// 多变量3阶预测-校正积分核心
// ------------------------------

// predict 3阶Adams-Bashford预测
func (in *Integrator) predict(y []float64, h float64) {
	d0, d1, d2 := in.ders[0], in.ders[1], in.ders[2]
	for i := range y {
		in.predState[i] = y[i] + h*(abCoeff1*d0[i]-abCoeff2*d1[i]+abCoeff3*d2[i])
	}
}

// correct 3阶Adams-Moulton校正
func (in *Integrator) correct(y []float64, h float64) {
	d0, d1 := in.ders[0], in.ders[1]
	for i := range y {
		in.corrState[i] = y[i] + h*(amCoeff1*in.predDer[i]+amCoeff2*d0[i]-amCoeff3*d1[i])
	}
}

// errorQuotient 局部截断误差与允许误差之比（各分量取最大）
func (in *Integrator) errorQuotient(y []float64) float64 {
	q := 0.0
	for i := range y {
		lte := math.Abs(lteFactor * (in.corrState[i] - in.predState[i]))
		scale := math.Max(math.Abs(y[i]), math.Abs(in.corrState[i]))
		allow := in.opts.AbsTol + in.opts.RelTol*scale
		if r := lte / allow; r > q {
			q = r
		}
	}
	return q
}

// stepScale 步长调整倍数 (safety/q)^(1/(order+1))，限制在 [0.4, 2.5]
func stepScale(q float64) float64 {
	if q <= 0 {
		return maxStepScale
	}
	s := math.Pow(defaultSafety/q, stepAdjustExponent)
	return math.Max(minStepScale, math.Min(s, maxStepScale))
}

// shift 推进导数历史，新导数放在位置0
func (in *Integrator) shift() {
	oldest := in.ders[2]
	in.ders[2] = in.ders[1]
	in.ders[1] = in.ders[0]
	in.ders[0] = oldest
}

// bootstrap 用RK4走两步建立等步长历史
func (in *Integrator) bootstrap(f Func, t, h float64, y []float64) (float64, error) {
	f(t, y, in.ders[2])
	for _, slot := range []int{1, 0} {
		if err := in.count(); err != nil {
			return t, err
		}
		in.rk4Step(f, t, h, y)
		t += h
		if !finite(y) {
			return t, ErrNonFinite
		}
		f(t, y, in.ders[slot])
	}
	return t, nil
}

// integrateAdams 自适应步长积分
// 每次步长改变或分段开始都重建历史；剩余区间不足3步时用RK4收尾
func (in *Integrator) integrateAdams(f Func, t0, t1 float64, y []float64) error {
	h := math.Max(in.opts.MinStep, math.Min(in.step, in.opts.MaxStep))
	t := t0
	eps := 1e-12 * math.Max(1, math.Abs(t1))
	history := false
	for t1-t > eps {
		remaining := t1 - t
		if !history {
			if remaining < 3*h {
				if err := in.finishRK4(f, t, t1, h, y); err != nil {
					return err
				}
				break
			}
			var err error
			if t, err = in.bootstrap(f, t, h, y); err != nil {
				return err
			}
			history = true
			continue
		}
		if remaining < h {
			// 最后一步调整步长
			history = false
			continue
		}
		// 执行预测-校正步骤
		in.predict(y, h)
		f(t+h, in.predState, in.predDer)
		in.correct(y, h)
		if err := in.count(); err != nil {
			return err
		}
		if !finite(in.corrState) {
			return ErrNonFinite
		}
		q := in.errorQuotient(y)
		if q > 1 {
			// 拒绝本步，缩小步长后重建历史
			h *= stepScale(q)
			if h < in.opts.MinStep {
				in.step = h
				return ErrStepTooSmall
			}
			history = false
			continue
		}
		copy(y, in.corrState)
		t += h
		in.shift()
		f(t, y, in.ders[0])
		if s := stepScale(q); s >= growThreshold && h < in.opts.MaxStep {
			h = math.Min(h*s, in.opts.MaxStep)
			history = false
		}
	}
	in.step = h
	return nil
}

// finishRK4 用不超过h的等分步长积分到终点
func (in *Integrator) finishRK4(f Func, t, t1, h float64, y []float64) error {
	n := int(math.Ceil((t1 - t) / h))
	if n < 1 {
		n = 1
	}
	dt := (t1 - t) / float64(n)
	for i := 0; i < n; i++ {
		if err := in.count(); err != nil {
			return err
		}
		in.rk4Step(f, t, dt, y)
		t += dt
		if !finite(y) {
			return ErrNonFinite
		}
	}
	return nil
}
