package cycle

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"npag/ipm"
	"npag/likelihood"
	"npag/types"
)

// gammaTrial 一次误差缩放尝试
type gammaTrial struct {
	gamma float64
	eval  *likelihood.Evaluator
	psi   *mat.Dense
	res   ipm.Result
}

// estimateGamma 在本轮预测上尝试放大与缩小误差缩放，保留目标函数更高者
// 成功时步长×4，每轮再×0.5，过小时重置
func (c *Controller) estimateGamma() {
	g := c.state.Gamma
	var best *gammaTrial
	bestObj := c.state.Objective
	for _, cand := range [2]float64{g * (1 + c.gammaDelta), g / (1 + c.gammaDelta)} {
		ev := c.eval.WithGamma(cand)
		psi, err := ev.Psi(c.subjects, c.preds)
		if err != nil {
			continue
		}
		if _, _, ok := likelihood.CheckFinite(psi); !ok {
			continue
		}
		res, err := ipm.Optimize(psi, c.ipmOptions())
		if err != nil || !finite(res.Objective) {
			continue
		}
		if res.Objective > bestObj {
			bestObj = res.Objective
			best = &gammaTrial{gamma: cand, eval: ev, psi: psi, res: res}
		}
	}
	if best != nil {
		c.log.WithFields(logrus.Fields{
			"cycle": c.state.Cycle,
			"from":  g,
			"to":    best.gamma,
			"objf":  bestObj,
		}).Debug("更新误差缩放")
		c.eval = best.eval
		c.state.Gamma = best.gamma
		c.state.Psi = best.psi
		c.state.Grid.SetWeights(best.res.Weights)
		c.state.Objective = best.res.Objective
		c.gammaDelta *= 4
	}
	c.gammaDelta *= 0.5
	if c.gammaDelta <= types.MinGammaDelta {
		c.gammaDelta = types.GammaDelta
	}
}
