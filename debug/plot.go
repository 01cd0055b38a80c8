package debug

import (
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// 图片尺寸
const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// Plot 绘制 -2LL 随循环的变化，format 为 png/svg/pdf
func (list *Record) Plot(w io.Writer, format string) error {
	list.mu.Lock()
	pts := make(plotter.XYs, len(list.Cycle))
	for i := range list.Cycle {
		pts[i].X = float64(list.Cycle[i])
		pts[i].Y = list.Neg2LL[i]
	}
	title := list.RunID
	list.mu.Unlock()

	p := plot.New()
	p.Title.Text = "-2LL " + title
	p.X.Label.Text = "cycle"
	p.Y.Label.Text = "-2LL"
	p.Add(plotter.NewGrid())
	if len(pts) > 0 {
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return fmt.Errorf("绘制曲线: %w", err)
		}
		p.Add(line, points)
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
