package debug

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

// Charts 曲线绘制
type Charts struct {
	Record
}

func newLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme: types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: subtitle,
		}),
		charts.WithLegendOpts(opts.Legend{
			Type:   "scroll",
			Orient: "vertical",
			Right:  "10",
			Top:    "20",
			Bottom: "20",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Name:        "cycle",
			SplitNumber: 20,
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale: opts.Bool(true),
		}),
		charts.WithDataZoomOpts(opts.DataZoom{
			Type:       "inside",
			Start:      0,
			End:        100,
			XAxisIndex: []int{0},
		}),
		charts.WithAnimation(true),
	)
	return line
}

func lineData[T int | float64](values []T) []opts.LineData {
	items := make([]opts.LineData, len(values))
	for i, v := range values {
		items[i] = opts.LineData{Value: v}
	}
	return items
}

// Render 格式化
func (c *Charts) Render(w io.Writer) error {
	c.mu.Lock()
	cycles := make([]string, len(c.Cycle))
	for i, n := range c.Cycle {
		cycles[i] = fmt.Sprint(n)
	}
	lineO := newLine("目标函数", "每轮 -2LL")
	lineO.SetXAxis(cycles).AddSeries("-2LL", lineData(c.Neg2LL))
	lineN := newLine("支撑点数", "每轮网格大小")
	lineN.SetXAxis(cycles).AddSeries("nspp", lineData(c.GridSize))
	lineG := newLine("误差缩放与扩展尺度", "gamma / eps")
	lineG.SetXAxis(cycles).
		AddSeries("gamma", lineData(c.Gamma)).
		AddSeries("eps", lineData(c.Eps))
	c.mu.Unlock()

	// 构建界面
	page := components.NewPage()
	page.AddCharts(
		lineO,
		lineN,
		lineG,
	)
	return page.Render(w)
}
