package npag

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"npag/config"
	"npag/load"
	"npag/model/onecomp"
	"npag/store"
	"npag/types"
)

// 两个受试者：ke=0.2,v=10 与 ke=0.5,v=20，t=0 推注 100
const data = `ID,EVID,TIME,DOSE,OUT,OUTEQ
1,1,0,100,.,.
1,0,1,.,8.187,1
1,0,2,.,6.703,1
1,0,4,.,4.493,1
1,0,8,.,2.019,1
2,1,0,100,.,.
2,0,1,.,3.033,1
2,0,2,.,1.839,1
2,0,4,.,0.677,1
2,0,8,.,0.0916,1
3,1,0,100,.,.
3,0,1,.,5,1
`

func setup(t *testing.T) (*Npag, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Parameters = []types.Range{{Name: "ke", Min: 0.05, Max: 1}, {Name: "v", Min: 5, Max: 30}}
	cfg.InitPoints = 64
	cfg.MaxCycles = 12
	cfg.Workers = 4
	cfg.Exclude = []string{"3", "99"}
	cfg.Output = config.Output{Dir: filepath.Join(dir, "out"), Database: filepath.Join(dir, "runs.db"), Charts: true}
	n := New(cfg)
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	n.Log = log
	if err := n.LoadData(path); err != nil {
		t.Fatal(err)
	}
	return n, dir
}

func TestLoadDataExcludes(t *testing.T) {
	n, _ := setup(t)
	if len(n.Subjects) != 2 || n.Subjects[1].ID != "2" {
		t.Fatalf("受试者 %v", n.Subjects)
	}
	if err := n.LoadData("没有这个文件.csv"); err == nil {
		t.Errorf("文件不存在应报错")
	}
}

func TestSetModel(t *testing.T) {
	n, _ := setup(t)
	if err := n.SetModel("不存在"); err == nil {
		t.Errorf("未注册模型应报错")
	}
	n.Config.ODE.Method = "euler"
	var ce *types.ConfigError
	if err := n.SetModel(onecomp.Name); !errors.As(err, &ce) || ce.Field != "ode.method" {
		t.Errorf("未知积分方法应返回配置错误, 得到 %v", err)
	}
	n.Config.ODE.Method = "rk4"
	if err := n.SetModel(onecomp.Name); err != nil {
		t.Fatal(err)
	}
	if n.ModelName != onecomp.Name || n.Model == nil {
		t.Errorf("模型未设置")
	}
}

func TestFitExportSimulate(t *testing.T) {
	n, dir := setup(t)
	if err := n.SetModel(onecomp.Name); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	res, err := n.Fit(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Grid) == 0 || math.IsNaN(res.Objective) || math.IsInf(res.Objective, 0) {
		t.Fatalf("结果 %+v", res)
	}
	if w := res.Grid.TotalWeight(); math.Abs(w-1) > 1e-6 {
		t.Errorf("权重和 %v", w)
	}
	if res.Model != onecomp.Name || len(res.SubjectIDs) != 2 {
		t.Errorf("结果信息 %v %v", res.Model, res.SubjectIDs)
	}
	if n.Charts.Len() != res.Cycles {
		t.Errorf("进度记录 %d 轮, 结果 %d 轮", n.Charts.Len(), res.Cycles)
	}
	if err := n.Export(ctx); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{load.ResultFile, load.ThetaFile, load.PosteriorFile, ChartsFile, PlotFile} {
		if _, err := os.Stat(filepath.Join(n.Config.Output.Dir, name)); err != nil {
			t.Errorf("缺少输出 %s: %v", name, err)
		}
	}

	db, err := store.Open(n.Config.Output.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	g, _, err := db.LoadGrid(ctx, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != len(res.Grid) {
		t.Errorf("数据库网格 %d 点, 期望 %d", len(g), len(res.Grid))
	}
	cycles, err := db.Cycles(ctx, res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != res.Cycles {
		t.Errorf("数据库循环记录 %d, 期望 %d", len(cycles), res.Cycles)
	}

	theta, _, err := load.ReadThetaFile(filepath.Join(n.Config.Output.Dir, load.ThetaFile), 2)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "sim", "pred.csv")
	if err := n.Simulate(theta, out); err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		t.Errorf("仿真输出 %v", err)
	}
	if err := n.Simulate(nil, out); err == nil {
		t.Errorf("空网格应报错")
	}
}

func TestExportWithoutResult(t *testing.T) {
	n := New(nil)
	if err := n.Export(context.Background()); !errors.Is(err, types.ErrInternal) {
		t.Errorf("没有结果时应报错, 得到 %v", err)
	}
}
