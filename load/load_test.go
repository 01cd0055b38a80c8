package load

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"npag/likelihood"
	"npag/types"
)

const data = `ID,EVID,TIME,DUR,DOSE,ADDL,II,INPUT,OUT,OUTEQ,WT,AGE
# 注释行
1,1,0,0.5,500,.,.,1,.,.,70,30
1,0,1,.,.,.,.,.,12.5,1,72,.
1,0,2,.,.,.,.,.,-99,1,.,.
1,0,4,.,.,.,.,.,6.1,2,74,.
2,1,0,0,100,2,12,2,.,.,.,.
2,0,6,.,.,.,.,.,3.3,1,.,.
`

func TestReadSubjects(t *testing.T) {
	subjects, err := ReadSubjects(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 2 || subjects[0].ID != "1" || subjects[1].ID != "2" {
		t.Fatalf("受试者 %v", subjects)
	}
	s := subjects[0]
	if len(s.Doses) != 1 || s.Doses[0].Route != types.RouteInfusion || s.Doses[0].Input != 0 || s.Doses[0].Rate() != 1000 {
		t.Errorf("给药 %+v", s.Doses)
	}
	// -99 为缺失观测
	if len(s.Observations) != 2 {
		t.Fatalf("观测 %+v", s.Observations)
	}
	if s.Observations[1].OutEq != 1 || s.Observations[1].Value != 6.1 {
		t.Errorf("输出方程应从0开始编号: %+v", s.Observations[1])
	}
	if v, ok := s.Covariates.At("WT", 2.5); !ok || math.Abs(v-73) > 1e-12 {
		t.Errorf("WT(2.5) = %v, %v, 期望插值 73", v, ok)
	}
	if v, _ := s.Covariates.At("AGE", 10); v != 30 {
		t.Errorf("AGE 外推 %v", v)
	}
	s = subjects[1]
	if len(s.Doses) != 3 || s.Doses[2].Time != 24 || s.Doses[0].Route != types.RouteBolus || s.Doses[0].Input != 1 {
		t.Errorf("追加给药展开错误: %+v", s.Doses)
	}
	if s.Covariates != nil {
		t.Errorf("没有协变量的受试者应为 nil: %v", s.Covariates)
	}
}

func TestReadSubjectsErrors(t *testing.T) {
	bad := []string{
		"ID,TIME\n1,0\n",
		"ID,EVID,TIME\n1,2,0\n",
		"ID,EVID,TIME,OUT,OUTEQ\n1,0,1,abc,1\n",
		"ID,EVID,TIME,OUT,OUTEQ\n1,0,1,2,0\n",
		"ID,EVID,TIME,DOSE,ADDL\n1,1,0,100,2\n",
		"ID,EVID,TIME,DOSE\n1,1,0,100\n", // 没有观测
		"ID,EVID,TIME\n",
	}
	for _, in := range bad {
		if _, err := ReadSubjects(strings.NewReader(in)); err == nil {
			t.Errorf("应拒绝 %q", in)
		}
	}
}

func TestExclude(t *testing.T) {
	subjects, err := ReadSubjects(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	kept, missing := Exclude(subjects, []string{"2", "9"})
	if len(kept) != 1 || kept[0].ID != "1" {
		t.Errorf("剩余 %v", kept)
	}
	if len(missing) != 1 || missing[0] != "9" {
		t.Errorf("未找到 %v", missing)
	}
	if kept, _ := Exclude(subjects, nil); len(kept) != 2 {
		t.Errorf("空列表不应剔除")
	}
}

// predictions 观测值预测为 a*exp(-b*t)
func predictions(subjects []*types.Subject, g types.Grid) [][]types.Prediction {
	preds := make([][]types.Prediction, len(subjects))
	for i, s := range subjects {
		preds[i] = make([]types.Prediction, len(g))
		for j, sp := range g {
			vals := make([]float64, len(s.Observations))
			for k, o := range s.Observations {
				vals[k] = sp.Params[0] * math.Exp(-sp.Params[1]*o.Time)
			}
			preds[i][j] = types.Prediction{Values: vals}
		}
	}
	return preds
}

func TestThetaRoundTrip(t *testing.T) {
	subjects, err := ReadSubjects(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	g := types.Grid{
		{Params: types.ParameterVector{12.3456789012345, 0.1}, Weight: 0.3},
		{Params: types.ParameterVector{20.0 / 3, 1.0 / 7}, Weight: 0.7},
	}
	eval := likelihood.New(likelihood.Additive{Poly: likelihood.Poly{0.5, 0.1}, Scale: 1}, 0)
	psi, err := eval.Psi(subjects, predictions(subjects, g))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteTheta(&buf, []string{"a", "b"}, g); err != nil {
		t.Fatal(err)
	}
	back, names, err := ReadTheta(&buf, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 || names[0] != "a" {
		t.Errorf("参数名 %v", names)
	}
	psi2, err := eval.Psi(subjects, predictions(subjects, back))
	if err != nil {
		t.Fatal(err)
	}
	if !mat.EqualApprox(psi, psi2, 1e-14) {
		t.Errorf("重新载入后的似然矩阵不一致")
	}
	if a, b := likelihood.Objective(psi, g.Weights()), likelihood.Objective(psi2, back.Weights()); math.Abs(a-b) > 1e-12 {
		t.Errorf("目标函数 %v != %v", a, b)
	}
}

func TestReadThetaWithoutHeader(t *testing.T) {
	g, names, err := ReadTheta(strings.NewReader("1,2\n3,4\n"), 2)
	if err != nil {
		t.Fatal(err)
	}
	if names != nil || len(g) != 2 || g[0].Weight != 0.5 || g[1].Params[1] != 4 {
		t.Errorf("网格 %v, 名称 %v", g, names)
	}
	if _, _, err := ReadTheta(strings.NewReader("1,2,3\n"), 2); err == nil {
		t.Errorf("维度不符应报错")
	}
}

func TestSaveResult(t *testing.T) {
	res := &types.Result{
		RunID:      "r",
		ParamNames: []string{"ke", "v"},
		SubjectIDs: []string{"1"},
		Grid:       types.Grid{{Params: types.ParameterVector{0.1, 10}, Weight: 1}},
		Objective:  -3.5,
		Neg2LL:     7,
		Posterior:  [][]float64{{1}},
		Reason:     types.ReasonObjective,
	}
	dir := t.TempDir()
	if err := SaveResult(dir, res); err != nil {
		t.Fatal(err)
	}
	g, names, err := ReadThetaFile(filepath.Join(dir, ThetaFile), 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(g) != 1 || g[0].Weight != 1 || names[1] != "v" {
		t.Errorf("网格 %v", g)
	}
	var buf bytes.Buffer
	if err := WriteResult(&buf, res); err != nil {
		t.Fatal(err)
	}
	back, err := ReadResult(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if back.Objective != res.Objective || back.Reason != res.Reason || back.Grid[0].Params[1] != 10 {
		t.Errorf("结果 %+v", back)
	}
}

func TestWritePredictions(t *testing.T) {
	subjects, err := ReadSubjects(strings.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	g := types.Grid{{Params: types.ParameterVector{10, 0.1}, Weight: 1}}
	preds := predictions(subjects, g)
	preds[1][0] = types.Prediction{Err: errFailed}
	var buf bytes.Buffer
	if err := WritePredictions(&buf, subjects, preds); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("输出 %d 行, 期望 4:\n%s", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[3], ",1,") {
		t.Errorf("失败的仿真应输出空值: %s", lines[3])
	}
}

var errFailed = &failure{}

type failure struct{}

func (*failure) Error() string { return "失败" }
