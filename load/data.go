package load

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"npag/types"
)

// 事件类型
const (
	evidObservation = 0
	evidDose        = 1
)

// missingObservation 缺失观测的占位值
const missingObservation = -99

// 固定列，其余列均作为协变量
var fixedColumns = []string{"ID", "EVID", "TIME", "DUR", "DOSE", "ADDL", "II", "INPUT", "OUT", "OUTEQ"}

// ReadSubjectsFile 从文件读取受试者
func ReadSubjectsFile(path string) ([]*types.Subject, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSubjects(f)
}

// ReadSubjects 解析数据表
//
//	ID,EVID,TIME,DUR,DOSE,ADDL,II,INPUT,OUT,OUTEQ[,协变量...]
//
// EVID=0 为观测，1 为给药；INPUT 与 OUTEQ 从1开始编号；"." 或空串表示缺失
// ADDL/II 可选，给出 ADDL 次间隔为 II 的追加给药
// 受试者按首次出现的顺序返回
func ReadSubjects(r io.Reader) ([]*types.Subject, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, need := range []string{"ID", "EVID", "TIME"} {
		if _, ok := cols[need]; !ok {
			return nil, fmt.Errorf("缺少必需列 %s", need)
		}
	}
	var covNames []string
	for _, h := range header {
		name := strings.TrimSpace(h)
		if !slices.Contains(fixedColumns, strings.ToUpper(name)) {
			covNames = append(covNames, name)
		}
	}

	type builder struct {
		doses []types.Dose
		obs   []types.Observation
		cov   types.Covariates
	}
	var order []string
	subjects := map[string]*builder{}
	line := 1
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("第 %d 行: %w", line, err)
		}
		rw := row{rec: rec, cols: cols, line: line}
		id := rw.str("ID")
		if id == "" {
			return nil, fmt.Errorf("第 %d 行: 受试者编号为空", line)
		}
		b, ok := subjects[id]
		if !ok {
			b = &builder{cov: types.Covariates{}}
			subjects[id] = b
			order = append(order, id)
		}
		evid, err := rw.int("EVID", -1)
		if err != nil {
			return nil, err
		}
		t, err := rw.float("TIME", 0)
		if err != nil {
			return nil, err
		}
		switch evid {
		case evidObservation:
			out, err := rw.float("OUT", missingObservation)
			if err != nil {
				return nil, err
			}
			outeq, err := rw.int("OUTEQ", 1)
			if err != nil {
				return nil, err
			}
			if outeq < 1 {
				return nil, fmt.Errorf("第 %d 行: OUTEQ 必须从1开始", line)
			}
			if out != missingObservation {
				b.obs = append(b.obs, types.Observation{Time: t, Value: out, OutEq: outeq - 1})
			}
		case evidDose:
			d, err := rw.dose(t)
			if err != nil {
				return nil, err
			}
			b.doses = append(b.doses, d...)
		default:
			return nil, fmt.Errorf("第 %d 行: 不支持的 EVID %d", line, evid)
		}
		for _, name := range covNames {
			v, ok, err := rw.optional(name)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			c := b.cov[name]
			if c == nil {
				c = &types.Covariate{}
				b.cov[name] = c
			}
			c.Add(t, v)
		}
	}
	if len(order) == 0 {
		return nil, errors.New("数据表中没有受试者")
	}
	out := make([]*types.Subject, 0, len(order))
	for _, id := range order {
		b := subjects[id]
		if len(b.cov) == 0 {
			b.cov = nil
		}
		s, err := types.NewSubject(id, b.doses, b.obs, b.cov)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Exclude 剔除指定编号的受试者，返回剩余受试者与未找到的编号
func Exclude(subjects []*types.Subject, ids []string) ([]*types.Subject, []string) {
	if len(ids) == 0 {
		return subjects, nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = false
	}
	out := make([]*types.Subject, 0, len(subjects))
	for _, s := range subjects {
		if _, ok := drop[s.ID]; ok {
			drop[s.ID] = true
			continue
		}
		out = append(out, s)
	}
	var missing []string
	for _, id := range ids {
		if !drop[id] {
			missing = append(missing, id)
		}
	}
	return out, missing
}

// row 单行记录的按列访问
type row struct {
	rec  []string
	cols map[string]int
	line int
}

func (r row) str(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	v := strings.TrimSpace(r.rec[i])
	if v == "." {
		return ""
	}
	return v
}

func (r row) optional(col string) (float64, bool, error) {
	i, ok := r.cols[strings.ToUpper(col)]
	if !ok || i >= len(r.rec) {
		return 0, false, nil
	}
	s := strings.TrimSpace(r.rec[i])
	if s == "" || s == "." {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("第 %d 行: 列 %s 的值 %q 无效", r.line, col, s)
	}
	return v, true, nil
}

func (r row) float(col string, def float64) (float64, error) {
	v, ok, err := r.optional(col)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (r row) int(col string, def int) (int, error) {
	v, err := r.float(col, float64(def))
	if err != nil {
		return 0, err
	}
	if v != float64(int(v)) {
		return 0, fmt.Errorf("第 %d 行: 列 %s 应为整数, 得到 %v", r.line, col, v)
	}
	return int(v), nil
}

// dose 解析给药行，展开追加给药
func (r row) dose(t float64) ([]types.Dose, error) {
	amount, err := r.float("DOSE", 0)
	if err != nil {
		return nil, err
	}
	dur, err := r.float("DUR", 0)
	if err != nil {
		return nil, err
	}
	input, err := r.int("INPUT", 1)
	if err != nil {
		return nil, err
	}
	addl, err := r.int("ADDL", 0)
	if err != nil {
		return nil, err
	}
	ii, err := r.float("II", 0)
	if err != nil {
		return nil, err
	}
	if input < 1 {
		return nil, fmt.Errorf("第 %d 行: INPUT 必须从1开始", r.line)
	}
	if addl < 0 {
		return nil, fmt.Errorf("第 %d 行: ADDL 不能为负", r.line)
	}
	if addl > 0 && ii <= 0 {
		return nil, fmt.Errorf("第 %d 行: ADDL 需要正的 II", r.line)
	}
	route := types.RouteBolus
	if dur > 0 {
		route = types.RouteInfusion
	}
	out := make([]types.Dose, 0, addl+1)
	for k := 0; k <= addl; k++ {
		out = append(out, types.Dose{
			Time:     t + float64(k)*ii,
			Amount:   amount,
			Duration: dur,
			Input:    input - 1,
			Route:    route,
		})
	}
	return out, nil
}
