package load

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"npag/types"
)

// 输出文件名
const (
	ResultFile     = "result.json"
	ThetaFile      = "theta.csv"
	PosteriorFile  = "posterior.csv"
	PredictionFile = "predictions.csv"
)

// WriteResult 以JSON写出结果
func WriteResult(w io.Writer, res *types.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// ReadResult 读取JSON结果
func ReadResult(r io.Reader) (*types.Result, error) {
	var res types.Result
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, fmt.Errorf("解析结果: %w", err)
	}
	return &res, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteTheta 写出网格：参数列 + prob 列
func WriteTheta(w io.Writer, names []string, g types.Grid) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), names...), "prob")); err != nil {
		return err
	}
	rec := make([]string, len(names)+1)
	for _, sp := range g {
		if len(sp.Params) != len(names) {
			return fmt.Errorf("支撑点维度 %d 与参数名数 %d 不一致", len(sp.Params), len(names))
		}
		for d, v := range sp.Params {
			rec[d] = formatFloat(v)
		}
		rec[len(names)] = formatFloat(sp.Weight)
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadTheta 读取网格
// 表头可选；带表头且最后一列为 prob 时读取权重，否则视为均匀权重
// dims>0 时校验参数维度
func ReadTheta(r io.Reader, dims int) (types.Grid, []string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("读取网格: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, errors.New("网格文件为空")
	}
	var names []string
	if _, err := strconv.ParseFloat(strings.TrimSpace(records[0][0]), 64); err != nil {
		names = records[0]
		records = records[1:]
	}
	hasProb := len(names) > 0 && strings.EqualFold(strings.TrimSpace(names[len(names)-1]), "prob")
	if hasProb {
		names = names[:len(names)-1]
	}
	g := make(types.Grid, 0, len(records))
	for i, rec := range records {
		vals := make([]float64, len(rec))
		for j, s := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("第 %d 行第 %d 列: %w", i+1, j+1, err)
			}
			vals[j] = v
		}
		sp := types.SupportPoint{Params: vals}
		if hasProb {
			sp.Params, sp.Weight = vals[:len(vals)-1], vals[len(vals)-1]
		}
		if dims > 0 && len(sp.Params) != dims {
			return nil, nil, fmt.Errorf("第 %d 行有 %d 个参数, 期望 %d", i+1, len(sp.Params), dims)
		}
		g = append(g, sp)
	}
	if !hasProb {
		for i := range g {
			g[i].Weight = 1 / float64(len(g))
		}
	}
	return g, names, nil
}

// WritePosterior 写出后验：id, point, prob, 参数...
func WritePosterior(w io.Writer, res *types.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"id", "point", "prob"}, res.ParamNames...)); err != nil {
		return err
	}
	for i, row := range res.Posterior {
		for j, p := range row {
			rec := []string{res.SubjectIDs[i], strconv.Itoa(j), formatFloat(p)}
			for _, v := range res.Grid[j].Params {
				rec = append(rec, formatFloat(v))
			}
			if err := cw.Write(rec); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WritePredictions 写出仿真结果：id, point, time, outeq, pred（失败的仿真 pred 为空）
// preds[i][j] 为受试者i在点j的预测
func WritePredictions(w io.Writer, subjects []*types.Subject, preds [][]types.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"id", "point", "time", "outeq", "pred"}); err != nil {
		return err
	}
	for i, s := range subjects {
		for j, p := range preds[i] {
			for k, o := range s.Observations {
				val := ""
				if !p.Failed() && k < len(p.Values) {
					val = formatFloat(p.Values[k])
				}
				rec := []string{s.ID, strconv.Itoa(j), formatFloat(o.Time), strconv.Itoa(o.OutEq + 1), val}
				if err := cw.Write(rec); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveResult 在目录中写出 result.json、theta.csv 与 posterior.csv
func SaveResult(dir string, res *types.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{ResultFile, func(w io.Writer) error { return WriteResult(w, res) }},
		{ThetaFile, func(w io.Writer) error { return WriteTheta(w, res.ParamNames, res.Grid) }},
		{PosteriorFile, func(w io.Writer) error { return WritePosterior(w, res) }},
	}
	for _, wr := range writers {
		if err := writeFile(filepath.Join(dir, wr.name), wr.write); err != nil {
			return err
		}
	}
	return nil
}

// ReadThetaFile 从文件读取网格
func ReadThetaFile(path string, dims int) (types.Grid, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadTheta(f, dims)
}

// WritePredictionsFile 写出仿真结果文件
func WritePredictionsFile(path string, subjects []*types.Subject, preds [][]types.Prediction) error {
	return writeFile(path, func(w io.Writer) error { return WritePredictions(w, subjects, preds) })
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err = write(f); err != nil {
		return fmt.Errorf("写入 %s: %w", path, err)
	}
	return nil
}
