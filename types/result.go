package types

// ParamSummary 单个参数的加权总体统计
type ParamSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Median float64 `json:"median"`
	Q25    float64 `json:"q25"`
	Q75    float64 `json:"q75"`
}

// Result 拟合结果
type Result struct {
	RunID          string         `json:"run_id"`
	Model          string         `json:"model"`
	ParamNames     []string       `json:"param_names"`
	SubjectIDs     []string       `json:"subject_ids"`
	Grid           Grid           `json:"grid"`
	Objective      float64        `json:"objective"` // Σlog(Ψw)
	Neg2LL         float64        `json:"neg2ll"`
	Posterior      [][]float64    `json:"posterior"`       // 受试者×支撑点
	PosteriorMeans [][]float64    `json:"posterior_means"` // 受试者×参数
	Summary        []ParamSummary `json:"summary"`
	Reason         Reason         `json:"reason"`
	Cycles         int            `json:"cycles"`
	Incomplete     bool           `json:"incomplete"`
	Gamma          float64        `json:"gamma"`
	Warnings       []string       `json:"warnings,omitempty"`
	History        []Snapshot     `json:"history,omitempty"`
}
