package types

// 默认参数常量定义
var (
	LikelihoodFloor   = 1e-300 // 似然下限（失败仿真与极小值统一取此值）
	WeightTolerance   = 1e-6   // 权重和校验容差
	PruneThreshold    = 1e-3   // 相对最大权重的剪枝阈值
	CondenseTolerance = 1e-8   // QR压缩保留列的 |R_ii|/||R_i|| 下限
	MinDistance       = 1e-4   // 支撑点最小归一化距离
	InitialEps        = 0.2    // 网格扩展初始尺度
	MinEps            = 1e-4   // 网格扩展最小尺度
	InjectMargin      = 1e-4   // 候选点准入的最小目标函数提升
	InitialGamma      = 1.0    // 误差模型初始缩放
	GammaDelta        = 0.1    // 误差模型缩放的初始变化幅度
	MinGammaDelta     = 0.01   // 低于此值重置为 GammaDelta
)
