package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"npag"
	"npag/config"
	"npag/cycle"
	"npag/load"
	"npag/model"
	"npag/store"
)

var (
	configPath string
	dataPath   string
	modelName  string
	thetaPath  string
	outputDir  string
	dbPath     string
)

// setupLogger 按级别名创建日志器, 空串为 info
func setupLogger(level string) (*logrus.Logger, error) {
	if level == "" {
		level = logrus.InfoLevel.String()
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}

// setup 读取配置、数据与模型
func setup() (*npag.Npag, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}
	if outputDir != "" {
		cfg.Output.Dir = outputDir
	}
	if dbPath != "" {
		cfg.Output.Database = dbPath
	}
	log, err := setupLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	n := npag.New(cfg)
	n.Log = log
	if dataPath == "" {
		return nil, fmt.Errorf("需要 --data")
	}
	if err := n.LoadData(dataPath); err != nil {
		return nil, err
	}
	if err := n.SetModel(modelName); err != nil {
		return nil, err
	}
	return n, nil
}

var rootCmd = &cobra.Command{
	Use:           "npag",
	Short:         "非参数自适应网格群体药代动力学估计",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "拟合群体分布",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := setup()
		if err != nil {
			return err
		}
		var opts []cycle.Option
		if thetaPath != "" {
			g, _, err := load.ReadThetaFile(thetaPath, len(n.Config.Parameters))
			if err != nil {
				return err
			}
			opts = append(opts, cycle.WithSeedGrid(g))
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		res, err := n.Fit(ctx, opts...)
		if err != nil {
			return err
		}
		if err := n.Export(context.Background()); err != nil {
			return err
		}
		n.Log.WithFields(logrus.Fields{
			"run":        res.RunID,
			"cycles":     res.Cycles,
			"nspp":       len(res.Grid),
			"neg2ll":     res.Neg2LL,
			"reason":     res.Reason,
			"incomplete": res.Incomplete,
		}).Info("完成")
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "参数\t均值\t标准差\t中位数")
		for _, s := range res.Summary {
			fmt.Fprintf(w, "%s\t%.6g\t%.6g\t%.6g\n", s.Name, s.Mean, s.SD, s.Median)
		}
		return w.Flush()
	},
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "在给定网格上仿真",
	RunE: func(cmd *cobra.Command, args []string) error {
		if thetaPath == "" {
			return fmt.Errorf("需要 --theta")
		}
		n, err := setup()
		if err != nil {
			return err
		}
		dims := len(n.Config.Parameters)
		if d, ok := n.Model.(model.Describer); ok {
			dims = len(d.Parameters())
		}
		g, _, err := load.ReadThetaFile(thetaPath, dims)
		if err != nil {
			return err
		}
		path := filepath.Join(n.Config.Output.Dir, load.PredictionFile)
		if err := n.Simulate(g, path); err != nil {
			return err
		}
		n.Log.WithField("file", path).Info("仿真完成")
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "列出内置模型",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, name := range model.Names() {
			m, err := model.Get(name)
			if err != nil {
				return err
			}
			var params []string
			if d, ok := m.(model.Describer); ok {
				params = d.Parameters()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, strings.Join(params, ","))
		}
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "列出数据库中的运行",
	RunE: func(cmd *cobra.Command, args []string) error {
		if dbPath == "" {
			return fmt.Errorf("需要 --db")
		}
		db, err := store.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		runs, err := db.Runs(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "运行\t模型\t-2LL\t循环\t原因")
		for _, r := range runs {
			reason := r.Reason
			if r.Incomplete {
				reason += " (未完成)"
			}
			fmt.Fprintf(w, "%s\t%s\t%.4f\t%d\t%s\n", r.RunID, r.Model, r.Neg2LL, r.Cycles, reason)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件 (YAML)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite 数据库（覆盖配置）")
	for _, c := range []*cobra.Command{fitCmd, simulateCmd} {
		c.Flags().StringVar(&dataPath, "data", "", "数据表 (CSV)")
		c.Flags().StringVar(&modelName, "model", "one_comp_iv", "模型名")
		c.Flags().StringVar(&thetaPath, "theta", "", "网格文件 (CSV)")
		c.Flags().StringVar(&outputDir, "out", "", "输出目录（覆盖配置）")
	}
	rootCmd.AddCommand(fitCmd, simulateCmd, modelsCmd, runsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
