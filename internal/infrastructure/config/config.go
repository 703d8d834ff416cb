package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Tournament   TournamentConfig   `mapstructure:"tournament"`
	Verification VerificationConfig `mapstructure:"verification"`
	Review       ReviewConfig       `mapstructure:"review"`
	Budget       BudgetConfig       `mapstructure:"budget"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	History      HistoryConfig      `mapstructure:"history"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Verbose bool   `mapstructure:"verbose"`
}

// LLMConfig LLM CLI 配置
type LLMConfig struct {
	Binary         string        `mapstructure:"binary"`           // LLM CLI 可执行文件
	Model          string        `mapstructure:"model"`            // 竞争者使用的模型
	PlannerModel   string        `mapstructure:"planner_model"`    // 任务生成模型
	JudgeModel     string        `mapstructure:"judge_model"`      // 评审/裁判模型
	CallTimeout    time.Duration `mapstructure:"call_timeout"`     // 单次调用超时 (0 = 无)
	MaxCostPerCall float64       `mapstructure:"max_cost_per_call"` // 单次调用预算上限 (USD)
	MaxRetries     int           `mapstructure:"max_retries"`      // 瞬时错误最大重试次数
	RetryBaseWait  time.Duration `mapstructure:"retry_base_wait"`  // 重试基础等待 (指数退避)
}

// TournamentConfig 锦标赛配置
type TournamentConfig struct {
	MaxCompetitors       int           `mapstructure:"max_competitors"`       // complex 任务的竞争者数
	Strategies           []string      `mapstructure:"strategies"`            // 按序取前 N 个
	ConvergenceThreshold float64       `mapstructure:"convergence_threshold"` // 合成触发阈值
	LaunchStagger        time.Duration `mapstructure:"launch_stagger"`        // 并发启动间隔
	CompetitorTimeout    time.Duration `mapstructure:"competitor_timeout"`    // 单竞争者执行超时
}

// VerificationConfig 验证配置
type VerificationConfig struct {
	Commands []VerificationCommand `mapstructure:"commands"`
	Timeout  time.Duration         `mapstructure:"timeout"` // 单条命令超时
}

// VerificationCommand 单条验证命令
type VerificationCommand struct {
	Name    string `mapstructure:"name"`    // 如 "test"
	Command string `mapstructure:"command"` // shell 命令
	Kind    string `mapstructure:"kind"`    // test | typecheck | lint | format | other
}

// ReviewConfig 评审配置
type ReviewConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	MaxFixRetries       int      `mapstructure:"max_fix_retries"`      // 评审修复重试上限
	SkipConvergence     float64  `mapstructure:"skip_convergence"`     // ≥ 此收敛度免评审
	MultiReviewer       bool     `mapstructure:"multi_reviewer"`       // 多评审员模式
	Personas            []string `mapstructure:"personas"`             // 评审员人格
}

// BudgetConfig 预算配置
type BudgetConfig struct {
	MaxCost float64 `mapstructure:"max_cost"` // 整个运行的成本上限 (USD)
}

// OrchestratorConfig 调度器配置
type OrchestratorConfig struct {
	CircuitBreakerThreshold int    `mapstructure:"circuit_breaker_threshold"` // 连续失败熔断阈值
	CommitChanges           bool   `mapstructure:"commit_changes"`            // explore/command 任务是否提交产物
	BranchPrefix            string `mapstructure:"branch_prefix"`             // 运行分支前缀
}

// HistoryConfig 运行历史归档配置
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"` // 相对 .convergent/ 的 sqlite 路径
}

// AppName is the canonical application name.
const AppName = "convergent"

// StateDirName is the orchestrator's state directory inside a project root.
// Everything the orchestrator writes lives under it; SCM operations exclude it.
const StateDirName = "." + AppName

// Load 加载配置: 默认值 → <project>/.convergent/config.yaml → 环境变量。
// 项目根目录的 .env 先行加载, 以便 LLM CLI 子进程继承 API key。
func Load(projectDir string) (*Config, error) {
	// .env (如存在) — API keys 等敏感项不进 config.yaml
	_ = godotenv.Load(filepath.Join(projectDir, ".env"))

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(projectDir, StateDirName))
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 环境变量覆盖: CONVERGENT_BUDGET_MAX_COST 等
	v.SetEnvPrefix("CONVERGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate 校验配置的结构性约束
func (c *Config) Validate() error {
	if c.Tournament.MaxCompetitors < 1 {
		return fmt.Errorf("tournament.max_competitors must be >= 1, got %d", c.Tournament.MaxCompetitors)
	}
	if len(c.Tournament.Strategies) == 0 {
		return fmt.Errorf("tournament.strategies must not be empty")
	}
	if c.Tournament.ConvergenceThreshold < 0 || c.Tournament.ConvergenceThreshold > 1 {
		return fmt.Errorf("tournament.convergence_threshold must be in [0,1], got %v", c.Tournament.ConvergenceThreshold)
	}
	if c.Budget.MaxCost <= 0 {
		return fmt.Errorf("budget.max_cost must be positive, got %v", c.Budget.MaxCost)
	}
	if c.LLM.Binary == "" {
		return fmt.Errorf("llm.binary must be set")
	}
	if c.LLM.CallTimeout < 0 {
		return fmt.Errorf("llm.call_timeout must not be negative")
	}
	for _, cmd := range c.Verification.Commands {
		switch cmd.Kind {
		case "test", "typecheck", "lint", "format", "other":
		default:
			return fmt.Errorf("verification command %q has unknown kind %q", cmd.Name, cmd.Kind)
		}
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.verbose", false)

	v.SetDefault("llm.binary", "claude")
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("llm.planner_model", "claude-opus-4-1")
	v.SetDefault("llm.judge_model", "claude-sonnet-4-5")
	v.SetDefault("llm.call_timeout", 20*time.Minute)
	v.SetDefault("llm.max_cost_per_call", 5.0)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_base_wait", 3*time.Second)

	v.SetDefault("tournament.max_competitors", 3)
	v.SetDefault("tournament.strategies", []string{"pragmatist", "thorough", "deconstructor"})
	v.SetDefault("tournament.convergence_threshold", 0.5)
	v.SetDefault("tournament.launch_stagger", 2*time.Second)
	v.SetDefault("tournament.competitor_timeout", 20*time.Minute)

	v.SetDefault("verification.timeout", 10*time.Minute)

	v.SetDefault("review.enabled", true)
	v.SetDefault("review.max_fix_retries", 2)
	v.SetDefault("review.skip_convergence", 0.8)
	v.SetDefault("review.multi_reviewer", false)
	v.SetDefault("review.personas", []string{"correctness", "maintainability"})

	v.SetDefault("budget.max_cost", 50.0)

	v.SetDefault("orchestrator.circuit_breaker_threshold", 3)
	v.SetDefault("orchestrator.commit_changes", true)
	v.SetDefault("orchestrator.branch_prefix", "convergent/")

	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", "history.db")
}
