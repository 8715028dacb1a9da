package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nkashyap/hireflow/agent"
	"github.com/nkashyap/hireflow/config"
	"github.com/nkashyap/hireflow/executor"
	"github.com/nkashyap/hireflow/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "memory", "implementation of underlying storage (memory|redis|sqlite)")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "hireflow", "namespace used in redis storage")
	cmd.Flags().String("sqlite-path", "hireflow.db", "path of the sqlite database file")
	cmd.Flags().String("definitions", "definitions.json", "path of the workflow definitions file")
	cmd.Flags().String("audit-log", "", "path of the step audit log file, empty disables it")
	cmd.Flags().Int("poll-interval", 1, "scheduler poll interval in seconds")
	cmd.Flags().Int("executor-timeout", 300, "timeout in seconds for one external executor call")
	cmd.Flags().Int("max-executor-attempts", 3, "tries per step before it is recorded failed")
	cmd.Flags().Int("wakeup-capacity", 512, "wakeup worker queue capacity")
	cmd.Flags().Bool("allow-duplicate-executions", false, "allow concurrent executions of one workflow type per entity")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configFile != "" {
			return err
		}
	}

	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.SqliteConfig.Path = viper.GetString("sqlite-path")
	c.cfg.DefinitionsFile = viper.GetString("definitions")
	c.cfg.AuditLogFile = viper.GetString("audit-log")
	c.cfg.PollIntervalSeconds = viper.GetInt("poll-interval")
	c.cfg.ExecutorTimeoutSeconds = viper.GetInt("executor-timeout")
	c.cfg.MaxExecutorAttempts = viper.GetInt("max-executor-attempts")
	c.cfg.WakeupWorkerCapacity = viper.GetInt("wakeup-capacity")
	c.cfg.AllowDuplicateExecutions = viper.GetBool("allow-duplicate-executions")
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config, defaultRegistry())
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

// defaultRegistry wires placeholder executors for the shipped hiring step
// types. Real deployments register their own executors, resume parsers,
// schedulers, mailers, before building the agent.
func defaultRegistry() *executor.Registry {
	registry := executor.NewRegistry()
	echo := executor.Func(func(ctx context.Context, step *model.StepExecution, wfCtx executor.WorkflowContext) executor.Result {
		return executor.Success(map[string]any{"step": step.StepName, "entityId": wfCtx.EntityId})
	})
	for _, stepType := range []string{"resume_analysis", "screening", "interview_scheduling", "offer_approval", "send_offer"} {
		registry.Register(stepType, echo)
	}
	return registry
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "hireflow",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
