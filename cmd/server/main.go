package main

import (
	"os"

	"chathub/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	port    string
)

var rootCmd = &cobra.Command{
	Use:          "chathub",
	Short:        "Real-time multi-room chat hub",
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml/json); environment variables take precedence")
	rootCmd.PersistentFlags().StringVar(&port, "port", "", "listen port, overrides APP_PORT")
	rootCmd.AddCommand(serveCmd, roomsCmd)
}

// loadConfig 合并配置文件、环境变量与命令行参数，并做启动前校验。
func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if port != "" {
		cfg.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
