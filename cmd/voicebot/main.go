package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/kodexArg/telegram-voice-to-text/internal/config"
	"github.com/kodexArg/telegram-voice-to-text/internal/version"
)

const defaultConfigPath = "configs/config.yaml"

var (
	configPath string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "voicebot",
	Short: "Telegram bot that replies to voice messages with their transcript",
	Long: `voicebot downloads voice and audio messages sent to a Telegram bot,
transcribes them with a local Whisper model and replies in the same chat.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Env files to load (default .env)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads env files and the config file. A missing file at the
// default path falls back to the built-in defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadEnvFiles(envFiles...); err != nil {
		return nil, err
	}

	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
