package cmd

import (
	"fmt"

	"github.com/audiolibrelab/recbridge/internal/config"
	"gopkg.in/yaml.v3"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and manage recbridge configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteDefault(cfgFile); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", cfgFile)
		return nil
	},
}

var configUseCmd = &cobra.Command{
	Use:   "use [profile]",
	Short: "Set the active configuration profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UpdateActiveConfig(cfgFile, args[0]); err != nil {
			return err
		}
		fmt.Printf("Active profile set to %s\n", args[0])
		return nil
	},
}

var configInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration with inheritance indicators",
	Long:  `Display the resolved configuration and whether each value is inherited from the default profile or set by the active profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		inheritance := cfg.Inheritance
		if inheritance == nil {
			inheritance = &config.InheritanceInfo{}
		}

		fmt.Printf("=== RESOLVED CONFIGURATION ===\n")
		fmt.Printf("file: %s\n", cfgFile)

		fmt.Printf("\n[Audio]\n")
		fmt.Printf("backend: %s %s\n", cfg.Audio.Backend, getInheritanceIndicator(inheritance.Audio.Backend))
		fmt.Printf("source: %q %s\n", cfg.Audio.Source, getInheritanceIndicator(inheritance.Audio.Source))
		fmt.Printf("sample_rate: %d %s\n", cfg.Audio.SampleRate, getInheritanceIndicator(inheritance.Audio.SampleRate))
		fmt.Printf("channels: %d %s\n", cfg.Audio.Channels, getInheritanceIndicator(inheritance.Audio.Channels))
		fmt.Printf("stop_timeout: %s\n", cfg.Audio.StopTimeout())

		fmt.Printf("\n[Output]\n")
		fmt.Printf("directory: %s %s\n", cfg.Output.Directory, getInheritanceIndicator(inheritance.Output.Directory))

		fmt.Printf("\n[Server]\n")
		fmt.Printf("port: %s\n", cfg.Server.Port)
		fmt.Printf("notify.queue_size: %d\n", cfg.Notify.QueueSize)

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	default:
		return "[default]"
	}
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configUseCmd)
	configCmd.AddCommand(configInfoCmd)
}
