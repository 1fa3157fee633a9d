package cmd

import (
	"fmt"
	"runtime"

	"github.com/audiolibrelab/recbridge/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available audio sources",
	Long:  `List the capture backends found on this machine and the PipeWire output ports that can be used as audio.source.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("🎵 Audio Sources (%s)\n", runtime.GOOS)
		fmt.Printf("═══════════════════════════════════════\n\n")

		fmt.Printf("Backends: %v\n", audio.GetAvailableBackends())
		fmt.Printf("Configured: backend=%s source=%q\n\n", cfg.Audio.Backend, cfg.Audio.Source)

		return listPipeWireSources()
	},
}

// listPipeWireSources lists available PipeWire/JACK ports
func listPipeWireSources() error {
	pw := audio.NewPipeWire()
	sources, err := pw.ListPorts()
	if err != nil {
		return fmt.Errorf("failed to get PipeWire sources: %w", err)
	}

	fmt.Printf("📋 PIPEWIRE/JACK SOURCES (%d found):\n", len(sources))
	for i, source := range sources {
		fmt.Printf("  %d. %s\n", i+1, source)
	}

	if cfg.Audio.Source != "" {
		if err := pw.ValidateSource(cfg.Audio.Source); err != nil {
			fmt.Printf("\n⚠️  Configured source: %v\n", err)
		} else {
			fmt.Printf("\n✅ Configured source %q is available\n", cfg.Audio.Source)
		}
	}

	fmt.Printf("\n💡 PipeWire Usage:\n")
	fmt.Printf("  • Format: \"Device: Audio (hw:X,Y):Z\" or a node name\n")
	fmt.Printf("  • Example: \"Scarlett 2i2 USB: Audio (hw:1,0):0\"\n")
	fmt.Printf("  • Configure in audio.source, empty for the default source\n\n")

	return nil
}
