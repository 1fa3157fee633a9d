package audio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// PipeWire queries the PipeWire graph for capturable ports
type PipeWire struct {
	// listCommand produces the port listing; replaced in tests
	listCommand func() ([]byte, error)
}

// NewPipeWire creates a new PipeWire instance
func NewPipeWire() *PipeWire {
	return &PipeWire{
		listCommand: func() ([]byte, error) {
			return exec.Command("pw-link", "-o").Output()
		},
	}
}

// ListPorts returns all output ports in the graph, which are the ones a
// recorder can capture from
func (pw *PipeWire) ListPorts() ([]string, error) {
	output, err := pw.listCommand()
	if err != nil {
		return nil, fmt.Errorf("failed to list PipeWire ports: %w", err)
	}

	return parsePorts(string(output)), nil
}

func parsePorts(output string) []string {
	var ports []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "Input ports:") && !strings.HasPrefix(line, "Output ports:") {
			ports = append(ports, line)
		}
	}
	return ports
}

// ValidateSource checks that source names exactly one port, or a node that
// owns at least one port. An empty source means the default target.
func (pw *PipeWire) ValidateSource(source string) error {
	if source == "" {
		return nil
	}

	ports, err := pw.ListPorts()
	if err != nil {
		return err
	}

	return validateSourceInList(source, ports)
}

func validateSourceInList(source string, ports []string) error {
	duplicates := findPortDuplicatesInList(source, ports)
	if len(duplicates) > 1 {
		return fmt.Errorf("duplicate sources detected for '%s': %v. Please close conflicting applications", source, duplicates)
	}
	if len(duplicates) == 1 {
		return nil
	}

	for _, port := range ports {
		if strings.HasPrefix(port, source+":") {
			return nil
		}
	}

	slog.Debug("Capture source not present in graph", "source", source, "ports", len(ports))
	return fmt.Errorf("source not found: %s", source)
}

// findPortDuplicatesInList finds all ports with exactly the same name
func findPortDuplicatesInList(portName string, allPorts []string) []string {
	var duplicates []string
	for _, port := range allPorts {
		if port == portName {
			duplicates = append(duplicates, port)
		}
	}

	return duplicates
}
