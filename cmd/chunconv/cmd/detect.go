package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/spf13/cobra"

	"github.com/chunmedia/chunconv/internal/ffmpeg"
)

// detectReport is the JSON document the detect command prints.
type detectReport struct {
	System    systemInfo           `json:"system"`
	Toolchain *ffmpeg.Capabilities `json:"toolchain"`
}

type systemInfo struct {
	OS              string `json:"os"`
	Arch            string `json:"arch"`
	PhysicalCores   int    `json:"physical_cores"`
	LogicalCores    int    `json:"logical_cores"`
	CPUModel        string `json:"cpu_model,omitempty"`
	ConversionSlots int    `json:"conversion_slots"`
}

// detectCmd represents the detect command.
var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect toolchain and hardware capabilities",
	Long: `Probe the encoder toolchain and report its capabilities as JSON:
version, available encoders, muxable formats, which hardware accelerators
are actually usable on this system, and the CPU topology the conversion
slot count derives from.

Examples:
  chunconv detect
  chunconv detect > capabilities.json`,
	RunE: runDetect,
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.FFmpeg.ProbeTimeout.Duration())
	defer cancel()

	probe := ffmpeg.NewCapabilityProbe(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath, nil)
	caps, err := probe.Probe(ctx)
	if err != nil {
		return err
	}

	report := detectReport{
		System:    detectSystem(),
		Toolchain: caps,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// detectSystem summarizes the host. Topology query failures leave the
// affected fields zero rather than failing the command.
func detectSystem() systemInfo {
	info := systemInfo{
		OS:              runtime.GOOS,
		Arch:            runtime.GOARCH,
		ConversionSlots: cfg.Engine.EffectiveMaxParallel(),
	}
	if physical, err := cpu.Counts(false); err == nil {
		info.PhysicalCores = physical
	}
	if logical, err := cpu.Counts(true); err == nil {
		info.LogicalCores = logical
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	return info
}
