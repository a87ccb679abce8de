package main

import (
	"fmt"
	"os"

	"github.com/ALEYI17/InfraSight_gpudebug/internal/collector/aggregator"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/registry"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/report"
	"github.com/ALEYI17/InfraSight_gpudebug/internal/savearea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type decodeOptions struct {
	isa   string
	input string
	all   bool
}

func newDecodeCommand() *cobra.Command {
	var opts decodeOptions

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "decode a captured context save area image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.isa, "isa", "", "target ISA of the capturing agent, e.g. gfx908")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "save area image, header included")
	cmd.Flags().BoolVarP(&opts.all, "all", "a", false, "print every wave, not only the XNACK ones")
	_ = cmd.MarkFlagRequired("isa")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runDecode(cmd *cobra.Command, opts decodeOptions) error {
	area, err := os.ReadFile(opts.input)
	if err != nil {
		return err
	}

	a := registry.NewAgent(0, 0, "offline", opts.isa)
	if !a.Active() {
		return fmt.Errorf("unsupported ISA %q, supported: %v", opts.isa, savearea.SupportedTargets())
	}
	waves, err := savearea.Decode(area, a.Layout)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", opts.input, err)
	}
	logger().Debug("decoded save area", zap.String("input", opts.input), zap.Int("waves", len(waves)))

	reg := registry.New(nil, logger())
	if err := reg.AddAgent(a); err != nil {
		return err
	}
	if err := reg.AddQueue(a.NodeID, &registry.Queue{ID: 0, Waves: waves}); err != nil {
		return err
	}

	groups, faulty := aggregator.ClassifyMemoryFault(a, opts.all)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d wavefront(s) decoded, %d with a memory violation\n\n", len(waves), faulty)
	if len(groups) == 0 {
		return nil
	}
	p := report.NewPrinter(out, report.WithLogger(logger()))
	_, err = fmt.Fprint(out, p.Waves(cmd.Context(), a, groups, nil))
	return err
}
