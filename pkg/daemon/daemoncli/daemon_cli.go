package daemoncli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/holoplot/go-evdev"
	"github.com/spf13/cobra"

	"github.com/remapd/remapd/internal/injectsvc"
	"github.com/remapd/remapd/internal/macro"
	"github.com/remapd/remapd/pkg/daemon"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "remapd"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type daemonProvider func() *daemon.Daemon

func NewRootCmd(configDir string) *cobra.Command {
	cfg := daemon.Config{
		DataDir:      filepath.Join(configDir, "data"),
		PresetConfig: filepath.Join(configDir, "preset.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "remapd",
		Short: "evdev input remapping daemon",
		Long:  `remapd grabs input devices and injects remapped events through virtual devices.`,
	}
	var d *daemon.Daemon
	daemonProvider := func() *daemon.Daemon {
		return d
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.PresetConfig, "preset", cfg.PresetConfig, "preset config file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		d, err = daemon.NewDaemon(cfg)
		return err
	}
	rootCmd.AddCommand(NewRun(daemonProvider))
	rootCmd.AddCommand(NewListDevices(daemonProvider))
	rootCmd.AddCommand(NewParseMacro(daemonProvider))
	rootCmd.AddCommand(NewListSymbols(daemonProvider))
	rootCmd.AddCommand(NewListFunctions())
	return rootCmd
}

func NewRun(d daemonProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the remapping daemon",
		Long:  `Grab the configured input devices and inject remapped events until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer d().Close()
			return d().Run(cmd.Context())
		},
	}
}

type deviceGroup struct {
	Key     string       `json:"key"`
	Name    string       `json:"name"`
	Keys    int          `json:"keys"`
	Axes    int          `json:"axes"`
	Devices []deviceNode `json:"devices"`
}

type deviceNode struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Phys string `json:"phys,omitempty"`
}

func NewListDevices(d daemonProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List input device groups",
		Long:  `List grabable input devices, clustered into groups the injector would treat as one unit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := d().Backend().Enumerate()
			if err != nil {
				return err
			}
			var out []deviceGroup
			for _, group := range injectsvc.BuildGroups(infos) {
				caps := group.Capabilities()
				g := deviceGroup{
					Key:  group.Key,
					Name: group.Name,
					Keys: len(caps.Codes(evdev.EV_KEY)),
					Axes: len(caps.Codes(evdev.EV_ABS)),
				}
				for _, dev := range group.Devices {
					g.Devices = append(g.Devices, deviceNode{
						Path: dev.Path,
						Name: dev.Name,
						Phys: dev.Phys,
					})
				}
				out = append(out, g)
			}
			jsonB, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewParseMacro(d daemonProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "parse-macro",
		Short: "Validate a macro",
		Long:  `Parse and compile a macro string, printing the event capabilities it would require.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: parse-macro <source>")
			}
			m, err := d().MacroCompiler().Compile(args[0])
			if err != nil {
				return err
			}
			caps := m.Capabilities()
			var lines []string
			for _, typ := range []evdev.EvType{evdev.EV_KEY, evdev.EV_REL, evdev.EV_ABS} {
				codes := caps.Codes(typ)
				sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
				for _, code := range codes {
					lines = append(lines, fmt.Sprintf("%d,%d", typ, code))
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d capabilities\n%s\n", len(lines), strings.Join(lines, "\n"))
			return nil
		},
	}
}

func NewListFunctions() *cobra.Command {
	return &cobra.Command{
		Use:   "list-functions",
		Short: "List macro functions",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range macro.Functions() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func NewListSymbols(d daemonProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-symbols",
		Short: "List known key symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range d().Symbols().List() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
