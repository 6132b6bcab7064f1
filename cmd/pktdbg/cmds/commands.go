package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"github.com/pktdbg/pktdbg/pkg/config"
	"github.com/pktdbg/pktdbg/pkg/engine"
	"github.com/pktdbg/pktdbg/pkg/hooks"
	"github.com/pktdbg/pktdbg/pkg/logflags"
	"github.com/pktdbg/pktdbg/pkg/notify"
	"github.com/pktdbg/pktdbg/pkg/proc"
	"github.com/pktdbg/pktdbg/pkg/proc/native"
	"github.com/pktdbg/pktdbg/pkg/terminal"
	"github.com/pktdbg/pktdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// hookTable is the path of a YAML hook table replacing the built-in hooks.
	hookTable string
	// bufferSize is the capacity of the payload buffer of each hook.
	bufferSize int
	// targets are the executable names searched when attach is called without a pid.
	targets []string
	// transcript is the file packets are also written to.
	transcript string
	// maxDump is the number of payload bytes printed per packet.
	maxDump int
	// saveConfig is whether the config command writes the config file.
	saveConfig bool
	// imageBase is the load address used by verify.
	imageBase = hexValue(0x140000000)

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const pktdbgCommandLongDesc = `pktdbg captures the packets a game client sends and receives.

pktdbg attaches to the client as a debugger and places hardware breakpoints
on the code that hands packets to and from the network layer. Every time a
breakpoint is hit the payload is copied out of the client and the thread is
resumed past the hooked instructions. The client memory is never written.

Hooks are located by byte signatures, see 'pktdbg hooks' for the built-in
table and the format accepted by --hooks.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main pktdbg root command.
	rootCommand = &cobra.Command{
		Use:          "pktdbg",
		Short:        "pktdbg is a packet capture debugger for game clients.",
		Long:         pktdbgCommandLongDesc,
		SilenceUsage: true,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (engine, hooks, breakpoints, capture)`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVar(&hookTable, "hooks", conf.HookTable, "YAML hook table used instead of the built-in hooks.")
	rootCommand.PersistentFlags().IntVar(&bufferSize, "buffer-size", conf.BufferSize, "Capacity in bytes of the payload buffer of each hook, 0 selects the default.")

	// 'attach' subcommand.
	attachCommand := &cobra.Command{
		Use:   "attach [pid]",
		Short: "Attach to a running client and print the packets it exchanges.",
		Long: `Attach to a running client and print the packets it exchanges.

When no pid is given the first running process whose executable name matches
one of --target is used. The session ends when the client exits, or when
interrupted with Ctrl-C, in which case every hook is removed and the client
keeps running.`,
		Args: cobra.MaximumNArgs(1),
		RunE: attachCmd,
	}
	attachCommand.Flags().StringSliceVar(&targets, "target", conf.Targets, "Executable names searched when no pid is given.")
	attachCommand.Flags().StringVar(&transcript, "transcript", "", "Also write the captured packets to this file.")
	attachCommand.Flags().IntVar(&maxDump, "dump", 256, "Number of payload bytes printed per packet, 0 disables the dump.")
	rootCommand.AddCommand(attachCommand)

	// 'hooks' subcommand.
	hooksCommand := &cobra.Command{
		Use:   "hooks",
		Short: "Print the hook table in use.",
		Long: `Print the hook table in use, the built-in one unless --hooks is given.

The output can be edited and passed back with --hooks. Each hook has:

	name		unique name
	category	packet-sent or packet-received
	pattern		byte signature: hex bytes, ?? for any byte, &xx for bytes
			with all the bits of xx set
	offset, size	range of the signature that is replaced by the hook
	slot		debug register, 0 to 3
	search-from	optional image relative address where the search starts
	buffer, length	where the payload is when the hook is hit, a register
			or a memory operand like [rsp+0x48]
	resume		instructions emulated to step over the replaced range:
			mov, mov32, movsxd and add`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			descs, err := loadDescriptors()
			if err != nil {
				return err
			}
			out, err := hooks.Marshal(descs)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	rootCommand.AddCommand(hooksCommand)

	// 'verify' subcommand.
	verifyCommand := &cobra.Command{
		Use:   "verify <image>",
		Short: "Resolve the hook table against an executable file.",
		Long: `Resolve the hook table against an executable file without running it.

This reports, for every hook, where it would be installed in a client built
from the same executable, which is useful after the client was updated.`,
		Args: cobra.ExactArgs(1),
		RunE: verifyCmd,
	}
	verifyCommand.Flags().Var(&imageBase, "base", "Load address of the image.")
	rootCommand.AddCommand(verifyCommand)

	// 'config' subcommand.
	configCommand := &cobra.Command{
		Use:   "config",
		Short: "Print the configuration, or save it with --save.",
		Long: `Print the configuration in effect, the config file merged with the flags
given on the command line. With --save the result is written back to the
config file and used as the default by later invocations.`,
		Args: cobra.NoArgs,
		RunE: configCmd,
	}
	configCommand.Flags().StringSliceVar(&targets, "target", conf.Targets, "Executable names searched when no pid is given.")
	configCommand.Flags().BoolVar(&saveConfig, "save", false, "Write the configuration to the config file.")
	rootCommand.AddCommand(configCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pktdbg packet capture debugger\n%s\n", version.PktdbgVersion)
			if log {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	if docCall {
		rootCommand.DisableAutoGenTag = true
	}

	return rootCommand
}

func setupLog() error {
	out := logOutput
	if out == "" && log {
		out = conf.LogOutput
	}
	return logflags.Setup(log, out, logDest)
}

func loadDescriptors() ([]hooks.Descriptor, error) {
	if hookTable == "" {
		return hooks.Default(), nil
	}
	return hooks.LoadFile(hookTable)
}

func loadTable() (*hooks.Table, error) {
	descs, err := loadDescriptors()
	if err != nil {
		return nil, err
	}
	return hooks.NewTable(descs, bufferSize)
}

func attachCmd(cmd *cobra.Command, args []string) error {
	if err := setupLog(); err != nil {
		return err
	}
	defer logflags.Close()

	pid, err := targetPid(cmd.Context(), args)
	if err != nil {
		return err
	}
	table, err := loadTable()
	if err != nil {
		return err
	}

	printer := terminal.New(os.Stdout)
	printer.MaxDump = maxDump
	if transcript != "" {
		fh, err := os.Create(transcript)
		if err != nil {
			return err
		}
		printer.TranscribeTo(fh)
		defer printer.CloseTranscript()
	}
	listeners := notify.NewListeners()
	if err := printer.Register(listeners); err != nil {
		return err
	}

	return execute(cmd.ErrOrStderr(), engine.NewSession(native.NewHost(), pid, table, listeners), table)
}

func execute(stderr io.Writer, s *engine.Session, table *hooks.Table) error {
	if err := s.Start(); err != nil {
		return err
	}
	fmt.Fprintf(stderr, "session %s: %d of %d hooks installed, press Ctrl-C to detach\n", s.ID(), len(table.Resolved()), len(table.Hooks()))

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	defer signal.Stop(ch)

	select {
	case <-ch:
		fmt.Fprintln(stderr, "detaching")
		return s.Detach()
	case <-s.Done():
		err := s.Wait()
		var exited proc.ErrProcessExited
		if errors.As(err, &exited) {
			fmt.Fprintln(stderr, exited.Error())
			return nil
		}
		return err
	}
}

func targetPid(ctx context.Context, args []string) (int, error) {
	if len(args) > 0 {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, fmt.Errorf("invalid pid: %s", args[0])
		}
		return pid, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return proc.FindProcess(ctx, targets...)
}

func verifyCmd(cmd *cobra.Command, args []string) error {
	if err := setupLog(); err != nil {
		return err
	}
	defer logflags.Close()

	table, err := loadTable()
	if err != nil {
		return err
	}
	img, err := proc.OpenFileImage(args[0], uint64(imageBase))
	if err != nil {
		return err
	}
	defer img.Release()

	errs, err := table.ResolveAll(img)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "code %#x-%#x fingerprint %016x\n", img.CodeStart()-img.Base(), img.CodeStart()-img.Base()+img.CodeSize(), img.Fingerprint())
	for i, h := range table.Hooks() {
		if errs[i] != nil {
			fmt.Fprintf(out, "%-10s %v\n", h.Name, errs[i])
			continue
		}
		fmt.Fprintf(out, "%-10s %#x-%#x slot %d\n", h.Name, h.Start()-img.Base(), h.End()-img.Base(), h.Slot)
	}
	if n := len(table.Resolved()); n != len(table.Hooks()) {
		return fmt.Errorf("%d of %d hooks could not be resolved", len(table.Hooks())-n, len(table.Hooks()))
	}
	return nil
}

func configCmd(cmd *cobra.Command, args []string) error {
	c := *conf
	flags := cmd.Flags()
	if flags.Changed("target") {
		c.Targets = targets
	}
	if flags.Changed("hooks") {
		c.HookTable = hookTable
	}
	if flags.Changed("buffer-size") {
		c.BufferSize = bufferSize
	}
	if flags.Changed("log-output") {
		c.LogOutput = logOutput
	}

	path, err := config.GetConfigFilePath("config.yml")
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", path, out)
	if !saveConfig {
		return nil
	}
	if err := config.SaveConfig(&c); err != nil {
		return fmt.Errorf("could not save config: %w", err)
	}
	*conf = c
	return nil
}

// hexValue is a pflag.Value accepting addresses in hexadecimal.
type hexValue uint64

var _ pflag.Value = (*hexValue)(nil)

func (v *hexValue) String() string {
	return fmt.Sprintf("%#x", uint64(*v))
}

func (v *hexValue) Set(s string) error {
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", s)
	}
	*v = hexValue(n)
	return nil
}

func (v *hexValue) Type() string {
	return "address"
}
