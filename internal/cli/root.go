// Package cli implements spdctl, the operator tool for packet nodes: it
// builds and parses packets offline and exchanges them with a live node.
package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/spd"
)

// Set at build time via -ldflags "-X github.com/kstaniek/go-ims-packets/internal/cli.Version=x.y.z".
var (
	Version = "dev"
	Commit  = "none"
)

// options are the persistent flags shared by every command.
type options struct {
	output     string
	wire       string
	tokenWidth int
	byteOrder  string
	sizing     spd.Sizing
	reg        *packet.Registry
}

func (o *options) formatter() Formatter { return NewFormatter(o.output) }

// codec builds a fresh codec for the selected wire settings.
func (o *options) codec() (codec.Codec, error) {
	mode, err := packet.ParseMode(o.wire)
	if err != nil {
		return nil, err
	}
	order, err := spd.ParseByteOrder(o.byteOrder)
	if err != nil {
		return nil, err
	}
	return codec.New(mode, o.sizing, spd.Width(o.tokenWidth), order)
}

// descriptor finds a packet kind by name or numeric ID.
func (o *options) descriptor(s string) (*packet.Descriptor, error) {
	if d, ok := o.reg.ByName(s); ok {
		return d, nil
	}
	if id, err := strconv.Atoi(s); err == nil {
		if d, ok := o.reg.ByID(id); ok {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", packet.ErrUnknownID, s)
}

// RootCmd builds the spdctl command tree.
func RootCmd() *cobra.Command {
	o := &options{sizing: spd.DefaultSizing(), reg: packet.DefaultRegistry()}
	root := &cobra.Command{
		Use:           "spdctl",
		Short:         "Build, parse and exchange serial parameter data packets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch strings.ToLower(o.output) {
			case "table", "json", "yaml":
			default:
				return fmt.Errorf("invalid output format %q (use table|json|yaml)", o.output)
			}
			_, err := o.codec()
			return err
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&o.output, "output", "o", "table", "output format: table, json, yaml")
	pf.StringVar(&o.wire, "wire", "ascii", "wire format: ascii|binary")
	pf.IntVar(&o.tokenWidth, "token-width", 4, "binary token width in bytes: 1|2|4|8")
	pf.StringVar(&o.byteOrder, "byte-order", "little", "binary byte order: little|big")
	pf.IntVar(&o.sizing.TokenCount, "token-count", o.sizing.TokenCount, "tokens per packet buffer")

	root.AddCommand(
		newListCmd(o),
		newEncodeCmd(o),
		newDecodeCmd(o),
		newRequestCmd(o),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show spdctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "spdctl version %s (commit %s)\n", Version, Commit)
			return nil
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known packet kinds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out descriptors
			for _, d := range o.reg.All() {
				info := descriptorInfo{ID: d.ID, Name: d.Name, Tokens: d.Tokens}
				for _, f := range d.Fields {
					info.Fields = append(info.Fields, f.Name+":"+f.Kind.String())
				}
				out = append(out, info)
			}
			fmt.Fprint(cmd.OutOrStdout(), o.formatter().Format(out))
			return nil
		},
	}
}
