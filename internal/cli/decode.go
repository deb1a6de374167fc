package cli

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/packet"
)

func newDecodeCmd(o *options) *cobra.Command {
	var asHex bool
	cmd := &cobra.Command{
		Use:   "decode [FILE]",
		Short: "Parse a captured byte stream into packets",
		Long: `Decode feeds a byte stream (FILE or stdin) through the selected codec
and prints every packet it completes. Framing errors are reported on stderr
and decoding resumes at the next packet.`,
		Example: `  printf 'VERSION:8:4:0:1:2:3:0;\n' | spdctl decode
  spdctl --wire binary decode --hex capture.hex -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			data, err := io.ReadAll(r)
			if err != nil {
				return err
			}
			if asHex {
				if data, err = hex.DecodeString(strings.Join(strings.Fields(string(data)), "")); err != nil {
					return fmt.Errorf("hex input: %w", err)
				}
			}
			c, _ := o.codec()
			pkts, errs := decodeStream(c, o.reg, data)
			for _, e := range errs {
				fmt.Fprintln(cmd.ErrOrStderr(), "decode:", e)
			}
			fmt.Fprint(cmd.OutOrStdout(), o.formatter().Format(pkts))
			if len(pkts) == 0 && len(errs) > 0 {
				return errors.New("no packets decoded")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asHex, "hex", false, "input is hex text (whitespace ignored)")
	return cmd
}

// decodeStream runs data through c byte by byte, the same way a port polls
// its source. A buffer bounds violation ends the stream.
func decodeStream(c codec.Codec, reg *packet.Registry, data []byte) (summaries, []error) {
	var out summaries
	var errs []error
	for i, b := range data {
		if err := c.Append(b); err != nil {
			errs = append(errs, fmt.Errorf("byte %d: %w", i, err))
			if errors.Is(err, codec.ErrBufferBounds) {
				return out, errs
			}
			continue
		}
		done, err := c.TryComplete()
		if err != nil {
			errs = append(errs, fmt.Errorf("byte %d: %w", i, err))
			continue
		}
		if !done {
			continue
		}
		v, rerr := reg.Resolve(c.View())
		if rerr != nil {
			errs = append(errs, rerr)
		}
		out = append(out, packet.Summarize(v, c.Tokens()))
	}
	if p := c.Progress(); p.Index > 0 {
		errs = append(errs, fmt.Errorf("%d trailing bytes without a complete packet", p.Index))
	}
	return out, errs
}
