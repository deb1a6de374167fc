package cli

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-ims-packets/internal/codec"
	"github.com/kstaniek/go-ims-packets/internal/node"
	"github.com/kstaniek/go-ims-packets/internal/packet"
)

func newEncodeCmd(o *options) *cobra.Command {
	var typ string
	var option int64
	cmd := &cobra.Command{
		Use:   "encode PACKET [FIELD=VALUE...]",
		Short: "Print the wire form of a packet",
		Long: `Encode builds one packet and prints its wire form: text for the
ascii wire, hex for the binary wire. Read requests and header-only replies
carry no payload.`,
		Example: `  spdctl encode VERSION
  spdctl encode VERSION --type ResponseComplete Major=1 Minor=2
  spdctl --wire binary --token-width 2 encode 1`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := packet.ParseType(typ)
			if err != nil {
				return err
			}
			d, err := o.descriptor(args[0])
			if err != nil {
				return err
			}
			c, _ := o.codec()
			wire, err := encodePacket(c, d, t, option, args[1:])
			if err != nil {
				return err
			}
			if c.Mode() == packet.Binary {
				fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(wire))
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), string(wire))
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "ReadComplete", "packet type name or number")
	cmd.Flags().Int64Var(&option, "option", 0, "header option token")
	return cmd
}

// encodePacket lays d over the codec buffer, fills header and fields and
// returns a copy of the serialized packet.
func encodePacket(c codec.Codec, d *packet.Descriptor, t packet.Type, option int64, assigns []string) ([]byte, error) {
	v := c.View().As(d)
	v.Clear()
	if err := v.WriteHeader(t, option); err != nil {
		return nil, err
	}
	if t == packet.ReadComplete || t == packet.ResponseHeaderOnly {
		if len(assigns) > 0 {
			return nil, fmt.Errorf("%v packets carry no payload", t)
		}
		if err := node.HeaderOnly(v); err != nil {
			return nil, err
		}
	}
	if err := applyAssigns(v, assigns); err != nil {
		return nil, err
	}
	if _, err := c.Encode(); err != nil {
		return nil, err
	}
	return bytes.Clone(c.Wire()), nil
}

// applyAssigns writes NAME=VALUE pairs into the payload fields of v.
func applyAssigns(v packet.View, assigns []string) error {
	d := v.Descriptor()
	for _, a := range assigns {
		name, val, ok := strings.Cut(a, "=")
		if !ok {
			return fmt.Errorf("expected FIELD=VALUE, got %q", a)
		}
		f, ok := d.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", packet.ErrNoField, d.Name, name)
		}
		if err := setField(v, f, val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func setField(v packet.View, f packet.Field, val string) error {
	switch f.Kind {
	case packet.KindUint:
		n, err := strconv.ParseUint(val, 0, 64)
		if err != nil {
			return err
		}
		return packet.Set(v, f.Index, n)
	case packet.KindFloat:
		x, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return err
		}
		return packet.Set(v, f.Index, x)
	case packet.KindText:
		if v.Mode() != packet.ASCII {
			return packet.ErrMode
		}
		return v.SetText(f.Index, val)
	}
	n, err := strconv.ParseInt(val, 0, 64)
	if err != nil {
		return err
	}
	return packet.Set(v, f.Index, n)
}
