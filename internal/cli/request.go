package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/kstaniek/go-ims-packets/internal/hub"
	"github.com/kstaniek/go-ims-packets/internal/logging"
	"github.com/kstaniek/go-ims-packets/internal/node"
	"github.com/kstaniek/go-ims-packets/internal/packet"
	"github.com/kstaniek/go-ims-packets/internal/port"
	"github.com/kstaniek/go-ims-packets/internal/serial"
	"github.com/kstaniek/go-ims-packets/internal/transport"
)

var (
	ErrNoReply    = errors.New("no reply before timeout")
	ErrPeerClosed = errors.New("peer closed the connection")
)

type requestOpts struct {
	addr    string
	device  string
	baud    int
	typ     string
	option  int64
	timeout time.Duration
}

func newRequestCmd(o *options) *cobra.Command {
	ro := &requestOpts{}
	cmd := &cobra.Command{
		Use:   "request PACKET [FIELD=VALUE...]",
		Short: "Send one packet to a node and print the reply",
		Long: `Request opens a sender port to a node over TCP (--addr) or a serial
line (--serial), sends one packet and prints the first packet received back.`,
		Example: `  spdctl request VERSION --addr 127.0.0.1:20100
  spdctl request VERSION --serial /dev/ttyUSB0 --baud 115200 -o yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (ro.addr == "") == (ro.device == "") {
				return errors.New("exactly one of --addr or --serial is required")
			}
			t, err := packet.ParseType(ro.typ)
			if err != nil {
				return err
			}
			d, err := o.descriptor(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), ro.timeout)
			defer cancel()
			src, dst, closeFn, err := ro.dial(ctx)
			if err != nil {
				return err
			}
			defer closeFn()
			reply, err := exchange(ctx, o, src, dst, port.Request{ID: d.ID, Type: t, Option: ro.option}, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), o.formatter().Format(summaries{reply}))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&ro.addr, "addr", "", "node TCP address host:port")
	f.StringVar(&ro.device, "serial", "", "serial device")
	f.IntVar(&ro.baud, "baud", 115200, "serial baud rate")
	f.StringVarP(&ro.typ, "type", "t", "ReadComplete", "packet type name or number")
	f.Int64Var(&ro.option, "option", 0, "header option token")
	f.DurationVar(&ro.timeout, "timeout", 2*time.Second, "time to wait for the reply")
	return cmd
}

func (ro *requestOpts) dial(ctx context.Context) (transport.Source, transport.Sink, func(), error) {
	if ro.addr != "" {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", ro.addr)
		if err != nil {
			return nil, nil, nil, err
		}
		w := transport.NewWriterSink(ctx, conn, 4, transport.Hooks{})
		return transport.NewPump(ctx, conn), w, func() { w.Close(); _ = conn.Close() }, nil
	}
	sp, err := serial.Open(ro.device, ro.baud, 50*time.Millisecond)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open serial: %w", err)
	}
	w := serial.NewTXWriter(ctx, sp, 4)
	return serial.NewRXPump(ctx, sp), w, func() { w.Close(); _ = sp.Close() }, nil
}

// exchange runs a one-port node with a sender port over src and dst until
// the first inbound packet arrives.
func exchange(ctx context.Context, o *options, src transport.Source, dst transport.Sink, req port.Request, assigns []string) (packet.Summary, error) {
	h := hub.New()
	obs := h.NewClient("spdctl")
	defer h.Remove(obs)
	api := node.NewAPI(o.reg, node.WithHub(h))
	if len(assigns) > 0 {
		api.Package(req.ID, func(_ *port.Port, v packet.View, _ port.Request) error {
			return applyAssigns(v, assigns)
		})
	}
	in, err := o.codec()
	if err != nil {
		return packet.Summary{}, err
	}
	out, _ := o.codec()
	p := port.New("peer",
		port.NewInterface(in, port.WithSource(src)),
		port.NewInterface(out, port.WithSink(dst)),
		api,
		port.WithRole(port.Sender),
		port.WithCyclesToReset(0),
		port.WithLogger(logging.Discard()),
	)
	if err := p.Enqueue(req.ID, req.Type, req.Option); err != nil {
		return packet.Summary{}, err
	}
	n := node.New(node.WithLogger(logging.Discard()))
	if err := n.AddPort(p); err != nil {
		return packet.Summary{}, err
	}
	t := time.NewTicker(node.DefaultCycle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return packet.Summary{}, ErrNoReply
		case r := <-obs.Out:
			if r.Dir == hub.DirRx {
				return r.Packet, nil
			}
		case <-t.C:
			n.Loop()
			if len(n.Ports()) == 0 {
				// a reply may have been decoded in the final cycle
				for len(obs.Out) > 0 {
					if r := <-obs.Out; r.Dir == hub.DirRx {
						return r.Packet, nil
					}
				}
				return packet.Summary{}, ErrPeerClosed
			}
		}
	}
}
