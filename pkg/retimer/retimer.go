// Package retimer configures the DS250DF810 SERDES retimer that sits
// between the MAC management lanes, the CPU 10G lanes and the two
// front-panel SFP28 cages. Each operation is a fixed sequence of
// register writes behind an i2c mux; a sequence aborts on the first
// failed write and never issues the remaining writes.
package retimer

import (
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/edge-core/as9817-util/pkg/types"
)

// Dest selects where the retimer routes the lanes.
type Dest int

const (
	// DestCPU routes 10G lanes to the CPU NIC.
	DestCPU Dest = iota
	// DestFront routes lanes to the front-panel SFP28 cages.
	DestFront
)

// Speed selects the lane rate.
type Speed int

const (
	Speed10G Speed = iota
	Speed25G
)

// RegSetter writes one register of an i2c device. Satisfied by
// *i2c.Tool; tests substitute a recording fake.
type RegSetter interface {
	Set(addr string, reg, value uint8) error
}

// crossPointSettle is the per-channel settle time after channel
// selection. Shortened in tests.
var crossPointSettle = 200 * time.Millisecond

// baseSequence resets the channel registers and programs rate, CTLE
// adaptation and output muting. Register 0x2f carries the lane rate and
// is overridden for 10G operation.
var baseSequence = []types.RegWrite{
	{Reg: 0xfc, Value: 0x01}, // select channel 0
	{Reg: 0xff, Value: 0x03}, // broadcast writes + SMBus channel access
	{Reg: 0x00, Value: 0x04}, // reset channel registers to defaults
	{Reg: 0x0a, Value: 0x0c}, // CDR reset override
	{Reg: 0x2f, Value: 0x54}, // rate 25.78125 Gbps, PPM lock qualifier
	{Reg: 0x31, Value: 0x40}, // CTLE then DFE then CTLE adaptation
	{Reg: 0x1e, Value: 0xe3}, // mute when unlocked, DFE taps 3-5, PFD on
	{Reg: 0x0a, Value: 0x00}, // release CDR reset
}

const (
	rateReg      = 0x2f
	rateValue10G = 0x04
)

// crossPointSequence routes one channel B -> A on the cross-point
// switch.
var crossPointSequence = []types.RegWrite{
	{Reg: 0x95, Value: 0x08},
	{Reg: 0x96, Value: 0x00},
	{Reg: 0x96, Value: 0x04},
	{Reg: 0x96, Value: 0x04},
	{Reg: 0x96, Value: 0x06},
	{Reg: 0x96, Value: 0x06},
	{Reg: 0x0a, Value: 0x0c},
	{Reg: 0x0a, Value: 0x00},
	{Reg: 0x79, Value: 0x11},
}

// Retimer drives one DS250DF810 behind an i2c mux.
type Retimer struct {
	tool    RegSetter
	addr    string // retimer device address, e.g. "0x1b"
	muxAddr string // gating mux address, e.g. "0x72"
	w       io.Writer
}

// New returns a Retimer using the given register setter. A nil writer
// sends progress output to stdout.
func New(tool RegSetter, addr, muxAddr string, w io.Writer) *Retimer {
	if w == nil {
		w = os.Stdout
	}
	return &Retimer{tool: tool, addr: addr, muxAddr: muxAddr, w: w}
}

// writeSequence issues a register sequence in order, stopping at the
// first failure.
func (r *Retimer) writeSequence(seq []types.RegWrite) error {
	for _, rw := range seq {
		if err := r.tool.Set(r.addr, rw.Reg, rw.Value); err != nil {
			return err
		}
	}
	return nil
}

// TxFirSet programs the pre/main/post FIR cursors for one channel.
// Sign bits are packed into the cursor registers: positive main sets
// 0x80, non-positive pre/post set 0x40 with the magnitude negated.
func (r *Retimer) TxFirSet(channel int, pre, main, post int) error {
	mainSign := uint8(0x40)
	if main > 0 {
		mainSign = 0x80
	}
	preSign, preVal := uint8(0x00), pre
	if pre <= 0 {
		preSign, preVal = 0x40, -pre
	}
	postSign, postVal := uint8(0x00), post
	if post <= 0 {
		postSign, postVal = 0x40, -post
	}

	seq := []types.RegWrite{
		{Reg: 0xff, Value: 0x01},
		{Reg: 0xfc, Value: uint8(1 << channel)},
		{Reg: 0x3d, Value: 0x80}, // enable pre- and post-cursor FIR
		{Reg: 0x3d, Value: 0x80}, // main-cursor sign
		{Reg: 0x3f, Value: 0x40}, // post-cursor sign
		{Reg: 0x3e, Value: 0x40}, // pre-cursor sign
		{Reg: 0x3d, Value: uint8(main) | mainSign},
		{Reg: 0x3f, Value: uint8(postVal) | postSign},
		{Reg: 0x3e, Value: uint8(preVal) | preSign},
	}
	if err := r.writeSequence(seq); err != nil {
		return fmt.Errorf("tx-fir channel %d: %w", channel, err)
	}

	fmt.Fprintf(r.w, " Set Ch %02d: (pre, main, post) = (%d, %d, %d)\n", channel, pre, main, post)
	return nil
}

// CdrBandwidthSet programs the CDR bandwidth parameters for one channel.
func (r *Retimer) CdrBandwidthSet(channel int, param1, param2 uint8) error {
	seq := []types.RegWrite{
		{Reg: 0xff, Value: 0x01},
		{Reg: 0xfc, Value: uint8(1 << channel)},
		{Reg: 0x1c, Value: param1},
		{Reg: 0x9e, Value: param2},
		{Reg: 0x09, Value: 0x08},
		{Reg: 0x0a, Value: 0x40},
	}
	if err := r.writeSequence(seq); err != nil {
		return fmt.Errorf("cdr bandwidth channel %d: %w", channel, err)
	}

	fmt.Fprintf(r.w, " Set Ch %02d: CDR Bandwidth\n", channel)
	return nil
}

// CrossPoint routes every channel B -> A toward the front-panel cages.
func (r *Retimer) CrossPoint() error {
	fmt.Fprintln(r.w, "+=======================+")
	fmt.Fprintln(r.w, "| Channel | Cross-point |")
	fmt.Fprintln(r.w, "+=======================+")

	if err := r.tool.Set(r.addr, 0xff, 0x01); err != nil {
		return fmt.Errorf("cross-point setup: %w", err)
	}

	for channel := 0; channel < 8; channel++ {
		fmt.Fprintf(r.w, "|      %02d |      B -> A |\n", channel)

		if err := r.tool.Set(r.addr, 0xfc, uint8(1<<channel)); err != nil {
			return fmt.Errorf("cross-point channel %d select: %w", channel, err)
		}
		time.Sleep(crossPointSettle)

		if err := r.writeSequence(crossPointSequence); err != nil {
			return fmt.Errorf("cross-point channel %d: %w", channel, err)
		}
	}

	fmt.Fprintln(r.w, "+=======================+")
	fmt.Fprintln(r.w, "Configure cross-point to front-panel SFP28 port...")
	return nil
}

// Configure brings the retimer into the requested routing and rate.
// The gating mux is enabled for the duration of the sequence and
// disabled afterwards; a failed write aborts immediately.
func (r *Retimer) Configure(dest Dest, speed Speed) error {
	if err := r.tool.Set(r.muxAddr, 0x00, 0x01); err != nil {
		return fmt.Errorf("enable retimer mux: %w", err)
	}
	log.Debug("retimer mux enabled")

	seq := make([]types.RegWrite, len(baseSequence))
	copy(seq, baseSequence)
	if speed == Speed10G {
		for i := range seq {
			if seq[i].Reg == rateReg {
				seq[i].Value = rateValue10G
			}
		}
	}
	if err := r.writeSequence(seq); err != nil {
		return fmt.Errorf("retimer base sequence: %w", err)
	}

	if err := r.configureLanes(dest, speed); err != nil {
		return err
	}

	if err := r.tool.Set(r.muxAddr, 0x00, 0x00); err != nil {
		return fmt.Errorf("disable retimer mux: %w", err)
	}
	log.Debug("retimer mux disabled")
	return nil
}

func (r *Retimer) configureLanes(dest Dest, speed Speed) error {
	switch dest {
	case DestCPU:
		if speed != Speed10G {
			return nil
		}
		for _, ch := range []int{0, 2} {
			if err := r.TxFirSet(ch, 0, 17, -2); err != nil {
				return err
			}
		}
		for _, ch := range []int{4, 6} {
			if err := r.TxFirSet(ch, 0, 7, 0); err != nil {
				return err
			}
		}
		for _, ch := range []int{4, 6} {
			if err := r.CdrBandwidthSet(ch, 0x24, 0xfc); err != nil {
				return err
			}
		}
		return nil

	case DestFront:
		for _, ch := range []int{1, 3} {
			var err error
			if speed == Speed10G {
				err = r.TxFirSet(ch, 0, 15, -3)
			} else {
				err = r.TxFirSet(ch, -8, 22, 0)
			}
			if err != nil {
				return err
			}
		}
		return r.CrossPoint()

	default:
		return fmt.Errorf("unknown retimer destination %d", dest)
	}
}
