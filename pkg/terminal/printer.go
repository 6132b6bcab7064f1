// Package terminal prints captured packets and session errors.
package terminal

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"

	"github.com/pktdbg/pktdbg/pkg/notify"
)

var (
	sentColor     = ansi.ColorCode("green+b")
	receivedColor = ansi.ColorCode("cyan+b")
	errorColor    = ansi.ColorCode("red+b")
	dimColor      = ansi.ColorCode("black+h")
)

// Printer writes one entry per packet or error to its output and,
// optionally, to a transcript file.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
	// MaxDump is the maximum number of payload bytes dumped per packet,
	// zero disables the dump.
	MaxDump int
	now     func() time.Time

	file *bufio.Writer
	fh   io.Closer
}

// New returns a Printer writing to out. Colors are used when out is a
// terminal and TERM is not dumb.
func New(out *os.File) *Printer {
	color := isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd())
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		color = false
	}
	var w io.Writer = out
	if color {
		w = colorable.NewColorable(out)
	}
	return NewWriter(w, color)
}

// NewWriter returns a Printer writing to w.
func NewWriter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color, MaxDump: 256, now: time.Now}
}

// Register subscribes the printer to every category of l.
func (p *Printer) Register(l *notify.Listeners) error {
	if err := l.RegisterError(p.Error); err != nil {
		return err
	}
	if err := l.RegisterPacket(notify.PacketSent, p.packetFunc(notify.PacketSent)); err != nil {
		return err
	}
	return l.RegisterPacket(notify.PacketReceived, p.packetFunc(notify.PacketReceived))
}

func (p *Printer) packetFunc(cat notify.Category) notify.PacketFunc {
	return func(length uint32, tag byte, data []byte) {
		p.Packet(cat, length, tag, data)
	}
}

// Packet prints a packet of the given category.
func (p *Printer) Packet(cat notify.Category, length uint32, tag byte, data []byte) {
	color, arrow, label := sentColor, ">>", "send"
	if cat == notify.PacketReceived {
		color, arrow, label = receivedColor, "<<", "recv"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s len=%d tag=0x%02x\n", p.stamp(), p.paint(color, arrow), label, length, tag)
	if p.MaxDump > 0 && len(data) > 0 {
		n := len(data)
		if n > p.MaxDump {
			n = p.MaxDump
		}
		b.WriteString(hex.Dump(data[:n]))
		if n < len(data) {
			fmt.Fprintf(&b, "%s\n", p.paint(dimColor, fmt.Sprintf("... %d more bytes", len(data)-n)))
		}
	}
	p.write(b.String())
}

// Error prints a session error.
func (p *Printer) Error(status notify.Status) {
	p.write(fmt.Sprintf("%s %s %s (%d)\n", p.stamp(), p.paint(errorColor, "!!"), status, int32(status)))
}

func (p *Printer) stamp() string {
	return p.paint(dimColor, p.now().Format("15:04:05.000"))
}

func (p *Printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + ansi.Reset
}

func (p *Printer) write(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	io.WriteString(p.w, s)
	if p.file != nil {
		p.file.WriteString(stripColor(s))
	}
}

// TranscribeTo starts copying the output to fh, without colors.
func (p *Printer) TranscribeTo(fh io.WriteCloser) {
	p.CloseTranscript()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fh = fh
	p.file = bufio.NewWriter(fh)
}

// CloseTranscript closes the optional transcript file.
func (p *Printer) CloseTranscript() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	p.file.Flush()
	err := p.fh.Close()
	p.file = nil
	p.fh = nil
	return err
}

// stripColor removes the escape sequences written by paint.
func stripColor(s string) string {
	if !strings.Contains(s, "\033[") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\033' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && s[j] != 'm' {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
