package session

import (
	"net"

	"i4.energy/across/atgw/at"
)

// Notifier writes connection events as unsolicited result codes. The
// connected code opens a line and the data and disconnected codes close one,
// so a connect followed by the command's final result reads as two lines.
type Notifier struct {
	out *Output
}

// NewNotifier returns a Notifier writing to out.
func NewNotifier(out *Output) *Notifier {
	return &Notifier{out: out}
}

func (n *Notifier) Connected(id int) {
	n.out.Notify(at.Connected(id), true, false)
}

func (n *Notifier) Received(id int, payload []byte, from net.Addr) {
	n.out.Notify(at.Received(id, payload, from), false, true)
}

func (n *Notifier) Disconnected(id int) {
	n.out.Notify(at.Disconnected(id), false, true)
}
