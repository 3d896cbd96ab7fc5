package main

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"

	qrterminal "github.com/mdp/qrterminal/v3"
)

// Invite is the out-of-band pairing payload: enough for a peer on the same
// network to dial us. It carries no key material; the handshake establishes
// the session key once the peer connects.
type Invite struct {
	Host string
	Port int
	KEM  string
}

// URL renders the invite as a qschat:// link, the same string encoded into
// the QR code.
func (inv Invite) URL() string {
	u := url.URL{
		Scheme:   "qschat",
		Host:     net.JoinHostPort(inv.Host, strconv.Itoa(inv.Port)),
		RawQuery: url.Values{"kem": {inv.KEM}}.Encode(),
	}
	return u.String()
}

// parseInvite accepts either a qschat:// link or a bare host:port.
func parseInvite(s string) (host string, port int, err error) {
	target := s
	if u, uerr := url.Parse(s); uerr == nil && u.Scheme == "qschat" {
		target = u.Host
	}

	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("invalid invite %q: %w", s, err)
	}
	port, err = strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid invite port %q", portStr)
	}
	return host, port, nil
}

// renderInviteQR prints the invite as a scannable terminal QR code plus the
// plain link for manual entry.
func renderInviteQR(w io.Writer, inv Invite) {
	link := inv.URL()
	qrterminal.GenerateWithConfig(link, qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
	fmt.Fprintf(w, "%s\n", link)
}

// localIPv4 finds a non-loopback IPv4 address to advertise in invites.
// Falls back to 127.0.0.1 when the host has none.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
