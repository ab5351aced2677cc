// Package transport opens the byte streams converters are reached over.
package transport

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"golang.org/x/net/websocket"

	"github.com/robotalks/minghe.go/pkg/minghe/comm"
	"github.com/robotalks/minghe.go/pkg/minghe/sim"
)

// DialTimeout bounds connecting to network bridges.
var DialTimeout = 5 * time.Second

// Open opens the stream named by addr. A plain path is a serial port,
// otherwise the URL scheme selects the transport:
//
//	serial:///dev/ttyUSB0   local serial port, 8N1 at baud
//	tcp://host:port         raw TCP serial bridge, e.g. ser2net
//	ws://host/path          WebSocket bridge carrying binary frames
//	sim://01?model=6015     simulated converter at address 01
//
// baud only applies to serial ports.
func Open(addr string, baud int) (io.ReadWriteCloser, error) {
	if !strings.Contains(addr, "://") {
		return OpenSerial(addr, baud)
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid port URL: %v", err)
	}
	switch u.Scheme {
	case "serial":
		return OpenSerial(u.Path, baud)
	case "tcp":
		conn, err := net.DialTimeout("tcp", u.Host, DialTimeout)
		if err != nil {
			return nil, err
		}
		glog.V(1).Infof("connected to %s", u.Host)
		return conn, nil
	case "ws", "wss":
		return DialWebSocket(addr)
	case "sim":
		return OpenSim(u)
	default:
		return nil, fmt.Errorf("unknown port URL scheme: %q", u.Scheme)
	}
}

// DialWebSocket connects to a WebSocket serial bridge.
func DialWebSocket(addr string) (io.ReadWriteCloser, error) {
	conf, err := websocket.NewConfig(addr, "http://localhost/")
	if err != nil {
		return nil, err
	}
	conf.Dialer = &net.Dialer{Timeout: DialTimeout}
	conn, err := websocket.DialConfig(conf)
	if err != nil {
		return nil, err
	}
	conn.PayloadType = websocket.BinaryFrame
	glog.V(1).Infof("connected to %s", addr)
	return conn, nil
}

// OpenSim creates a simulated converter from a sim:// URL.
func OpenSim(u *url.URL) (*sim.Device, error) {
	addr := comm.MinAddress
	if u.Host != "" {
		a, err := comm.ParseAddress(u.Host)
		if err != nil {
			return nil, err
		}
		addr = a
	}
	model := uint64(sim.DefaultModel)
	if val := u.Query().Get("model"); val != "" {
		m, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid model %q: %v", val, err)
		}
		model = m
	}
	return sim.NewDevice(addr, uint16(model)), nil
}
