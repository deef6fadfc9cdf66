// Package gobwasws is the default transport.Dialer, built on gobwas/ws the
// same way a relay's own accept-side connection handling is: a
// permessage-deflate-aware reader/writer pair wrapping a raw net.Conn, here
// used on the dialing side instead of the accepting side.
package gobwasws

import (
	"bytes"
	"compress/flate"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/httphead"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsflate"
	"github.com/gobwas/ws/wsutil"

	"codeberg.org/nostrcore/relaysdk/chk"
	"codeberg.org/nostrcore/relaysdk/context"
	"codeberg.org/nostrcore/relaysdk/errorf"
	"codeberg.org/nostrcore/relaysdk/transport"
)

// Dialer is a transport.Dialer backed by gobwas/ws.
type Dialer struct {
	TLSConfig *tls.Config
	// NetDial overrides the raw TCP dial; a SOCKS5 or Tor proxy dialer
	// plugs in here, leaving the WebSocket handshake untouched.
	NetDial func(c context.T, network, addr string) (net.Conn, error)
}

func (d *Dialer) Dial(c context.T, url string, header http.Header) (transport.Conn, error) {
	return dial(c, url, header, d.TLSConfig, d.NetDial)
}

// Conn is an outbound client connection to a single relay.
type Conn struct {
	conn              net.Conn
	enableCompression bool
	controlHandler    wsutil.FrameHandlerFunc
	flateReader       *wsflate.Reader
	reader            *wsutil.Reader
	flateWriter       *wsflate.Writer
	writer            *wsutil.Writer
	msgStateR         *wsflate.MessageState
	msgStateW         *wsflate.MessageState

	pingMu   sync.Mutex
	pingSent time.Time
	lastRTT  time.Duration
	gotPong  bool
}

func dial(c context.T, url string, header http.Header, tlsConfig *tls.Config, netDial func(c context.T, network, addr string) (net.Conn, error)) (cn *Conn, err error) {
	dialer := ws.Dialer{
		Header: ws.HandshakeHeaderHTTP(header),
		Extensions: []httphead.Option{
			wsflate.DefaultParameters.Option(),
		},
		TLSConfig: tlsConfig,
		NetDial:   netDial,
	}
	conn, _, hs, err := dialer.Dial(c, url)
	if err != nil {
		return nil, err
	}
	enableCompression := false
	state := ws.StateClientSide
	for _, extension := range hs.Extensions {
		if string(extension.Name) == wsflate.ExtensionName {
			enableCompression = true
			state |= ws.StateExtended
			break
		}
	}
	var flateReader *wsflate.Reader
	var msgStateR wsflate.MessageState
	if enableCompression {
		msgStateR.SetCompressed(true)
		flateReader = wsflate.NewReader(nil, func(r io.Reader) wsflate.Decompressor {
			return flate.NewReader(r)
		})
	}
	controlHandler := wsutil.ControlFrameHandler(conn, ws.StateClientSide)
	reader := &wsutil.Reader{
		Source:         conn,
		State:          state,
		OnIntermediate: controlHandler,
		CheckUTF8:      false,
		Extensions:     []wsutil.RecvExtension{&msgStateR},
	}
	var flateWriter *wsflate.Writer
	var msgStateW wsflate.MessageState
	if enableCompression {
		msgStateW.SetCompressed(true)
		flateWriter = wsflate.NewWriter(nil, func(w io.Writer) wsflate.Compressor {
			fw, ferr := flate.NewWriter(w, 4)
			if ferr != nil {
				chk.E(ferr)
			}
			return fw
		})
	}
	writer := wsutil.NewWriter(conn, state, ws.OpText)
	writer.SetExtensions(&msgStateW)
	return &Conn{
		conn:              conn,
		enableCompression: enableCompression,
		controlHandler:    controlHandler,
		flateReader:       flateReader,
		reader:            reader,
		msgStateR:         &msgStateR,
		flateWriter:       flateWriter,
		writer:            writer,
		msgStateW:         &msgStateW,
	}, nil
}

func (cn *Conn) WriteMessage(c context.T, data []byte) (err error) {
	select {
	case <-c.Done():
		return errorf.E("%s context canceled", cn.conn.RemoteAddr())
	default:
	}
	if cn.msgStateW.IsCompressed() && cn.enableCompression {
		cn.flateWriter.Reset(cn.writer)
		if _, err = io.Copy(cn.flateWriter, bytes.NewReader(data)); chk.E(err) {
			return errorf.E("%s failed to write message: %w", cn.conn.RemoteAddr(), err)
		}
		if err = cn.flateWriter.Close(); chk.E(err) {
			return errorf.E("%s failed to close flate writer: %w", cn.conn.RemoteAddr(), err)
		}
	} else if _, err = io.Copy(cn.writer, bytes.NewReader(data)); chk.E(err) {
		return errorf.E("%s failed to write message: %w", cn.conn.RemoteAddr(), err)
	}
	if err = cn.writer.Flush(); chk.E(err) {
		return errorf.E("%s failed to flush writer: %w", cn.conn.RemoteAddr(), err)
	}
	return nil
}

func (cn *Conn) ReadMessage(c context.T, buf []byte) ([]byte, error) {
	out := bytes.NewBuffer(buf[:0])
	for {
		select {
		case <-c.Done():
			return nil, errorf.D("%s context canceled", cn.conn.RemoteAddr())
		default:
		}
		h, err := cn.reader.NextFrame()
		if err != nil {
			cn.conn.Close()
			return nil, errorf.E("%s failed to advance frame: %w", cn.conn.RemoteAddr(), err)
		}
		if h.OpCode.IsControl() {
			if h.OpCode == ws.OpPong {
				cn.pingMu.Lock()
				if !cn.pingSent.IsZero() {
					cn.lastRTT = time.Since(cn.pingSent)
					cn.gotPong = true
				}
				cn.pingMu.Unlock()
			}
			if err = cn.controlHandler(h, cn.reader); chk.E(err) {
				return nil, errorf.E("%s failed to handle control frame: %w", cn.conn.RemoteAddr(), err)
			}
			if err = cn.reader.Discard(); chk.E(err) {
				return nil, errorf.E("%s failed to discard: %w", cn.conn.RemoteAddr(), err)
			}
			continue
		}
		if h.OpCode == ws.OpBinary || h.OpCode == ws.OpText {
			break
		}
		if err = cn.reader.Discard(); chk.E(err) {
			return nil, errorf.E("%s failed to discard: %w", cn.conn.RemoteAddr(), err)
		}
	}
	var err error
	if cn.msgStateR.IsCompressed() && cn.enableCompression {
		cn.flateReader.Reset(cn.reader)
		_, err = io.Copy(out, cn.flateReader)
	} else {
		_, err = io.Copy(out, cn.reader)
	}
	if chk.E(err) {
		return nil, errorf.E("%s failed to read message: %w", cn.conn.RemoteAddr(), err)
	}
	return out.Bytes(), nil
}

// Ping writes a WebSocket ping control frame and records the send time so
// the next observed pong (handled inline inside ReadMessage) can report an
// RTT through PongRTT.
func (cn *Conn) Ping(c context.T) (err error) {
	select {
	case <-c.Done():
		return errorf.E("%s context canceled", cn.conn.RemoteAddr())
	default:
	}
	cn.pingMu.Lock()
	cn.pingSent = time.Now()
	cn.gotPong = false
	cn.pingMu.Unlock()
	if err = wsutil.WriteClientMessage(cn.conn, ws.OpPing, nil); chk.E(err) {
		return errorf.E("%s failed to write ping: %w", cn.conn.RemoteAddr(), err)
	}
	return nil
}

// PongRTT reports the latency of the most recently answered ping.
func (cn *Conn) PongRTT() (time.Duration, bool) {
	cn.pingMu.Lock()
	defer cn.pingMu.Unlock()
	return cn.lastRTT, cn.gotPong
}

func (cn *Conn) Close() error { return cn.conn.Close() }
