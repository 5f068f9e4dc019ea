// Package core session construction: direct and jump-host SSH sessions.
package core

import (
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

const dialTimeout = 10 * time.Second

// SessionState tracks the lifecycle of a session
type SessionState string

const (
	// StateConnecting means the TCP transport is being established
	StateConnecting SessionState = "connecting"
	// StateHandshaking means the protocol handshake is in progress
	StateHandshaking SessionState = "handshaking"
	// StateAuthenticating means credentials are being presented
	StateAuthenticating SessionState = "authenticating"
	// StateActive means the session is authenticated and usable
	StateActive SessionState = "active"
	// StateClosed is terminal
	StateClosed SessionState = "closed"
)

// channelOpenDirectMsg is the payload of a "direct-tcpip" channel open
// (RFC 4254 section 7.2).
type channelOpenDirectMsg struct {
	DestAddr string
	DestPort uint32
	OrigAddr string
	OrigPort uint32
}

// channelForwardMsg is the payload of the "tcpip-forward" and
// "cancel-tcpip-forward" global requests (RFC 4254 section 7.1).
type channelForwardMsg struct {
	Addr string
	Port uint32
}

// forwardedTCPPayload is the payload of a "forwarded-tcpip" channel open
// (RFC 4254 section 7.2).
type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

// SessionConn is the protocol surface the tunnel manager needs from a live
// session. *Session implements it.
type SessionConn interface {
	// OpenDirectTCP opens a direct-tcpip channel to host:port. The
	// originator pair is a protocol-required hint, not authoritative.
	OpenDirectTCP(host string, port uint16, origHost string, origPort uint16) (io.ReadWriteCloser, error)

	// RequestTCPForward asks the server to listen on bindAddr:port and
	// deliver connections back over forwarded-tcpip channels.
	RequestTCPForward(bindAddr string, port uint16) error

	// CancelTCPForward asks the server to stop listening on bindAddr:port.
	CancelTCPForward(bindAddr string, port uint16) error
}

// Session is a live authenticated SSH session. Protocol operations are
// serialized by an internal lock that is held only for the duration of the
// call, never across stream copies.
type Session struct {
	mu      sync.Mutex
	client  *ssh.Client
	handler *Handler

	stateMu sync.Mutex
	state   SessionState
}

// State reports the current lifecycle state
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	// Closed is terminal; Active is monotonic until Closed.
	if s.state == StateClosed || (s.state == StateActive && state != StateClosed) {
		s.stateMu.Unlock()
		return
	}
	s.state = state
	s.stateMu.Unlock()
}

// Parent returns the jump session this one is carried over, or nil
func (s *Session) Parent() *Session {
	if s.handler == nil {
		return nil
	}
	return s.handler.parent
}

// OpenDirectTCP implements SessionConn
func (s *Session) OpenDirectTCP(host string, port uint16, origHost string, origPort uint16) (io.ReadWriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil, &ChannelOpenError{Host: host, Port: port, Err: fmt.Errorf("session is closed")}
	}
	payload := ssh.Marshal(&channelOpenDirectMsg{
		DestAddr: host,
		DestPort: uint32(port),
		OrigAddr: origHost,
		OrigPort: uint32(origPort),
	})
	ch, reqs, err := s.client.OpenChannel("direct-tcpip", payload)
	if err != nil {
		return nil, &ChannelOpenError{Host: host, Port: port, Err: err}
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}

// RequestTCPForward implements SessionConn
func (s *Session) RequestTCPForward(bindAddr string, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return fmt.Errorf("session is closed")
	}
	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(port)}
	ok, _, err := s.client.SendRequest("tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("tcpip-forward request denied by server")
	}
	return nil
}

// CancelTCPForward implements SessionConn
func (s *Session) CancelTCPForward(bindAddr string, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return fmt.Errorf("session is closed")
	}
	msg := channelForwardMsg{Addr: bindAddr, Port: uint32(port)}
	ok, _, err := s.client.SendRequest("cancel-tcpip-forward", true, ssh.Marshal(&msg))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cancel-tcpip-forward request denied by server")
	}
	return nil
}

// RunCommand executes a one-shot command on the remote host and returns its
// standard output
func (s *Session) RunCommand(cmd string) (string, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return "", fmt.Errorf("session is closed")
	}
	sess, err := client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()
	out, err := sess.Output(cmd)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// DetectOS probes the remote operating system, best effort. Returns "" when
// the probe fails.
func (s *Session) DetectOS() string {
	out, err := s.RunCommand("uname -s")
	if err != nil {
		return ""
	}
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "linux":
		return "linux"
	case "darwin":
		return "macos"
	case "":
		return ""
	default:
		return strings.ToLower(strings.Fields(out)[0])
	}
}

// Close tears the session down. A session built over a jump host owns its
// parent transport session, so the parent closes after the child. Closing a
// closed session is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	s.stateMu.Lock()
	s.state = StateClosed
	s.stateMu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	if parent := s.Parent(); parent != nil {
		if perr := parent.Close(); err == nil {
			err = perr
		}
	}
	return err
}

// Builder constructs authenticated sessions from connection configurations.
// The tunnel manager handle is threaded into every session's handler so
// inbound forwarded-tcpip channels can be routed to their registered
// targets.
type Builder struct {
	manager *TunnelManager
}

// NewBuilder creates a session builder bound to a tunnel manager
func NewBuilder(manager *TunnelManager) *Builder {
	return &Builder{manager: manager}
}

// Connect establishes an authenticated session for config. When the
// configuration carries a jump host the parent session is built first
// (recursively), a direct-tcpip channel through it becomes the transport of
// the child handshake, and the child's handler anchors the parent for the
// child's whole lifetime.
func (b *Builder) Connect(config *ConnectionConfig) (*Session, error) {
	if config.JumpHost != nil {
		Info("connecting via jump host: %s -> %s", config.JumpHost.Host, config.Host)
		parent, err := b.Connect(config.JumpHost)
		if err != nil {
			return nil, &JumpHostError{Host: config.JumpHost.Host, Err: err}
		}
		ch, err := parent.OpenDirectTCP(config.Host, config.Port, "0.0.0.0", 0)
		if err != nil {
			parent.Close()
			return nil, &JumpHostError{Host: config.JumpHost.Host, Err: err}
		}
		Debug("tunnel to %s established, handshaking", config.Addr())
		sess, err := b.handshake(newChannelConn(ch, config.Addr()), config, parent)
		if err != nil {
			parent.Close()
			return nil, err
		}
		return sess, nil
	}

	Info("connecting directly to %s", config.Addr())
	conn, err := net.DialTimeout("tcp", config.Addr(), dialTimeout)
	if err != nil {
		return nil, &TransportError{Addr: config.Addr(), Err: err}
	}
	sess, err := b.handshake(conn, config, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sess, nil
}

// handshake performs the protocol handshake and authentication over an
// established transport. parent, when non-nil, is the jump session the
// transport rides on; the new session's handler holds it alive.
func (b *Builder) handshake(conn net.Conn, config *ConnectionConfig, parent *Session) (*Session, error) {
	sess := &Session{state: StateConnecting}
	sess.handler = &Handler{manager: b.manager, parent: parent}

	auth, err := b.authMethods(sess, config)
	if err != nil {
		sess.setState(StateClosed)
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            config.Username,
		Auth:            auth,
		HostKeyCallback: sess.handler.hostKeyCallback(),
		Timeout:         dialTimeout,
	}

	sess.setState(StateHandshaking)
	c, chans, reqs, err := ssh.NewClientConn(conn, config.Addr(), clientCfg)
	if err != nil {
		sess.setState(StateClosed)
		if isAuthFailure(err) {
			return nil, &AuthError{User: config.Username, Host: config.Host, Err: err}
		}
		return nil, &HandshakeError{Addr: config.Addr(), Err: err}
	}

	// The handler intercepts forwarded-tcpip opens ahead of the client
	// mux so inbound remote-forward channels are routed through the
	// tunnel manager's registry. The interception is in place before any
	// tcpip-forward request can be issued on this session.
	filtered := make(chan ssh.NewChannel, 16)
	go sess.handler.interceptChannels(chans, filtered)

	client := ssh.NewClient(c, filtered, reqs)
	sess.mu.Lock()
	sess.client = client
	sess.mu.Unlock()
	sess.setState(StateActive)

	Info("authenticated as %s on %s", config.Username, config.Addr())
	return sess, nil
}

// authMethods builds the authentication callbacks for config. The callbacks
// fire when the server enters the authentication phase, which is where the
// session transitions to Authenticating.
func (b *Builder) authMethods(sess *Session, config *ConnectionConfig) ([]ssh.AuthMethod, error) {
	switch config.Auth.Method {
	case AuthPrivateKey:
		keyPath := ExpandHome(config.Auth.KeyPath)
		Debug("loading private key from %s", keyPath)
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, &KeyFileError{Path: keyPath, Err: err}
		}
		var signer ssh.Signer
		if config.Auth.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(config.Auth.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, &KeyDecodeError{Path: keyPath, Err: err}
		}
		return []ssh.AuthMethod{ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			sess.setState(StateAuthenticating)
			return []ssh.Signer{signer}, nil
		})}, nil

	case AuthPassword:
		password := config.Auth.Password
		return []ssh.AuthMethod{ssh.PasswordCallback(func() (string, error) {
			sess.setState(StateAuthenticating)
			return password, nil
		})}, nil

	default:
		return nil, fmt.Errorf("unsupported auth method: %s", config.Auth.Method)
	}
}

// isAuthFailure distinguishes a server auth rejection from other handshake
// failures. The ssh package folds both into the handshake error, so the
// message is the only signal.
func isAuthFailure(err error) bool {
	return err != nil && strings.Contains(err.Error(), "unable to authenticate")
}

// channelConn adapts an SSH channel to net.Conn so it can serve as the
// transport of a nested handshake
type channelConn struct {
	io.ReadWriteCloser
	addr string
}

func newChannelConn(ch io.ReadWriteCloser, addr string) *channelConn {
	return &channelConn{ReadWriteCloser: ch, addr: addr}
}

func (c *channelConn) LocalAddr() net.Addr  { return &net.TCPAddr{} }
func (c *channelConn) RemoteAddr() net.Addr { return channelAddr{addr: c.addr} }

// SSH channels have no deadline support; a stalled nested handshake ends
// when the parent transport does.
func (c *channelConn) SetDeadline(time.Time) error      { return nil }
func (c *channelConn) SetReadDeadline(time.Time) error  { return nil }
func (c *channelConn) SetWriteDeadline(time.Time) error { return nil }

type channelAddr struct{ addr string }

func (a channelAddr) Network() string { return "ssh-channel" }
func (a channelAddr) String() string  { return a.addr }
