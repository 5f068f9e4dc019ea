// Package core end-to-end session tests against an in-process SSH server.
package core

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// testSSHServer is a minimal in-process SSH server: one username/password
// pair, direct-tcpip channel opens honored by dialing the requested
// destination, tcpip-forward requests acknowledged and recorded.
type testSSHServer struct {
	Addr string
	Port uint16

	mu       sync.Mutex
	conns    []*ssh.ServerConn
	forwards []string // "addr:port" of tcpip-forward requests
	cancels  []string // "addr:port" of cancel-tcpip-forward requests
}

func startSSHServer(t *testing.T, user, password string) *testSSHServer {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("access denied for %s", meta.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	srv := &testSSHServer{Addr: ln.Addr().String()}
	_, portStr, _ := net.SplitHostPort(srv.Addr)
	port, _ := strconv.ParseUint(portStr, 10, 16)
	srv.Port = uint16(port)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg)
		}
	}()
	return srv
}

func (s *testSSHServer) serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		conn.Close()
		return
	}
	defer sconn.Close()

	s.mu.Lock()
	s.conns = append(s.conns, sconn)
	s.mu.Unlock()

	go func() {
		for req := range reqs {
			switch req.Type {
			case "tcpip-forward", "cancel-tcpip-forward":
				var msg channelForwardMsg
				if err := ssh.Unmarshal(req.Payload, &msg); err != nil {
					req.Reply(false, nil)
					continue
				}
				s.mu.Lock()
				entry := fmt.Sprintf("%s:%d", msg.Addr, msg.Port)
				if req.Type == "tcpip-forward" {
					s.forwards = append(s.forwards, entry)
				} else {
					s.cancels = append(s.cancels, entry)
				}
				s.mu.Unlock()
				req.Reply(true, nil)
			default:
				if req.WantReply {
					req.Reply(false, nil)
				}
			}
		}
	}()

	for nch := range chans {
		switch nch.ChannelType() {
		case "direct-tcpip":
			var msg channelOpenDirectMsg
			if err := ssh.Unmarshal(nch.ExtraData(), &msg); err != nil {
				nch.Reject(ssh.ConnectionFailed, "malformed payload")
				continue
			}
			dest := net.JoinHostPort(msg.DestAddr, strconv.Itoa(int(msg.DestPort)))
			target, err := net.Dial("tcp", dest)
			if err != nil {
				nch.Reject(ssh.ConnectionFailed, "dial failed")
				continue
			}
			ch, creqs, err := nch.Accept()
			if err != nil {
				target.Close()
				continue
			}
			go ssh.DiscardRequests(creqs)
			go copyStreams(target, ch)
		default:
			nch.Reject(ssh.UnknownChannelType, "unsupported")
		}
	}
}

// openForwarded opens a forwarded-tcpip channel toward the client, as the
// server does when traffic arrives on a forwarded port
func (s *testSSHServer) openForwarded(boundAddr string, boundPort uint16) (ssh.Channel, error) {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return nil, errors.New("no client connection")
	}
	sconn := s.conns[len(s.conns)-1]
	s.mu.Unlock()

	payload := ssh.Marshal(&forwardedTCPPayload{
		Addr: boundAddr, Port: uint32(boundPort),
		OriginAddr: "10.0.0.1", OriginPort: 40000,
	})
	ch, reqs, err := sconn.OpenChannel("forwarded-tcpip", payload)
	if err != nil {
		return nil, err
	}
	go ssh.DiscardRequests(reqs)
	return ch, nil
}

func (s *testSSHServer) forwardRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.forwards...)
}

func (s *testSSHServer) cancelRequests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancels...)
}

func TestConnectDirectPasswordSession(t *testing.T) {
	srv := startSSHServer(t, "u", "p")

	b := NewBuilder(NewTunnelManager())
	sess, err := b.Connect(&ConnectionConfig{
		Host: "127.0.0.1", Port: srv.Port, Username: "u",
		Auth: PasswordAuth("p"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	if sess.State() != StateActive {
		t.Errorf("state = %s, want active", sess.State())
	}
	if sess.Parent() != nil {
		t.Error("direct session must not have a parent")
	}
}

func TestConnectRejectsBadPassword(t *testing.T) {
	srv := startSSHServer(t, "u", "p")

	b := NewBuilder(NewTunnelManager())
	_, err := b.Connect(&ConnectionConfig{
		Host: "127.0.0.1", Port: srv.Port, Username: "u",
		Auth: PasswordAuth("wrong"),
	})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError", err)
	}
}

func TestConnectViaJumpHost(t *testing.T) {
	inner := startSSHServer(t, "u", "p")
	bastion := startSSHServer(t, "b", "pb")

	b := NewBuilder(NewTunnelManager())
	sess, err := b.Connect(&ConnectionConfig{
		Host: "127.0.0.1", Port: inner.Port, Username: "u",
		Auth: PasswordAuth("p"),
		JumpHost: &ConnectionConfig{
			Host: "127.0.0.1", Port: bastion.Port, Username: "b",
			Auth: PasswordAuth("pb"),
		},
	})
	if err != nil {
		t.Fatalf("connect via jump: %v", err)
	}
	defer sess.Close()

	if sess.State() != StateActive {
		t.Errorf("target state = %s, want active", sess.State())
	}
	parent := sess.Parent()
	if parent == nil {
		t.Fatal("jump-built session must anchor its parent")
	}
	if parent.State() != StateActive {
		t.Errorf("parent state = %s, want active while child lives", parent.State())
	}

	// Closing the child tears down the bastion hop too.
	sess.Close()
	if parent.State() != StateClosed {
		t.Errorf("parent state = %s, want closed after child close", parent.State())
	}
}

func TestConnectJumpAuthFailureOnTarget(t *testing.T) {
	inner := startSSHServer(t, "u", "p")
	bastion := startSSHServer(t, "b", "pb")

	b := NewBuilder(NewTunnelManager())
	_, err := b.Connect(&ConnectionConfig{
		Host: "127.0.0.1", Port: inner.Port, Username: "u",
		Auth: PasswordAuth("wrong"),
		JumpHost: &ConnectionConfig{
			Host: "127.0.0.1", Port: bastion.Port, Username: "b",
			Auth: PasswordAuth("pb"),
		},
	})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("error = %v, want *AuthError on the target hop", err)
	}
}

func TestLocalForwardingOverRealSession(t *testing.T) {
	srv := startSSHServer(t, "u", "p")
	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort, _ := parsePort(echoPortStr)

	b := NewBuilder(NewTunnelManager())
	sess, err := b.Connect(&ConnectionConfig{
		Host: "127.0.0.1", Port: srv.Port, Username: "u",
		Auth: PasswordAuth("p"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	m := NewTunnelManager()
	localPort := freePort(t)
	id, err := m.StartLocalForwarding(sess, "127.0.0.1", localPort, "127.0.0.1", echoPort)
	if err != nil {
		t.Fatalf("start forwarding: %v", err)
	}
	defer m.StopTunnel(sess, id, "")

	conn := dialRetry(t, fmt.Sprintf("127.0.0.1:%d", localPort))
	defer conn.Close()

	msg := []byte("through a real ssh channel")
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(msg))
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echoed %q, want %q", buf, msg)
	}
}

func TestRemoteForwardingInboundRouting(t *testing.T) {
	srv := startSSHServer(t, "u", "p")
	echoAddr := startEchoServer(t)
	_, echoPortStr, _ := net.SplitHostPort(echoAddr)
	echoPort, _ := parsePort(echoPortStr)

	m := NewTunnelManager()
	b := NewBuilder(m)
	sess, err := b.Connect(&ConnectionConfig{
		Host: "127.0.0.1", Port: srv.Port, Username: "u",
		Auth: PasswordAuth("p"),
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	id, err := m.StartRemoteForwarding(sess, "0.0.0.0", 9000, "127.0.0.1", echoPort)
	if err != nil {
		t.Fatalf("start remote forwarding: %v", err)
	}
	if got := srv.forwardRequests(); len(got) != 1 || got[0] != "0.0.0.0:9000" {
		t.Fatalf("server saw forward requests %v, want [0.0.0.0:9000]", got)
	}

	// Simulate traffic arriving on the server's forwarded port.
	ch, err := srv.openForwarded("0.0.0.0", 9000)
	if err != nil {
		t.Fatalf("open forwarded channel: %v", err)
	}
	msg := []byte("server to client payload")
	if _, err := ch.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, len(msg))
	if err := readFullTimeout(ch, buf, 3*time.Second); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echoed %q, want %q", buf, msg)
	}
	ch.Close()

	// An opening for an unregistered port is declined.
	if _, err := srv.openForwarded("0.0.0.0", 9999); err == nil {
		t.Error("opening for an unregistered port should be rejected")
	}

	m.StopTunnel(sess, id, "")
	waitFor(t, 2*time.Second, func() bool {
		cancels := srv.cancelRequests()
		return len(cancels) == 1 && cancels[0] == "0.0.0.0:9000"
	}, "cancel-tcpip-forward not received")

	// Late openings after stop are declined too.
	if _, err := srv.openForwarded("0.0.0.0", 9000); err == nil {
		t.Error("opening after stop should be rejected")
	}
}

// readFullTimeout reads len(buf) bytes from r or fails after d
func readFullTimeout(r io.Reader, buf []byte, d time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(r, buf)
		errCh <- err
	}()
	select {
	case err := <-errCh:
		return err
	case <-time.After(d):
		return errors.New("timed out")
	}
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
