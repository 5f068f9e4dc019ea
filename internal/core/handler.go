// Package core per-session callback surface.
package core

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/ssh"
)

// Handler is the upward callback surface of one session: it accepts server
// host keys and routes inbound forwarded-tcpip channels to their registered
// local targets. It also anchors the parent session of a jump-built child;
// the anchor is inert but must live as long as the session does.
type Handler struct {
	manager *TunnelManager
	parent  *Session
}

// hostKeyCallback returns the server host-key check. Policy for this
// revision: accept unconditionally.
func (h *Handler) hostKeyCallback() ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		Debug("accepting %s host key for %s (auto-trust)", key.Type(), hostname)
		return nil
	}
}

// interceptChannels sits between the protocol mux and the client for the
// session's lifetime: forwarded-tcpip opens are dispatched through the
// remote-forward registry, everything else passes through untouched.
func (h *Handler) interceptChannels(in <-chan ssh.NewChannel, out chan<- ssh.NewChannel) {
	defer close(out)
	for nch := range in {
		if nch.ChannelType() == "forwarded-tcpip" {
			h.handleForwarded(nch)
			continue
		}
		out <- nch
	}
}

// handleForwarded wires one inbound forwarded-tcpip opening to the local
// target registered for its bound port, or declines it when no forwarding
// is registered.
func (h *Handler) handleForwarded(nch ssh.NewChannel) {
	var payload forwardedTCPPayload
	if err := ssh.Unmarshal(nch.ExtraData(), &payload); err != nil {
		Warn("malformed forwarded-tcpip open: %v", err)
		nch.Reject(ssh.ConnectionFailed, "malformed payload")
		return
	}

	port := uint16(payload.Port)
	target, ok := h.manager.lookupRemoteForward(port)
	if !ok {
		Warn("no remote forwarding registered for port %d, declining", port)
		nch.Reject(ssh.Prohibited, fmt.Sprintf("no forwarding for port %d", port))
		return
	}

	Debug("inbound forwarded connection on %s:%d from %s:%d",
		payload.Addr, payload.Port, payload.OriginAddr, payload.OriginPort)

	ch, reqs, err := nch.Accept()
	if err != nil {
		Error("accepting forwarded-tcpip channel: %v", err)
		return
	}
	go ssh.DiscardRequests(reqs)
	go h.forwardToLocal(ch, target)
}

// forwardToLocal dials the registered local target and copies bytes between
// it and the forwarded channel until either side finishes. Runs detached:
// stopping the remote tunnel does not interrupt transfers already in flight.
func (h *Handler) forwardToLocal(ch io.ReadWriteCloser, target remoteTarget) {
	addr := fmt.Sprintf("%s:%d", target.LocalHost, target.LocalPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		Error("failed to connect to local target %s: %v", addr, err)
		ch.Close()
		return
	}
	Debug("forwarding inbound connection to %s", addr)
	copyStreams(conn, ch)
}
