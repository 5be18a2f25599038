package network

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/modsagraphy/universa/codec"
	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
)

// DefaultMaxPeers is the default limit on simultaneous peer connections.
const DefaultMaxPeers = 256

// Node listens for incoming peers, manages outgoing connections, and
// implements Network on top of them.
type Node struct {
	self      item.NodeInfo
	tlsConfig *tls.Config // nil → plain TCP
	maxPeers  int
	source    ItemSource
	codec     codec.NotificationCodec

	mu             sync.RWMutex
	peers          map[string]*Peer
	known          map[string]item.NodeInfo
	notifyHandlers []func(peer item.NodeInfo, n item.Notification)

	pendingMu sync.Mutex
	pending   map[string]chan getItemResponse

	listener net.Listener
	stopCh   chan struct{}
}

// NewNode creates a Node identifying itself as self. source is consulted to
// answer incoming MsgGetItem requests. Notifications are encoded on the
// wire with codec.NewJSON(); use WithCodec to install a different
// NotificationCodec before Listen/AddPeer are called.
func NewNode(self item.NodeInfo, tlsCfg *tls.Config, source ItemSource) *Node {
	return &Node{
		self:      self,
		tlsConfig: tlsCfg,
		maxPeers:  DefaultMaxPeers,
		source:    source,
		codec:     codec.NewJSON(),
		peers:     make(map[string]*Peer),
		known:     make(map[string]item.NodeInfo),
		pending:   make(map[string]chan getItemResponse),
		stopCh:    make(chan struct{}),
	}
}

// WithCodec replaces the Node's NotificationCodec. Must be called before
// the node starts exchanging notifications.
func (n *Node) WithCodec(c codec.NotificationCodec) *Node {
	n.codec = c
	return n
}

// Subscribe registers fn to be called for every notification arriving from
// any peer.
func (n *Node) Subscribe(fn func(peer item.NodeInfo, notif item.Notification)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notifyHandlers = append(n.notifyHandlers, fn)
}

// Listen starts accepting connections on addr.
func (n *Node) Listen(addr string) error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	n.listener = ln
	go n.acceptLoop(ln)
	return nil
}

// Addr returns the node's listening address. Useful when Listen was called
// with a ":0" port. Returns nil if Listen has not been called.
func (n *Node) Addr() net.Addr {
	if n.listener != nil {
		return n.listener.Addr()
	}
	return nil
}

// Stop shuts down the node and closes every peer connection.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, p := range n.peers {
		p.Close()
	}
}

// AddPeer dials addr and registers the peer under info.ID, also recording it
// in the known-peer set used by EachNode even if the dial later drops.
func (n *Node) AddPeer(info item.NodeInfo) error {
	n.mu.Lock()
	n.known[info.ID] = info
	n.mu.Unlock()

	peer, err := Connect(info.ID, info.Addr, n.tlsConfig)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.peers[info.ID] = peer
	n.mu.Unlock()
	go n.readLoop(peer)

	hello, _ := json.Marshal(map[string]string{"node_id": n.self.ID})
	if err := peer.Send(Message{Type: MsgHello, Payload: hello}); err != nil {
		log.WithError(err).Warnf("network: send hello to %s", info.ID)
	}
	return nil
}

// EachNode invokes fn once for every peer known to the node.
func (n *Node) EachNode(fn func(peer item.NodeInfo)) {
	n.mu.RLock()
	peers := make([]item.NodeInfo, 0, len(n.known))
	for _, info := range n.known {
		peers = append(peers, info)
	}
	n.mu.RUnlock()
	for _, info := range peers {
		fn(info)
	}
}

// Broadcast sends n to every connected peer.
func (n *Node) Broadcast(notif item.Notification) {
	raw, err := n.codec.Encode(notif)
	if err != nil {
		log.WithError(err).Error("network: marshal notification")
		return
	}
	n.mu.RLock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.RUnlock()
	msg := Message{Type: MsgNotification, Payload: raw}
	for _, p := range peers {
		if err := p.Send(msg); err != nil {
			log.WithError(err).Debugf("network: broadcast to %s", p.ID)
		}
	}
}

// Deliver sends n to a single named peer.
func (n *Node) Deliver(peer item.NodeInfo, notif item.Notification) error {
	n.mu.RLock()
	p, ok := n.peers[peer.ID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("network: no connection to %s", peer.ID)
	}
	raw, err := n.codec.Encode(notif)
	if err != nil {
		return err
	}
	return p.Send(Message{Type: MsgNotification, Payload: raw})
}

// GetItem asks peer for id's body and blocks for a reply.
func (n *Node) GetItem(ctx context.Context, peer item.NodeInfo, id hashid.ID) (*item.Item, error) {
	n.mu.RLock()
	p, ok := n.peers[peer.ID]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("network: no connection to %s", peer.ID)
	}

	replyTo := fmt.Sprintf("%s:%d", id.String(), time.Now().UnixNano())
	ch := make(chan getItemResponse, 1)
	n.pendingMu.Lock()
	n.pending[replyTo] = ch
	n.pendingMu.Unlock()
	defer func() {
		n.pendingMu.Lock()
		delete(n.pending, replyTo)
		n.pendingMu.Unlock()
	}()

	req := getItemRequest{ItemID: id, ReplyTo: replyTo}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := p.Send(Message{Type: MsgGetItem, Payload: raw}); err != nil {
		return nil, err
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultGetItemTimeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if !resp.Found {
			return nil, fmt.Errorf("network: %s does not have item %s", peer.ID, id)
		}
		return resp.Item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (n *Node) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				log.WithError(err).Warn("network: accept error")
				time.Sleep(100 * time.Millisecond)
				continue
			}
		}
		n.mu.RLock()
		peerCount := len(n.peers)
		n.mu.RUnlock()
		if peerCount >= n.maxPeers {
			log.Warnf("network: max peers (%d) reached, rejecting %s", n.maxPeers, conn.RemoteAddr())
			conn.Close()
			continue
		}
		peer := NewPeer(conn.RemoteAddr().String(), conn.RemoteAddr().String(), conn)
		n.mu.Lock()
		n.peers[peer.ID] = peer
		n.mu.Unlock()
		go n.readLoop(peer)
	}
}

func (n *Node) readLoop(peer *Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("network: readLoop panic from %s: %v", peer.ID, r)
		}
		peer.Close()
		n.mu.Lock()
		delete(n.peers, peer.ID)
		n.mu.Unlock()
	}()
	for {
		msg, err := peer.Receive()
		if err != nil {
			return
		}
		switch msg.Type {
		case MsgNotification:
			n.handleNotification(peer, msg)
		case MsgGetItem:
			n.handleGetItem(peer, msg)
		case MsgItem:
			n.handleItem(msg)
		case MsgHello:
			// no-op: the connection is already registered by AddPeer/acceptLoop.
		}
	}
}

func (n *Node) handleNotification(peer *Peer, msg Message) {
	notif, err := n.codec.Decode(msg.Payload)
	if err != nil {
		log.WithError(err).Warn("network: unmarshal notification")
		return
	}
	n.mu.RLock()
	handlers := append([]func(item.NodeInfo, item.Notification){}, n.notifyHandlers...)
	n.mu.RUnlock()
	from := item.NodeInfo{ID: peer.ID, Addr: peer.Addr}
	for _, h := range handlers {
		h(from, notif)
	}
}

func (n *Node) handleGetItem(peer *Peer, msg Message) {
	var req getItemRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		log.WithError(err).Warn("network: unmarshal get_item")
		return
	}
	resp := getItemResponse{ItemID: req.ItemID, ReplyTo: req.ReplyTo}
	if n.source != nil {
		if body, ok := n.source(req.ItemID); ok {
			resp.Found = true
			resp.Item = body
		}
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		log.WithError(err).Error("network: marshal item response")
		return
	}
	if err := peer.Send(Message{Type: MsgItem, Payload: raw}); err != nil {
		log.WithError(err).Debugf("network: send item to %s", peer.ID)
	}
}

func (n *Node) handleItem(msg Message) {
	var resp getItemResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		log.WithError(err).Warn("network: unmarshal item")
		return
	}
	n.pendingMu.Lock()
	ch, ok := n.pending[resp.ReplyTo]
	n.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}
