package server

import (
	"strings"

	"github.com/schollz/logger"

	"github.com/omochice/voice-relay-chat/internal/chat"
	"github.com/omochice/voice-relay-chat/pkg/protocol"
)

// relay sends msg to every registered client except the sender. The registry
// is only copied under its lock; queuing happens after it is released.
func (s *Server) relay(sender *chat.Client, msg protocol.Message) {
	frame, err := msg.Encode(protocol.ServerToClient)
	if err != nil {
		logger.Warnf("Failed to encode %v from %s: %v", msg.Type, sender.Username, err)
		return
	}
	s.fanOut(s.hub.PeersExcept(sender), msg.Type, frame)
}

// broadcastRoster sends the current roster to every registered client.
// Snapshots and enqueues are serialized so the newest roster is always the
// last one queued on every connection.
func (s *Server) broadcastRoster() {
	s.rosterMu.Lock()
	defer s.rosterMu.Unlock()

	names := s.hub.Names()
	frame, err := protocol.NewUserList(names).Encode(protocol.ServerToClient)
	if err != nil {
		logger.Warnf("Failed to encode roster: %v", err)
		return
	}
	if len(names) == 0 {
		logger.Debug("Connected users: none")
	} else {
		logger.Debugf("Connected users: %s", strings.Join(names, ","))
	}
	s.fanOut(s.hub.PeersExcept(nil), protocol.TagUserList, frame)
}

// fanOut queues frame on every peer. A peer that cannot take the frame is
// disconnected rather than left running with a gap in its stream; its
// session cleanup then unregisters it and announces a fresh roster.
func (s *Server) fanOut(peers []*chat.Client, tag protocol.Tag, frame []byte) {
	for _, peer := range peers {
		if peer.Send(frame) {
			continue
		}
		select {
		case <-peer.Done():
			continue
		default:
		}
		logger.Warnf("Disconnecting %s: %v frame did not fit in its queue", peer.Username, tag)
		if err := peer.Close(); err != nil {
			logger.Debugf("Failed to close %s: %v", peer.Username, err)
		}
	}
}
