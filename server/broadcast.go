package server

import "github.com/teranos/scribe/pulse/async"

// The hub goroutine owns the client set and fans out job snapshots from the
// dispatcher subscription.

// startHub subscribes to the dispatcher and runs the hub loop
func (s *Server) startHub() {
	updates := s.dispatcher.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.dispatcher.Unsubscribe(updates)
		s.runHub(updates)
	}()
}

func (s *Server) runHub(updates <-chan *async.Job) {
	for {
		select {
		case <-s.ctx.Done():
			s.closeAllClients()
			return

		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			count := len(s.clients)
			s.mu.Unlock()
			s.logger.Debugw("WebSocket client registered", "client_id", client.id, "clients", count)

		case client := <-s.unregister:
			s.mu.Lock()
			if s.clients[client] {
				delete(s.clients, client)
				client.close()
			}
			s.mu.Unlock()
			s.logger.Debugw("WebSocket client unregistered", "client_id", client.id)

		case job, ok := <-updates:
			if !ok {
				// Dispatcher closed the subscription; keep serving registrations
				updates = nil
				continue
			}
			s.broadcastJob(job)
		}
	}
}

// broadcastJob sends a job snapshot to every client. Clients whose queue is
// full miss the update rather than stall the hub.
func (s *Server) broadcastJob(job *async.Job) int {
	msg := JobUpdateMessage{Type: messageJobUpdate, Job: job}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sent := 0
	for client := range s.clients {
		select {
		case client.send <- msg:
			sent++
		default:
			s.broadcastDrops.Add(1)
		}
	}
	return sent
}

func (s *Server) closeAllClients() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		delete(s.clients, client)
		client.close()
		client.conn.Close()
	}
}
