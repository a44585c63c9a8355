package nodestore

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/flownet/errors"
	"github.com/c360/flownet/event"
	"github.com/c360/flownet/resource"
)

// Invalidator receives cache-invalidation notices for resource types whose
// aggregate state a mutation may have changed.
type Invalidator interface {
	Invalidate(t resource.Type)
}

// Store holds the canonical node and connection registries. All mutations
// invalidate affected resource caches and emit lifecycle events.
type Store struct {
	mu sync.RWMutex

	nodes       map[string]*Node
	nodesByRole map[Role]map[string]*Node
	connections map[string]*Connection

	// Outgoing/incoming connection ids per node id, for cascade deletes and
	// balance computation.
	outgoing map[string]map[string]struct{}
	incoming map[string]map[string]struct{}

	invalidator Invalidator
	events      *event.Publisher
	logger      *slog.Logger
}

// NewStore creates an empty store. invalidator and events may be nil.
func NewStore(invalidator Invalidator, events *event.Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		nodes:       make(map[string]*Node),
		nodesByRole: make(map[Role]map[string]*Node),
		connections: make(map[string]*Connection),
		outgoing:    make(map[string]map[string]struct{}),
		incoming:    make(map[string]map[string]struct{}),
		invalidator: invalidator,
		events:      events,
		logger:      logger,
	}
}

// RegisterNode validates and indexes a node. Registering an existing id
// replaces the node in place (module updates reuse this path).
func (s *Store) RegisterNode(node *Node) error {
	if err := validateNode(node); err != nil {
		s.logger.Warn("Node registration rejected", "error", err)
		return err
	}

	n := *node // store a copy so callers cannot mutate indexed state

	s.mu.Lock()
	if prev, exists := s.nodes[n.ID]; exists {
		if prev.Role != n.Role {
			delete(s.nodesByRole[prev.Role], n.ID)
		}
		// A replacement without its own status keeps the live one, so
		// in-flight converter processes stay accounted for.
		if n.Role == RoleConverter && n.Status == nil {
			n.Status = prev.Status
		}
	}
	if n.Role == RoleConverter && n.Status == nil {
		n.Status = &ConverterStatus{}
	}
	s.nodes[n.ID] = &n
	if s.nodesByRole[n.Role] == nil {
		s.nodesByRole[n.Role] = make(map[string]*Node)
	}
	s.nodesByRole[n.Role][n.ID] = &n
	s.mu.Unlock()

	s.invalidateAll(n.Resources)

	if s.events != nil {
		s.events.Publish(event.NewNodeRegistered(n.ID, string(n.Role), n.Resources))
	}
	s.logger.Debug("Node registered", "node_id", n.ID, "role", n.Role)
	return nil
}

// UnregisterNode removes a node and every connection referencing it.
// Returns false if the node is unknown.
func (s *Store) UnregisterNode(id string) bool {
	s.mu.Lock()
	node, exists := s.nodes[id]
	if !exists {
		s.mu.Unlock()
		return false
	}

	delete(s.nodes, id)
	delete(s.nodesByRole[node.Role], id)

	// Cascade: delete every connection whose source or target is this node.
	affected := make(map[resource.Type]struct{})
	for _, t := range node.Resources {
		affected[t] = struct{}{}
	}

	removed := make([]string, 0)
	for connID := range s.outgoing[id] {
		if conn, ok := s.connections[connID]; ok {
			affected[conn.Resource] = struct{}{}
			s.removeConnectionLocked(conn)
			removed = append(removed, connID)
		}
	}
	for connID := range s.incoming[id] {
		if conn, ok := s.connections[connID]; ok {
			affected[conn.Resource] = struct{}{}
			s.removeConnectionLocked(conn)
			removed = append(removed, connID)
		}
	}
	delete(s.outgoing, id)
	delete(s.incoming, id)
	s.mu.Unlock()

	for t := range affected {
		s.invalidate(t)
	}

	if s.events != nil {
		s.events.Publish(event.NewNodeUnregistered(id, removed))
	}
	s.logger.Debug("Node unregistered", "node_id", id, "removed_connections", len(removed))
	return true
}

// RegisterConnection validates endpoints and indexes the edge.
func (s *Store) RegisterConnection(conn *Connection) error {
	if err := validateConnection(conn); err != nil {
		s.logger.Warn("Connection registration rejected", "error", err)
		return err
	}

	s.mu.Lock()
	source, sourceOK := s.nodes[conn.Source]
	_, targetOK := s.nodes[conn.Target]
	if !sourceOK || !targetOK {
		s.mu.Unlock()
		err := errors.WrapInvalid(
			fmt.Errorf("connection %q references missing node: %w", conn.ID, errors.ErrNotFound),
			"nodestore", "RegisterConnection", "endpoint lookup")
		s.logger.Warn("Connection registration rejected", "error", err)
		return err
	}
	if !source.Carries(conn.Resource) {
		s.mu.Unlock()
		err := errors.WrapInvalid(
			fmt.Errorf("source node %q does not carry %q: %w", conn.Source, conn.Resource, errors.ErrValidation),
			"nodestore", "RegisterConnection", "resource check")
		s.logger.Warn("Connection registration rejected", "error", err)
		return err
	}

	c := *conn
	if c.CurrentRate > c.MaxRate {
		c.CurrentRate = c.MaxRate
	}
	s.connections[c.ID] = &c
	if s.outgoing[c.Source] == nil {
		s.outgoing[c.Source] = make(map[string]struct{})
	}
	if s.incoming[c.Target] == nil {
		s.incoming[c.Target] = make(map[string]struct{})
	}
	s.outgoing[c.Source][c.ID] = struct{}{}
	s.incoming[c.Target][c.ID] = struct{}{}
	s.mu.Unlock()

	s.invalidate(c.Resource)

	if s.events != nil {
		s.events.Publish(event.NewConnectionRegistered(c.ID, c.Source, c.Target, c.Resource, c.MaxRate))
	}
	s.logger.Debug("Connection registered", "connection_id", c.ID, "resource", c.Resource)
	return nil
}

// UnregisterConnection removes an edge. Returns false if unknown.
func (s *Store) UnregisterConnection(id string) bool {
	s.mu.Lock()
	conn, exists := s.connections[id]
	if !exists {
		s.mu.Unlock()
		return false
	}
	s.removeConnectionLocked(conn)
	s.mu.Unlock()

	s.invalidate(conn.Resource)

	if s.events != nil {
		s.events.Publish(event.NewConnectionUnregistered(id))
	}
	return true
}

// removeConnectionLocked deletes a connection from every index. Caller holds s.mu.
func (s *Store) removeConnectionLocked(conn *Connection) {
	delete(s.connections, conn.ID)
	if out := s.outgoing[conn.Source]; out != nil {
		delete(out, conn.ID)
	}
	if in := s.incoming[conn.Target]; in != nil {
		delete(in, conn.ID)
	}
}

// cloneNode copies a node deeply enough that callers cannot observe later
// store mutations through shared pointers.
func cloneNode(node *Node) *Node {
	n := *node
	if node.Status != nil {
		status := *node.Status
		status.ActiveProcesses = append([]string(nil), node.Status.ActiveProcesses...)
		status.QueuedProcesses = append([]string(nil), node.Status.QueuedProcesses...)
		n.Status = &status
	}
	return &n
}

// Node returns a copy of a node by id.
func (s *Store) Node(id string) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return cloneNode(node), true
}

// Nodes returns copies of all nodes.
func (s *Store) Nodes() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Node, 0, len(s.nodes))
	for _, node := range s.nodes {
		result = append(result, cloneNode(node))
	}
	return result
}

// NodesByRole returns copies of all nodes with the given role.
func (s *Store) NodesByRole(role Role) []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Node, 0, len(s.nodesByRole[role]))
	for _, node := range s.nodesByRole[role] {
		result = append(result, cloneNode(node))
	}
	return result
}

// Connection returns a copy of a connection by id.
func (s *Store) Connection(id string) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.connections[id]
	if !ok {
		return nil, false
	}
	c := *conn
	return &c, true
}

// Connections returns copies of all connections.
func (s *Store) Connections() []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.connections))
	for _, conn := range s.connections {
		c := *conn
		result = append(result, &c)
	}
	return result
}

// ConnectionsFrom returns copies of the node's outgoing connections.
func (s *Store) ConnectionsFrom(nodeID string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.outgoing[nodeID]))
	for connID := range s.outgoing[nodeID] {
		if conn, ok := s.connections[connID]; ok {
			c := *conn
			result = append(result, &c)
		}
	}
	return result
}

// ConnectionsTo returns copies of the node's incoming connections.
func (s *Store) ConnectionsTo(nodeID string) []*Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Connection, 0, len(s.incoming[nodeID]))
	for connID := range s.incoming[nodeID] {
		if conn, ok := s.connections[connID]; ok {
			c := *conn
			result = append(result, &c)
		}
	}
	return result
}

// SetNodeActive toggles a node's active flag. Returns false if unknown.
func (s *Store) SetNodeActive(id string, active bool) bool {
	s.mu.Lock()
	node, exists := s.nodes[id]
	if !exists {
		s.mu.Unlock()
		return false
	}
	node.Active = active
	resources := node.Resources
	s.mu.Unlock()

	s.invalidateAll(resources)
	return true
}

// SetConnectionRate sets a connection's current rate, clamped to its max.
// Returns false if unknown.
func (s *Store) SetConnectionRate(id string, rate float64) bool {
	s.mu.Lock()
	conn, exists := s.connections[id]
	if !exists {
		s.mu.Unlock()
		return false
	}
	if rate < 0 {
		rate = 0
	}
	if rate > conn.MaxRate {
		rate = conn.MaxRate
	}
	conn.CurrentRate = rate
	s.mu.Unlock()
	return true
}

// UpdateConverterStatus applies fn to the converter's status under the store
// lock. Returns false if the node is unknown or not a converter.
func (s *Store) UpdateConverterStatus(id string, fn func(*ConverterStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, exists := s.nodes[id]
	if !exists || node.Role != RoleConverter {
		return false
	}
	if node.Status == nil {
		node.Status = &ConverterStatus{}
	}
	fn(node.Status)
	return true
}

func (s *Store) invalidate(t resource.Type) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(t)
	}
}

func (s *Store) invalidateAll(types []resource.Type) {
	for _, t := range types {
		s.invalidate(t)
	}
}
