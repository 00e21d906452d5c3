package hub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"richtext-ot/internal/document"
	"richtext-ot/internal/events"
	"richtext-ot/internal/store"
	"richtext-ot/internal/tree"
)

// backendTimeout bounds every call the hub makes to a store or the event sink.
const backendTimeout = 5 * time.Second

// DefaultSnapshotEvery is used when Options.SnapshotEvery is not positive.
const DefaultSnapshotEvery = 50

// ErrDocumentNotFound is returned by LookupDocument for a document that is
// neither open nor stored.
var ErrDocumentNotFound = errors.New("document not found")

// CursorCache mirrors caret positions outside the process.
type CursorCache interface {
	SetCursor(ctx context.Context, docID, clientID string, pos int) error
	RemoveCursor(ctx context.Context, docID, clientID string) error
	Cursors(ctx context.Context, docID string) (map[string]int, error)
}

// EventSink receives every applied operation.
type EventSink interface {
	Enqueue(ctx context.Context, evt events.OpApplied) error
}

// Options wires the hub to its backends. Nil backends are skipped.
type Options struct {
	Snapshots     store.Snapshots
	Cursors       CursorCache
	Events        EventSink
	SnapshotEvery int
	HistoryLimit  int
}

// inboundMessage pairs a raw message with its sender for routing
type inboundMessage struct {
	message []byte
	sender  *Client
}

// Hub coordinates WebSocket connections and routes messages
// between clients editing the same document. Operations for every document
// are applied one at a time by the Run loop, acknowledged to their sender
// and relayed to the other clients on the document.
type Hub struct {
	clients    map[*Client]bool
	inbound    chan *inboundMessage
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	quit       chan struct{}
	done       chan struct{}

	documents map[string]*document.Document
	saved     map[string]int // last persisted version per document
	docsMu    sync.Mutex
	loads     singleflight.Group

	opt Options
}

// NewHub creates and initializes a new Hub instance
func NewHub(opt Options) *Hub {
	if opt.SnapshotEvery <= 0 {
		opt.SnapshotEvery = DefaultSnapshotEvery
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		inbound:    make(chan *inboundMessage),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		documents:  make(map[string]*document.Document),
		saved:      make(map[string]int),
		opt:        opt,
	}
}

// Run starts the hub's main event loop, processing client
// registration, unregistration, and incoming messages.
// This method blocks and should be run in a goroutine.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			log.Println("hub shutting down, closing all clients")
			h.closeAllClients()
			h.persistAll()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			h.handleMessage(in)
		}
	}
}

// Register loads the client's document and adds the client to the hub.
// Loading runs on the caller's goroutine, outside the Run loop. When the
// document cannot be loaded the client receives an error and its send
// channel is closed.
func (h *Hub) Register(client *Client) {
	if _, err := h.GetOrCreateDocument(context.Background(), client.documentID); err != nil {
		log.Printf("registration failed for client %s: %v", client.clientID, err)
		deliver(client, NewErrorMessage(err))
		close(client.send)
		return
	}
	select {
	case h.register <- client:
	case <-h.quit:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Submit hands a message received from sender to the hub. The message's
// document must already be open.
func (h *Hub) Submit(message []byte, sender *Client) {
	select {
	case h.inbound <- &inboundMessage{message: message, sender: sender}:
	case <-h.quit:
	}
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientCountForDocument returns the number of clients editing a specific document.
func (h *Hub) ClientCountForDocument(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for client := range h.clients {
		if client.documentID == documentID {
			count++
		}
	}
	return count
}

// GetOrCreateDocument returns the live document, loading its latest
// snapshot on first access. A document no store knows about starts empty.
func (h *Hub) GetOrCreateDocument(ctx context.Context, documentID string) (*document.Document, error) {
	return h.open(ctx, documentID, true)
}

// LookupDocument is GetOrCreateDocument for readers: a document that is
// neither open nor stored yields ErrDocumentNotFound instead of being
// created.
func (h *Hub) LookupDocument(ctx context.Context, documentID string) (*document.Document, error) {
	return h.open(ctx, documentID, false)
}

// open shares one store call between concurrent loads of the same document.
func (h *Hub) open(ctx context.Context, documentID string, create bool) (*document.Document, error) {
	if doc := h.GetDocument(documentID); doc != nil {
		return doc, nil
	}
	key := "lookup:" + documentID
	if create {
		key = "create:" + documentID
	}
	v, err, _ := h.loads.Do(key, func() (any, error) {
		return h.load(ctx, documentID, create)
	})
	if err != nil {
		return nil, err
	}
	return v.(*document.Document), nil
}

func (h *Hub) load(ctx context.Context, documentID string, create bool) (*document.Document, error) {
	if doc := h.GetDocument(documentID); doc != nil {
		return doc, nil
	}

	doc := document.NewDocument()
	if h.opt.HistoryLimit > 0 {
		doc.SetHistoryLimit(h.opt.HistoryLimit)
	}

	version, found := 0, false
	if h.opt.Snapshots != nil {
		// Shared by every caller waiting on this load.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backendTimeout)
		defer cancel()

		content, v, err := h.opt.Snapshots.Latest(ctx, documentID)
		switch {
		case err == nil:
			doc.SetSnapshot(content, v)
			version, found = v, true
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to load document %s: %w", documentID, err)
		}
	}
	if !found && !create {
		return nil, ErrDocumentNotFound
	}

	h.docsMu.Lock()
	defer h.docsMu.Unlock()
	if existing, ok := h.documents[documentID]; ok {
		return existing, nil
	}
	h.documents[documentID] = doc
	if found {
		h.saved[documentID] = version
		log.Printf("loaded document %s at version %d", documentID, version)
	} else {
		log.Printf("created new document: %s", documentID)
	}
	return doc, nil
}

// GetDocument retrieves a loaded document by ID, returns nil if not found.
func (h *Hub) GetDocument(documentID string) *document.Document {
	h.docsMu.Lock()
	defer h.docsMu.Unlock()
	return h.documents[documentID]
}

// Cursors returns the caret table of a document, preferring the shared
// cache when one is configured.
func (h *Hub) Cursors(ctx context.Context, documentID string) (map[string]int, error) {
	if h.opt.Cursors != nil {
		ctx, cancel := context.WithTimeout(ctx, backendTimeout)
		defer cancel()
		return h.opt.Cursors.Cursors(ctx, documentID)
	}
	if doc := h.GetDocument(documentID); doc != nil {
		return doc.Cursors(), nil
	}
	return map[string]int{}, nil
}

// Shutdown gracefully stops the hub, closes all client connections and
// persists every document changed since its last snapshot.
func (h *Hub) Shutdown() {
	close(h.quit)
	<-h.done
}

func (h *Hub) handleRegister(client *Client) {
	doc := h.GetDocument(client.documentID)
	if doc == nil {
		log.Printf("registration failed for client %s: document %s is not open", client.clientID, client.documentID)
		deliver(client, NewErrorMessage(errDocumentNotOpen(client.documentID)))
		close(client.send)
		return
	}

	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()
	log.Printf("client %s registered on document %s, total: %d", client.clientID, client.documentID, total)

	content, version := doc.GetSnapshot()
	data, err := tree.Serialize(content)
	if err != nil {
		log.Printf("snapshot serialization failed: %v", err)
	} else {
		h.sendTo(client, NewSnapshotMessage(client.documentID, data, version, doc.Cursors()))
	}
	h.broadcastUserCount()
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
		log.Printf("client %s unregistered, total: %d", client.clientID, len(h.clients))
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	if doc := h.GetDocument(client.documentID); doc != nil {
		doc.RemoveCursor(client.clientID)
		h.broadcastToDocument(client.documentID, NewCursorsMessage(client.documentID, doc.Cursors()), nil)
	}
	if h.opt.Cursors != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		if err := h.opt.Cursors.RemoveCursor(ctx, client.documentID, client.clientID); err != nil {
			log.Printf("cursor cache remove failed: %v", err)
		}
		cancel()
	}
	h.broadcastUserCount()
}

func (h *Hub) handleMessage(in *inboundMessage) {
	msg, err := MessageFromBytes(in.message)
	if err != nil {
		log.Printf("dropping malformed message: %v", err)
		h.sendTo(in.sender, NewErrorMessage(err))
		return
	}

	documentID, clientID := msg.DocumentID, msg.ClientID
	if in.sender != nil {
		documentID, clientID = in.sender.documentID, in.sender.clientID
	}
	if documentID == "" {
		h.sendTo(in.sender, NewErrorMessage(errors.New("no document ID in message")))
		return
	}

	doc := h.GetDocument(documentID)
	if doc == nil {
		log.Printf("dropping message for document %s: not open", documentID)
		h.sendTo(in.sender, NewErrorMessage(errDocumentNotOpen(documentID)))
		return
	}

	switch msg.Type {
	case MsgTypeOperation:
		h.handleOperation(in.sender, doc, documentID, clientID, msg)

	case MsgTypeCursor:
		pos := doc.SetCursor(clientID, msg.Cursor)
		if h.opt.Cursors != nil {
			ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
			if err := h.opt.Cursors.SetCursor(ctx, documentID, clientID, pos); err != nil {
				log.Printf("cursor cache update failed: %v", err)
			}
			cancel()
		}
		h.broadcastToDocument(documentID, NewCursorsMessage(documentID, doc.Cursors()), in.sender)

	case MsgTypeSnapshot:
		content, version := doc.GetSnapshot()
		data, err := tree.Serialize(content)
		if err != nil {
			h.sendTo(in.sender, NewErrorMessage(err))
			return
		}
		h.sendTo(in.sender, NewSnapshotMessage(documentID, data, version, doc.Cursors()))

	default:
		h.sendTo(in.sender, NewErrorMessage(fmt.Errorf("unsupported message type %q", msg.Type)))
	}
}

func errDocumentNotOpen(documentID string) error {
	return fmt.Errorf("document %s is not open", documentID)
}

func (h *Hub) handleOperation(sender *Client, doc *document.Document, documentID, clientID string, msg *Message) {
	if len(msg.Operation) == 0 {
		h.sendTo(sender, NewErrorMessage(errors.New("empty operation")))
		return
	}

	applied, err := doc.ApplyOperation(clientID, msg.Version, msg.Operation)
	if err != nil {
		log.Printf("operation from %s on document %s failed: %v", clientID, documentID, err)
		h.sendTo(sender, NewErrorMessage(err))
		return
	}
	log.Printf("operation applied to document %s, version: %d", documentID, applied.Version)

	h.sendTo(sender, NewAckMessage(applied.ID, applied.Version))
	h.broadcastToDocument(documentID,
		NewOperationMessage(documentID, clientID, applied.ID, applied.Version, applied.Op), sender)

	if h.opt.Events != nil {
		ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
		err := h.opt.Events.Enqueue(ctx, events.OpApplied{
			DocID:       documentID,
			OperationID: applied.ID,
			ClientID:    clientID,
			BaseVersion: msg.Version,
			Version:     applied.Version,
			Op:          applied.Op,
			AppliedAt:   time.Now(),
		})
		cancel()
		if err != nil {
			log.Printf("event enqueue failed for document %s: %v", documentID, err)
		}
	}

	if applied.Version%h.opt.SnapshotEvery == 0 {
		h.persist(documentID, doc)
	}
}

// persist saves the document's current snapshot unless it is already stored.
func (h *Hub) persist(documentID string, doc *document.Document) {
	if h.opt.Snapshots == nil {
		return
	}
	content, version := doc.GetSnapshot()

	h.docsMu.Lock()
	saved, ok := h.saved[documentID]
	h.docsMu.Unlock()
	if ok && saved == version {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	if err := h.opt.Snapshots.Save(ctx, documentID, version, content); err != nil {
		log.Printf("snapshot of document %s at version %d failed: %v", documentID, version, err)
		return
	}

	h.docsMu.Lock()
	h.saved[documentID] = version
	h.docsMu.Unlock()
	log.Printf("persisted document %s at version %d", documentID, version)
}

func (h *Hub) persistAll() {
	h.docsMu.Lock()
	docs := make(map[string]*document.Document, len(h.documents))
	for id, doc := range h.documents {
		if doc.GetVersion() > 0 {
			docs[id] = doc
		}
	}
	h.docsMu.Unlock()

	for id, doc := range docs {
		h.persist(id, doc)
	}
}

// sendTo delivers msg to a registered client. Nil and departed clients
// are ignored.
func (h *Hub) sendTo(client *Client, msg *Message) {
	if client == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return
	}
	deliver(client, msg)
}

func deliver(client *Client, msg *Message) {
	data, err := msg.ToBytes()
	if err != nil {
		log.Printf("message serialization failed: %v", err)
		return
	}
	select {
	case client.send <- data:
	default:
		log.Printf("send buffer full for client %s, message dropped", client.clientID)
	}
}

// broadcastUserCount sends the current user count to all connected clients.
func (h *Hub) broadcastUserCount() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	docCounts := make(map[string]int)
	for client := range h.clients {
		docCounts[client.documentID]++
	}

	for documentID, count := range docCounts {
		msgBytes, err := NewUserCountMessage(count).ToBytes()
		if err != nil {
			log.Printf("user count message creation failed: %v", err)
			continue
		}

		for client := range h.clients {
			if client.documentID == documentID {
				select {
				case client.send <- msgBytes:
				default:
				}
			}
		}
	}
}

// broadcastToDocument sends a message to all clients editing a specific document.
// The exclude parameter can be nil to send to all clients, or set to skip the sender.
func (h *Hub) broadcastToDocument(documentID string, msg *Message, exclude *Client) {
	message, err := msg.ToBytes()
	if err != nil {
		log.Printf("message serialization failed: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.documentID != documentID || client == exclude {
			continue
		}

		select {
		case client.send <- message:
		default:
			// Unregister is handled by the Run loop, which is busy with this call.
			go h.Unregister(client)
			log.Printf("client %s marked for removal due to full send buffer", client.clientID)
		}
	}
}

// closeAllClients closes all client connections during shutdown.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil {
			log.Printf("error closing client connection: %v", err)
		}
	}
	h.clients = make(map[*Client]bool)
	log.Printf("all clients closed")
}
