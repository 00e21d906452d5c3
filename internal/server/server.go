package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"richtext-ot/internal/document"
	"richtext-ot/internal/hub"
	"richtext-ot/internal/ottype"
	"richtext-ot/internal/tree"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server exposes the hub's documents over HTTP and WebSocket.
type Server struct {
	hub *hub.Hub
}

// New creates a Server for h.
func New(h *hub.Hub) *Server {
	return &Server{hub: h}
}

// Router builds the gin engine with logging, recovery and CORS.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "clients": s.hub.ClientCount()})
	})

	docs := r.Group("/documents/:id")
	docs.GET("", s.getDocument)
	docs.GET("/html", s.getHTML)
	docs.GET("/ops", s.getOps)
	docs.GET("/cursors", s.getCursors)
	docs.GET("/ws", s.connect)
	return r
}

// document resolves :id for the read-only routes. Unknown documents are
// reported as 404 and never created.
func (s *Server) document(c *gin.Context) (*document.Document, bool) {
	doc, err := s.hub.LookupDocument(c.Request.Context(), c.Param("id"))
	if errors.Is(err, hub.ErrDocumentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	if err != nil {
		log.Printf("document %s unavailable: %v", c.Param("id"), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return nil, false
	}
	return doc, true
}

func (s *Server) getDocument(c *gin.Context) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	content, version := doc.GetSnapshot()
	data, err := ottype.Tree.Serialize(content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_, lastModified, length := doc.GetStats()
	c.JSON(http.StatusOK, gin.H{
		"id":           c.Param("id"),
		"type":         ottype.Tree.URI,
		"version":      version,
		"length":       length,
		"lastModified": lastModified,
		"snapshot":     json.RawMessage(data),
	})
}

func (s *Server) getHTML(c *gin.Context) {
	doc, ok := s.document(c)
	if !ok {
		return
	}
	out, err := tree.RenderHTML(doc.GetContent())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(out))
}

// getOps returns the operations applied after ?since=, for clients
// catching up after a reconnect.
func (s *Server) getOps(c *gin.Context) {
	since, err := strconv.Atoi(c.DefaultQuery("since", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
		return
	}
	doc, ok := s.document(c)
	if !ok {
		return
	}
	ops, err := doc.OpsSince(since)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, document.ErrInvalidVersion) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"version": doc.GetVersion(), "ops": ops})
}

func (s *Server) getCursors(c *gin.Context) {
	cursors, err := s.hub.Cursors(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cursors": cursors})
}

// connect upgrades to a WebSocket editing session. The client id comes
// from ?client= and is generated when absent.
func (s *Server) connect(c *gin.Context) {
	clientID := c.Query("client")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}

	client := hub.NewClient(s.hub, conn, c.Param("id"), clientID)
	s.hub.Register(client)
	go client.WritePump()
	go client.ReadPump()
}
