package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"localchat/server/internal/blob"
	"localchat/server/internal/core"
	"localchat/server/internal/linkpreview"
	"localchat/server/internal/protocol"
	"localchat/server/internal/store"
	"localchat/server/internal/ws"
)

// Server is the Echo application: websocket endpoint, uploads, history
// import/export, link previews, and webhook ingestion.
type Server struct {
	echo          *echo.Echo
	hub           *core.Hub
	uploads       *blob.Store
	previews      *linkpreview.Fetcher
	webhookSecret string
}

// Options carries the optional collaborators wired into the HTTP surface.
type Options struct {
	Uploads       *blob.Store
	Previews      *linkpreview.Fetcher
	WebhookSecret string
}

// New constructs an Echo app with websocket + REST routes.
func New(hub *core.Hub, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:          e,
		hub:           hub,
		uploads:       opts.Uploads,
		previews:      opts.Previews,
		webhookSecret: opts.WebhookSecret,
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/state", s.handleState)
	s.echo.GET("/api/history", s.handleHistoryExport)
	s.echo.POST("/api/history/import", s.handleHistoryImport)
	if s.uploads != nil {
		s.echo.POST("/api/upload", s.handleUpload)
		s.echo.GET("/api/files/:id", s.handleDownload)
	}
	if s.previews != nil {
		s.echo.GET("/api/preview", s.handlePreview)
	}
	if s.webhookSecret != "" {
		s.echo.POST("/api/webhook", s.handleWebhook)
	}
	ws.NewHandler(s.hub).Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Clients: s.hub.ClientCount(),
	})
}

type stateResponse struct {
	Clients    int                  `json:"clients"`
	Users      []protocol.User      `json:"users"`
	Channels   []string             `json:"channels"`
	VoiceUsers []protocol.VoiceUser `json:"voiceUsers"`
}

func (s *Server) handleState(c echo.Context) error {
	users := s.hub.Users()
	if users == nil {
		users = []protocol.User{}
	}
	voice := s.hub.VoiceUsers()
	if voice == nil {
		voice = []protocol.VoiceUser{}
	}
	return c.JSON(http.StatusOK, stateResponse{
		Clients:    len(users),
		Users:      users,
		Channels:   s.hub.Channels(),
		VoiceUsers: voice,
	})
}

func (s *Server) handleHistoryExport(c echo.Context) error {
	msgs := s.hub.Export()
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

func (s *Server) handleHistoryImport(c echo.Context) error {
	var msgs []protocol.Message
	if err := c.Bind(&msgs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.hub.Import(msgs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart file field \"file\" is required")
	}
	if fileHeader.Size > blob.MaxUploadSize {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "upload exceeds 10 MB")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("open uploaded file: %v", err))
	}
	defer src.Close()

	contentType := strings.TrimSpace(fileHeader.Header.Get(echo.HeaderContentType))
	info, err := s.uploads.Put(fileHeader.Filename, contentType, src)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("persist upload: %v", err))
	}
	return c.JSON(http.StatusCreated, info)
}

func (s *Server) handleDownload(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file id is required")
	}

	result, err := s.uploads.Open(id)
	if err != nil {
		if errors.Is(err, store.ErrFileNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("open file: %v", err))
	}
	defer result.File.Close()

	c.Response().Header().Set(echo.HeaderContentType, result.Record.ContentType)
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(result.Record.Size, 10))
	c.Response().Header().Set(
		echo.HeaderContentDisposition,
		fmt.Sprintf(`inline; filename="%s"`, safeFilename(result.Record.OriginalName)),
	)
	c.Response().WriteHeader(http.StatusOK)
	_, copyErr := io.Copy(c.Response().Writer, result.File)
	return copyErr
}

// handlePreview resolves OpenGraph metadata. The url parameter may be a bare
// URL or message text; the first http(s) URL found in it is previewed.
func (s *Server) handlePreview(c echo.Context) error {
	rawURL := linkpreview.ExtractFirstURL(c.QueryParam("url"))
	if rawURL == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url query parameter must contain an http(s) url")
	}
	p, err := s.previews.Fetch(rawURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("fetch preview: %v", err))
	}
	return c.JSON(http.StatusOK, p)
}

type webhookRequest struct {
	Username  string `json:"username"`
	Content   string `json:"content"`
	ChannelID string `json:"channelId"`
}

// handleWebhook ingests an external event as a bot message. Authentication
// is a shared secret in the X-Webhook-Secret header.
func (s *Server) handleWebhook(c echo.Context) error {
	if c.Request().Header.Get("X-Webhook-Secret") != s.webhookSecret {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	}

	var req webhookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = "webhook"
	}

	msg := s.hub.AppendBot(username, req.Content, req.ChannelID)
	return c.JSON(http.StatusCreated, msg)
}

func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "file"
	}
	name = strings.ReplaceAll(name, `"`, "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}
