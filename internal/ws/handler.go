package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"localchat/server/internal/core"
	"localchat/server/internal/protocol"
)

const writeTimeout = 5 * time.Second

// Handler owns websocket transport for the coordination server.
type Handler struct {
	hub      *core.Hub
	upgrader websocket.Upgrader
}

// NewHandler creates a websocket handler bound to hub.
func NewHandler(hub *core.Hub) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(conn)
	return nil
}

func (h *Handler) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(1 << 20)

	// The first event must be a join carrying the username.
	var join protocol.Event
	if err := conn.ReadJSON(&join); err != nil {
		return
	}
	if join.Type != protocol.EventJoin {
		return
	}

	session, err := h.hub.Join(join.Username, 64)
	if err != nil {
		return
	}
	defer h.hub.Disconnect(session.ID)

	// Writer: drains the session's send channel. When the hub closes the
	// channel (kick, disconnect) the remaining events are flushed and the
	// connection dropped, which unblocks the read loop below.
	go func() {
		for out := range session.Send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(out); err != nil {
				conn.Close()
				return
			}
		}
		conn.Close()
	}()

	for {
		var in protocol.Event
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		h.dispatch(session.ID, in)
	}
}

// dispatch routes one inbound event to the component that owns it. Unknown
// and malformed events are dropped: event-style calls never surface errors.
func (h *Handler) dispatch(sessionID string, in protocol.Event) {
	switch in.Type {
	case protocol.EventJoinChannel:
		h.hub.JoinChannel(sessionID, in.ChannelID)

	case protocol.EventMessage:
		h.hub.SendText(sessionID, in.Content, in.ParentID, in.ChannelID)

	case protocol.EventImage:
		h.hub.SendImage(sessionID, in.Content, in.ChannelID)

	case protocol.EventFile:
		h.hub.SendFile(sessionID, in.File, in.ChannelID)

	case protocol.EventEditMessage:
		h.hub.EditMessage(sessionID, in.MessageID, in.Content)

	case protocol.EventDeleteMessage:
		h.hub.DeleteMessage(sessionID, in.MessageID)

	case protocol.EventAddReaction:
		h.hub.AddReaction(sessionID, in.MessageID, in.Emoji)

	case protocol.EventRemoveReaction:
		h.hub.RemoveReaction(sessionID, in.MessageID, in.Emoji)

	case protocol.EventTyping:
		h.hub.Typing(sessionID, in.ChannelID, in.IsTyping)

	case protocol.EventSetStatus:
		h.hub.SetStatus(sessionID, in.Status, in.CustomStatus)

	case protocol.EventCreateChannel:
		h.hub.CreateChannel(sessionID, in.ChannelName)

	case protocol.EventSetRole:
		h.hub.SetRole(sessionID, in.TargetUsername, in.Role)

	case protocol.EventKickUser:
		h.hub.Kick(sessionID, in.TargetUsername)

	case protocol.EventMuteUser:
		h.hub.Mute(sessionID, in.TargetUsername, in.Minutes)

	case protocol.EventVoiceJoin:
		h.hub.VoiceJoin(sessionID)

	case protocol.EventVoiceLeave:
		h.hub.VoiceLeave(sessionID)

	case protocol.EventVoiceSignal:
		h.hub.RelaySignal(sessionID, in.To, in.Signal)

	case protocol.EventVoiceMute:
		h.hub.SetVoiceMuted(sessionID, in.Flag)

	case protocol.EventVoiceDeafen:
		h.hub.SetVoiceDeafened(sessionID, in.Flag)

	case protocol.EventVoiceSpeaking:
		h.hub.Speaking(sessionID, in.Speaking)

	case protocol.EventScreenShareStart:
		h.hub.ScreenShareStart(sessionID, in.StreamID)

	case protocol.EventScreenShareStop:
		h.hub.ScreenShareStop(sessionID)

	case protocol.EventForumCreateTopic:
		h.hub.CreateTopic(sessionID, in.Title, in.Body, in.Tags)

	case protocol.EventForumReply:
		h.hub.ReplyTopic(sessionID, in.TopicID, in.Body)

	case protocol.EventForumResolve:
		h.hub.ResolveTopic(sessionID, in.TopicID)
	}
}
