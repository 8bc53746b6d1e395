package http

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/abnjv/Ha-sub000/internal/adapters/store"
	"github.com/abnjv/Ha-sub000/internal/app"
	"github.com/abnjv/Ha-sub000/internal/domain"
)

const (
	roomCodeLength = 6
	// No ambiguous characters in shareable codes.
	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// API serves the room/stream management surface. Room membership still
// happens over the signaling socket; this is lookup and bookkeeping.
type API struct {
	Rooms   *app.RoomManagerImpl
	Streams *app.StreamManager
	Index   *store.RoomIndex
	Secret  string
}

type loginRequest struct {
	Username string `json:"username" binding:"required,max=36"`
}

// Login issues a short-lived token for the management endpoints.
func (a *API) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := domain.NewUser(req.Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims := jwt.MapClaims{
		"sub": string(user.ID),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.Secret))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "user": user})
}

type createRoomResponse struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

func (a *API) CreateRoom(c *gin.Context) {
	userID := c.GetString("user_id")

	roomID := domain.RoomID(uuid.NewString())
	code := generateRoomCode()

	room := a.Rooms.GetOrCreate(roomID)
	room.Room().Code = code
	a.Rooms.RegisterCode(code, roomID)

	if a.Index != nil {
		if err := a.Index.PutRoom(c.Request.Context(), roomID, code); err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Msg("room index write")
		}
	}

	log.Info().Str("module", "adapters.http").Str("room", string(roomID)).Str("code", string(code)).Str("creator", userID).Msg("room created")
	c.JSON(http.StatusCreated, createRoomResponse{RoomID: string(roomID), Code: string(code)})
}

func (a *API) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, a.Rooms.List())
}

// GetRoom resolves a short code or a room id.
func (a *API) GetRoom(c *gin.Context) {
	ident := c.Param("roomId")

	roomID := domain.RoomID(ident)
	if len(ident) == roomCodeLength {
		if id, ok := a.Rooms.Resolve(domain.RoomCode(ident)); ok {
			roomID = id
		} else if a.Index != nil {
			if id, err := a.Index.Resolve(c.Request.Context(), domain.RoomCode(ident)); err == nil {
				roomID = id
			}
		}
	}

	room, ok := a.Rooms.Get(roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           room.Room().ID,
		"code":         room.Room().Code,
		"member_count": room.MemberCount(),
		"members":      room.MembersSnapshot(),
	})
}

func (a *API) ListStreams(c *gin.Context) {
	c.JSON(http.StatusOK, a.Streams.List())
}

func generateRoomCode() domain.RoomCode {
	code := make([]byte, roomCodeLength)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			code[i] = codeChars[0]
			continue
		}
		code[i] = codeChars[n.Int64()]
	}
	return domain.RoomCode(code)
}
