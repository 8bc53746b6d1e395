package domain

type (
	RoomID   string
	RoomCode string
)

type Room struct {
	ID   RoomID
	Code RoomCode
}
