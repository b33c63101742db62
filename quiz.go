// Quizbox Quiz Game
//
// A host browser creates a game room in one of two modes: word-unscramble
// or trivia. Two players join the room by its numeric code. The server
// coordinates rounds, relays submitted answers to the host for grading,
// and records win counts in the player store.
//
// Features:
// - Single WebSocket endpoint: /quiz/ws
// - Rooms keyed by collision-checked 5-digit numeric codes
// - Exactly two players per room; later joins are rejected
// - Host connection is authoritative: it grades answers and advances rounds
// - Round content generated fresh per round via uniform Fisher-Yates shuffles
// - Win counts persisted per player name; top-10 leaderboard on request
// - Store calls bounded by a timeout and reported as recoverable errors
// - Rooms auto-reaped after configurable idle timeout
// - In-browser QR button to share a room's join link, backed by go-qrcode

package main

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log"
	mrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Game modes, fixed at room creation.
const (
	WordMode   = 1
	TriviaMode = 2
)

const maxRoomMembers = 2

// ClientMessage is the inbound envelope for every client event.
type ClientMessage struct {
	Type       string `json:"type"`                 // wire event name
	Level      int    `json:"level,omitempty"`      // hostCreateNewGame
	RoomID     int    `json:"roomId,omitempty"`     // everything room-scoped
	LevelID    int    `json:"levelId,omitempty"`    // host events
	PlayerName string `json:"playerName,omitempty"` // playerJoinGame
	Answer     string `json:"answer,omitempty"`     // playerAnswer
	Round      int    `json:"round,omitempty"`      // playerAnswer / hostNextRound
	Winner     string `json:"winner,omitempty"`     // hostNextRound, final round only
}

// ConnectedMessage greets a client immediately after the upgrade.
type ConnectedMessage struct {
	Type    string `json:"type"` // "connected"
	Message string `json:"message"`
}

// GameCreatedMessage acks room creation to the creator only.
type GameCreatedMessage struct {
	Type                string `json:"type"` // "newGameCreated"
	RoomID              int    `json:"roomId"`
	LevelID             int    `json:"levelId"`
	CreatorConnectionID string `json:"creatorConnectionId"`
}

// BeginGameMessage tells the whole room to start the countdown.
type BeginGameMessage struct {
	Type                string `json:"type"` // "beginNewGame"
	CreatorConnectionID string `json:"creatorConnectionId"`
	RoomID              int    `json:"roomId"`
	LevelID             int    `json:"levelId"`
}

// PlayerJoinedMessage announces a successful join to the whole room.
type PlayerJoinedMessage struct {
	Type         string `json:"type"` // "playerJoinedRoom"
	PlayerName   string `json:"playerName"`
	RoomID       int    `json:"roomId"`
	ConnectionID string `json:"connectionId"`
}

// GameErrorMessage is sent to a single offending connection.
type GameErrorMessage struct {
	Type    string `json:"type"` // "gameError"
	Message string `json:"message"`
}

// AnswerCheckMessage forwards a player's answer to the room so the host
// can grade it.
type AnswerCheckMessage struct {
	Type         string `json:"type"` // "hostCheckAnswer"
	RoomID       int    `json:"roomId"`
	ConnectionID string `json:"connectionId"`
	Answer       string `json:"answer"`
	Round        int    `json:"round"`
}

// GameOverMessage announces the end of a game to the whole room.
type GameOverMessage struct {
	Type   string `json:"type"` // "gameOver"
	RoomID int    `json:"roomId"`
	Round  int    `json:"round"`
	Winner string `json:"winner,omitempty"`
}

// LeaderboardMessage returns the top player records to the requester only.
type LeaderboardMessage struct {
	Type    string         `json:"type"` // "showLeader"
	Leaders []PlayerRecord `json:"leaders"`
}

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string

	// room and closed are guarded by the GameManager mutex.
	room   *Room
	closed bool
}

// trySendLocked queues msg for the client unless its channel is gone or
// its buffer is full. Assumes the GameManager mutex is held.
func (c *Client) trySendLocked(msg any) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeLocked shuts the client's outbound channel exactly once.
// Assumes the GameManager mutex is held.
func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// RoomMember is one of the two players admitted to a room.
type RoomMember struct {
	Name   string
	Client *Client
}

// Room is one active game: the host connection that created it, up to
// two players, and the round cursor.
type Room struct {
	id    int
	level int
	host  *Client

	members []RoomMember
	clients map[*Client]bool

	started  bool
	finished bool
	round    int

	createdAt  time.Time
	lastActive time.Time
}

func newRoom(id, level int, host *Client) *Room {
	now := time.Now()
	room := &Room{
		id:         id,
		level:      level,
		host:       host,
		clients:    make(map[*Client]bool),
		createdAt:  now,
		lastActive: now,
	}
	room.clients[host] = true
	return room
}

// sendLocked delivers msg to a single client, evicting it from the room
// if its send buffer is full. Assumes the GameManager mutex is held.
func (room *Room) sendLocked(c *Client, msg any) {
	if !room.clients[c] {
		return
	}
	if !c.trySendLocked(msg) {
		delete(room.clients, c)
		c.closeLocked()
	}
}

// broadcastLocked delivers msg to every connection in the room's
// broadcast group, evicting slow clients. Assumes the GameManager mutex
// is held.
func (room *Room) broadcastLocked(msg any) {
	for c := range room.clients {
		if !c.trySendLocked(msg) {
			delete(room.clients, c)
			c.closeLocked()
		}
	}
}

// GameManager owns the active-room table and all state transitions.
// Handlers run on each connection's read goroutine; the mutex is the
// single owner of room state. Store calls happen outside the lock so a
// slow backend never stalls other rooms.
type GameManager struct {
	mu    sync.Mutex
	rooms map[int]*Room

	cfg   *Config
	store PlayerStore
	gen   *roundGenerator

	idleTimeout time.Duration
}

func newGameManager(cfg *Config, store PlayerStore) *GameManager {
	gm := &GameManager{
		rooms:       make(map[int]*Room),
		cfg:         cfg,
		store:       store,
		gen:         newRoundGenerator(mrand.New(mrand.NewSource(time.Now().UnixNano()))),
		idleTimeout: cfg.sessionTimeout,
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

// newRoomIDLocked draws crypto-random 5-digit room codes until one does
// not collide with a currently-active room. Assumes the mutex is held.
func (gm *GameManager) newRoomIDLocked() int {
	for {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		id := int(binary.BigEndian.Uint32(buf[:])%90000) + 10000

		if _, exists := gm.rooms[id]; !exists {
			return id
		}
	}
}

func (gm *GameManager) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), gm.cfg.storeTimeout)
}

// errorTo reports a recoverable game error to a single connection.
func (gm *GameManager) errorTo(c *Client, message string) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	c.trySendLocked(GameErrorMessage{Type: "gameError", Message: message})
}

// roomForHostLocked looks up a room and verifies the calling connection
// is its host. Assumes the mutex is held.
func (gm *GameManager) roomForHostLocked(c *Client, roomID int) (*Room, string) {
	room, ok := gm.rooms[roomID]
	if !ok {
		return nil, "This room does not exist."
	}
	if room.host != c {
		return nil, "Only the host may do that."
	}
	return room, ""
}

// handleCreate allocates a fresh room for the creating connection.
func (gm *GameManager) handleCreate(c *Client, msg ClientMessage) {
	level := msg.Level
	if level != WordMode && level != TriviaMode {
		gm.errorTo(c, "Unknown game mode.")
		return
	}

	gm.mu.Lock()

	if c.room != nil {
		gm.mu.Unlock()
		gm.errorTo(c, "You are already in a room.")
		return
	}

	id := gm.newRoomIDLocked()
	room := newRoom(id, level, c)
	gm.rooms[id] = room
	c.room = room

	room.sendLocked(c, GameCreatedMessage{
		Type:                "newGameCreated",
		RoomID:              id,
		LevelID:             level,
		CreatorConnectionID: c.id,
	})

	gm.mu.Unlock()

	logf(gm.cfg, "GAMES: Created room %d (mode %d)", id, level)
}

// handleRoomFull is the host's signal that both players are present;
// the whole room is told to begin the countdown.
func (gm *GameManager) handleRoomFull(c *Client, msg ClientMessage) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, errText := gm.roomForHostLocked(c, msg.RoomID)
	if errText != "" {
		c.trySendLocked(GameErrorMessage{Type: "gameError", Message: errText})
		return
	}

	room.lastActive = time.Now()

	if len(room.members) < maxRoomMembers {
		room.sendLocked(c, GameErrorMessage{
			Type:    "gameError",
			Message: "The room is not full yet.",
		})
		return
	}

	room.broadcastLocked(BeginGameMessage{
		Type:                "beginNewGame",
		CreatorConnectionID: room.host.id,
		RoomID:              room.id,
		LevelID:             room.level,
	})
}

// handleCountdownFinished starts the round loop at round zero.
func (gm *GameManager) handleCountdownFinished(c *Client, msg ClientMessage) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, errText := gm.roomForHostLocked(c, msg.RoomID)
	if errText != "" {
		c.trySendLocked(GameErrorMessage{Type: "gameError", Message: errText})
		return
	}

	room.lastActive = time.Now()

	if room.started {
		room.sendLocked(c, GameErrorMessage{
			Type:    "gameError",
			Message: "The game has already started.",
		})
		return
	}

	if len(room.members) < maxRoomMembers {
		room.sendLocked(c, GameErrorMessage{
			Type:    "gameError",
			Message: "The game cannot start before two players have joined.",
		})
		return
	}

	room.started = true
	room.round = 0

	gm.sendRoundLocked(room, 0)
}

// sendRoundLocked generates and broadcasts the payload for one round.
// Assumes the mutex is held.
func (gm *GameManager) sendRoundLocked(room *Room, round int) {
	if room.level == WordMode {
		payload, err := gm.gen.wordRound(round)
		if err != nil {
			room.sendLocked(room.host, GameErrorMessage{
				Type:    "gameError",
				Message: "No content remains for this round.",
			})
			return
		}
		room.broadcastLocked(payload)
		return
	}

	payload, err := gm.gen.questionRound(round)
	if err != nil {
		room.sendLocked(room.host, GameErrorMessage{
			Type:    "gameError",
			Message: "No content remains for this round.",
		})
		return
	}
	room.broadcastLocked(payload)
}

// handleNextRound advances the round cursor, or finishes the game once
// the content pool is exhausted.
func (gm *GameManager) handleNextRound(c *Client, msg ClientMessage) {
	gm.mu.Lock()

	room, errText := gm.roomForHostLocked(c, msg.RoomID)
	if errText == "" && !room.started {
		errText = "The game has not started yet."
	}
	if errText == "" && room.finished {
		errText = "The game is already over."
	}
	if errText == "" && msg.Round < room.round {
		errText = "That round has already been played."
	}
	if errText != "" {
		gm.mu.Unlock()
		gm.errorTo(c, errText)
		return
	}

	room.lastActive = time.Now()

	if msg.Round < gm.gen.poolLen(room.level) {
		room.round = msg.Round
		gm.sendRoundLocked(room, msg.Round)
		gm.mu.Unlock()
		return
	}

	// Pool exhausted: the game is over.
	room.finished = true
	gm.mu.Unlock()

	gm.finishGame(room, msg.Round, msg.Winner)
}

// finishGame records the declared winner's victory, then announces the
// end of the game to the room and retires it. The store round-trip
// happens outside the lock; a failure there is reported to the host but
// never blocks the announcement.
func (gm *GameManager) finishGame(room *Room, round int, winner string) {
	if winner != "" {
		ctx, cancel := gm.storeContext()
		err := gm.store.IncrementWin(ctx, winner)
		cancel()

		if err != nil {
			logf(gm.cfg, "GAMES: Failed to record win for %q in room %d: %v", winner, room.id, err)
			gm.errorTo(room.host, "The winner's score could not be saved.")
		} else {
			logf(gm.cfg, "GAMES: %q won room %d", winner, room.id)
		}
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	room.broadcastLocked(GameOverMessage{
		Type:   "gameOver",
		RoomID: room.id,
		Round:  round,
		Winner: winner,
	})

	delete(gm.rooms, room.id)
	for c := range room.clients {
		c.room = nil
	}
}

// handleJoin admits a player into an existing room, creates their store
// record if their name is unseen, and announces the join to the room.
func (gm *GameManager) handleJoin(c *Client, msg ClientMessage) {
	if msg.PlayerName == "" {
		gm.errorTo(c, "A player name is required to join.")
		return
	}

	gm.mu.Lock()

	room, ok := gm.rooms[msg.RoomID]
	if !ok {
		gm.mu.Unlock()
		gm.errorTo(c, "This room does not exist.")
		return
	}

	if len(room.members) >= maxRoomMembers {
		gm.mu.Unlock()
		gm.errorTo(c, "This room is already full.")
		return
	}

	if c.room != nil {
		gm.mu.Unlock()
		gm.errorTo(c, "You are already in a room.")
		return
	}

	room.lastActive = time.Now()
	room.members = append(room.members, RoomMember{Name: msg.PlayerName, Client: c})
	room.clients[c] = true
	c.room = room

	gm.mu.Unlock()

	// Lazily create the player record. A store failure is recoverable:
	// the join stands, only the win counter is at risk.
	ctx, cancel := gm.storeContext()
	_, err := gm.store.FindPlayer(ctx, msg.PlayerName)
	if errors.Is(err, ErrPlayerNotFound) {
		_, err = gm.store.CreatePlayer(ctx, msg.PlayerName)
	}
	cancel()

	if err != nil {
		logf(gm.cfg, "GAMES: Failed to upsert player %q: %v", msg.PlayerName, err)
		gm.errorTo(c, "Your stats could not be loaded; wins may not be recorded.")
	}

	gm.mu.Lock()
	room.broadcastLocked(PlayerJoinedMessage{
		Type:         "playerJoinedRoom",
		PlayerName:   msg.PlayerName,
		RoomID:       room.id,
		ConnectionID: c.id,
	})
	gm.mu.Unlock()

	logf(gm.cfg, "GAMES: Player %q joined room %d", msg.PlayerName, msg.RoomID)
}

// handleAnswer relays a submitted answer to the room so the host can
// grade it. The server never judges correctness itself.
func (gm *GameManager) handleAnswer(c *Client, msg ClientMessage) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	room, ok := gm.rooms[msg.RoomID]
	if !ok {
		c.trySendLocked(GameErrorMessage{Type: "gameError", Message: "This room does not exist."})
		return
	}

	room.lastActive = time.Now()

	room.broadcastLocked(AnswerCheckMessage{
		Type:         "hostCheckAnswer",
		RoomID:       room.id,
		ConnectionID: c.id,
		Answer:       msg.Answer,
		Round:        msg.Round,
	})
}

// handleFindLeader returns the top ten players to the requester only.
func (gm *GameManager) handleFindLeader(c *Client) {
	ctx, cancel := gm.storeContext()
	records, err := gm.store.TopPlayers(ctx, 10)
	cancel()

	if err != nil {
		logf(gm.cfg, "GAMES: Failed to query leaderboard: %v", err)
		gm.errorTo(c, "The leaderboard is unavailable right now.")
		return
	}

	gm.mu.Lock()
	defer gm.mu.Unlock()

	c.trySendLocked(LeaderboardMessage{Type: "showLeader", Leaders: records})
}

// unregister releases a departed connection: its outbound channel is
// closed so the write pump exits, and it is detached from its room. A
// room whose host leaves, or whose last connection leaves, is retired.
func (gm *GameManager) unregister(c *Client) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	c.closeLocked()

	room := c.room
	if room == nil {
		return
	}
	c.room = nil

	delete(room.clients, c)

	dst := room.members[:0]
	for _, m := range room.members {
		if m.Client == c {
			continue
		}
		dst = append(dst, m)
	}
	room.members = dst

	if c == room.host || len(room.clients) == 0 {
		delete(gm.rooms, room.id)
		for other := range room.clients {
			other.room = nil
			other.trySendLocked(GameOverMessage{Type: "gameOver", RoomID: room.id, Round: room.round})
		}
		logf(gm.cfg, "GAMES: Retired room %d", room.id)
	}
}

// reaperLoop periodically retires rooms idle longer than the timeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, room := range gm.rooms {
			if room.lastActive.Before(cutoff) {
				delete(gm.rooms, id)
				for c := range room.clients {
					c.room = nil
					c.closeLocked()
					_ = c.conn.Close()
				}
				logf(gm.cfg, "GAMES: Reaped idle room %d", id)
			}
		}
		gm.mu.Unlock()
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newConnectionID assigns each websocket connection a random identity,
// echoed back in acks so clients can recognize their own events.
func newConnectionID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

// serveWS upgrades a connection and pumps its messages through the
// game manager.
func serveWS(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   newConnectionID(),
		}

		go client.writePump()

		client.send <- ConnectedMessage{Type: "connected", Message: "You are connected!"}

		client.readPump(gm)
	}
}

func (c *Client) readPump(gm *GameManager) {
	defer func() {
		gm.unregister(c)
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "hostCreateNewGame":
			gm.handleCreate(c, msg)
		case "hostRoomFull":
			gm.handleRoomFull(c, msg)
		case "hostCountdownFinished":
			gm.handleCountdownFinished(c, msg)
		case "hostNextRound":
			gm.handleNextRound(c, msg)
		case "playerJoinGame":
			gm.handleJoin(c, msg)
		case "playerAnswer":
			gm.handleAnswer(c, msg)
		case "findLeader":
			gm.handleFindLeader(c)
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// qrHandler generates a PNG QR code for a room's join URL.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr/:roomid; drop the "/qr" segment to get the
	// join URL the client understands.
	path := strings.Replace(r.URL.Path, "/qr/", "/", 1)

	url := scheme + "://" + r.Host + path

	const qrSize = 320
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerQuizGame sets up routes so that:
//   - $path/ws           → WebSocket for all game traffic
//   - $path/qr/:roomid   → PNG QR code for a room's join URL
//
// The qr route keeps its room ID in the last segment so it never
// conflicts with the static ws route.
func registerQuizGame(cfg *Config, path string, store PlayerStore, mux *httprouter.Router) {
	gm := newGameManager(cfg, store)

	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, gm))

	mux.GET(cfg.prefix+path+"/qr/:roomid", qrHandler)
}
