package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"hexmarket.gg/internal/protocol"
)

func main() {
	var (
		server = flag.String("server", "http://localhost:8080", "server base url")
		roomID = flag.String("room", "", "room id to join; empty creates a fresh room")
		rounds = flag.Int("rounds", 10, "round count when creating a room")
		name   = flag.String("name", "bot", "player name")
		start  = flag.Int("start", 0, "send start_game once this many players are present (0 = never)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	wsURL, err := resolveRoom(*server, *roomID, *rounds)
	if err != nil {
		logger.Fatalf("resolve room: %v", err)
	}
	logger.Printf("connecting to %s", wsURL)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	join := protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		PlayerName:      *name,
	}
	if err := conn.WriteJSON(join); err != nil {
		logger.Fatalf("send join: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	b := &bot{
		conn:    conn,
		log:     logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		startAt: *start,
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeJoined:
			var j protocol.JoinedMsg
			if err := json.Unmarshal(msg, &j); err != nil {
				continue
			}
			b.playerID = j.PlayerID
			logger.Printf("joined room=%s player=%s", j.RoomID, j.PlayerID)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("error %s: %s", e.Code, e.Message)

		case protocol.TypePathRevenue:
			var pr protocol.PathRevenueMsg
			if err := json.Unmarshal(msg, &pr); err != nil {
				continue
			}
			logger.Printf("path revenue %d", pr.Revenue)

		case protocol.TypeState:
			var st protocol.StateMsg
			if err := json.Unmarshal(msg, &st); err != nil {
				continue
			}
			b.handleState(&st)
		}
	}
}

// resolveRoom turns the flags into a websocket URL, creating a room
// when none was given.
func resolveRoom(server, roomID string, rounds int) (string, error) {
	if roomID == "" {
		body, err := json.Marshal(map[string]int{"round_count": rounds})
		if err != nil {
			return "", err
		}
		resp, err := http.Post(server+"/v1/rooms", "application/json", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return "", fmt.Errorf("create room: status %s", resp.Status)
		}
		var created struct {
			RoomID string `json:"room_id"`
			WSURL  string `json:"ws_url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return "", err
		}
		return created.WSURL, nil
	}

	resp, err := http.Post(server+"/v1/rooms/"+roomID+"/join", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("join room %s: status %s", roomID, resp.Status)
	}
	var join struct {
		WSURL string `json:"ws_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&join); err != nil {
		return "", err
	}
	return join.WSURL, nil
}

// bot plays legal moves at random: one burst of actions per phase entry,
// keyed on phase/round so repeated broadcasts within a phase stay quiet.
type bot struct {
	conn     *websocket.Conn
	log      *log.Logger
	rng      *rand.Rand
	playerID string
	startAt  int
	started  bool
	acted    string
}

func (b *bot) handleState(st *protocol.StateMsg) {
	if b.playerID == "" {
		return
	}

	if st.Phase == "lobby" {
		if b.startAt > 0 && !b.started && len(st.Players) >= b.startAt {
			b.started = true
			b.send(protocol.StartGameMsg{Type: protocol.TypeStartGame})
			b.log.Printf("starting game with %d players", len(st.Players))
		}
		return
	}

	key := fmt.Sprintf("%s/%d", st.Phase, st.RoundIndex)
	if key == b.acted {
		return
	}
	b.acted = key

	me := findPlayer(st, b.playerID)
	if me == nil {
		return
	}

	switch st.Phase {
	case "market_phase":
		b.actMarket(st, me)
	case "buy_phase":
		b.actBuy(st, me)
	case "auction":
		b.actAuction(st, me)
	case "path_phase":
		b.send(protocol.PathDoneMsg{Type: protocol.TypePathDone})
	case "ended":
		if st.Winner != nil {
			b.log.Printf("game over: winner=%s money=%d cells=%d",
				st.Winner.Name, st.Winner.Money, st.Winner.CellsOwned)
		}
	}
}

func (b *bot) actMarket(st *protocol.StateMsg, me *protocol.PlayerState) {
	// Skip roughly a quarter of the time, and always when broke.
	if len(st.MarketDice) == 0 || me.Money < st.MarketMinPrice || b.rng.Intn(4) == 0 {
		b.send(protocol.MarketSkipMsg{Type: protocol.TypeMarketSkip})
		return
	}
	amount := st.MarketMinPrice + b.rng.Intn(2)
	if amount > me.Money {
		amount = me.Money
	}
	b.send(protocol.MarketBidMsg{
		Type:     protocol.TypeMarketBid,
		DieIndex: b.rng.Intn(len(st.MarketDice)),
		Amount:   amount,
	})
}

func (b *bot) actBuy(st *protocol.StateMsg, me *protocol.PlayerState) {
	role := protocol.RoleProducer
	if b.rng.Intn(2) == 0 {
		role = protocol.RoleSeller
	}
	cells := st.Grid.Cells
	if n := len(cells); n > 0 {
		off := b.rng.Intn(n)
		for i := 0; i < n; i++ {
			c := cells[(off+i)%n]
			if c.Blocked || !holdsDie(me, c.DiceValue) || ownsRole(&c, b.playerID, role) {
				continue
			}
			b.send(protocol.BuyCellMsg{Type: protocol.TypeBuyCell, CellID: c.ID, Role: role})
			break
		}
	}
	b.send(protocol.BuyDoneMsg{Type: protocol.TypeBuyDone})
}

func (b *bot) actAuction(st *protocol.StateMsg, me *protocol.PlayerState) {
	for _, c := range st.Conflicts {
		if !contains(c.PlayerIDs, b.playerID) {
			continue
		}
		amount := 0
		if me.Money > 0 {
			amount = b.rng.Intn(me.Money + 1)
		}
		b.send(protocol.AuctionBidMsg{
			Type:       protocol.TypeAuctionBid,
			ConflictID: c.ConflictID,
			Amount:     amount,
		})
	}
}

func (b *bot) send(v any) {
	_ = b.conn.WriteJSON(v)
}

func findPlayer(st *protocol.StateMsg, playerID string) *protocol.PlayerState {
	for i := range st.Players {
		if st.Players[i].PlayerID == playerID {
			return &st.Players[i]
		}
	}
	return nil
}

func holdsDie(p *protocol.PlayerState, face int) bool {
	for _, d := range p.Dice {
		if d == face {
			return true
		}
	}
	return false
}

func ownsRole(c *protocol.CellState, playerID, role string) bool {
	for _, o := range c.Owners {
		if o.PlayerID == playerID && o.Role == role {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
