package application

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rocketscienceinc/tictactoe-relay/internal/entity"
	"github.com/rocketscienceinc/tictactoe-relay/internal/matchmaking"
	"github.com/rocketscienceinc/tictactoe-relay/internal/relay"
	"github.com/rocketscienceinc/tictactoe-relay/internal/room"
	"github.com/rocketscienceinc/tictactoe-relay/internal/router"
	"github.com/rocketscienceinc/tictactoe-relay/internal/userstate"
)

// terminalClient - the interactive participant: one human on one keyboard,
// matched and playing through the relay.
type terminalClient struct {
	logger  *slog.Logger
	relay   relay.Relay
	context *userstate.Context
	router  *router.LogRouter
	policy  room.Policy

	coordinator *matchmaking.Coordinator

	// sessionCtx - the application lifetime context; session subscriptions
	// created from asynchronous callbacks attach to it.
	sessionCtx context.Context

	mu      sync.Mutex
	session *room.Session
}

func newTerminalClient(logger *slog.Logger, r relay.Relay, uctx *userstate.Context, rt *router.LogRouter, policy room.Policy) *terminalClient {
	client := &terminalClient{
		logger:  logger,
		relay:   r,
		context: uctx,
		router:  rt,
		policy:  policy,
	}

	coordinator := matchmaking.NewCoordinator(logger, r, uctx, rt)
	coordinator.OnWaiting = func(count int) {
		fmt.Printf("waiting for an opponent... (%d in queue)\n", count)
	}
	coordinator.OnNotice = func(message string) {
		fmt.Println(message)
	}
	coordinator.OnMatched = func(sessionID string, creator bool) {
		if err := client.enterSession(sessionID, &creator); err != nil {
			logger.Error("failed to enter matched session", "error", err)
		}
	}
	client.coordinator = coordinator

	return client
}

// Run - resumes a stored session if one exists, then drives the command loop
// until the context is canceled or the user quits.
func (that *terminalClient) Run(ctx context.Context) error {
	that.sessionCtx = ctx

	that.resume(ctx)

	printHelp()

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := that.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// resume - a reload lands the participant back in its stored session, role
// intact, without re-running matchmaking or role assignment.
func (that *terminalClient) resume(ctx context.Context) {
	status := that.context.Status
	if status != userstate.StatusInGame && status != userstate.StatusMatched && status != userstate.StatusDisconnected {
		return
	}

	if entity.ValidateSessionID(that.context.RoomID) != nil {
		return
	}

	fmt.Printf("resuming session %s\n", that.context.RoomID)

	if err := that.enterSessionCtx(ctx, that.context.RoomID, nil); err != nil {
		that.logger.Error("failed to resume session", "error", err)
		fmt.Println("could not resume stored session")
	}
}

func (that *terminalClient) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return false
	}

	switch fields[0] {
	case "match":
		if err := that.coordinator.Join(ctx); err != nil {
			fmt.Println("error:", err)
		}

	case "cancel":
		if err := that.coordinator.Leave(); err != nil {
			fmt.Println("error:", err)
		}

	case "new":
		sessionID := entity.NewSessionID()
		fmt.Printf("session code: %s (share it with a friend)\n", sessionID)
		that.context.Mode = userstate.ModeFriend
		if err := that.enterSessionCtx(ctx, sessionID, nil); err != nil {
			fmt.Println("error:", err)
		}

	case "join":
		if len(fields) != 2 {
			fmt.Println("usage: join CODE")
			return false
		}
		that.context.Mode = userstate.ModeFriend
		if err := that.enterSessionCtx(ctx, strings.ToUpper(fields[1]), nil); err != nil {
			fmt.Println("error:", err)
		}

	case "move":
		that.move(fields[1:])

	case "board":
		that.printBoard()

	case "reset":
		if session := that.currentSession(); session != nil {
			if err := session.Reset(); err != nil {
				fmt.Println("error:", err)
			}
		} else {
			fmt.Println("not in a session")
		}

	case "leave":
		if session := that.currentSession(); session != nil {
			if err := session.Leave(); err != nil {
				fmt.Println("error:", err)
			}
			that.setSession(nil)
		} else {
			fmt.Println("not in a session")
		}

	case "quit":
		// Exit without clearing state so the session can be resumed.
		return true

	case "help":
		printHelp()

	default:
		fmt.Println("unknown command; type 'help'")
	}

	return false
}

func (that *terminalClient) move(args []string) {
	session := that.currentSession()
	if session == nil {
		fmt.Println("not in a session")
		return
	}

	if len(args) != 2 {
		fmt.Println("usage: move ROW COL (0-2)")
		return
	}

	row, errRow := strconv.Atoi(args[0])
	col, errCol := strconv.Atoi(args[1])
	if errRow != nil || errCol != nil {
		fmt.Println("usage: move ROW COL (0-2)")
		return
	}

	if err := session.MakeMove(row, col); err != nil {
		fmt.Println("error:", err)
	}
}

// enterSession - used by the matchmaking callback, where the coordinator
// already knows who created the session.
func (that *terminalClient) enterSession(sessionID string, creator *bool) error {
	return that.enterSessionCtx(that.sessionCtx, sessionID, creator)
}

func (that *terminalClient) enterSessionCtx(ctx context.Context, sessionID string, creator *bool) error {
	session := room.NewSession(that.logger, that.relay, that.context, that.router, that.policy)
	session.OnNotice = func(message string) {
		fmt.Println(message)
	}
	session.OnUpdate = func(view room.View) {
		renderView(view)
	}

	var err error
	if creator != nil {
		err = session.JoinMatched(ctx, sessionID, *creator)
	} else {
		err = session.Join(ctx, sessionID)
	}
	if err != nil {
		return err
	}

	that.setSession(session)

	return nil
}

func (that *terminalClient) currentSession() *room.Session {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.session
}

func (that *terminalClient) setSession(session *room.Session) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.session = session
}

func (that *terminalClient) printBoard() {
	session := that.currentSession()
	if session == nil {
		fmt.Println("not in a session")
		return
	}

	renderView(session.View())
}

func renderView(view room.View) {
	fmt.Printf("session %s | phase %s | you are %s\n", view.SessionID, view.Phase, orDash(string(view.Role)))

	for row := 0; row < entity.BoardSize; row++ {
		cells := make([]string, 0, entity.BoardSize)
		for col := 0; col < entity.BoardSize; col++ {
			cells = append(cells, orDash(string(view.Board.Cell(row, col))))
		}
		fmt.Println(" " + strings.Join(cells, " | "))
	}

	switch view.Status {
	case entity.StatusWon:
		fmt.Printf("%s wins! cells %v\n", view.Winner, view.WinningCells)
	case entity.StatusDraw:
		fmt.Println("draw!")
	default:
		if view.Turn != entity.EmptyCell {
			fmt.Printf("turn: %s\n", view.Turn)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func printHelp() {
	fmt.Println(`commands:
  match       join random matchmaking
  cancel      leave the waiting queue
  new         create a session and print its code
  join CODE   join a friend's session
  move R C    mark a cell (rows and columns 0-2)
  board       print the current board
  reset       restart a finished game
  leave       abandon the current session
  quit        exit (the session can be resumed on restart)`)
}
