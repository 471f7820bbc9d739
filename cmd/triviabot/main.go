package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/decred/slog"
	"golang.org/x/sync/errgroup"

	"github.com/grmkris/trivia-royale-erc7824-sub000/client"
	"github.com/grmkris/trivia-royale-erc7824-sub000/quiz"
	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

var (
	datadir      = flag.String("datadir", "", "Directory for keys and state")
	relayURL     = flag.String("url", "", "URL of the relay websocket endpoint")
	broker       = flag.String("broker", "", "Broker address on the relay")
	asset        = flag.String("asset", "", "Asset symbol")
	entryFee     = flag.Int64("entryfee", 100, "Per-player entry fee")
	questionFile = flag.String("questions", "", "Path to JSON questions file")
	playersFlag  = flag.String("players", "", "Comma-separated player addresses")
	proposalPath = flag.String("proposal", "", "Path to write/read the session proposal")
	sigsPath     = flag.String("sigs", "", "Path to JSON file of player signatures")
	commitWin    = flag.Duration("commitwindow", 15*time.Second, "Commit window per round")
	revealWin    = flag.Duration("revealwindow", 10*time.Second, "Reveal window per round")
	simFunds     = flag.Int64("simfunds", 0, "Seed a simulated settlement engine with this wallet balance")
	debugLevel   = flag.String("debuglevel", "info", "Log level")
)

// proposal is the file exchanged with players before the game starts: the
// coordinator writes it, each player signs it with triviaclient -sign and
// returns a signature.
type proposal struct {
	Definition  relay.SessionDefinition `json:"definition"`
	Allocations []relay.Allocation      `json:"allocations"`
}

func main() {
	flag.Parse()
	if err := realMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bknd := slog.NewBackend(os.Stdout)
	log := bknd.Logger("BOT")
	lvl, ok := slog.LevelFromString(*debugLevel)
	if !ok {
		return fmt.Errorf("unknown debuglevel %q", *debugLevel)
	}
	log.SetLevel(lvl)

	cfg, err := client.LoadAppConfig(*datadir, client.ConfigOverrides{
		RelayURL: *relayURL,
		Broker:   *broker,
		Asset:    *asset,
	})
	if err != nil {
		return err
	}

	players := splitList(*playersFlag)
	if len(players) == 0 {
		return fmt.Errorf("no players given, use -players")
	}

	if *simFunds <= 0 {
		return fmt.Errorf("no settlement engine configured, use -simfunds for local play")
	}
	sim := client.NewSimEngine("", cfg.Broker, cfg.Asset, *simFunds, 100*time.Millisecond)

	c, err := client.NewTriviaClient(&client.Cfg{
		AppCfg:     cfg,
		Log:        log,
		Settlement: sim,
	})
	if err != nil {
		return err
	}
	defer c.Close()
	sim.SetParty(c.Address())

	if err := c.Connect(ctx, nil); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer c.Disconnect()
	log.Infof("connected as %s", c.Address())

	// Phase 1: no signatures yet, emit the proposal for players to sign.
	if *sigsPath == "" {
		if *proposalPath == "" {
			return fmt.Errorf("use -proposal to write the session proposal")
		}
		def, allocs := c.PrepareSession(players, *entryFee)
		raw, err := json.MarshalIndent(&proposal{Definition: *def, Allocations: allocs}, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*proposalPath, raw, 0644); err != nil {
			return err
		}
		log.Infof("wrote session proposal to %s; collect signatures and rerun with -sigs", *proposalPath)
		return nil
	}

	// Phase 2: proposal plus signatures, run the game.
	prop, err := readProposal(*proposalPath)
	if err != nil {
		return err
	}
	sigs, err := readSigs(*sigsPath)
	if err != nil {
		return err
	}

	sessionID, err := c.CreateSession(ctx, &prop.Definition, prop.Allocations, sigs)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	log.Infof("session %s created with %d players", sessionID, len(players))

	questions, err := readQuestions(*questionFile)
	if err != nil {
		return err
	}

	eng, err := quiz.NewEngine(quiz.EngineConfig{
		SessionID:    sessionID,
		Asset:        cfg.Asset,
		Players:      prop.Definition.Participants[1:],
		Questions:    questions,
		EntryFee:     *entryFee,
		CommitWindow: *commitWin,
		RevealWindow: *revealWin,
		Messenger:    c,
		Log:          bknd.Logger("QUIZ"),
	})
	if err != nil {
		return err
	}
	for _, mt := range []string{quiz.MsgCommit, quiz.MsgReveal} {
		c.RegisterMessageHandler(mt, func(_, sender string, data json.RawMessage) {
			eng.HandleMessage(sender, mt, data)
		})
	}

	updates := make(chan relay.ChannelUpdate, 16)
	c.Notifications().RegisterChannelUpdate(func(u relay.ChannelUpdate, _ time.Time) {
		select {
		case updates <- u:
		default:
		}
	})

	gameDone := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(gameDone)
		finalAllocs, err := eng.Run(gctx)
		if err != nil {
			return fmt.Errorf("game: %w", err)
		}
		if err := c.CloseSession(gctx, sessionID, finalAllocs); err != nil {
			return fmt.Errorf("close session: %w", err)
		}
		log.Infof("session %s closed, prizes settled", sessionID)
		return nil
	})
	g.Go(func() error {
		// Surface broker-side channel activity while the game runs.
		for {
			select {
			case u := <-updates:
				log.Infof("channel %s is %s (v%d)", u.ChannelID, u.Status, u.Version)
			case <-gameDone:
				return nil
			case <-gctx.Done():
				return nil
			}
		}
	})
	return g.Wait()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func readProposal(path string) (*proposal, error) {
	if path == "" {
		return nil, fmt.Errorf("use -proposal to point at the session proposal")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proposal: %w", err)
	}
	var p proposal
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse proposal: %w", err)
	}
	return &p, nil
}

func readSigs(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	sigs := make(map[string]string)
	if err := json.Unmarshal(raw, &sigs); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	return sigs, nil
}

func readQuestions(path string) ([]quiz.Question, error) {
	if path == "" {
		return nil, fmt.Errorf("use -questions to point at a questions file")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	var qs []quiz.Question
	if err := json.Unmarshal(raw, &qs); err != nil {
		return nil, fmt.Errorf("parse questions: %w", err)
	}
	if len(qs) == 0 {
		return nil, fmt.Errorf("questions file %s is empty", path)
	}
	return qs, nil
}
