package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/decred/slog"

	"github.com/grmkris/trivia-royale-erc7824-sub000/client"
	"github.com/grmkris/trivia-royale-erc7824-sub000/quiz"
	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

var (
	datadir    = flag.String("datadir", "", "Directory for keys and state")
	relayURL   = flag.String("url", "", "URL of the relay websocket endpoint")
	broker     = flag.String("broker", "", "Broker address on the relay")
	asset      = flag.String("asset", "", "Asset symbol")
	simFunds   = flag.Int64("simfunds", 0, "Seed a simulated settlement engine with this wallet balance")
	debugLevel = flag.String("debuglevel", "info", "Log level")

	showBalances = flag.Bool("balances", false, "Print the four-layer balance view")
	depositAmt   = flag.Int64("deposit", 0, "Deposit this amount into the channel")
	withdrawAmt  = flag.Int64("withdraw", 0, "Withdraw this amount to the wallet")
	sendTo       = flag.String("send", "", "Off-chain payment as address:amount")
	signPath     = flag.String("sign", "", "Sign the session proposal at this path and print the signature")
	play         = flag.Bool("play", false, "Join a game and answer questions interactively")
)

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

	bknd := slog.NewBackend(os.Stderr)
	log := bknd.Logger("PLYR")
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

	// Signing a proposal needs only the local session key.
	if *signPath != "" {
		return signProposal(c, *signPath)
	}

	if err := c.Connect(ctx, nil); err != nil {
		return fmt.Errorf("connect to relay: %w", err)
	}
	defer c.Disconnect()
	log.Infof("connected as %s", c.Address())

	switch {
	case *showBalances:
		b, err := c.GetBalances(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("wallet:  %d\ncustody: %d\nchannel: %d\nledger:  %d\ntotal:   %d\n",
			b.Wallet, b.Custody, b.Channel, b.Ledger, b.Total())
		return nil

	case *depositAmt > 0:
		if err := c.Deposit(ctx, *depositAmt); err != nil {
			return err
		}
		log.Infof("deposited %d", *depositAmt)
		return nil

	case *withdrawAmt > 0:
		if err := c.Withdraw(ctx, *withdrawAmt); err != nil {
			return err
		}
		log.Infof("withdrew %d", *withdrawAmt)
		return nil

	case *sendTo != "":
		to, amt, err := parseSend(*sendTo)
		if err != nil {
			return err
		}
		if err := c.Send(ctx, to, amt); err != nil {
			return err
		}
		log.Infof("sent %d to %s", amt, to)
		return nil

	case *play:
		return playGame(ctx, c, bknd)
	}

	return fmt.Errorf("no action given, see -help")
}

// signProposal prints a JSON fragment mapping this player's address to its
// signature over the proposal, ready to merge into the coordinator's sigs
// file.
func signProposal(c *client.TriviaClient, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read proposal: %w", err)
	}
	var prop struct {
		Definition  relay.SessionDefinition `json:"definition"`
		Allocations []relay.Allocation      `json:"allocations"`
	}
	if err := json.Unmarshal(raw, &prop); err != nil {
		return fmt.Errorf("parse proposal: %w", err)
	}
	sig, err := c.SignSessionRequest(&prop.Definition, prop.Allocations)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]string{c.Address(): sig}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// playGame answers questions from stdin until the session closes or the
// context ends.
func playGame(ctx context.Context, c *client.TriviaClient, bknd *slog.Backend) error {
	stdin := bufio.NewReader(os.Stdin)
	done := make(chan struct{})
	var closeOnce sync.Once

	answer := func(round int, question string) (string, error) {
		fmt.Printf("\nround %d: %s\nanswer> ", round, question)
		line, err := stdin.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	onWin := func(sessionID string, w quiz.WinnerMsg) {
		c.Notifications().NotifyRoundWinner(sessionID, w.Winner, time.Now())
		if w.Winner == "" {
			fmt.Printf("round %d: no winner, answer was %q\n", w.Round, w.Answer)
		} else if w.Winner == c.Address() {
			fmt.Printf("round %d: you won %d! answer was %q\n", w.Round, w.Prize, w.Answer)
		} else {
			fmt.Printf("round %d: %s won, answer was %q\n", w.Round, w.Winner, w.Answer)
		}
	}

	p, err := quiz.NewPlayer(c.Address(), c, answer, onWin, bknd.Logger("QUIZ"))
	if err != nil {
		return err
	}
	for _, mt := range []string{quiz.MsgQuestion, quiz.MsgRevealRequest, quiz.MsgWinner} {
		c.RegisterMessageHandler(mt, func(sid, _ string, data json.RawMessage) {
			p.HandleMessage(sid, mt, data)
		})
	}
	c.Notifications().RegisterSessionClosed(func(n relay.SessionClosedNtfn, _ time.Time) {
		fmt.Printf("session %s closed\n", n.AppSessionID)
		closeOnce.Do(func() { close(done) })
	})

	fmt.Printf("waiting for a game as %s\n", c.Address())
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func parseSend(s string) (string, int64, error) {
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return "", 0, fmt.Errorf("bad -send %q, want address:amount", s)
	}
	amt, err := strconv.ParseInt(s[i+1:], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("bad amount in -send %q: %w", s, err)
	}
	return s[:i], amt, nil
}
