package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/grmkris/trivia-royale-erc7824-sub000/relay"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Balances is the unified four-layer view of a party's funds for the
// configured asset. Ledger is the off-chain value beyond what the last
// on-chain-provable state locks in the channel; total off-chain value is
// Channel + Ledger, never double-counted.
type Balances struct {
	Wallet  int64
	Custody int64
	Channel int64
	Ledger  int64
}

// Total returns the sum across all four layers.
func (b *Balances) Total() int64 {
	return b.Wallet + b.Custody + b.Channel + b.Ledger
}

// GetBalances computes the unified balance view. Wallet and custody reads go
// to the settlement engine and propagate failures; the off-chain layers
// (channel, ledger) read as zero when unavailable, since absence of a channel
// or an unreachable relay is a valid and common state.
func (c *TriviaClient) GetBalances(ctx context.Context) (*Balances, error) {
	wallet, err := c.settle.WalletBalance(ctx, c.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("wallet balance: %w", err)
	}
	custody, err := c.settle.CustodyBalance(ctx, c.cfg.Asset)
	if err != nil {
		return nil, fmt.Errorf("custody balance: %w", err)
	}

	b := &Balances{Wallet: wallet, Custody: custody}

	open, err := c.openChannelWithBroker(ctx)
	if err != nil || open == nil {
		if err != nil {
			c.log.Debugf("treating channel layer as zero: %v", err)
		}
		return b, nil
	}
	chanBal, err := c.settle.ChannelBalance(ctx, open.ChannelID)
	if err != nil {
		c.log.Debugf("treating channel layer as zero: %v", err)
		return b, nil
	}
	b.Channel = chanBal

	total, err := c.ledgerTotal(ctx)
	if err != nil {
		c.log.Debugf("treating ledger layer as zero: %v", err)
		return b, nil
	}
	// The relay reports total off-chain value; ledger is the portion beyond
	// the channel's locked amount. A resize racing the relay's ledger update
	// can briefly make this negative; clamp to zero rather than reporting a
	// negative layer.
	ledger := total - chanBal
	if ledger < 0 {
		c.log.Warnf("relay off-chain total %d below channel balance %d; clamping ledger to 0", total, chanBal)
		ledger = 0
	}
	b.Ledger = ledger
	return b, nil
}

// ledgerTotal asks the relay for the party's total off-chain balance.
func (c *TriviaClient) ledgerTotal(ctx context.Context) (int64, error) {
	conn, err := c.relay()
	if err != nil {
		return 0, err
	}
	var resp relay.LedgerBalancesResponse
	err = conn.RequestInto(ctx, relay.KindGetLedgerBalances, &relay.GetLedgerBalancesRequest{
		Participant: c.address,
	}, relay.KindLedgerBalances, shortTimeout, nil, &resp)
	if err != nil {
		return 0, err
	}
	for _, lb := range resp.Balances {
		if lb.Asset == c.cfg.Asset {
			return lb.Amount, nil
		}
	}
	return 0, nil
}

// Deposit routes amount into the channel. Without a channel the full amount
// must sit in the wallet (custody funds cannot seed a first channel) and a
// channel is created. With a channel, custody funds are preferred over wallet
// funds: custody needs no new on-chain approval step. Any wallet-sourced
// remainder moves into custody first, then one resize lifts the combined
// amount into the channel.
func (c *TriviaClient) Deposit(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d", amount)
	}
	b, err := c.GetBalances(ctx)
	if err != nil {
		return err
	}

	open, err := c.openChannelWithBroker(ctx)
	if err != nil {
		return err
	}
	if open == nil {
		if b.Wallet < amount {
			return fmt.Errorf("%w: need %d in wallet to open a channel, have %d",
				ErrInsufficientFunds, amount, b.Wallet)
		}
		_, err := c.CreateChannel(ctx, amount)
		return err
	}

	plan := planDeposit(amount, b.Custody, b.Wallet)
	if plan.walletToUse > b.Wallet {
		return fmt.Errorf("%w: deposit %d exceeds custody %d + wallet %d",
			ErrInsufficientFunds, amount, b.Custody, b.Wallet)
	}

	if plan.walletToUse > 0 {
		pend, err := c.settle.Deposit(ctx, c.cfg.Asset, plan.walletToUse)
		if err != nil {
			return fmt.Errorf("move wallet funds to custody: %w", err)
		}
		waitCtx, cancel := context.WithTimeout(ctx, longTimeout)
		defer cancel()
		if _, err := pend.WaitForReceipt(waitCtx); err != nil {
			return fmt.Errorf("wait for custody deposit: %w", err)
		}
	}

	return c.ResizeChannel(ctx, amount, 0)
}

// depositPlan is the fund-routing decision for a deposit into an existing
// channel.
type depositPlan struct {
	custodyToUse int64
	walletToUse  int64
}

func planDeposit(amount, custody, wallet int64) depositPlan {
	p := depositPlan{custodyToUse: custody}
	if p.custodyToUse > amount {
		p.custodyToUse = amount
	}
	p.walletToUse = amount - p.custodyToUse
	return p
}

// Withdraw drains channel and ledger value into custody, closes the channel,
// and withdraws from custody to the wallet. The settlement engine can only
// move value out of a channel through a cosigned resize/close, never straight
// to the wallet, hence the two phases.
func (c *TriviaClient) Withdraw(ctx context.Context, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("withdraw amount must be positive, got %d", amount)
	}
	b, err := c.GetBalances(ctx)
	if err != nil {
		return err
	}
	avail := b.Channel + b.Ledger + b.Custody
	if amount > avail {
		return fmt.Errorf("%w: withdraw %d exceeds available %d",
			ErrInsufficientFunds, amount, avail)
	}

	if b.Channel+b.Ledger > 0 {
		// One resize folds ledger into the channel and drains the channel to
		// custody: both deltas negative.
		if err := c.ResizeChannel(ctx, -(b.Channel + b.Ledger), -b.Ledger); err != nil {
			return fmt.Errorf("drain channel: %w", err)
		}
		if err := c.CloseChannel(ctx); err != nil {
			return fmt.Errorf("close drained channel: %w", err)
		}
	}

	// Re-read custody after the drain instead of assuming the arithmetic;
	// cap at what custody actually holds.
	custody, err := c.settle.CustodyBalance(ctx, c.cfg.Asset)
	if err != nil {
		return fmt.Errorf("custody balance after drain: %w", err)
	}
	toWithdraw := amount
	if toWithdraw > custody {
		toWithdraw = custody
	}
	if toWithdraw == 0 {
		return nil
	}

	pend, err := c.settle.Withdraw(ctx, c.cfg.Asset, toWithdraw)
	if err != nil {
		return fmt.Errorf("withdraw from custody: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, longTimeout)
	defer cancel()
	if _, err := pend.WaitForReceipt(waitCtx); err != nil {
		return fmt.Errorf("wait for withdrawal receipt: %w", err)
	}
	return nil
}

// Send transfers off-chain value to another party through the relay ledger.
// No custody or channel interaction: this is the low-latency payment path.
func (c *TriviaClient) Send(ctx context.Context, to string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("send amount must be positive, got %d", amount)
	}
	b, err := c.GetBalances(ctx)
	if err != nil {
		return err
	}
	if amount > b.Channel+b.Ledger {
		return fmt.Errorf("%w: send %d exceeds off-chain balance %d",
			ErrInsufficientFunds, amount, b.Channel+b.Ledger)
	}

	conn, err := c.relay()
	if err != nil {
		return err
	}
	var resp relay.TransferResponse
	err = conn.RequestInto(ctx, relay.KindTransfer, &relay.TransferRequest{
		Destination: to,
		Asset:       c.cfg.Asset,
		Amount:      amount,
	}, relay.KindTransferDone, shortTimeout, nil, &resp)
	if err != nil {
		return fmt.Errorf("transfer to %s: %w", to, err)
	}
	if !resp.Completed {
		return fmt.Errorf("relay did not complete transfer to %s", to)
	}
	return nil
}
