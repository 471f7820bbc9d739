package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/dcrd/crypto/blake256"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	triviaroyale "github.com/grmkris/trivia-royale-erc7824-sub000"
)

// authTimeout bounds each leg of the handshake; auth never waits on chain
// confirmations so the short budget applies.
const authTimeout = 10 * time.Second

// AuthChallengeDigest is the domain-bound digest a party signs to prove
// control of its identity key. Binding the session pubkey into the digest
// scopes the issued token to that session key.
func AuthChallengeDigest(challenge, address, sessionPub string) [32]byte {
	h := blake256.New()
	h.Write([]byte(triviaroyale.AuthTagV1))
	h.Write([]byte(challenge))
	h.Write([]byte{'|'})
	h.Write([]byte(address))
	h.Write([]byte{'|'})
	h.Write([]byte(sessionPub))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Authenticate runs the challenge/response handshake over conn and returns
// the session-scoped token. allowances may be nil.
func Authenticate(ctx context.Context, conn *Conn, identity *secp256k1.PrivateKey, sessionPub string, appName string, allowances []Allowance) (string, error) {
	address := triviaroyale.AddressFromPubKey(identity.PubKey())

	var challenge AuthChallenge
	err := conn.RequestInto(ctx, KindAuthRequest, &AuthRequest{
		Address:    address,
		SessionKey: sessionPub,
		AppName:    appName,
		Allowances: allowances,
	}, KindAuthChallenge, authTimeout, nil, &challenge)
	if err != nil {
		return "", fmt.Errorf("auth challenge: %w", err)
	}
	if challenge.Challenge == "" {
		return "", fmt.Errorf("relay sent empty auth challenge")
	}

	digest := AuthChallengeDigest(challenge.Challenge, address, sessionPub)
	sig, err := triviaroyale.SignDigest(identity, digest)
	if err != nil {
		return "", err
	}

	var sess AuthSession
	err = conn.RequestInto(ctx, KindAuthVerify, &AuthVerify{
		Address:   address,
		Challenge: challenge.Challenge,
		PubKey:    identityPubHex(identity),
		Signature: sig,
	}, KindAuthSession, authTimeout, nil, &sess)
	if err != nil {
		return "", fmt.Errorf("auth verify: %w", err)
	}
	if sess.Token == "" {
		return "", fmt.Errorf("relay accepted auth but sent no token")
	}
	return sess.Token, nil
}

func identityPubHex(priv *secp256k1.PrivateKey) string {
	return fmt.Sprintf("%x", priv.PubKey().SerializeCompressed())
}
