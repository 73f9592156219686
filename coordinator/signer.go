package coordinator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gloam-network/gloam/types"
	log "github.com/sirupsen/logrus"
)

// ApproveFunc is invoked once per required signature before the wallet key
// touches a digest. input is nil for the transaction-level signature of a
// transaction with no shielded inputs. Returning false denies the whole
// operation.
type ApproveFunc func(draft types.Draft, input *types.FundedInput) bool

type signer struct {
	approve ApproveFunc
}

func newSigner(approve ApproveFunc) *signer {
	return &signer{approve: approve}
}

// Sign finalizes a funded transaction: one BIP340 Schnorr signature per
// required digest, plus the stable TxID over the canonical body. Raw
// signature payloads are never logged.
func (s *signer) Sign(
	ctx context.Context, walletCtx WalletContext, fundedTx types.FundedTx,
) (types.FinalizedTx, error) {
	if fundedTx.Expired(time.Now()) {
		return types.FinalizedTx{}, newErrorf(
			KindTxExpired,
			"funded transaction expired at %s",
			fundedTx.ExpiresAt.Format(time.RFC3339),
		)
	}
	if fundedTx.InputValue() < fundedTx.OutputValue() {
		return types.FinalizedTx{}, newErrorf(
			KindInsufficientFunds,
			"inputs cover %d of %d required",
			fundedTx.InputValue(), fundedTx.OutputValue(),
		)
	}
	if walletCtx.IsLocked() {
		return types.FinalizedTx{}, newErrorf(KindKeyUnavailable, "wallet is locked")
	}

	body, err := canonicalBody(fundedTx)
	if err != nil {
		return types.FinalizedTx{}, err
	}
	txid := chainhash.DoubleHashH(body).String()

	digests, inputsByDigest := requiredDigests(body, fundedTx)
	signatures := make([]types.Signature, 0, len(digests))
	for i, digest := range digests {
		if !s.approve(fundedTx.Draft, inputsByDigest[i]) {
			return types.FinalizedTx{}, newErrorf(
				KindSigningDenied, "signature %d of %d declined", i+1, len(digests),
			)
		}
		signature, err := walletCtx.SignDigest(ctx, digest)
		if err != nil {
			return types.FinalizedTx{}, newError(KindKeyUnavailable, err)
		}
		signatures = append(signatures, signature)
	}

	log.WithField("txid", txid).Debugf(
		"finalized transaction with %d signature(s)", len(signatures),
	)

	return types.FinalizedTx{
		FundedTx:   fundedTx,
		TxID:       txid,
		Signatures: signatures,
	}, nil
}

// VerifyFinalized recomputes the canonical digests of a finalized
// transaction and checks every signature against them. Any mutation of the
// funded body after signing makes it fail.
func VerifyFinalized(tx types.FinalizedTx) error {
	body, err := canonicalBody(tx.FundedTx)
	if err != nil {
		return err
	}
	if txid := chainhash.DoubleHashH(body).String(); txid != tx.TxID {
		return fmt.Errorf("transaction id mismatch: got %s, want %s", tx.TxID, txid)
	}

	digests, _ := requiredDigests(body, tx.FundedTx)
	if len(tx.Signatures) != len(digests) {
		return fmt.Errorf(
			"wrong number of signatures: got %d, want %d",
			len(tx.Signatures), len(digests),
		)
	}

	for i, digest := range digests {
		sigBytes, err := hex.DecodeString(tx.Signatures[i].Value)
		if err != nil {
			return fmt.Errorf("malformed signature %d: %s", i, err)
		}
		signature, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			return fmt.Errorf("malformed signature %d: %s", i, err)
		}
		keyBytes, err := hex.DecodeString(tx.Signatures[i].PublicKey)
		if err != nil {
			return fmt.Errorf("malformed public key %d: %s", i, err)
		}
		pubKey, err := schnorr.ParsePubKey(keyBytes)
		if err != nil {
			return fmt.Errorf("malformed public key %d: %s", i, err)
		}
		if !signature.Verify(digest, pubKey) {
			return fmt.Errorf("invalid signature %d", i)
		}
	}
	return nil
}

// canonicalBody is the byte form every signature and the TxID commit to.
// JSON with the fixed field order of the struct definitions, matching what
// goes over the wire at submission.
func canonicalBody(tx types.FundedTx) ([]byte, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction body: %s", err)
	}
	return body, nil
}

// requiredDigests lists what must be signed: one digest per shielded input,
// or a single transaction-level digest when there are none.
func requiredDigests(
	body []byte, tx types.FundedTx,
) ([][]byte, []*types.FundedInput) {
	if len(tx.Inputs) == 0 {
		return [][]byte{chainhash.DoubleHashB(body)}, []*types.FundedInput{nil}
	}

	digests := make([][]byte, 0, len(tx.Inputs))
	inputs := make([]*types.FundedInput, 0, len(tx.Inputs))
	for i := range tx.Inputs {
		input := tx.Inputs[i]
		buf := make([]byte, 0, len(body)+len(input.Nullifier))
		buf = append(buf, body...)
		buf = append(buf, []byte(input.Nullifier)...)
		digests = append(digests, chainhash.DoubleHashB(buf))
		inputs = append(inputs, &input)
	}
	return digests, inputs
}
