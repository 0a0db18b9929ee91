package relay

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/pairlink/core"
)

// SigningMessage is the text a wallet signs to approve a pairing topic
func SigningMessage(topic string) string {
	return "pairlink:" + topic
}

// VerifySignature checks an EIP-191 personal_sign signature over msg against
// the expected address. Both 0/1 and 27/28 recovery ids are accepted.
func VerifySignature(msg, signatureHex string, expected common.Address) error {
	decoded, err := hexutil.Decode(signatureHex)
	if err != nil {
		return fmt.Errorf("failed to decode signature: %w", core.ErrInvalidSignature)
	}
	if len(decoded) != crypto.SignatureLength {
		return fmt.Errorf("signature must be %d bytes: %w", crypto.SignatureLength, core.ErrInvalidSignature)
	}

	sig := make([]byte, len(decoded))
	copy(sig, decoded)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(msg)), sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", core.ErrInvalidSignature)
	}

	if crypto.PubkeyToAddress(*pub) != expected {
		return core.ErrInvalidSignature
	}

	return nil
}
