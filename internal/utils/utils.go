package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gloam-network/gloam/common"
	"github.com/gloam-network/gloam/types"
	"golang.org/x/crypto/scrypt"
)

// CoinSelect picks spendable coins covering amount. Coins are consumed
// oldest first when sortByCreation is set. If the change left over is
// below dust, one more coin is absorbed so the change output stays above
// the threshold.
func CoinSelect(
	coins []types.Coin, amount, dust uint64, sortByCreation bool,
) ([]types.Coin, uint64, error) {
	selected := make([]types.Coin, 0)
	notSelected := make([]types.Coin, 0)
	selectedAmount := uint64(0)

	if sortByCreation {
		sort.SliceStable(coins, func(i, j int) bool {
			return coins[i].CreatedAt.Before(coins[j].CreatedAt)
		})
	}

	for _, coin := range coins {
		if selectedAmount >= amount {
			notSelected = append(notSelected, coin)
			continue
		}

		selected = append(selected, coin)
		selectedAmount += coin.Value
	}

	if selectedAmount < amount {
		return nil, 0, fmt.Errorf(
			"not enough funds to cover amount %d", amount,
		)
	}

	change := selectedAmount - amount

	if change > 0 && change < dust {
		if len(notSelected) > 0 {
			selected = append(selected, notSelected[0])
			change += notSelected[0].Value
		}
	}

	return selected, change, nil
}

func NetworkFromString(net string) common.Network {
	switch net {
	case common.TestNet.Name:
		return common.TestNet
	case common.RegTest.Name:
		return common.RegTest
	case common.MainNet.Name:
		fallthrough
	default:
		return common.MainNet
	}
}

func GenerateRandomPrivateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// Zero overwrites key material in place before it is dropped.
func Zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

func HashPassword(password []byte) []byte {
	hash := sha256.Sum256(password)
	return hash[:]
}

func EncryptAES256(privateKey, password []byte) ([]byte, error) {
	// Due to https://github.com/golang/go/issues/7168.
	// This call makes sure that memory is freed in case the GC doesn't do
	// that right after the encryption/decryption.
	defer debug.FreeOSMemory()

	if len(privateKey) == 0 {
		return nil, fmt.Errorf("missing plaintext private key")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing encryption password")
	}

	key, salt, err := deriveKey(password, nil)
	if err != nil {
		return nil, err
	}

	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := gcm.Seal(nonce, nonce, privateKey, nil)
	ciphertext = append(ciphertext, salt...)

	return ciphertext, nil
}

func DecryptAES256(encrypted, password []byte) ([]byte, error) {
	defer debug.FreeOSMemory()

	if len(encrypted) == 0 {
		return nil, fmt.Errorf("missing encrypted key")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing decryption password")
	}

	salt := encrypted[len(encrypted)-32:]
	data := encrypted[:len(encrypted)-32]

	key, _, err := deriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	blockCipher, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(blockCipher)
	if err != nil {
		return nil, err
	}
	nonce, text := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, text, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid password")
	}
	return plaintext, nil
}

// deriveKey derives a 32 byte array key from a custom passhprase
func deriveKey(password, salt []byte) ([]byte, []byte, error) {
	if salt == nil {
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, err
		}
	}
	// 2^20 = 1048576 recommended length for key-stretching
	// check the doc for other recommended values:
	// https://godoc.org/golang.org/x/crypto/scrypt
	key, err := scrypt.Key(password, salt, 1048576, 8, 1, 32)
	if err != nil {
		return nil, nil, err
	}
	return key, salt, nil
}
