package contract

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	"github.com/consensys/gnark-crypto/ecc/bls12-377/fr/mimc"
)

// Shielded coins are MiMC commitments over BLS12-377 field elements. Every
// input is reduced into the field before hashing so the digest only ever
// sees canonical blocks.

// OwnerKey derives the shielded public key for a spend key.
func OwnerKey(spendKey []byte) []byte {
	h := mimc.NewMiMC()
	h.Write(fieldBytes(spendKey))
	return h.Sum(nil)
}

// Commitment binds a coin to its value, owner and randomness:
// cm = MiMC(value || pk || rho || r).
func Commitment(value uint64, ownerKey, rho, r []byte) []byte {
	h := mimc.NewMiMC()
	h.Write(valueBytes(value))
	h.Write(fieldBytes(ownerKey))
	h.Write(fieldBytes(rho))
	h.Write(fieldBytes(r))
	return h.Sum(nil)
}

// Nullifier marks a coin spent without revealing which commitment it
// belongs to: nf = MiMC(sk || rho).
func Nullifier(spendKey, rho []byte) []byte {
	h := mimc.NewMiMC()
	h.Write(fieldBytes(spendKey))
	h.Write(fieldBytes(rho))
	return h.Sum(nil)
}

// ContractID derives a fresh contract identifier from the deployer key and
// a one-time nonce.
func ContractID(deployerKey, nonce []byte) []byte {
	h := mimc.NewMiMC()
	h.Write(fieldBytes(deployerKey))
	h.Write(fieldBytes(nonce))
	return h.Sum(nil)
}

func fieldBytes(b []byte) []byte {
	var e fr.Element
	e.SetBytes(b)
	buf := e.Bytes()
	return buf[:]
}

func valueBytes(v uint64) []byte {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint64(buf[24:], v)
	return buf
}
