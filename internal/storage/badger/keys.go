package badger

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	ledgermodels "tokenbank/internal/ledger/models"
	"tokenbank/pkg/domain"
)

// Key prefixes. Each key is one code byte followed by its parts.
const (
	codeSequence = 1

	codeRegistry = 10

	codeAccount           = 20
	codeAccountByRegistry = 21 // registry id, account id

	codeVault     = 30 // registry id, token
	codeVaultSlot = 31 // registry id, token

	codeMint = 40 // token

	codeHolding = 50

	codeEvent            = 60 // sequence
	codeEventByID        = 61 // event id -> sequence
	codeEventByAccount   = 62 // account id, sequence
	codeEventUnpublished = 63 // sequence
)

func makePrefix(code byte, keys ...interface{}) []byte {
	prefix := []byte{code}
	for _, key := range keys {
		prefix = append(prefix, b(key)...)
	}
	return prefix
}

func b(v interface{}) []byte {
	switch i := v.(type) {
	case uint64:
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, i)
		return buf
	case domain.RegistryID:
		return i[:]
	case domain.AccountID:
		return i[:]
	case domain.HoldingID:
		return i[:]
	case domain.EventID:
		return i[:]
	case domain.TokenType:
		return []byte(i)
	case string:
		return []byte(i)
	default:
		panic(fmt.Sprintf("unsupported type to convert (%T)", v))
	}
}

func registryKey(id domain.RegistryID) []byte { return makePrefix(codeRegistry, id) }
func accountKey(id domain.AccountID) []byte   { return makePrefix(codeAccount, id) }
func mintKey(token domain.TokenType) []byte   { return makePrefix(codeMint, token) }
func holdingKey(id domain.HoldingID) []byte   { return makePrefix(codeHolding, id) }
func eventKey(seq uint64) []byte              { return makePrefix(codeEvent, seq) }
func eventIDKey(id domain.EventID) []byte     { return makePrefix(codeEventByID, id) }

func accountIndexKey(registryID domain.RegistryID, accountID domain.AccountID) []byte {
	return makePrefix(codeAccountByRegistry, registryID, accountID)
}

func vaultKey(key ledgermodels.VaultKey) []byte {
	return makePrefix(codeVault, key.RegistryID, key.Token)
}

func vaultSlotKey(key ledgermodels.VaultKey) []byte {
	return makePrefix(codeVaultSlot, key.RegistryID, key.Token)
}

func accountEventKey(accountID domain.AccountID, seq uint64) []byte {
	return makePrefix(codeEventByAccount, accountID, seq)
}

func unpublishedKey(seq uint64) []byte {
	return makePrefix(codeEventUnpublished, seq)
}

// trailingUUID reads the 16-byte id at the end of an index key.
func trailingUUID(key []byte) (uuid.UUID, error) {
	if len(key) < 16 {
		return uuid.Nil, fmt.Errorf("index key too short: %x", key)
	}
	return uuid.FromBytes(key[len(key)-16:])
}

// trailingSeq reads the 8-byte sequence at the end of an index key.
func trailingSeq(key []byte) (uint64, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("index key too short: %x", key)
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), nil
}
