package storage

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/MELD-labs/evm-defi-public-sub006/native/lending"
)

const (
	reservePrefix = "lending/reserve/"
	userPrefix    = "lending/user/"
	balancePrefix = "lending/bal/"
)

// Store persists the lending engine's records in a key-value database using
// RLP encoding. It implements lending.State.
type Store struct {
	db Database
}

func NewStore(db Database) *Store {
	return &Store{db: db}
}

func reserveKey(asset string) []byte {
	return []byte(reservePrefix + asset)
}

func userKey(addr common.Address, asset string) []byte {
	return []byte(userPrefix + addr.Hex() + "/" + asset)
}

func balanceKey(asset string, addr common.Address) []byte {
	return []byte(balancePrefix + asset + "/" + addr.Hex())
}

// Reserve loads the reserve record for the asset, nil when never written.
func (s *Store) Reserve(asset string) (*lending.Reserve, error) {
	raw, err := s.db.Get(reserveKey(asset))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	reserve := new(lending.Reserve)
	if err := rlp.DecodeBytes(raw, reserve); err != nil {
		return nil, fmt.Errorf("storage: decode reserve %s: %w", asset, err)
	}
	return reserve, nil
}

func (s *Store) PutReserve(asset string, reserve *lending.Reserve) error {
	raw, err := rlp.EncodeToBytes(reserve)
	if err != nil {
		return fmt.Errorf("storage: encode reserve %s: %w", asset, err)
	}
	return s.db.Put(reserveKey(asset), raw)
}

// UserReserve loads the address's position in the asset, nil when absent.
func (s *Store) UserReserve(asset string, addr common.Address) (*lending.UserReserve, error) {
	raw, err := s.db.Get(userKey(addr, asset))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user := new(lending.UserReserve)
	if err := rlp.DecodeBytes(raw, user); err != nil {
		return nil, fmt.Errorf("storage: decode position %s/%s: %w", asset, addr.Hex(), err)
	}
	return user, nil
}

func (s *Store) PutUserReserve(asset string, user *lending.UserReserve) error {
	if user == nil {
		return nil
	}
	raw, err := rlp.EncodeToBytes(user)
	if err != nil {
		return fmt.Errorf("storage: encode position %s/%s: %w", asset, user.Address.Hex(), err)
	}
	return s.db.Put(userKey(user.Address, asset), raw)
}

// UserReserves lists every position held by the address keyed by asset.
func (s *Store) UserReserves(addr common.Address) (map[string]*lending.UserReserve, error) {
	prefix := userPrefix + addr.Hex() + "/"
	out := make(map[string]*lending.UserReserve)
	err := s.db.Iterate([]byte(prefix), func(key, value []byte) error {
		asset := strings.TrimPrefix(string(key), prefix)
		if asset == "" {
			return nil
		}
		user := new(lending.UserReserve)
		if err := rlp.DecodeBytes(value, user); err != nil {
			return fmt.Errorf("storage: decode position %s/%s: %w", asset, addr.Hex(), err)
		}
		out[asset] = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Balance loads the address's underlying balance, nil when never funded.
func (s *Store) Balance(asset string, addr common.Address) (*big.Int, error) {
	raw, err := s.db.Get(balanceKey(asset, addr))
	if errors.Is(err, ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, fmt.Errorf("storage: decode balance %s/%s: %w", asset, addr.Hex(), err)
	}
	return balance, nil
}

func (s *Store) PutBalance(asset string, addr common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	raw, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return fmt.Errorf("storage: encode balance %s/%s: %w", asset, addr.Hex(), err)
	}
	return s.db.Put(balanceKey(asset, addr), raw)
}
