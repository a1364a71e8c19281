package db

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"
)

func init() {
	meddler.Register("address", hexMeddler[common.Address]{
		parse:  common.HexToAddress,
		format: func(a common.Address) string { return a.Hex() },
		name:   "common.Address",
	})
	meddler.Register("hash", hexMeddler[common.Hash]{
		parse:  common.HexToHash,
		format: func(h common.Hash) string { return h.Hex() },
		name:   "common.Hash",
	})
}

// hexMeddler adapts any 0x-hex-encodable fixed-size type (common.Address,
// common.Hash, and friends) to a nullable SQLite text column, replacing
// what the teacher keeps as two near-identical AddressMeddler/HashMeddler
// structs with one generic implementation registered twice.
type hexMeddler[T any] struct {
	parse  func(string) T
	format func(T) string
	name   string
}

func (m hexMeddler[T]) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	return new(sql.NullString), nil
}

func (m hexMeddler[T]) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("chainwatch: hexMeddler expected *sql.NullString, got %T", scanTarget)
	}

	if ptr, ok := fieldAddr.(**T); ok {
		if !ns.Valid {
			*ptr = nil
			return nil
		}
		parsed := m.parse(ns.String)
		*ptr = &parsed
		return nil
	}

	if ptr, ok := fieldAddr.(*T); ok {
		if !ns.Valid {
			var zero T
			*ptr = zero
			return nil
		}
		*ptr = m.parse(ns.String)
		return nil
	}

	return fmt.Errorf("chainwatch: hexMeddler expected *%s or **%s, got %T", m.name, m.name, fieldAddr)
}

func (m hexMeddler[T]) PreWrite(field interface{}) (saveValue interface{}, err error) {
	if ptr, ok := field.(*T); ok {
		if ptr == nil {
			return nil, nil
		}
		return m.format(*ptr), nil
	}

	if value, ok := field.(T); ok {
		return m.format(value), nil
	}

	return nil, fmt.Errorf("chainwatch: hexMeddler expected %s or *%s, got %T", m.name, m.name, field)
}
