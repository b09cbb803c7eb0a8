package market

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/zeebo/blake3"
)

// TradeDigest hashes the economic content of a trade sequence. IDs are left out,
// so two runs that submit the same orders in the same order produce the same digest.
func TradeDigest(trades []Trade) string {
	hasher := blake3.New()
	buf := make([]byte, 8)
	writeString := func(s string) {
		binary.BigEndian.PutUint64(buf, uint64(len(s)))
		hasher.Write(buf)
		hasher.Write([]byte(s))
	}
	writeUint := func(v uint64) {
		binary.BigEndian.PutUint64(buf, v)
		hasher.Write(buf)
	}

	for _, t := range trades {
		writeString(string(t.GoodsID))
		writeString(string(t.BuyerID))
		writeString(string(t.SellerID))
		writeUint(math.Float64bits(t.Price))
		writeUint(math.Float64bits(t.Quantity))
		writeUint(t.Tick)
		writeUint(uint64(t.Aggressor))
	}

	var sum [32]byte
	hasher.Sum(sum[:0])
	return hex.EncodeToString(sum[:])
}
