package session

import (
	"crypto/rand"
	"math/big"
)

const idCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewPeerID produces a session address like "daw-AB12CD34".
func NewPeerID() string {
	ret := make([]byte, 8)
	for i := 0; i < len(ret); i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(idCharset))))
		if err != nil {
			// crypto/rand failing is unrecoverable for id generation
			panic(err)
		}
		ret[i] = idCharset[num.Int64()]
	}
	return "daw-" + string(ret)
}
