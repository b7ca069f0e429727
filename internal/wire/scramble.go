package wire

import "crypto/sha1" //nolint:gosec // mysql_native_password is SHA-1 by wire-protocol spec, not a choice

// Scramble computes the mysql_native_password response:
//
//	SHA1(password) XOR SHA1(challenge ++ SHA1(SHA1(password)))
//
// An empty password produces a zero-length response, matching real
// servers (which accept an empty auth-response as "no password" rather
// than hashing the empty string).
func Scramble(password, challenge []byte) []byte {
	if len(password) == 0 {
		return []byte{}
	}
	h1 := sha1.Sum(password) //nolint:gosec
	h2 := sha1.Sum(h1[:])    //nolint:gosec

	h := sha1.New() //nolint:gosec
	h.Write(challenge)
	h.Write(h2[:])
	h3 := h.Sum(nil)

	out := make([]byte, 20)
	for i := range out {
		out[i] = h1[i] ^ h3[i]
	}
	return out
}
