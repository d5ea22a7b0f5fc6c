package tripay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SignatureHeader carries the callback signature.
const SignatureHeader = "X-Callback-Signature"

func sign(privateKey string, data []byte) string {
	h := hmac.New(sha256.New, []byte(privateKey))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// TransactionSignature signs a closed-payment request: HMAC-SHA256 of merchant code,
// merchant ref and amount concatenated.
func TransactionSignature(privateKey, merchantCode, merchantRef string, amount int64) string {
	return sign(privateKey, []byte(merchantCode+merchantRef+strconv.FormatInt(amount, 10)))
}

// CallbackSignature is the signature Tripay sends for a callback body.
func CallbackSignature(privateKey string, body []byte) string {
	return sign(privateKey, body)
}

// VerifyCallback reports whether signature matches the raw callback body.
func VerifyCallback(privateKey string, body []byte, signature string) bool {
	if privateKey == "" || signature == "" {
		return false
	}

	expected := CallbackSignature(privateKey, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}
