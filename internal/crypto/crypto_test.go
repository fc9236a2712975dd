package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test vector key (hardhat account #0). Never fund this key.
const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testKeyAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey(testKeyHex, "hunter2")
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = DecryptKey(blob, "wrong")
	assert.Error(t, err)
}

func TestEncryptKeyRejectsBadInput(t *testing.T) {
	_, err := EncryptKey(testKeyHex, "")
	assert.Error(t, err)

	_, err = EncryptKey("not-hex", "pw")
	assert.Error(t, err)

	_, err = EncryptKey("abcd", "pw")
	assert.Error(t, err, "short keys are rejected")
}

func TestResolveWalletKey(t *testing.T) {
	// Plain hex, with and without prefix.
	got, err := ResolveWalletKey("0x"+testKeyHex, "")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	got, err = ResolveWalletKey(testKeyHex, "")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	// Encrypted blob.
	blob, err := EncryptKey(testKeyHex, "pw")
	require.NoError(t, err)
	got, err = ResolveWalletKey(string(blob), "pw")
	require.NoError(t, err)
	assert.Equal(t, testKeyHex, got)

	_, err = ResolveWalletKey("", "")
	assert.Error(t, err)
}

func TestSignerAddress(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, s.Address().Hex())
}

func TestSignAuthMessageDeterministic(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	sig1, err := s.SignAuthMessage(testKeyAddr, 1700000000, 0)
	require.NoError(t, err)
	sig2, err := s.SignAuthMessage(testKeyAddr, 1700000000, 0)
	require.NoError(t, err)

	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 2+65*2, "0x prefix plus 65 hex bytes")
}

func TestSignOrderValidation(t *testing.T) {
	s, err := NewSigner(testKeyHex, 137)
	require.NoError(t, err)

	_, err = s.SignOrder(OrderPayload{Salt: "not-a-number"})
	assert.Error(t, err)

	sig, err := s.SignOrder(OrderPayload{
		Salt:          "12345",
		Maker:         testKeyAddr,
		Signer:        testKeyAddr,
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "5000000",
		TakerAmount:   "10000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 2,
	})
	require.NoError(t, err)
	assert.Contains(t, sig, "0x")
}

func TestL2HeadersDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "c2VjcmV0LWJ5dGVz", Passphrase: "pp"}

	h1 := auth.L2HeadersAt(testKeyAddr, "POST", "/order", `{"a":1}`, 1700000000)
	h2 := auth.L2HeadersAt(testKeyAddr, "POST", "/order", `{"a":1}`, 1700000000)

	assert.Equal(t, h1, h2)
	assert.Equal(t, "key-1", h1["POLY_API_KEY"])
	assert.Equal(t, "1700000000", h1["POLY_TIMESTAMP"])
	assert.NotEmpty(t, h1["POLY_SIGNATURE"])
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "key-123456", Secret: "secret-123456"}
	s := auth.String()
	assert.NotContains(t, s, "123456")
}
