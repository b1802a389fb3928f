package interwallet

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

func testRequest() entities.InterWalletTransferRequest {
	return entities.InterWalletTransferRequest{
		Reference:           "moneta-mbz3kz4e-a1b2c3d4e5f60718",
		SourceSystem:        "moneta",
		SourceSystemURL:     "https://wallet.moneta.test",
		SourceWalletID:      "0c2c6e61-4fd8-4a2b-a3f7-0f6a7c2b9d10",
		DestinationWalletID: "7f9e2c5b-9a41-4f7e-8a1a-6f3d2e1c0b9a",
		Amount:              decimal.RequireFromString("250.00"),
		Currency:            "EUR",
		Timestamp:           time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestSignAndVerify(t *testing.T) {
	signer := NewSigner("shared-secret")

	sig, err := signer.Sign(testRequest())
	require.NoError(t, err)
	require.Len(t, sig, 64)

	require.NoError(t, signer.Verify(testRequest(), sig))
}

func TestVerifyIgnoresFieldOrder(t *testing.T) {
	signer := NewSigner("shared-secret")

	sig, err := signer.Sign(testRequest())
	require.NoError(t, err)

	// The same payload serialized with a different key order must verify.
	raw, err := json.Marshal(testRequest())
	require.NoError(t, err)
	var reordered map[string]any
	require.NoError(t, json.Unmarshal(raw, &reordered))

	require.NoError(t, signer.Verify(reordered, sig))
}

func TestVerifyIgnoresEmbeddedSignature(t *testing.T) {
	signer := NewSigner("shared-secret")

	response := entities.InterWalletTransferResponse{
		Status:    entities.InterWalletAccepted,
		Reference: "remote-abc-123",
	}
	sig, err := signer.Sign(response)
	require.NoError(t, err)

	// Attaching the signature to the payload must not change its canonical
	// form.
	response.Signature = sig
	require.NoError(t, signer.Verify(response, sig))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	signer := NewSigner("shared-secret")

	sig, err := signer.Sign(testRequest())
	require.NoError(t, err)

	tampered := testRequest()
	tampered.Amount = decimal.RequireFromString("2500.00")

	err = signer.Verify(tampered, sig)
	require.ErrorIs(t, err, ports.ErrSignatureInvalid)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	sig, err := NewSigner("secret-a").Sign(testRequest())
	require.NoError(t, err)

	err = NewSigner("secret-b").Verify(testRequest(), sig)
	require.ErrorIs(t, err, ports.ErrSignatureInvalid)
}

func TestVerifyRejectsWrongLength(t *testing.T) {
	signer := NewSigner("shared-secret")

	err := signer.Verify(testRequest(), "deadbeef")
	require.ErrorIs(t, err, ports.ErrSignatureLength)
}

func TestNewReferenceFormat(t *testing.T) {
	ref, err := NewReference("moneta")
	require.NoError(t, err)

	parts := strings.Split(ref, "-")
	require.Len(t, parts, 3)
	require.Equal(t, "moneta", parts[0])
	require.Len(t, parts[2], 16)

	other, err := NewReference("moneta")
	require.NoError(t, err)
	require.NotEqual(t, ref, other)
}
