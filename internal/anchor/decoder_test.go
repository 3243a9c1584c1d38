package anchor

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
)

var (
	testProgram = base58.Encode(bytes.Repeat([]byte{7}, 32))
	buyerKey    = base58.Encode(bytes.Repeat([]byte{1}, 32))
	creatorKey  = base58.Encode(bytes.Repeat([]byte{2}, 32))
	assetKey    = base58.Encode(bytes.Repeat([]byte{3}, 32))
)

func appendU16(b []byte, v uint16) []byte {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	return append(b, buf[:]...)
}

func appendU32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendU64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}

func appendI64(b []byte, v int64) []byte {
	return appendU64(b, uint64(v))
}

func appendPubkey(t *testing.T, b []byte, key string) []byte {
	raw, err := base58.Decode(key)
	require.NoError(t, err)
	require.Len(t, raw, 32)
	return append(b, raw...)
}

func appendString(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, []byte(s)...)
}

// encodePurchase builds a wire-format AssetPurchased payload
func encodePurchase(t *testing.T, price uint64, royaltyBps uint16, rarity uint8) []byte {
	disc := Discriminator(EventAssetPurchased)
	payload := append([]byte{}, disc[:]...)
	payload = appendPubkey(t, payload, assetKey)
	payload = appendPubkey(t, payload, buyerKey)
	payload = appendPubkey(t, payload, creatorKey)
	payload = appendU64(payload, price)
	payload = appendU16(payload, royaltyBps)
	payload = append(payload, rarity)
	return payload
}

func TestDiscriminator(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, Discriminator(EventTipSent), Discriminator(EventTipSent))
	})

	t.Run("DistinctPerEvent", func(t *testing.T) {
		seen := make(map[[DiscriminatorLength]byte]string)
		for _, spec := range handcraftEvents() {
			disc := Discriminator(spec.Name)
			other, dup := seen[disc]
			require.False(t, dup, "discriminator collision between %s and %s", spec.Name, other)
			seen[disc] = spec.Name
		}
		assert.Len(t, seen, 7)
	})
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()

	spec, ok := registry.Lookup(Discriminator(EventMembershipStarted))
	require.True(t, ok)
	assert.Equal(t, EventMembershipStarted, spec.Name)
	assert.Len(t, spec.Fields, 6)

	_, ok = registry.Lookup(Discriminator("NoSuchEvent"))
	assert.False(t, ok)

	assert.Len(t, registry.Names(), 7)
	t.Logf("✓ Registry resolves %d event layouts", len(registry.Names()))
}

func TestDecodeAssetPurchased(t *testing.T) {
	decoder := NewDecoder(NewRegistry())

	payload := encodePurchase(t, 1_500_000_000, 500, 3)
	name, data, err := decoder.Decode(payload)
	require.NoError(t, err)

	assert.Equal(t, EventAssetPurchased, name)
	assert.Equal(t, assetKey, data["asset"])
	assert.Equal(t, buyerKey, data["buyer"])
	assert.Equal(t, creatorKey, data["creator"])
	assert.Equal(t, uint64(1_500_000_000), data["price"])
	assert.Equal(t, uint64(500), data["royalty_bps"])
	assert.Equal(t, uint64(3), data["rarity"])
	t.Logf("✓ AssetPurchased decoded: %v", data)
}

func TestDecodeTipSent(t *testing.T) {
	decoder := NewDecoder(NewRegistry())
	disc := Discriminator(EventTipSent)

	t.Run("WithAsset", func(t *testing.T) {
		payload := append([]byte{}, disc[:]...)
		payload = appendPubkey(t, payload, buyerKey)
		payload = appendPubkey(t, payload, creatorKey)
		payload = append(payload, 1) // Some(asset)
		payload = appendPubkey(t, payload, assetKey)
		payload = appendU64(payload, 25_000_000)
		payload = appendString(payload, "great work")

		name, data, err := decoder.Decode(payload)
		require.NoError(t, err)
		assert.Equal(t, EventTipSent, name)
		assert.Equal(t, assetKey, data["asset"])
		assert.Equal(t, uint64(25_000_000), data["amount"])
		assert.Equal(t, "great work", data["memo"])
	})

	t.Run("WithoutAsset", func(t *testing.T) {
		payload := append([]byte{}, disc[:]...)
		payload = appendPubkey(t, payload, buyerKey)
		payload = appendPubkey(t, payload, creatorKey)
		payload = append(payload, 0) // None
		payload = appendU64(payload, 1_000_000)
		payload = appendString(payload, "")

		_, data, err := decoder.Decode(payload)
		require.NoError(t, err)
		assert.Nil(t, data["asset"])
		assert.Equal(t, "", data["memo"])
	})

	t.Run("InvalidOptionTag", func(t *testing.T) {
		payload := append([]byte{}, disc[:]...)
		payload = appendPubkey(t, payload, buyerKey)
		payload = appendPubkey(t, payload, creatorKey)
		payload = append(payload, 2)

		_, _, err := decoder.Decode(payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "option tag")
	})
}

func TestDecodeMembershipStarted(t *testing.T) {
	decoder := NewDecoder(NewRegistry())
	disc := Discriminator(EventMembershipStarted)

	payload := append([]byte{}, disc[:]...)
	payload = appendPubkey(t, payload, buyerKey)
	payload = appendPubkey(t, payload, creatorKey)
	payload = append(payload, 2) // tier
	payload = appendU64(payload, 90_000_000)
	payload = appendU16(payload, 30)
	payload = append(payload, 1) // auto_renew

	name, data, err := decoder.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, EventMembershipStarted, name)
	assert.Equal(t, uint64(2), data["tier"])
	assert.Equal(t, uint64(30), data["period_days"])
	assert.Equal(t, true, data["auto_renew"])
}

func TestDecodeRewardsClaimed(t *testing.T) {
	decoder := NewDecoder(NewRegistry())
	disc := Discriminator(EventRewardsClaimed)

	payload := append([]byte{}, disc[:]...)
	payload = appendPubkey(t, payload, buyerKey)
	payload = appendU64(payload, 420_000)
	payload = append(payload, 0)
	payload = appendI64(payload, 1756100000)

	_, data, err := decoder.Decode(payload)
	require.NoError(t, err)
	assert.Equal(t, int64(1756100000), data["claimed_at"])
}

func TestDecodeErrors(t *testing.T) {
	decoder := NewDecoder(NewRegistry())

	t.Run("TooShort", func(t *testing.T) {
		_, _, err := decoder.Decode([]byte{1, 2, 3})
		require.Error(t, err)
	})

	t.Run("UnknownDiscriminator", func(t *testing.T) {
		disc := Discriminator("SomethingElse")
		_, _, err := decoder.Decode(disc[:])
		assert.ErrorIs(t, err, ErrUnknownEvent)
	})

	t.Run("TruncatedFields", func(t *testing.T) {
		payload := encodePurchase(t, 100, 0, 0)
		name, _, err := decoder.Decode(payload[:len(payload)-4])
		require.Error(t, err)
		assert.Equal(t, EventAssetPurchased, name)
		assert.Contains(t, err.Error(), "royalty_bps")
	})

	t.Run("InvalidBase64", func(t *testing.T) {
		_, _, err := decoder.DecodeBase64("not@@base64")
		require.Error(t, err)
	})

	t.Run("OversizedString", func(t *testing.T) {
		disc := Discriminator(EventTipSent)
		payload := append([]byte{}, disc[:]...)
		payload = appendPubkey(t, payload, buyerKey)
		payload = appendPubkey(t, payload, creatorKey)
		payload = append(payload, 0)
		payload = appendU64(payload, 1)
		payload = appendU32(payload, maxStringLen+1)

		_, _, err := decoder.Decode(payload)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds limit")
	})
}

func TestExtractProgramData(t *testing.T) {
	other := base58.Encode(bytes.Repeat([]byte{9}, 32))

	t.Run("OwnProgramCaptured", func(t *testing.T) {
		logs := []string{
			"Program " + testProgram + " invoke [1]",
			"Program log: Instruction: PurchaseAsset",
			"Program data: aGVsbG8=",
			"Program " + testProgram + " success",
		}
		entries := ExtractProgramData(logs, testProgram)
		require.Len(t, entries, 1)
		assert.Equal(t, "aGVsbG8=", entries[0].Payload)
		assert.Equal(t, uint(2), entries[0].LogIndex)
	})

	t.Run("ForeignProgramIgnored", func(t *testing.T) {
		logs := []string{
			"Program " + other + " invoke [1]",
			"Program data: Zm9yZWlnbg==",
			"Program " + other + " success",
		}
		assert.Empty(t, ExtractProgramData(logs, testProgram))
	})

	t.Run("InnerCPIAttributed", func(t *testing.T) {
		logs := []string{
			"Program " + other + " invoke [1]",
			"Program " + testProgram + " invoke [2]",
			"Program data: aW5uZXI=",
			"Program " + testProgram + " success",
			"Program data: b3V0ZXI=",
			"Program " + other + " success",
		}
		entries := ExtractProgramData(logs, testProgram)
		require.Len(t, entries, 1)
		assert.Equal(t, "aW5uZXI=", entries[0].Payload)
	})

	t.Run("FailedFramePopped", func(t *testing.T) {
		logs := []string{
			"Program " + testProgram + " invoke [1]",
			"Program " + testProgram + " failed: custom program error: 0x1",
			"Program data: YWZ0ZXI=",
		}
		assert.Empty(t, ExtractProgramData(logs, testProgram))
	})

	t.Run("EmptyLogs", func(t *testing.T) {
		assert.Empty(t, ExtractProgramData(nil, testProgram))
	})
}

func TestDecodeTransaction(t *testing.T) {
	td := NewTransactionDecoder(testProgram)
	signature := base58.Encode(bytes.Repeat([]byte{5}, 64))

	purchase := base64.StdEncoding.EncodeToString(encodePurchase(t, 2_000_000_000, 250, 4))

	t.Run("RawWebhookShape", func(t *testing.T) {
		payload := &models.TransactionPayload{
			Slot:      351_200_400,
			BlockTime: 1756100000,
			Meta: &models.PayloadMeta{
				LogMessages: []string{
					"Program " + testProgram + " invoke [1]",
					"Program data: " + purchase,
					"Program " + testProgram + " success",
				},
			},
			Transaction: &models.PayloadTransaction{Signatures: []string{signature}},
		}

		events, errs := td.DecodeTransaction(payload)
		require.Empty(t, errs)
		require.Len(t, events, 1)

		event := events[0]
		assert.Equal(t, signature, event.Signature)
		assert.Equal(t, uint64(351_200_400), event.Slot)
		assert.Equal(t, EventAssetPurchased, event.EventName)
		assert.Equal(t, uint64(2_000_000_000), event.Data["price"])
		assert.NotEmpty(t, event.ID)
		t.Logf("✓ Decoded event %s from raw webhook", event.ID[:8])
	})

	t.Run("FlattenedShape", func(t *testing.T) {
		payload := &models.TransactionPayload{
			Signature: signature,
			Slot:      351_200_401,
			Timestamp: 1756100030,
			Logs: []string{
				"Program " + testProgram + " invoke [1]",
				"Program data: " + purchase,
				"Program " + testProgram + " success",
			},
		}

		events, errs := td.DecodeTransaction(payload)
		require.Empty(t, errs)
		require.Len(t, events, 1)
	})

	t.Run("GarbledPayloadCounted", func(t *testing.T) {
		disc := Discriminator(EventTipSent)
		truncated := base64.StdEncoding.EncodeToString(disc[:])

		payload := &models.TransactionPayload{
			Signature: signature,
			Slot:      351_200_402,
			Logs: []string{
				"Program " + testProgram + " invoke [1]",
				"Program data: " + truncated,
				"Program " + testProgram + " success",
			},
		}

		events, errs := td.DecodeTransaction(payload)
		assert.Empty(t, events)
		assert.Len(t, errs, 1)
	})

	t.Run("StableEventIDs", func(t *testing.T) {
		payload := &models.TransactionPayload{
			Signature: signature,
			Slot:      351_200_400,
			Logs: []string{
				"Program " + testProgram + " invoke [1]",
				"Program data: " + purchase,
				"Program " + testProgram + " success",
			},
		}

		first, _ := td.DecodeTransaction(payload)
		second, _ := td.DecodeTransaction(payload)
		require.Len(t, first, 1)
		require.Len(t, second, 1)
		assert.Equal(t, first[0].ID, second[0].ID, "re-delivery must produce the same event ID")
	})
}
