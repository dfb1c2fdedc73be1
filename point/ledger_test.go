package point

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry LedgerEntry
		ok    bool
	}{
		{"earn positive", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryEarn, Amount: 10}, true},
		{"earn zero", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryEarn}, false},
		{"use negative", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryUse, Amount: -10}, true},
		{"use positive", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryUse, Amount: 10}, false},
		{"earn cancel negative", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryEarnCancel, Amount: -10}, true},
		{"use cancel zero", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryUseCancel}, true},
		{"use cancel negative", LedgerEntry{ID: "e", WalletID: "w", Kind: EntryUseCancel, Amount: -1}, false},
		{"unknown kind", LedgerEntry{ID: "e", WalletID: "w", Kind: "GIFT", Amount: 1}, false},
		{"no wallet", LedgerEntry{ID: "e", Kind: EntryEarn, Amount: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntry(tt.entry)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, IsInconsistent(err))
			assert.Equal(t, CodeSystem, CodeOf(err))
		})
	}
}

func TestSum(t *testing.T) {
	entries := []LedgerEntry{
		{Kind: EntryEarn, Amount: 1000},
		{Kind: EntryEarn, Amount: 500},
		{Kind: EntryUse, Amount: -1200},
		{Kind: EntryUseCancel, Amount: 100},
		{Kind: EntryEarn, Amount: 1000},
	}
	assert.Equal(t, int64(1400), Sum(entries))
	assert.Zero(t, Sum(nil))
}
