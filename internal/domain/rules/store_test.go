package rules

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/finanzas/internal/domain/transaction"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "categorias.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestStore_LoadMissingFile(t *testing.T) {
	store := NewStore(context.Background(), filepath.Join(t.TempDir(), "nope.json"), testLogger())
	assert.Empty(t, store.Rules())

	c := NewClassifier(store)
	assert.Equal(t, transaction.CategoryUnclassified, c.Classify("MERCADONA", decimal.NewFromInt(-10)))
}

func TestStore_LoadMalformedFile(t *testing.T) {
	path := writeRules(t, `{"reglas": [`)
	store := NewStore(context.Background(), path, testLogger())
	assert.Empty(t, store.Rules())
}

func TestStore_LoadSkipsInvalidPattern(t *testing.T) {
	path := writeRules(t, `{"reglas": [
		{"patron": "([", "categoria": "FIJOS", "tipo": "GASTO"},
		{"patron": "netflix", "categoria": "DISFRUTE", "tipo": "GASTO"}
	]}`)
	store := NewStore(context.Background(), path, testLogger())

	loaded := store.Rules()
	require.Len(t, loaded, 1)
	assert.Equal(t, "netflix", loaded[0].Pattern)
}

func TestStore_AddRejectsEmptyRule(t *testing.T) {
	path := writeRules(t, `{"reglas": []}`)
	store := NewStore(context.Background(), path, testLogger())

	err := store.Add(context.Background(), Rule{Pattern: "", Category: "FIJOS", Type: "GASTO"})
	assert.ErrorIs(t, err, ErrEmptyRule)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reglas": []}`, string(data), "rejected rule must not touch the file")
}

func TestStore_AddRejectsDuplicatePattern(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, writeRules(t, `{"reglas": []}`), testLogger())

	require.NoError(t, store.Add(ctx, Rule{Pattern: "NETFLIX", Category: "DISFRUTE", Type: "GASTO"}))
	err := store.Add(ctx, Rule{Pattern: "NETFLIX", Category: "DISFRUTE", Type: "GASTO"})
	assert.ErrorIs(t, err, ErrDuplicatePattern)
	assert.Len(t, store.Rules(), 1)
}

func TestStore_AddAmountOnlyRules(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, writeRules(t, `{"reglas": []}`), testLogger())

	require.NoError(t, store.Add(ctx, Rule{Category: "FIJOS", Type: "GASTO", ExactAmounts: []decimal.Decimal{decimal.NewFromInt(30)}}))
	require.NoError(t, store.Add(ctx, Rule{Category: "DISFRUTE", Type: "GASTO", ExactAmounts: []decimal.Decimal{decimal.NewFromInt(12)}}))
	assert.Len(t, store.Rules(), 2, "empty patterns are not subject to uniqueness")
}

func TestStore_AddCreatesMissingFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config", "categorias.json")
	store := NewStore(ctx, path, testLogger())

	require.NoError(t, store.Add(ctx, Rule{Pattern: "gym", Category: "FIJOS", Type: "GASTO"}))

	reloaded := NewStore(ctx, path, testLogger())
	require.Len(t, reloaded.Rules(), 1)
	assert.Equal(t, "gym", reloaded.Rules()[0].Pattern)
}

func TestStore_PersistedFormat(t *testing.T) {
	ctx := context.Background()
	path := writeRules(t, `{"reglas": []}`)
	store := NewStore(ctx, path, testLogger())

	require.NoError(t, store.Add(ctx, Rule{
		Pattern:      "BIZUM",
		Category:     "EXTRAORDINARIOS",
		Type:         "GASTO",
		ExactAmounts: []decimal.Decimal{decimal.RequireFromString("12.50")},
	}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reglas": [
		{"patron": "BIZUM", "categoria": "EXTRAORDINARIOS", "tipo": "GASTO", "importes_exactos": [12.5]}
	]}`, string(data))
}

func TestStore_Update(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, writeRules(t, `{"reglas": [
		{"patron": "netflix", "categoria": "DISFRUTE", "tipo": "GASTO"},
		{"patron": "spotify", "categoria": "DISFRUTE", "tipo": "GASTO"}
	]}`), testLogger())

	err := store.Update(ctx, "missing", Rule{Pattern: "x", Category: "FIJOS"})
	assert.ErrorIs(t, err, ErrRuleNotFound)

	err = store.Update(ctx, "netflix", Rule{Pattern: "spotify", Category: "FIJOS"})
	assert.ErrorIs(t, err, ErrDuplicatePattern)

	require.NoError(t, store.Update(ctx, "netflix", Rule{Pattern: "netflix", Category: "FIJOS", Type: "GASTO"}))
	require.NoError(t, store.Update(ctx, "spotify", Rule{Pattern: "spotify premium", Category: "DISFRUTE", Type: "GASTO"}))

	loaded := store.Rules()
	require.Len(t, loaded, 2)
	assert.Equal(t, "FIJOS", loaded[0].Category)
	assert.Equal(t, "spotify premium", loaded[1].Pattern)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, writeRules(t, `{"reglas": [
		{"patron": "", "categoria": "FIJOS", "tipo": "GASTO", "importes_exactos": [30]},
		{"patron": "netflix", "categoria": "DISFRUTE", "tipo": "GASTO"},
		{"patron": "", "categoria": "DISFRUTE", "tipo": "GASTO", "importes_exactos": [12]}
	]}`), testLogger())

	assert.ErrorIs(t, store.Delete(ctx, "hbo"), ErrRuleNotFound)

	require.NoError(t, store.Delete(ctx, ""))
	loaded := store.Rules()
	require.Len(t, loaded, 1)
	assert.Equal(t, "netflix", loaded[0].Pattern)
}

func TestStore_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ctx, writeRules(t, `{"reglas": []}`), testLogger())

	patterns := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for _, p := range patterns {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			assert.NoError(t, store.Add(ctx, Rule{Pattern: p, Category: "FIJOS", Type: "GASTO"}))
		}(p)
	}
	wg.Wait()

	assert.Len(t, store.Rules(), len(patterns))
}
