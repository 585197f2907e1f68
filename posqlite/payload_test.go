package posqlite

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fyliacare/warehousepos/posync"
)

func TestDecodePayload_PicksVariantByTable(t *testing.T) {
	raw, err := EncodePayload(&ProductPayload{Name: "Tea", SKU: "TEA-1", Price: d("3.50"), IsActive: true})
	require.NoError(t, err)

	p, err := DecodePayload(posync.TableProducts, raw)
	require.NoError(t, err)
	prod, ok := p.(*ProductPayload)
	require.True(t, ok)
	require.Equal(t, "TEA-1", prod.SKU)
	require.True(t, prod.Price.Equal(d("3.5")))

	// The same bytes are not a valid customer.
	_, err = DecodePayload(posync.TableCustomers, raw)
	require.True(t, IsValidation(err), "got %v", err)
}

func TestDecodePayload_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		table string
		raw   string
		field string
	}{
		{"unknown field", posync.TableCategories, `{"name":"Dairy","colour":"blue"}`, "payload"},
		{"wrong type", posync.TableProducts, `{"name":5}`, "payload"},
		{"not json", posync.TableCustomers, `{`, "payload"},
		{"fails validation", posync.TableCustomers, `{"name":"Ama","email":"nope"}`, "email"},
		{"negative price", posync.TableProducts, `{"name":"Tea","price":"-1"}`, "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload(tt.table, json.RawMessage(tt.raw))
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := DecodePayload("gift_cards", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownTable)
}

func TestDecodePayload_SaleTotalsAreChecked(t *testing.T) {
	raw := `{"local_id":1,"tenant_id":"t","store_id":"s",
		"items":[{"product_id":"p","quantity":"1","unit_price":"10","discount":"0","line_total":"10"}],
		"subtotal":"10","tax":"0","discount":"0","total":"12","payment_method":"cash",
		"created_at":"2025-03-14T09:00:00Z"}`
	_, err := DecodePayload(posync.TableSales, json.RawMessage(raw))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "total", ve.Field)
}

func TestEncodePayload_Validates(t *testing.T) {
	_, err := EncodePayload(nil)
	require.True(t, IsValidation(err))

	_, err = EncodePayload(&CategoryPayload{Name: "  "})
	require.True(t, IsValidation(err))
}
