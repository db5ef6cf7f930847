package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent_ChargeSucceeded(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "charge.succeeded",
		"created": 1700000000,
		"data": {"object": {
			"id": "ch_1",
			"amount": 2500,
			"currency": "usd",
			"payment_intent": "pi_1",
			"balance_transaction": "txn_1",
			"metadata": {"job_id": "job-1", "payer_user_id": "u-payer", "payee_user_id": "u-payee"}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, KindChargeSucceeded, event.Kind())

	p, ok := event.Payload.(ChargeSucceeded)
	require.True(t, ok)
	assert.Equal(t, "ch_1", p.Charge.ID)
	assert.Equal(t, "pi_1", p.Charge.PaymentIntent)
	assert.Equal(t, "txn_1", p.Charge.BalanceTransaction.ID)
	assert.Nil(t, p.Charge.BalanceTransaction.Expanded)
	assert.True(t, p.Charge.Metadata.HasSettlementKey())
	assert.Equal(t, "u-payee", p.Charge.Metadata.PayeeID())
}

func TestParseEvent_PaymentIntentWithExpandedCharge(t *testing.T) {
	payload := []byte(`{
		"id": "evt_2",
		"type": "payment_intent.succeeded",
		"data": {"object": {
			"id": "pi_1",
			"amount": 2500,
			"status": "succeeded",
			"latest_charge": {"id": "ch_1", "balance_transaction": {"id": "txn_1", "fee": 103}},
			"metadata": {"job_id": "job-1", "payer_user_id": "u-payer"}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)

	p, ok := event.Payload.(PaymentIntentSucceeded)
	require.True(t, ok)
	ch := p.Intent.FirstCharge()
	assert.Equal(t, "ch_1", ch.ID)
	require.NotNil(t, ch.Expanded)
	require.NotNil(t, ch.Expanded.BalanceTransaction.Expanded)
	assert.Equal(t, int64(103), ch.Expanded.BalanceTransaction.Expanded.Fee)
}

func TestParseEvent_LegacyChargesList(t *testing.T) {
	payload := []byte(`{
		"id": "evt_3",
		"type": "payment_intent.payment_failed",
		"data": {"object": {
			"id": "pi_2",
			"charges": {"data": [{"id": "ch_9", "balance_transaction": null}]},
			"last_payment_error": {"code": "card_declined", "message": "Your card was declined."}
		}}
	}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)

	p, ok := event.Payload.(PaymentIntentFailed)
	require.True(t, ok)
	assert.Equal(t, "ch_9", p.Intent.FirstCharge().ID)
	assert.Equal(t, "Your card was declined.", p.Intent.FailureMessage())
}

func TestParseEvent_AccountUpdated(t *testing.T) {
	payload := []byte(`{"id":"evt_4","type":"account.updated","data":{"object":{"id":"acct_1","payouts_enabled":true}}}`)

	event, err := ParseEvent(payload)
	require.NoError(t, err)

	p, ok := event.Payload.(AccountUpdated)
	require.True(t, ok)
	assert.Equal(t, "acct_1", p.Account.ID)
	assert.True(t, p.Account.PayoutsEnabled)
}

func TestParseEvent_Unhandled(t *testing.T) {
	event, err := ParseEvent([]byte(`{"id":"evt_5","type":"customer.created","data":{"object":{"id":"cus_1"}}}`))
	require.NoError(t, err)
	assert.Equal(t, KindUnhandled, event.Kind())
	assert.Equal(t, Unhandled{Type: "customer.created"}, event.Payload)
}

func TestParseEvent_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing id":        `{"type":"charge.succeeded","data":{"object":{"id":"ch_1"}}}`,
		"missing type":      `{"id":"evt_1","data":{"object":{"id":"ch_1"}}}`,
		"missing object":    `{"id":"evt_1","type":"charge.succeeded","data":{}}`,
		"charge without id": `{"id":"evt_1","type":"charge.succeeded","data":{"object":{"amount":1}}}`,
		"intent without id": `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"amount":1}}}`,
		"account no id":     `{"id":"evt_1","type":"account.updated","data":{"object":{"payouts_enabled":true}}}`,
		"wrong field type":  `{"id":"evt_1","type":"charge.succeeded","data":{"object":{"id":"ch_1","amount":"x"}}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(payload))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}
