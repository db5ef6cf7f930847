package processor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"charge.succeeded"}`)
	secret := "whsec_test"
	now := time.Now()
	valid := SignPayload(payload, secret, now)

	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		wantErr error
	}{
		{name: "valid", payload: payload, header: valid, secret: secret},
		{name: "within tolerance", payload: payload, header: SignPayload(payload, secret, now.Add(-4*time.Minute)), secret: secret},
		{name: "missing header", payload: payload, header: "", secret: secret, wantErr: ErrMissingSignature},
		{name: "missing secret", payload: payload, header: valid, secret: "", wantErr: ErrMissingSecret},
		{name: "wrong secret", payload: payload, header: valid, secret: "whsec_other", wantErr: ErrNoValidSignature},
		{name: "tampered body", payload: []byte(`{"id":"evt_2","type":"charge.succeeded"}`), header: valid, secret: secret, wantErr: ErrNoValidSignature},
		{name: "bad timestamp", payload: payload, header: "t=abc,v1=abcd", secret: secret, wantErr: ErrInvalidHeader},
		{name: "no v1 signature", payload: payload, header: "t=1700000000,v0=abcd", secret: secret, wantErr: ErrNoValidSignature},
		{name: "replayed", payload: payload, header: SignPayload(payload, secret, now.Add(-10*time.Minute)), secret: secret, wantErr: ErrTimestampTooOld},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(tt.payload, tt.header, tt.secret, DefaultTolerance)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestVerifySignature_RotatedSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now()
	oldHeader := SignPayload(payload, "whsec_old", now)
	newHeader := SignPayload(payload, "whsec_new", now)

	// 轮换期间签名头同时携带新旧两个签名
	newSig := newHeader[strings.LastIndex(newHeader, "=")+1:]
	header := oldHeader + ",v1=" + newSig

	assert.NoError(t, VerifySignature(payload, header, "whsec_new", DefaultTolerance))
	assert.NoError(t, VerifySignature(payload, header, "whsec_old", DefaultTolerance))
}

func TestVerifySignature_ZeroToleranceSkipsTimestamp(t *testing.T) {
	payload := []byte(`{}`)
	header := SignPayload(payload, "s", time.Unix(1_600_000_000, 0))
	assert.NoError(t, VerifySignature(payload, header, "s", 0))
	assert.ErrorIs(t, VerifySignature(payload, header, "s", DefaultTolerance), ErrTimestampTooOld)
}
