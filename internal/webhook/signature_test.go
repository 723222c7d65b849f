package webhook

import (
	"strconv"
	"testing"
	"time"
)

var testSecret = []byte("whsec_test")

func TestVerify_ValidSignature(t *testing.T) {
	body := []byte(`{"type":"message.received","data":{"text":"hi"}}`)
	now := time.Unix(1_750_000_000, 0)
	h := SignatureHeader(body, testSecret, now)
	if !Verify(body, h, testSecret, now) {
		t.Fatalf("expected valid signature for %q", h)
	}
	// within tolerance on both sides
	if !Verify(body, h, testSecret, now.Add(299*time.Second)) || !Verify(body, h, testSecret, now.Add(-299*time.Second)) {
		t.Fatalf("expected signature valid within the replay window")
	}
}

func TestVerify_MutationsFail(t *testing.T) {
	body := []byte(`{"type":"message.received","id":"evt_1"}`)
	now := time.Unix(1_750_000_000, 0)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := Sign(body, ts, testSecret)
	header := "t=" + ts + ",v0=" + sig

	for i := range body {
		mut := append([]byte(nil), body...)
		mut[i] ^= 0x01
		if Verify(mut, header, testSecret, now) {
			t.Fatalf("flipping body byte %d should fail verification", i)
		}
	}
	for i := range sig {
		b := []byte(sig)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		if Verify(body, "t="+ts+",v0="+string(b), testSecret, now) {
			t.Fatalf("mutating signature char %d should fail verification", i)
		}
	}
	if Verify(body, header, []byte("other"), now) {
		t.Fatalf("wrong secret should fail")
	}
	if Verify(body, header, testSecret, now.Add(301*time.Second)) {
		t.Fatalf("stale timestamp should fail")
	}
	if Verify(body, header, testSecret, now.Add(-301*time.Second)) {
		t.Fatalf("future timestamp beyond tolerance should fail")
	}
}

func TestVerify_MalformedHeaders(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1_750_000_000, 0)
	sig := Sign(body, "1750000000", testSecret)
	cases := map[string]string{
		"empty":         "",
		"missing t":     "v0=" + sig,
		"missing v0":    "t=1750000000",
		"no equals":     "t=1750000000,garbage,v0=" + sig,
		"non-numeric t": "t=abc,v0=" + sig,
		"blank values":  "t=,v0=",
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			if Verify(body, h, testSecret, now) {
				t.Fatalf("header %q should not verify", h)
			}
		})
	}
}

func TestVerify_ToleratesSpacesAndExtraKeys(t *testing.T) {
	body := []byte(`{"a":1}`)
	now := time.Unix(1_750_000_000, 0)
	sig := Sign(body, "1750000000", testSecret)
	h := " t=1750000000 , v1=ignored, v0=" + sig
	if !Verify(body, h, testSecret, now) {
		t.Fatalf("expected verification to pass with spaces and extra keys")
	}
}

func TestVerifyWithin_CustomTolerance(t *testing.T) {
	body := []byte(`{}`)
	now := time.Unix(1_750_000_000, 0)
	h := SignatureHeader(body, testSecret, now)
	if VerifyWithin(body, h, testSecret, now.Add(11*time.Second), 10*time.Second) {
		t.Fatalf("expected failure beyond custom tolerance")
	}
	if !VerifyWithin(body, h, testSecret, now.Add(9*time.Second), 10*time.Second) {
		t.Fatalf("expected success within custom tolerance")
	}
}
