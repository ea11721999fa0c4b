package webhook

import (
	"strings"
	"testing"
)

func TestVerify(t *testing.T) {
	secret := []byte("test-secret-key")
	body := []byte(`{"message_id":"m1","from":"+15550001","to":"+15550002","ts":"2025-01-01T00:00:00Z"}`)

	header := Sign(body, secret)
	plainHex := strings.TrimPrefix(header, "sha256=")

	tests := []struct {
		name      string
		body      []byte
		signature string
		secret    []byte
		want      bool
	}{
		{
			name:      "valid signature - plain hex",
			body:      body,
			signature: plainHex,
			secret:    secret,
			want:      true,
		},
		{
			name:      "valid signature - GitHub format",
			body:      body,
			signature: header,
			secret:    secret,
			want:      true,
		},
		{
			name:      "valid signature - uppercase hex",
			body:      body,
			signature: "sha256=" + strings.ToUpper(plainHex),
			secret:    secret,
			want:      true,
		},
		{
			name:      "invalid signature - wrong signature",
			body:      body,
			signature: strings.Repeat("0", 64),
			secret:    secret,
			want:      false,
		},
		{
			name:      "invalid signature - tampered body",
			body:      []byte(`{"message_id":"m2"}`),
			signature: header,
			secret:    secret,
			want:      false,
		},
		{
			name:      "invalid signature - whitespace added to body",
			body:      append(append([]byte{}, body...), '\n'),
			signature: header,
			secret:    secret,
			want:      false,
		},
		{
			name:      "invalid signature - wrong secret",
			body:      body,
			signature: header,
			secret:    []byte("wrong-secret"),
			want:      false,
		},
		{
			name:      "invalid signature - empty signature",
			body:      body,
			signature: "",
			secret:    secret,
			want:      false,
		},
		{
			name:      "invalid signature - empty secret",
			body:      body,
			signature: header,
			secret:    nil,
			want:      false,
		},
		{
			name:      "invalid signature - malformed hex",
			body:      body,
			signature: "not-valid-hex",
			secret:    secret,
			want:      false,
		},
		{
			name:      "invalid signature - truncated",
			body:      body,
			signature: header[:len(header)-2],
			secret:    secret,
			want:      false,
		},
		{
			name:      "invalid signature - wrong algorithm prefix",
			body:      body,
			signature: "sha1=" + plainHex,
			secret:    secret,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Verify(tt.body, tt.signature, tt.secret); got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerifyRejectsSingleBitFlips(t *testing.T) {
	secret := []byte("bit-flip-secret")
	body := []byte(`{"message_id":"flip","from":"+15550001","to":"+15550002","ts":"2025-01-01T00:00:00Z","text":"hi"}`)
	sig := Sign(body, secret)

	if !Verify(body, sig, secret) {
		t.Fatal("unmodified body must verify")
	}

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			if Verify(mutated, sig, secret) {
				t.Fatalf("flipping bit %d of byte %d still verified", bit, i)
			}
		}
	}
}

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte("body"), []byte("secret"))
	if !strings.HasPrefix(sig, "sha256=") {
		t.Fatalf("missing prefix: %q", sig)
	}
	if len(sig) != len("sha256=")+64 {
		t.Fatalf("unexpected length %d: %q", len(sig), sig)
	}
}
