package xcrypto

import "testing"

func TestKeccak256KnownVector(t *testing.T) {
	// keccak256("") = c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470
	got := Keccak256(nil)
	want := "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	if hexEncode(got.Bytes()) != want {
		t.Fatalf("keccak256(\"\") = %s, want %s", hexEncode(got.Bytes()), want)
	}
}

func TestSignRecoverRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	if err != nil {
		t.Fatal(err)
	}
	msg := Keccak256([]byte("xln frame"))
	sig, err := Sign(priv, msg)
	if err != nil {
		t.Fatal(err)
	}
	if !Verify(priv.PublicKey(), msg, sig) {
		t.Fatal("signature failed to verify against signer's own pubkey")
	}
	addr, err := Recover(msg, sig)
	if err != nil {
		t.Fatal(err)
	}
	want := priv.PublicKey().Address()
	if hexEncode(addr) != hexEncode(want) {
		t.Fatalf("recovered address %x != expected %x", addr, want)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv1, _ := GeneratePrivateKey()
	priv2, _ := GeneratePrivateKey()
	msg := Keccak256([]byte("payload"))
	sig, err := Sign(priv1, msg)
	if err != nil {
		t.Fatal(err)
	}
	if Verify(priv2.PublicKey(), msg, sig) {
		t.Fatal("expected verification failure against unrelated key")
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0xf]
	}
	return string(out)
}
