package dataurl

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDecodeDataURL(t *testing.T) {
	data, mimeType, err := Decode(Encode("image/png", pngMagic))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("expected image/png, got %s", mimeType)
	}
	if !bytes.Equal(data, pngMagic) {
		t.Fatal("expected decoded bytes to match input")
	}
}

func TestDecodeBareBase64SniffsType(t *testing.T) {
	data, mimeType, err := Decode(base64.StdEncoding.EncodeToString(pngMagic))
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if mimeType != "image/png" {
		t.Fatalf("expected sniffed image/png, got %s", mimeType)
	}
	if len(data) != len(pngMagic) {
		t.Fatalf("expected %d bytes, got %d", len(pngMagic), len(data))
	}
}

func TestDecodeKeepsDeclaredTypeWithParameters(t *testing.T) {
	text := "data:image/jpeg;name=me.jpg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff})
	_, mimeType, err := Decode(text)
	if err != nil {
		t.Fatalf("decode returned error: %v", err)
	}
	if mimeType != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", mimeType)
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	for _, text := range []string{"", "data:image/png;base64", "data:text/plain,hello", "%%%not-base64%%%"} {
		if _, _, err := Decode(text); !errors.Is(err, ErrMalformed) {
			t.Fatalf("expected ErrMalformed for %q, got %v", text, err)
		}
	}
}

func TestEncodeSniffsMissingType(t *testing.T) {
	got := Encode("", pngMagic)
	if !IsDataURL(got) {
		t.Fatalf("expected data url, got %q", got)
	}
	if got[:len("data:image/png;base64,")] != "data:image/png;base64," {
		t.Fatalf("expected sniffed png prefix, got %q", got[:30])
	}
}
