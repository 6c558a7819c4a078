package engine

import (
	"net/http"
	"testing"
)

func TestValidateDescriptorRejectsUnsupportedMethod(t *testing.T) {
	_, _, err := validateDescriptor(RequestDescriptor{Method: "TRACE", URL: "https://example.com/"})
	if err == nil {
		t.Fatal("expected an error for an unsupported method")
	}
}

func TestValidateDescriptorRejectsNonHTTPScheme(t *testing.T) {
	_, _, err := validateDescriptor(RequestDescriptor{Method: "GET", URL: "ftp://example.com/"})
	if err == nil {
		t.Fatal("expected an error for a non-http(s) URL scheme")
	}
}

func TestValidateDescriptorRejectsUnsupportedProxyScheme(t *testing.T) {
	_, _, err := validateDescriptor(RequestDescriptor{
		Method: "GET", URL: "https://example.com/", ProxyURL: "ftp://proxy.example.com:21",
	})
	if err == nil {
		t.Fatal("expected an error for an unsupported proxy scheme")
	}
}

func TestValidateDescriptorAcceptsEveryPermittedMethod(t *testing.T) {
	for method := range permittedMethods {
		if _, _, err := validateDescriptor(RequestDescriptor{Method: method, URL: "https://example.com/"}); err != nil {
			t.Errorf("method %q should be permitted, got error %v", method, err)
		}
	}
}

func TestEncodeRequestBodySerializesStructuredValueAsJSON(t *testing.T) {
	body, headers, err := encodeRequestBody(map[string]interface{}{"x": 1.0}, nil)
	if err != nil {
		t.Fatalf("encodeRequestBody() error = %v", err)
	}
	if headers["Content-Type"] != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", headers["Content-Type"])
	}
	if string(body) != `{"x":1}` {
		t.Errorf("body = %s, want {\"x\":1}", body)
	}
}

func TestEncodeRequestBodySendsRawStringAsIs(t *testing.T) {
	body, headers, err := encodeRequestBody("hello", nil)
	if err != nil {
		t.Fatalf("encodeRequestBody() error = %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("body = %s, want hello", body)
	}
	if headers["Content-Type"] != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/plain; charset=utf-8 default", headers["Content-Type"])
	}
}

func TestEncodeRequestBodyHonorsCallerContentTypeOverride(t *testing.T) {
	_, headers, err := encodeRequestBody(map[string]interface{}{"x": 1.0}, map[string]string{"Content-Type": "application/x-custom"})
	if err != nil {
		t.Fatalf("encodeRequestBody() error = %v", err)
	}
	if headers["Content-Type"] != "application/x-custom" {
		t.Errorf("Content-Type = %q, want caller override preserved", headers["Content-Type"])
	}
}

func TestDecodeResponseBodyParsesJSON(t *testing.T) {
	body, err := decodeResponseBody([]byte(`{"a":1}`), "application/json; charset=utf-8")
	if err != nil {
		t.Fatalf("decodeResponseBody() error = %v", err)
	}
	m, ok := body.(map[string]interface{})
	if !ok || m["a"] != 1.0 {
		t.Errorf("decoded body = %#v, want map with a=1", body)
	}
}

func TestDecodeResponseBodyReturnsUTF8String(t *testing.T) {
	body, err := decodeResponseBody([]byte("hello world"), "text/plain")
	if err != nil {
		t.Fatalf("decodeResponseBody() error = %v", err)
	}
	if body != "hello world" {
		t.Errorf("decoded body = %#v, want %q", body, "hello world")
	}
}

func TestDecodeResponseBodyTagsInvalidUTF8AsBinary(t *testing.T) {
	body, err := decodeResponseBody([]byte{0xff, 0xfe, 0x00}, "application/octet-stream")
	if err != nil {
		t.Fatalf("decodeResponseBody() error = %v", err)
	}
	binary, ok := body.(BinaryBody)
	if !ok || !binary.Binary {
		t.Errorf("decoded body = %#v, want a BinaryBody tagged _binary:true", body)
	}
}

func TestFlattenHeadersCollapsesSingleValueToScalar(t *testing.T) {
	h := http.Header{"Content-Type": []string{"text/plain"}}
	out := flattenHeaders(h)
	if out["Content-Type"] != "text/plain" {
		t.Errorf("Content-Type = %#v, want scalar %q", out["Content-Type"], "text/plain")
	}
}

func TestFlattenHeadersPreservesMultiValueAsList(t *testing.T) {
	h := http.Header{"Set-Cookie": []string{"a=1", "b=2"}}
	out := flattenHeaders(h)
	vals, ok := out["Set-Cookie"].([]string)
	if !ok || len(vals) != 2 || vals[0] != "a=1" || vals[1] != "b=2" {
		t.Errorf("Set-Cookie = %#v, want []string{\"a=1\", \"b=2\"}", out["Set-Cookie"])
	}
}
