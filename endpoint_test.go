package basicpaxos

import "testing"

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("127.0.0.1:9001")
	if err != nil {
		t.Fatalf("ParseEndpoint: %v", err)
	}
	if ep.Host != "127.0.0.1" || ep.Port != 9001 {
		t.Errorf("got %+v, want host=127.0.0.1 port=9001", ep)
	}
	if ep.String() != "127.0.0.1:9001" {
		t.Errorf("String() = %q", ep.String())
	}
}

func TestParseEndpointInvalid(t *testing.T) {
	for _, s := range []string{"no-port", "host:not-a-number", ""} {
		if _, err := ParseEndpoint(s); err == nil {
			t.Errorf("ParseEndpoint(%q): expected error, got none", s)
		}
	}
}

func TestEndpointLess(t *testing.T) {
	a := NewEndpoint("10.0.0.1", 9000)
	b := NewEndpoint("10.0.0.1", 9001)
	c := NewEndpoint("10.0.0.2", 9000)

	if !a.Less(b) {
		t.Errorf("%s should be less than %s", a, b)
	}
	if !a.Less(c) {
		t.Errorf("%s should be less than %s", a, c)
	}
	if b.Less(a) {
		t.Errorf("%s should not be less than %s", b, a)
	}
}

func TestEndpointIsZero(t *testing.T) {
	if !(Endpoint{}).IsZero() {
		t.Errorf("zero Endpoint should report IsZero")
	}
	if NewEndpoint("x", 1).IsZero() {
		t.Errorf("non-zero Endpoint should not report IsZero")
	}
}
