package cookiejar

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}

func TestIngestAndSnapshot(t *testing.T) {
	jar := New()
	u := mustParse(t, "https://example.com/account")

	jar.Ingest(u, []string{"k=v; Path=/; Domain=example.com"})

	got := jar.Snapshot()
	if got["k"] != "v" {
		t.Errorf("Snapshot()[\"k\"] = %q, want %q", got["k"], "v")
	}
}

func TestIngestExpiredCookieDeletesExistingEntry(t *testing.T) {
	jar := New()
	u := mustParse(t, "https://example.com/")

	jar.Ingest(u, []string{"k=v; Path=/"})
	if jar.Count() != 1 {
		t.Fatalf("after first ingest, Count() = %d, want 1", jar.Count())
	}

	jar.Ingest(u, []string{"k=v; Path=/; Max-Age=0"})
	if jar.Count() != 0 {
		t.Errorf("after expiring ingest, Count() = %d, want 0", jar.Count())
	}
}

func TestIngestRejectsBarePublicSuffixDomain(t *testing.T) {
	jar := New()
	u := mustParse(t, "https://example.com/")

	jar.Ingest(u, []string{"k=v; Path=/; Domain=com"})

	if jar.Count() != 0 {
		t.Errorf("cookie scoped to a bare public suffix should be rejected, Count() = %d", jar.Count())
	}
}

func TestSelectHonorsDomainAndPathMatch(t *testing.T) {
	jar := New()
	jar.Ingest(mustParse(t, "https://example.com/account"), []string{"a=1; Path=/account"})
	jar.Ingest(mustParse(t, "https://example.com/"), []string{"b=2; Path=/"})

	selected := jar.Select(mustParse(t, "https://example.com/account/settings"))
	names := map[string]bool{}
	for _, c := range selected {
		names[c.Name] = true
	}
	if !names["a"] || !names["b"] {
		t.Errorf("expected both a and b to match /account/settings, got %v", names)
	}

	selected = jar.Select(mustParse(t, "https://example.com/other"))
	names = map[string]bool{}
	for _, c := range selected {
		names[c.Name] = true
	}
	if names["a"] {
		t.Error("cookie scoped to /account should not match /other")
	}
	if !names["b"] {
		t.Error("cookie scoped to / should match /other")
	}
}

func TestSelectExcludesSecureCookieFromPlainHTTP(t *testing.T) {
	jar := New()
	jar.Ingest(mustParse(t, "https://example.com/"), []string{"s=1; Path=/; Secure"})

	if got := jar.Select(mustParse(t, "http://example.com/")); len(got) != 0 {
		t.Errorf("secure cookie must not be sent over http, got %d cookies", len(got))
	}
	if got := jar.Select(mustParse(t, "https://example.com/")); len(got) != 1 {
		t.Errorf("secure cookie should be sent over https, got %d cookies", len(got))
	}
}

func TestSnapshotLongestPathWins(t *testing.T) {
	jar := New()
	jar.Ingest(mustParse(t, "https://example.com/"), []string{"k=short; Path=/"})
	jar.Ingest(mustParse(t, "https://example.com/deep/path"), []string{"k=long; Path=/deep"})

	got := jar.Snapshot()
	if got["k"] != "long" {
		t.Errorf("Snapshot()[\"k\"] = %q, want %q (longest path should win)", got["k"], "long")
	}
}

func TestSelectMatchesSubdomainForExplicitDomainAttribute(t *testing.T) {
	jar := New()
	jar.Ingest(mustParse(t, "https://example.com/"), []string{"k=v; Path=/; Domain=example.com"})

	selected := jar.Select(mustParse(t, "https://www.example.com/"))
	if len(selected) != 1 {
		t.Errorf("cookie set with explicit Domain=example.com should match www.example.com, got %d cookies", len(selected))
	}

	selected = jar.Select(mustParse(t, "https://other.com/"))
	if len(selected) != 0 {
		t.Errorf("cookie scoped to example.com should not match other.com, got %d cookies", len(selected))
	}
}

func TestSelectExcludesSubdomainForHostOnlyCookie(t *testing.T) {
	jar := New()
	jar.Ingest(mustParse(t, "https://example.com/"), []string{"k=v; Path=/"})

	selected := jar.Select(mustParse(t, "https://www.example.com/"))
	if len(selected) != 0 {
		t.Errorf("a host-only cookie (no Domain attribute) should not match www.example.com, got %d cookies", len(selected))
	}

	selected = jar.Select(mustParse(t, "https://example.com/"))
	if len(selected) != 1 {
		t.Errorf("a host-only cookie should still match its own host, got %d cookies", len(selected))
	}
}

func TestCookieHeaderFormatsNamePairs(t *testing.T) {
	jar := New()
	jar.Ingest(mustParse(t, "https://example.com/"), []string{"a=1; Path=/", "b=2; Path=/"})

	header := jar.CookieHeader(mustParse(t, "https://example.com/"))
	if header == "" {
		t.Fatal("CookieHeader returned empty string with two cookies ingested")
	}
}
