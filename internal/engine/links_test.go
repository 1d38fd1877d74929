package engine

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"watchbill/internal/domain"
)

func strptr(s string) *string { return &s }

func TestEntityResolver(t *testing.T) {
	r := entityResolver{base: "https://app.example.com/"}
	now := time.Now()

	links := r.Resolve(domain.HandoverItem{
		YachtID:    "y-1",
		EntityType: "equipment",
		EntityID:   strptr("eq-42"),
	}, "html", now)
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	if links[0].URL != "https://app.example.com/yachts/y-1/equipment/eq-42" {
		t.Fatalf("unexpected url %s", links[0].URL)
	}

	// Emails and documents belong to the other resolvers.
	for _, et := range []string{"email", "document", ""} {
		if got := r.Resolve(domain.HandoverItem{YachtID: "y-1", EntityType: et, EntityID: strptr("x")}, "html", now); got != nil {
			t.Fatalf("entity resolver should skip %q, got %v", et, got)
		}
	}
	if got := r.Resolve(domain.HandoverItem{YachtID: "y-1", EntityType: "task"}, "html", now); got != nil {
		t.Fatalf("expected no link without entity id, got %v", got)
	}
}

func TestEmailResolverPassesThroughStoredLink(t *testing.T) {
	r := emailResolver{}
	stored := "https://mail.example.com/thread/abc"
	links := r.Resolve(domain.HandoverItem{EntityType: "email", WebLink: &stored}, "html", time.Now())
	if len(links) != 1 || links[0].URL != stored {
		t.Fatalf("expected stored link passthrough, got %v", links)
	}
	if got := r.Resolve(domain.HandoverItem{EntityType: "email"}, "html", time.Now()); got != nil {
		t.Fatalf("expected nothing without a stored link, got %v", got)
	}
}

func TestDocumentResolverSignsAndVerifies(t *testing.T) {
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	r := documentResolver{
		base:   "https://app.example.com",
		secret: "sekrit",
		ttl: func(exportType string) time.Duration {
			if exportType == "pdf" {
				return 168 * time.Hour
			}
			return 24 * time.Hour
		},
	}
	entry := domain.HandoverItem{YachtID: "y-1", EntityType: "document", EntityID: strptr("doc-7")}

	links := r.Resolve(entry, "html", now)
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	u, err := url.Parse(links[0].URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	exp, err := strconv.ParseInt(u.Query().Get("exp"), 10, 64)
	if err != nil {
		t.Fatalf("parse exp: %v", err)
	}
	if want := now.Add(24 * time.Hour).Unix(); exp != want {
		t.Fatalf("expected expiry %d, got %d", want, exp)
	}
	sig := u.Query().Get("sig")
	if !VerifySignedPath("sekrit", u.Path, exp, sig, now) {
		t.Fatal("signature should verify before expiry")
	}
	if VerifySignedPath("sekrit", u.Path, exp, sig, now.Add(25*time.Hour)) {
		t.Fatal("signature should be rejected after expiry")
	}
	if VerifySignedPath("sekrit", strings.Replace(u.Path, "doc-7", "doc-8", 1), exp, sig, now) {
		t.Fatal("signature should not transfer to another path")
	}
	if VerifySignedPath("other", u.Path, exp, sig, now) {
		t.Fatal("signature should not verify under another secret")
	}

	// PDF artifacts outlive the default window.
	pdfLinks := r.Resolve(entry, "pdf", now)
	pu, _ := url.Parse(pdfLinks[0].URL)
	pdfExp, _ := strconv.ParseInt(pu.Query().Get("exp"), 10, 64)
	if want := now.Add(168 * time.Hour).Unix(); pdfExp != want {
		t.Fatalf("expected pdf expiry %d, got %d", want, pdfExp)
	}
}

func TestCanonicalHashProperties(t *testing.T) {
	draft := domain.Draft{ID: "d-1", YachtID: "y-1", PeriodStart: "2024-01-01", PeriodEnd: "2024-01-07"}
	sections := []domain.DraftSection{{ID: "s-1", DraftID: "d-1", BucketName: "Engineering", Order: 0}}
	items := func(sources []string, text string) []domain.DraftItem {
		return []domain.DraftItem{{
			ID: "i-1", DraftID: "d-1", SectionID: "s-1",
			SummaryText: text, SourceEntryIDs: sources,
		}}
	}

	h1, err := canonicalHash(draft, sections, items([]string{"a", "b"}, "pump weeping"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if len(h1) != 64 {
		t.Fatalf("expected sha256 hex, got %q", h1)
	}

	h2, _ := canonicalHash(draft, sections, items([]string{"a", "b"}, "pump weeping"))
	if h1 != h2 {
		t.Fatal("hash must be deterministic")
	}

	// Source id order is not content.
	h3, _ := canonicalHash(draft, sections, items([]string{"b", "a"}, "pump weeping"))
	if h1 != h3 {
		t.Fatal("hash must not depend on source id order")
	}

	h4, _ := canonicalHash(draft, sections, items([]string{"a", "b"}, "pump weeping badly"))
	if h1 == h4 {
		t.Fatal("text changes must change the hash")
	}

	// Link and timestamp churn is excluded; only identity and content count.
	h5, _ := canonicalHash(domain.Draft{ID: "d-2", YachtID: "y-1", PeriodStart: "2024-01-01", PeriodEnd: "2024-01-07"},
		[]domain.DraftSection{{ID: "s-9", DraftID: "d-2", BucketName: "Engineering", Order: 0}},
		items([]string{"a", "b"}, "pump weeping"))
	if h1 == h5 {
		t.Fatal("hash must bind to the draft identity")
	}
}
